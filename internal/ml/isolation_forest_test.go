package ml

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditai/internal/domain"
)

func batch(amounts ...int64) []*domain.Transaction {
	base := time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)
	txs := make([]*domain.Transaction, len(amounts))
	for i, a := range amounts {
		txs[i] = domain.NewTransaction("c", decimal.NewFromInt(a), base.Add(time.Duration(i)*time.Minute), domain.StatusPaid)
		txs[i].ID = int64(i + 1)
	}
	return txs
}

func newScorer(t *testing.T) *IsolationForestScorer {
	t.Helper()
	s, err := NewIsolationForestScorer(DefaultIsolationForestConfig(), nil)
	require.NoError(t, err)
	return s
}

func TestIsolationForestScorer_FlagsOutlier(t *testing.T) {
	amounts := make([]int64, 0, 41)
	for i := int64(0); i < 40; i++ {
		amounts = append(amounts, 100+i)
	}
	amounts = append(amounts, 1_000_000)
	txs := batch(amounts...)

	flags := newScorer(t).Score(context.Background(), txs)

	require.Len(t, flags, len(txs))
	outlier := flags[len(flags)-1]
	assert.True(t, outlier.Anomalous)
	assert.Contains(t, outlier.Rationale, "standard deviations")

	anomalous := 0
	for _, f := range flags {
		if f.Anomalous {
			anomalous++
		}
		assert.LessOrEqual(t, f.Score, outlier.Score)
	}
	assert.LessOrEqual(t, anomalous, 3)
}

func TestIsolationForestScorer_Deterministic(t *testing.T) {
	txs := batch(10, 12, 11, 13, 500, 9, 10, 14)
	s := newScorer(t)

	first := s.Score(context.Background(), txs)
	second := s.Score(context.Background(), txs)

	assert.Equal(t, first, second)
}

func TestIsolationForestScorer_DegenerateBatches(t *testing.T) {
	s := newScorer(t)

	tests := []struct {
		name string
		txs  []*domain.Transaction
	}{
		{"single row", batch(42)},
		{"identical values", batch(7, 7, 7, 7, 7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := s.Score(context.Background(), tt.txs)
			require.Len(t, flags, len(tt.txs))
			for _, f := range flags {
				assert.False(t, f.Anomalous)
				assert.NotEmpty(t, f.Rationale)
			}
		})
	}

	assert.Empty(t, s.Score(context.Background(), nil))
}

func TestNewIsolationForestScorer_Validation(t *testing.T) {
	_, err := NewIsolationForestScorer(IsolationForestConfig{Contamination: 0.9}, nil)
	assert.Error(t, err)

	_, err = NewIsolationForestScorer(IsolationForestConfig{Features: []string{"currency"}}, nil)
	assert.Error(t, err)

	s, err := NewIsolationForestScorer(IsolationForestConfig{Features: []string{FeatureAmount, FeatureHour}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{FeatureAmount, FeatureHour}, s.extractor.Names())
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 10.24, averagePathLength(256), 0.01)
}

func TestFeatureExtractor(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	f, err := NewFeatureExtractor(ClassifierFeatures, loc)
	require.NoError(t, err)

	// Monday 01:30 UTC is Sunday 22:30 in BRT.
	tx := domain.NewTransaction("c", decimal.RequireFromString("1500.25"), time.Date(2024, 3, 11, 1, 30, 0, 0, time.UTC), domain.StatusPaid)
	assert.Equal(t, []float64{1500.25, 6, 22, 0}, f.Extract(tx))

	tx.WithJustification("")
	assert.Equal(t, 1.0, f.Extract(tx)[3])
}
