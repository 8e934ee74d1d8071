package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditai/internal/domain"
	"auditai/internal/repository"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

func TestTransactionRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t).Transactions()
	ts := time.Date(2024, 3, 12, 14, 30, 15, 123456000, time.FixedZone("BRT", -3*60*60))

	tx := domain.NewTransaction("Acme Ltd", decimal.RequireFromString("15000.75"), ts, domain.StatusPending).
		WithJustification("")
	require.NoError(t, repo.Save(ctx, tx))
	require.NotZero(t, tx.ID)

	got, err := repo.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Ltd", got.Client)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("15000.75")))
	assert.True(t, got.Timestamp.Equal(ts))
	assert.Equal(t, domain.StatusPending, got.Status)
	require.NotNil(t, got.Justification)
	assert.Equal(t, "", *got.Justification)

	none := domain.NewTransaction("Globex", decimal.NewFromInt(1), ts, domain.StatusPaid)
	require.NoError(t, repo.Save(ctx, none))
	got, err = repo.GetByID(ctx, none.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Justification)
}

func TestTransactionRepository_Errors(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t).Transactions()

	_, err := repo.GetByID(ctx, 42)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	tx := &domain.Transaction{ID: 5, Client: "c", Amount: decimal.NewFromInt(1), Timestamp: time.Now(), Status: domain.StatusPaid}
	require.NoError(t, repo.Save(ctx, tx))
	dup := &domain.Transaction{ID: 5, Client: "d", Amount: decimal.NewFromInt(1), Timestamp: time.Now(), Status: domain.StatusPaid}
	assert.ErrorIs(t, repo.Save(ctx, dup), repository.ErrDuplicate)
}

func TestTransactionRepository_Ordering(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t).Transactions()
	now := time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)

	for _, tx := range []*domain.Transaction{
		domain.NewTransaction("recent", decimal.NewFromInt(1), now.Add(-time.Hour), domain.StatusPaid),
		domain.NewTransaction("old", decimal.NewFromInt(1), now.AddDate(0, 0, -45), domain.StatusPaid),
		domain.NewTransaction("mid", decimal.NewFromInt(1), now.AddDate(0, 0, -10), domain.StatusPaid),
	} {
		require.NoError(t, repo.Save(ctx, tx))
	}

	since, err := repo.GetSince(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, []string{"mid", "recent"}, clientNames(since))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"recent", "mid", "old"}, clientNames(all))
}

func TestFeedbackRepository(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	txs, feedback := store.Transactions(), store.Feedback()

	tx := domain.NewTransaction("Acme", decimal.NewFromInt(10), time.Now(), domain.StatusPaid)
	require.NoError(t, txs.Save(ctx, tx))

	recorded := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	fb := &domain.Feedback{TransactionID: tx.ID, Label: domain.LabelConfirmedViolation, Note: "checked", RecordedAt: recorded}
	require.NoError(t, feedback.Save(ctx, fb))
	assert.NotZero(t, fb.ID)
	require.NoError(t, feedback.Save(ctx, &domain.Feedback{TransactionID: tx.ID, Label: domain.LabelFalsePositive, RecordedAt: recorded}))

	all, err := feedback.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.LabelConfirmedViolation, all[0].Label)
	assert.Equal(t, "checked", all[0].Note)
	assert.True(t, all[0].RecordedAt.Equal(recorded))

	byTx, err := feedback.GetByTransactionID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Len(t, byTx, 2)

	assert.Error(t, feedback.Save(ctx, &domain.Feedback{TransactionID: 999, Label: domain.LabelFalsePositive}))
}

func TestOpen_FileDatabasePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.Transactions().Save(ctx, domain.NewTransaction("Acme", decimal.NewFromInt(1), time.Now(), domain.StatusPaid)))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	all, err := reopened.Transactions().GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func clientNames(txs []*domain.Transaction) []string {
	names := make([]string, 0, len(txs))
	for _, tx := range txs {
		names = append(names, tx.Client)
	}
	return names
}
