// Package ml holds the batch anomaly scorer and the feedback-trained
// classifier, both implemented as tree ensembles over small numeric feature
// vectors derived from transactions.
package ml

import (
	"fmt"
	"time"

	"auditai/internal/domain"
)

const (
	FeatureAmount           = "amount"
	FeatureWeekday          = "weekday"
	FeatureHour             = "hour"
	FeatureHasJustification = "has_justification"
)

// ClassifierFeatures is the fixed input layout of the classifier.
var ClassifierFeatures = []string{FeatureAmount, FeatureWeekday, FeatureHour, FeatureHasJustification}

// DefaultAnomalyFeatures scores the batch on amounts only.
var DefaultAnomalyFeatures = []string{FeatureAmount}

// FeatureExtractor turns a transaction into a vector. Hour and weekday are
// read in the configured location; weekday counts Monday as 0.
type FeatureExtractor struct {
	names    []string
	location *time.Location
}

func NewFeatureExtractor(names []string, location *time.Location) (*FeatureExtractor, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no features configured")
	}
	for _, n := range names {
		switch n {
		case FeatureAmount, FeatureWeekday, FeatureHour, FeatureHasJustification:
		default:
			return nil, fmt.Errorf("unknown feature %q", n)
		}
	}
	if location == nil {
		location = time.Local
	}
	return &FeatureExtractor{names: names, location: location}, nil
}

func (f *FeatureExtractor) Names() []string {
	return f.names
}

func (f *FeatureExtractor) Extract(tx *domain.Transaction) []float64 {
	local := tx.Timestamp.In(f.location)

	x := make([]float64, len(f.names))
	for i, n := range f.names {
		switch n {
		case FeatureAmount:
			x[i] = tx.Amount.InexactFloat64()
		case FeatureWeekday:
			x[i] = float64((int(local.Weekday()) + 6) % 7)
		case FeatureHour:
			x[i] = float64(local.Hour())
		case FeatureHasJustification:
			if tx.HasJustification() {
				x[i] = 1
			}
		}
	}
	return x
}

func (f *FeatureExtractor) ExtractAll(txs []*domain.Transaction) [][]float64 {
	rows := make([][]float64, len(txs))
	for i, tx := range txs {
		rows[i] = f.Extract(tx)
	}
	return rows
}
