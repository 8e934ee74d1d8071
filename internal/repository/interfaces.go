package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auditai/internal/domain"
)

type TransactionRepository interface {
	// Save inserts the transaction and sets its ID.
	Save(ctx context.Context, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id int64) (*domain.Transaction, error)
	// GetSince returns transactions with Timestamp >= since, oldest first.
	GetSince(ctx context.Context, since time.Time) ([]*domain.Transaction, error)
	// GetAll returns every transaction, newest first.
	GetAll(ctx context.Context) ([]*domain.Transaction, error)
}

// FeedbackRepository is append-only.
type FeedbackRepository interface {
	Save(ctx context.Context, feedback *domain.Feedback) error
	GetAll(ctx context.Context) ([]*domain.Feedback, error)
	GetByTransactionID(ctx context.Context, transactionID int64) ([]*domain.Feedback, error)
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)

// ErrStore marks a failure of the backing store itself, as opposed to a
// missing or conflicting record.
var ErrStore = errors.New("store failure")

// StoreError wraps err with ErrStore unless it already reports a missing or
// duplicate record.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) || errors.Is(err, ErrStore) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}
