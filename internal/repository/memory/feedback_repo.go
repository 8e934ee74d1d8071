package memory

import (
	"context"
	"sync"

	"auditai/internal/domain"
)

type FeedbackRepository struct {
	mu       sync.RWMutex
	feedback []domain.Feedback
}

func NewFeedbackRepository() *FeedbackRepository {
	return &FeedbackRepository{}
}

func (r *FeedbackRepository) Save(ctx context.Context, fb *domain.Feedback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fb.ID = int64(len(r.feedback) + 1)
	r.feedback = append(r.feedback, *fb)
	return nil
}

// GetAll returns feedback in insertion order.
func (r *FeedbackRepository) GetAll(ctx context.Context) ([]*domain.Feedback, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Feedback, 0, len(r.feedback))
	for i := range r.feedback {
		fb := r.feedback[i]
		result = append(result, &fb)
	}
	return result, nil
}

func (r *FeedbackRepository) GetByTransactionID(ctx context.Context, transactionID int64) ([]*domain.Feedback, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Feedback
	for i := range r.feedback {
		if r.feedback[i].TransactionID == transactionID {
			fb := r.feedback[i]
			result = append(result, &fb)
		}
	}
	return result, nil
}
