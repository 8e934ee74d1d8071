package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"auditai/internal/domain"
	"auditai/internal/repository"
)

type TransactionRepository struct {
	mu           sync.RWMutex
	transactions map[int64]*domain.Transaction
	nextID       int64
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{
		transactions: make(map[int64]*domain.Transaction),
	}
}

func (r *TransactionRepository) Save(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tx.ID != 0 {
		if _, exists := r.transactions[tx.ID]; exists {
			return fmt.Errorf("%w: transaction %d", repository.ErrDuplicate, tx.ID)
		}
	} else {
		r.nextID++
		for r.transactions[r.nextID] != nil {
			r.nextID++
		}
		tx.ID = r.nextID
	}

	r.transactions[tx.ID] = cloneTransaction(tx)
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, exists := r.transactions[id]
	if !exists {
		return nil, fmt.Errorf("%w: transaction %d", repository.ErrNotFound, id)
	}
	return cloneTransaction(tx), nil
}

func (r *TransactionRepository) GetSince(ctx context.Context, since time.Time) ([]*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Transaction
	for _, tx := range r.transactions {
		if !tx.Timestamp.Before(since) {
			result = append(result, cloneTransaction(tx))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].ID < result[j].ID
		}
		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	return result, nil
}

func (r *TransactionRepository) GetAll(ctx context.Context) ([]*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Transaction, 0, len(r.transactions))
	for _, tx := range r.transactions {
		result = append(result, cloneTransaction(tx))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].ID > result[j].ID
		}
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	return result, nil
}

func cloneTransaction(tx *domain.Transaction) *domain.Transaction {
	c := *tx
	if tx.Justification != nil {
		j := *tx.Justification
		c.Justification = &j
	}
	return &c
}
