package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "Pending"
	StatusPaid      TransactionStatus = "Paid"
	StatusCancelled TransactionStatus = "Cancelled"

	// statusPendingPT is how rows imported from the legacy store spell Pending.
	statusPendingPT TransactionStatus = "Pendente"
)

type Transaction struct {
	ID            int64             `json:"id"`
	Client        string            `json:"client" validate:"required,max=255"`
	Amount        decimal.Decimal   `json:"amount"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        TransactionStatus `json:"status" validate:"required,max=64"`
	Justification *string           `json:"justification"`
}

func NewTransaction(client string, amount decimal.Decimal, timestamp time.Time, status TransactionStatus) *Transaction {
	return &Transaction{
		Client:    client,
		Amount:    amount,
		Timestamp: timestamp,
		Status:    status,
	}
}

func (tx *Transaction) WithJustification(text string) *Transaction {
	tx.Justification = &text
	return tx
}

// HasJustification reports whether a justification was recorded at all,
// including an empty one.
func (tx *Transaction) HasJustification() bool {
	return tx.Justification != nil
}

// JustificationText returns the justification or "" when absent.
func (tx *Transaction) JustificationText() string {
	if tx.Justification == nil {
		return ""
	}
	return *tx.Justification
}

func (tx *Transaction) IsPending() bool {
	return tx.Status == StatusPending || tx.Status == statusPendingPT
}
