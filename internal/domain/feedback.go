package domain

import "time"

type FeedbackLabel string

const (
	LabelConfirmedViolation FeedbackLabel = "confirmed_violation"
	LabelFalsePositive      FeedbackLabel = "false_positive"
	LabelNotEvaluated       FeedbackLabel = "not_evaluated"
)

// Feedback is a human verdict on a transaction, used only to train the classifier.
type Feedback struct {
	ID            int64         `json:"id"`
	TransactionID int64         `json:"transaction_id" validate:"gt=0"`
	Label         FeedbackLabel `json:"label" validate:"required,oneof=confirmed_violation false_positive not_evaluated"`
	Note          string        `json:"note" validate:"max=2000"`
	RecordedAt    time.Time     `json:"recorded_at"`
}
