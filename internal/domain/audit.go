package domain

import "time"

// AnomalyFlag is only meaningful relative to the batch it was computed on.
type AnomalyFlag struct {
	Anomalous bool    `json:"anomalous"`
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
}

type AuditRecord struct {
	Transaction
	Violations []Violation  `json:"violations"`
	Anomaly    *AnomalyFlag `json:"anomaly,omitempty"`
}

type AuditReport struct {
	GeneratedAt   time.Time     `json:"generated_at"`
	WindowStart   time.Time     `json:"window_start"`
	RulesLoaded   int           `json:"rules_loaded"`
	RulesRejected int           `json:"rules_rejected"`
	Records       []AuditRecord `json:"audits"`
}
