package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"auditai/internal/catalog"
	"auditai/internal/domain"
	"auditai/internal/repository"
	"auditai/pkg/metrics"
	"auditai/pkg/validator"
)

const DefaultAuditWindow = 30 * 24 * time.Hour

// AnomalyScorer labels each transaction of a batch relative to the rest of
// that batch. It returns exactly one flag per transaction and never fails.
type AnomalyScorer interface {
	Score(ctx context.Context, txs []*domain.Transaction) []domain.AnomalyFlag
}

type AuditConfig struct {
	Window time.Duration
	Clock  func() time.Time
}

type AuditProcessor struct {
	txRepo    repository.TransactionRepository
	rules     catalog.Source
	engine    *RuleEngine
	scorer    AnomalyScorer
	validator *validator.TransactionValidator
	metrics   *metrics.MetricsCollector
	window    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewAuditProcessor wires an audit pass. scorer and collector may be nil.
func NewAuditProcessor(
	txRepo repository.TransactionRepository,
	rules catalog.Source,
	engine *RuleEngine,
	scorer AnomalyScorer,
	collector *metrics.MetricsCollector,
	cfg AuditConfig,
	logger *slog.Logger,
) *AuditProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if engine == nil {
		engine = NewRuleEngine(nil, nil, logger)
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultAuditWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &AuditProcessor{
		txRepo:    txRepo,
		rules:     rules,
		engine:    engine,
		scorer:    scorer,
		validator: validator.NewTransactionValidator(),
		metrics:   collector,
		window:    cfg.Window,
		now:       cfg.Clock,
		logger:    logger,
	}
}

// Audit evaluates every transaction inside the window against a freshly
// loaded catalog. "now" is read once, so all records share the same reference
// time.
func (p *AuditProcessor) Audit(ctx context.Context) (*domain.AuditReport, error) {
	start := time.Now()
	now := p.now()

	report, err := p.audit(ctx, now)
	if err != nil {
		p.metrics.RecordAudit(time.Since(start), 0, false)
		p.logger.ErrorContext(ctx, "Audit pass failed", slog.String("error", err.Error()))
		return nil, err
	}

	p.metrics.RecordAudit(time.Since(start), len(report.Records), true)
	p.logger.InfoContext(ctx, "Audit pass completed",
		slog.Int("transactions", len(report.Records)),
		slog.Int("rules", report.RulesLoaded),
		slog.Duration("duration", time.Since(start)))

	return report, nil
}

func (p *AuditProcessor) audit(ctx context.Context, now time.Time) (*domain.AuditReport, error) {
	cat, err := p.rules.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading rule catalog: %w", err)
	}
	p.metrics.SetRulesRejected(len(cat.Rejected))

	since := now.Add(-p.window)
	txs, err := p.txRepo.GetSince(ctx, since)
	if err != nil {
		return nil, repository.StoreError("loading transactions", err)
	}

	var flags []domain.AnomalyFlag
	if p.scorer != nil && len(txs) > 0 {
		flags = p.scorer.Score(ctx, txs)
		if len(flags) != len(txs) {
			p.logger.WarnContext(ctx, "Anomaly scorer returned a mismatched batch, ignoring",
				slog.Int("transactions", len(txs)),
				slog.Int("flags", len(flags)))
			flags = nil
		}
	}

	report := &domain.AuditReport{
		GeneratedAt:   now,
		WindowStart:   since,
		RulesLoaded:   len(cat.Rules),
		RulesRejected: len(cat.Rejected),
		Records:       make([]domain.AuditRecord, 0, len(txs)),
	}

	for i, tx := range txs {
		record := domain.AuditRecord{
			Transaction: *tx,
			Violations:  p.engine.EvaluateAt(ctx, tx, cat.Rules, now),
		}
		for _, v := range record.Violations {
			p.metrics.RecordViolation(v.Code)
		}
		if flags != nil {
			flag := flags[i]
			record.Anomaly = &flag
			if flag.Anomalous {
				p.metrics.RecordAnomaly()
			}
		}
		report.Records = append(report.Records, record)
	}

	return report, nil
}

// Report lists every stored transaction, newest first.
func (p *AuditProcessor) Report(ctx context.Context) ([]*domain.Transaction, error) {
	txs, err := p.txRepo.GetAll(ctx)
	if err != nil {
		return nil, repository.StoreError("listing transactions", err)
	}
	return txs, nil
}

// Record validates and stores tx, setting its ID.
func (p *AuditProcessor) Record(ctx context.Context, tx *domain.Transaction) error {
	if err := p.validator.ValidateTransaction(tx); err != nil {
		return err
	}

	if err := p.txRepo.Save(ctx, tx); err != nil {
		return repository.StoreError("saving transaction", err)
	}

	p.logger.InfoContext(ctx, "Transaction recorded",
		slog.Int64("transaction_id", tx.ID),
		slog.String("client", tx.Client))
	return nil
}
