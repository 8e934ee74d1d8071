package main

import (
	"context"
	"fmt"
	"log/slog"

	"auditai/internal/catalog"
	"auditai/internal/config"
	"auditai/internal/ml"
	"auditai/internal/processor"
	"auditai/internal/repository"
	"auditai/internal/repository/memory"
	"auditai/internal/repository/postgres"
	"auditai/internal/repository/sqlite"
	"auditai/internal/service"
	"auditai/pkg/crypto"
	"auditai/pkg/metrics"
)

// deps is everything a command needs, built from one config.
type deps struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *metrics.MetricsCollector
	loader     *catalog.Loader
	rules      catalog.Source
	auditor    *processor.AuditProcessor
	classifier *service.ClassifierService
	closers    []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// withDeps loads config, wires the services and releases them once fn returns.
func withDeps(ctx context.Context, fn func(*deps) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	d, err := newDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	return fn(d)
}

func newDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*deps, error) {
	d := &deps{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewMetricsCollector(logger),
	}

	txRepo, feedbackRepo, err := d.openStore(ctx)
	if err != nil {
		d.Close()
		return nil, err
	}

	location := cfg.Location()
	defaults := catalog.ConditionDefaults{
		StaleAfter:     cfg.Catalog.StaleAfter,
		ForeignMarkers: cfg.Catalog.ForeignMarkers,
	}

	d.loader = catalog.NewLoader(catalog.LoaderConfig{
		Paths:    cfg.Catalog.Paths,
		Strict:   cfg.Catalog.Strict,
		Defaults: defaults,
	}, logger)
	d.rules = d.loader
	if cfg.Catalog.Cache {
		cached, err := catalog.NewCachedLoader(d.loader, logger)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, func() { cached.Close() })
		d.rules = cached
	}

	patterns := make([]processor.SensitivePattern, 0, len(cfg.Audit.SensitivePatterns))
	for _, p := range cfg.Audit.SensitivePatterns {
		patterns = append(patterns, processor.SensitivePattern{Name: p.Name, Expression: p.Expression})
	}
	engine := processor.NewRuleEngine(
		processor.NewSensitiveScanner(patterns, logger),
		processor.NewTemporalPolicy(cfg.Audit.BusinessStartHour, cfg.Audit.BusinessEndHour, location),
		logger,
		processor.WithConditionDefaults(defaults),
	)

	var scorer processor.AnomalyScorer
	if cfg.Anomaly.Enabled {
		s, err := ml.NewIsolationForestScorer(ml.IsolationForestConfig{
			Trees:         cfg.Anomaly.Trees,
			SampleSize:    cfg.Anomaly.SampleSize,
			Contamination: cfg.Anomaly.Contamination,
			Seed:          cfg.Anomaly.Seed,
			Features:      cfg.Anomaly.Features,
			Location:      location,
		}, logger)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("configuring anomaly scorer: %w", err)
		}
		scorer = s
	}

	d.auditor = processor.NewAuditProcessor(txRepo, d.rules, engine, scorer, d.metrics,
		processor.AuditConfig{Window: cfg.Audit.Window}, logger)

	var signer *crypto.Signer
	if cfg.Model.SigningKey != "" {
		signer = crypto.NewSigner(cfg.Model.SigningKey, logger)
	} else {
		logger.Warn("model.signing_key is empty, classifier artifacts will not be signed")
	}
	models := ml.NewModelStore(cfg.Model.Path, signer, logger)

	d.classifier, err = service.NewClassifierService(txRepo, feedbackRepo, models, location,
		ml.RandomForestConfig{
			Trees:    cfg.Model.Trees,
			MaxDepth: cfg.Model.MaxDepth,
			Seed:     cfg.Model.Seed,
		}, d.metrics, logger)
	if err != nil {
		d.Close()
		return nil, err
	}

	return d, nil
}

func (d *deps) openStore(ctx context.Context) (repository.TransactionRepository, repository.FeedbackRepository, error) {
	cfg := d.cfg.Store

	switch cfg.Driver {
	case config.DriverMemory:
		d.logger.Warn("Using in-memory store, data is lost on exit")
		return memory.NewTransactionRepository(), memory.NewFeedbackRepository(), nil

	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		d.closers = append(d.closers, func() { store.Close() })
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		d.logger.Info("SQLite store ready", slog.String("path", store.Path()))
		return store.Transactions(), store.Feedback(), nil

	case config.DriverPostgres:
		store, err := postgres.Open(ctx, postgres.Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, nil, err
		}
		d.closers = append(d.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		d.logger.Info("PostgreSQL store ready")
		return store.Transactions(), store.Feedback(), nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
