package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector is safe to use through a nil pointer; every recorder is a
// no-op then.
type MetricsCollector struct {
	registry         *prometheus.Registry
	auditsRun        *prometheus.CounterVec
	auditDuration    prometheus.Histogram
	auditedTxs       prometheus.Counter
	violations       *prometheus.CounterVec
	anomaliesFlagged prometheus.Counter
	rulesRejected    prometheus.Gauge
	trainings        *prometheus.CounterVec
	trainingSamples  prometheus.Gauge
	predictions      *prometheus.CounterVec
	logger           *slog.Logger
}

func NewMetricsCollector(logger *slog.Logger) *MetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &MetricsCollector{
		registry: registry,
		auditsRun: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_passes_total",
			Help: "Total number of audit passes by outcome",
		}, []string{"outcome"}),
		auditDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "audit_pass_duration_seconds",
			Help:    "Time taken to run one audit pass",
			Buckets: prometheus.DefBuckets,
		}),
		auditedTxs: factory.NewCounter(prometheus.CounterOpts{
			Name: "audited_transactions_total",
			Help: "Total number of transactions evaluated",
		}),
		violations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_violations_total",
			Help: "Violations found, by rule code",
		}, []string{"code"}),
		anomaliesFlagged: factory.NewCounter(prometheus.CounterOpts{
			Name: "anomalies_flagged_total",
			Help: "Transactions flagged as batch anomalies",
		}),
		rulesRejected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_rules_rejected",
			Help: "Rules rejected by the last catalog load",
		}),
		trainings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "classifier_trainings_total",
			Help: "Classifier training runs by outcome",
		}, []string{"outcome"}),
		trainingSamples: factory.NewGauge(prometheus.GaugeOpts{
			Name: "classifier_training_samples",
			Help: "Samples used by the last successful training",
		}),
		predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "classifier_predictions_total",
			Help: "Classifier predictions by label",
		}, []string{"label"}),
		logger: logger,
	}
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (m *MetricsCollector) RecordAudit(duration time.Duration, transactions int, success bool) {
	if m == nil {
		return
	}
	m.auditsRun.WithLabelValues(outcome(success)).Inc()
	m.auditDuration.Observe(duration.Seconds())
	m.auditedTxs.Add(float64(transactions))
}

func (m *MetricsCollector) RecordViolation(code string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(code).Inc()
}

func (m *MetricsCollector) RecordAnomaly() {
	if m == nil {
		return
	}
	m.anomaliesFlagged.Inc()
}

func (m *MetricsCollector) SetRulesRejected(n int) {
	if m == nil {
		return
	}
	m.rulesRejected.Set(float64(n))
}

func (m *MetricsCollector) RecordTraining(samples int, success bool) {
	if m == nil {
		return
	}
	m.trainings.WithLabelValues(outcome(success)).Inc()
	if success {
		m.trainingSamples.Set(float64(samples))
	}
}

func (m *MetricsCollector) RecordPrediction(label string) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(label).Inc()
}

func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsCollector) StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.GetHandler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.Info("Starting metrics server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return server
}

func (m *MetricsCollector) Shutdown(ctx context.Context, server *http.Server) error {
	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	m.logger.Info("Metrics server shutdown complete")
	return nil
}
