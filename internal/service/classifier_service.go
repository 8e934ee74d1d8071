package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"auditai/internal/domain"
	"auditai/internal/ml"
	"auditai/internal/repository"
	"auditai/pkg/metrics"
	"auditai/pkg/validator"
)

type TrainResult struct {
	Samples   int       `json:"trained_samples"`
	Classes   []string  `json:"classes"`
	TrainedAt time.Time `json:"trained_at"`
}

type Prediction struct {
	TransactionID int64     `json:"transaction_id,omitempty"`
	Label         string    `json:"label"`
	Features      []float64 `json:"features"`
}

// ClassifierService trains the feedback classifier and serves predictions
// from the last saved model.
type ClassifierService struct {
	txRepo       repository.TransactionRepository
	feedbackRepo repository.FeedbackRepository
	models       *ml.ModelStore
	extractor    *ml.FeatureExtractor
	forestCfg    ml.RandomForestConfig
	validator    *validator.TransactionValidator
	metrics      *metrics.MetricsCollector
	trainMu      sync.Mutex
	now          func() time.Time
	logger       *slog.Logger
}

func NewClassifierService(
	txRepo repository.TransactionRepository,
	feedbackRepo repository.FeedbackRepository,
	models *ml.ModelStore,
	location *time.Location,
	forestCfg ml.RandomForestConfig,
	collector *metrics.MetricsCollector,
	logger *slog.Logger,
) (*ClassifierService, error) {
	if logger == nil {
		logger = slog.Default()
	}

	extractor, err := ml.NewFeatureExtractor(ml.ClassifierFeatures, location)
	if err != nil {
		return nil, err
	}

	return &ClassifierService{
		txRepo:       txRepo,
		feedbackRepo: feedbackRepo,
		models:       models,
		extractor:    extractor,
		forestCfg:    forestCfg,
		validator:    validator.NewTransactionValidator(),
		metrics:      collector,
		now:          time.Now,
		logger:       logger,
	}, nil
}

// RecordFeedback stores a label for an existing transaction. RecordedAt is
// always set here.
func (s *ClassifierService) RecordFeedback(ctx context.Context, fb *domain.Feedback) error {
	if err := s.validator.ValidateFeedback(fb); err != nil {
		return err
	}

	if _, err := s.txRepo.GetByID(ctx, fb.TransactionID); err != nil {
		return repository.StoreError("looking up transaction", err)
	}

	fb.RecordedAt = s.now().UTC()
	if err := s.feedbackRepo.Save(ctx, fb); err != nil {
		return repository.StoreError("saving feedback", err)
	}

	s.logger.InfoContext(ctx, "Feedback recorded",
		slog.Int64("transaction_id", fb.TransactionID),
		slog.String("label", string(fb.Label)))
	return nil
}

// Train fits a new classifier on every feedback row joined with its
// transaction and replaces the saved model. Feedback for unknown transactions
// is left out; a transaction labelled twice contributes two samples.
func (s *ClassifierService) Train(ctx context.Context) (*TrainResult, error) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	samples, err := s.trainingSamples(ctx)
	if err != nil {
		s.metrics.RecordTraining(0, false)
		return nil, err
	}

	model, err := ml.TrainRandomForest(samples, s.extractor.Names(), s.forestCfg)
	if err != nil {
		s.metrics.RecordTraining(len(samples), false)
		return nil, fmt.Errorf("training classifier: %w", err)
	}

	if err := s.models.Save(model); err != nil {
		s.metrics.RecordTraining(len(samples), false)
		return nil, fmt.Errorf("saving classifier: %w", err)
	}

	s.metrics.RecordTraining(model.Samples, true)
	s.logger.InfoContext(ctx, "Classifier trained",
		slog.Int("samples", model.Samples),
		slog.Any("classes", model.Classes))

	return &TrainResult{
		Samples:   model.Samples,
		Classes:   model.Classes,
		TrainedAt: model.TrainedAt,
	}, nil
}

func (s *ClassifierService) trainingSamples(ctx context.Context) ([]ml.Sample, error) {
	feedback, err := s.feedbackRepo.GetAll(ctx)
	if err != nil {
		return nil, repository.StoreError("loading feedback", err)
	}
	if len(feedback) == 0 {
		return nil, ml.ErrNoTrainingData
	}

	txs, err := s.txRepo.GetAll(ctx)
	if err != nil {
		return nil, repository.StoreError("loading transactions", err)
	}
	byID := make(map[int64]*domain.Transaction, len(txs))
	for _, tx := range txs {
		byID[tx.ID] = tx
	}

	samples := make([]ml.Sample, 0, len(feedback))
	for _, fb := range feedback {
		tx, ok := byID[fb.TransactionID]
		if !ok {
			continue
		}
		samples = append(samples, ml.Sample{
			Features: s.extractor.Extract(tx),
			Label:    string(fb.Label),
		})
	}
	if len(samples) == 0 {
		return nil, ml.ErrNoTrainingData
	}
	return samples, nil
}

// Predict classifies tx with the saved model. It returns ml.ErrModelNotTrained
// when no model has been saved yet.
func (s *ClassifierService) Predict(ctx context.Context, tx *domain.Transaction) (*Prediction, error) {
	model, err := s.models.Load()
	if err != nil {
		return nil, err
	}

	x := s.extractor.Extract(tx)
	label, err := model.Predict(x)
	if err != nil {
		return nil, fmt.Errorf("predicting: %w", err)
	}

	s.metrics.RecordPrediction(label)
	s.logger.DebugContext(ctx, "Prediction served",
		slog.Int64("transaction_id", tx.ID),
		slog.String("label", label))

	return &Prediction{TransactionID: tx.ID, Label: label, Features: x}, nil
}

func (s *ClassifierService) PredictByID(ctx context.Context, id int64) (*Prediction, error) {
	tx, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, repository.StoreError("looking up transaction", err)
	}
	return s.Predict(ctx, tx)
}
