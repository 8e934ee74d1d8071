package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"auditai/internal/catalog"
	"auditai/internal/domain"
	"auditai/internal/ml"
	"auditai/internal/processor"
	"auditai/internal/repository"
	"auditai/internal/service"
	"auditai/pkg/validator"
)

const Banner = "AuditAI API online"

type APIHandler struct {
	auditor        *processor.AuditProcessor
	classifier     *service.ClassifierService
	location       *time.Location
	logger         *slog.Logger
	requestTimeout time.Duration
}

// NewAPIHandler builds the HTTP surface. Timestamps sent without an offset are
// read as wall-clock time in location, the zone the audit policy works in.
func NewAPIHandler(
	auditor *processor.AuditProcessor,
	classifier *service.ClassifierService,
	location *time.Location,
	logger *slog.Logger,
) *APIHandler {
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &APIHandler{
		auditor:        auditor,
		classifier:     classifier,
		location:       location,
		logger:         logger,
		requestTimeout: 30 * time.Second,
	}
}

// CreateTransactionRequest accepts the amount as a JSON number or a decimal
// string.
type CreateTransactionRequest struct {
	Client        string          `json:"client"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     string          `json:"timestamp"`
	Status        string          `json:"status"`
	Justification *string         `json:"justification,omitempty"`
}

type CreateFeedbackRequest struct {
	TransactionID int64  `json:"transaction_id"`
	Label         string `json:"label"`
	Note          string `json:"note,omitempty"`
}

// PredictRequest names a stored transaction or carries one inline.
type PredictRequest struct {
	TransactionID int64 `json:"transaction_id,omitempty"`
	CreateTransactionRequest
}

type TrainResponse struct {
	*service.TrainResult
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseTimestamp tries each layout in turn. Layouts without an offset are
// interpreted in loc.
func parseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

func (req CreateTransactionRequest) transaction(loc *time.Location) (*domain.Transaction, error) {
	var ts time.Time
	if req.Timestamp != "" {
		var err error
		if ts, err = parseTimestamp(req.Timestamp, loc); err != nil {
			return nil, err
		}
	}
	tx := domain.NewTransaction(req.Client, req.Amount, ts, domain.TransactionStatus(req.Status))
	tx.Justification = req.Justification
	return tx, nil
}

func (h *APIHandler) IndexHandler(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, map[string]string{"message": Banner}, http.StatusOK)
}

func (h *APIHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}
	h.sendJSON(w, response, http.StatusOK)
}

func (h *APIHandler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	txs, err := h.auditor.Report(ctx)
	if err != nil {
		h.sendFailure(w, r, "Failed to list transactions", err)
		return
	}

	h.sendJSON(w, txs, http.StatusOK)
}

func (h *APIHandler) CreateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, r, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	tx, err := req.transaction(h.location)
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	if err := h.auditor.Record(ctx, tx); err != nil {
		h.sendFailure(w, r, "Failed to record transaction", err)
		return
	}

	h.requestLogger(r).Info("Transaction created",
		slog.Int64("transaction_id", tx.ID),
		slog.String("amount", tx.Amount.String()))

	h.sendJSON(w, tx, http.StatusCreated)
}

func (h *APIHandler) AuditHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	report, err := h.auditor.Audit(ctx)
	if err != nil {
		h.sendFailure(w, r, "Audit failed", err)
		return
	}

	h.requestLogger(r).Info("Audit served",
		slog.Int("transactions", len(report.Records)),
		slog.Int("rules", report.RulesLoaded))

	h.sendJSON(w, report, http.StatusOK)
}

func (h *APIHandler) CreateFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, r, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	fb := &domain.Feedback{
		TransactionID: req.TransactionID,
		Label:         domain.FeedbackLabel(req.Label),
		Note:          req.Note,
	}
	if err := h.classifier.RecordFeedback(ctx, fb); err != nil {
		h.sendFailure(w, r, "Failed to record feedback", err)
		return
	}

	h.sendJSON(w, fb, http.StatusCreated)
}

func (h *APIHandler) TrainHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	result, err := h.classifier.Train(ctx)
	if err != nil {
		h.sendFailure(w, r, "Training failed", err)
		return
	}

	h.sendJSON(w, TrainResponse{
		TrainResult: result,
		Message:     fmt.Sprintf("Model trained on %d feedback samples", result.Samples),
	}, http.StatusOK)
}

func (h *APIHandler) PredictHandler(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, r, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var (
		prediction *service.Prediction
		err        error
	)
	if req.TransactionID > 0 {
		prediction, err = h.classifier.PredictByID(ctx, req.TransactionID)
	} else {
		tx, parseErr := req.transaction(h.location)
		if parseErr != nil {
			h.sendError(w, r, parseErr.Error(), http.StatusBadRequest, "INVALID_REQUEST")
			return
		}
		if tx.Timestamp.IsZero() {
			h.sendError(w, r, "timestamp is required", http.StatusBadRequest, "VALIDATION_ERROR")
			return
		}
		prediction, err = h.classifier.Predict(ctx, tx)
	}
	if err != nil {
		h.sendFailure(w, r, "Prediction failed", err)
		return
	}

	h.sendJSON(w, prediction, http.StatusOK)
}

// sendFailure picks the response code for an error coming out of the
// processor or the classifier.
func (h *APIHandler) sendFailure(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		h.requestLogger(r).Error(message, slog.String("error", err.Error()))
	}
	h.sendError(w, r, fmt.Sprintf("%s: %v", message, err), status, code)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, validator.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ml.ErrModelNotTrained):
		return http.StatusConflict, "MODEL_NOT_TRAINED"
	case errors.Is(err, ml.ErrNoTrainingData):
		return http.StatusUnprocessableEntity, "NO_TRAINING_DATA"
	case errors.Is(err, catalog.ErrCatalogParse), errors.Is(err, catalog.ErrRuleRejected):
		return http.StatusInternalServerError, "CATALOG_ERROR"
	case errors.Is(err, repository.ErrStore):
		return http.StatusInternalServerError, "STORE_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", slog.String("error", err.Error()))
	}
}

func (h *APIHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int, code string) {
	errorResponse := ErrorResponse{
		Error: message,
		Code:  code,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(errorResponse)

	h.requestLogger(r).Warn("API error response",
		slog.String("message", message),
		slog.String("code", code),
		slog.Int("status", statusCode))
}

func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.IndexHandler)
	mux.HandleFunc("GET /api/health", h.HealthCheckHandler)
	mux.HandleFunc("GET /api/v1/transactions", h.ListTransactionsHandler)
	mux.HandleFunc("POST /api/v1/transactions", h.CreateTransactionHandler)
	mux.HandleFunc("GET /api/v1/audit", h.AuditHandler)
	mux.HandleFunc("POST /api/v1/feedback", h.CreateFeedbackHandler)
	mux.HandleFunc("POST /api/v1/model/train", h.TrainHandler)
	mux.HandleFunc("POST /api/v1/model/predict", h.PredictHandler)
}

// Routes returns the full handler chain served by the API.
func (h *APIHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h.WithRequestID(mux)
}
