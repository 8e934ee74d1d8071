package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditai/internal/catalog"
	"auditai/internal/domain"
	"auditai/internal/ml"
	"auditai/internal/processor"
	"auditai/internal/repository/memory"
	"auditai/internal/service"
	"auditai/pkg/crypto"
	"auditai/pkg/metrics"
)

const testCatalog = `[
  {"code": "VAL001", "description": "High value without justification", "relevant_field": "amount", "condition": "> 10000", "origin": "AML policy", "recommended_action": "Request justification", "legal_basis": "Law 9.613/98"}
]`

var auditNow = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

type testServer struct {
	handler     http.Handler
	catalogPath string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerIn(t, time.UTC)
}

// newTestServerIn builds a server whose business-hours policy, feature
// extraction and timestamp parsing all run in loc.
func newTestServerIn(t *testing.T, loc *time.Location) *testServer {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalog), 0o644))

	txs := memory.NewTransactionRepository()
	feedback := memory.NewFeedbackRepository()
	collector := metrics.NewMetricsCollector(nil)

	engine := processor.NewRuleEngine(nil, processor.NewTemporalPolicy(8, 18, loc), nil)
	loader := catalog.NewLoader(catalog.LoaderConfig{Paths: []string{catalogPath}}, nil)
	auditor := processor.NewAuditProcessor(txs, loader, engine, nil, collector,
		processor.AuditConfig{Clock: func() time.Time { return auditNow }}, nil)

	store := ml.NewModelStore(filepath.Join(dir, "model.json"), crypto.NewSigner("test", nil), nil)
	classifier, err := service.NewClassifierService(txs, feedback, store, loc, ml.RandomForestConfig{Trees: 15}, collector, nil)
	require.NoError(t, err)

	h := NewAPIHandler(auditor, classifier, loc, nil)
	return &testServer{handler: h.Routes(), catalogPath: catalogPath}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, r)
	return w
}

func (s *testServer) createTransaction(t *testing.T, req map[string]any) domain.Transaction {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/transactions", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var tx domain.Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tx))
	return tx
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestIndex_Banner(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), Banner)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestRequestID_EchoesCallerHeader(t *testing.T) {
	s := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	r.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()

	s.handler.ServeHTTP(w, r)

	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}

func TestCreateTransaction(t *testing.T) {
	s := newTestServer(t)

	tx := s.createTransaction(t, map[string]any{
		"client":    "Acme Comercio",
		"amount":    "1500.50",
		"timestamp": "2024-03-12T14:00:00Z",
		"status":    "Paid",
	})

	assert.Equal(t, int64(1), tx.ID)
	assert.Equal(t, "1500.5", tx.Amount.String())
	assert.Nil(t, tx.Justification)
}

func TestCreateTransaction_AcceptsNumericAmountAndSpaceLayout(t *testing.T) {
	s := newTestServer(t)

	tx := s.createTransaction(t, map[string]any{
		"client":        "Acme",
		"amount":        250,
		"timestamp":     "2024-03-12 14:00:00",
		"status":        "Pending",
		"justification": "supplier invoice",
	})

	assert.Equal(t, "250", tx.Amount.String())
	require.NotNil(t, tx.Justification)
	assert.Equal(t, "supplier invoice", *tx.Justification)
}

func TestCreateTransaction_AcceptsNegativeAmount(t *testing.T) {
	s := newTestServer(t)

	tx := s.createTransaction(t, map[string]any{
		"client":    "Acme",
		"amount":    "-250.00",
		"timestamp": "2024-03-12T14:00:00Z",
		"status":    "Cancelled",
	})

	assert.Equal(t, "-250", tx.Amount.String())

	w := s.do(t, http.MethodGet, "/api/v1/audit", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report domain.AuditReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.Records, 1)
	assert.Empty(t, report.Records[0].Violations)
}

func TestCreateTransaction_NaiveTimestampUsesAuditZone(t *testing.T) {
	prevLocal := time.Local
	time.Local = time.UTC
	t.Cleanup(func() { time.Local = prevLocal })

	saoPaulo := time.FixedZone("BRT", -3*60*60)
	s := newTestServerIn(t, saoPaulo)

	tx := s.createTransaction(t, map[string]any{
		"client":    "Acme",
		"amount":    100,
		"timestamp": "2024-03-19T09:30:00",
		"status":    "Paid",
	})

	assert.True(t, tx.Timestamp.Equal(time.Date(2024, 3, 19, 12, 30, 0, 0, time.UTC)), tx.Timestamp.String())

	w := s.do(t, http.MethodGet, "/api/v1/audit", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report domain.AuditReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.Records, 1)
	assert.Empty(t, report.Records[0].Violations)
}

func TestParseTimestamp_OffsetWinsOverZone(t *testing.T) {
	saoPaulo := time.FixedZone("BRT", -3*60*60)

	ts, err := parseTimestamp("2024-03-19T09:30:00Z", saoPaulo)
	require.NoError(t, err)
	assert.Equal(t, 9, ts.UTC().Hour())

	ts, err = parseTimestamp("2024-03-19 09:30:00", saoPaulo)
	require.NoError(t, err)
	assert.Equal(t, 12, ts.UTC().Hour())
}

func TestCreateTransaction_Errors(t *testing.T) {
	tests := []struct {
		name string
		body any
		code string
	}{
		{"malformed body", "{not json", "INVALID_REQUEST"},
		{"bad timestamp", map[string]any{"client": "Acme", "amount": 1, "timestamp": "yesterday", "status": "Paid"}, "INVALID_REQUEST"},
		{"missing client", map[string]any{"amount": 1, "timestamp": "2024-03-12T14:00:00Z", "status": "Paid"}, "VALIDATION_ERROR"},
		{"missing timestamp", map[string]any{"client": "Acme", "amount": 1, "status": "Paid"}, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)

			w := s.do(t, http.MethodPost, "/api/v1/transactions", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Code)
		})
	}
}

func TestListTransactions_NewestFirst(t *testing.T) {
	s := newTestServer(t)
	s.createTransaction(t, map[string]any{"client": "Old", "amount": 1, "timestamp": "2024-03-01T10:00:00Z", "status": "Paid"})
	s.createTransaction(t, map[string]any{"client": "New", "amount": 2, "timestamp": "2024-03-10T10:00:00Z", "status": "Paid"})

	w := s.do(t, http.MethodGet, "/api/v1/transactions", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var txs []domain.Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &txs))
	require.Len(t, txs, 2)
	assert.Equal(t, "New", txs[0].Client)
	assert.Equal(t, "Old", txs[1].Client)
}

func TestAudit_ReportsViolations(t *testing.T) {
	s := newTestServer(t)
	s.createTransaction(t, map[string]any{"client": "Acme", "amount": 15000, "timestamp": "2024-03-12T14:00:00Z", "status": "Paid"})
	s.createTransaction(t, map[string]any{"client": "Beta", "amount": 200, "timestamp": "2024-03-12T15:00:00Z", "status": "Paid"})

	w := s.do(t, http.MethodGet, "/api/v1/audit", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report domain.AuditReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1, report.RulesLoaded)
	require.Len(t, report.Records, 2)

	byClient := map[string]domain.AuditRecord{}
	for _, rec := range report.Records {
		byClient[rec.Client] = rec
	}
	require.Len(t, byClient["Acme"].Violations, 1)
	assert.Equal(t, "VAL001", byClient["Acme"].Violations[0].Code)
	assert.Empty(t, byClient["Beta"].Violations)
}

func TestAudit_BrokenCatalog(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.WriteFile(s.catalogPath, []byte("[{broken"), 0o644))

	w := s.do(t, http.MethodGet, "/api/v1/audit", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "CATALOG_ERROR", decodeError(t, w).Code)
}

func TestFeedback_UnknownTransaction(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/feedback", map[string]any{"transaction_id": 42, "label": "false_positive"})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, w).Code)
}

func TestFeedback_InvalidLabel(t *testing.T) {
	s := newTestServer(t)
	tx := s.createTransaction(t, map[string]any{"client": "Acme", "amount": 1, "timestamp": "2024-03-12T14:00:00Z", "status": "Paid"})

	w := s.do(t, http.MethodPost, "/api/v1/feedback", map[string]any{"transaction_id": tx.ID, "label": "maybe"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, w).Code)
}

func TestPredict_BeforeTraining(t *testing.T) {
	s := newTestServer(t)
	tx := s.createTransaction(t, map[string]any{"client": "Acme", "amount": 1, "timestamp": "2024-03-12T14:00:00Z", "status": "Paid"})

	w := s.do(t, http.MethodPost, "/api/v1/model/predict", map[string]any{"transaction_id": tx.ID})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "MODEL_NOT_TRAINED", decodeError(t, w).Code)
}

func TestTrain_WithoutFeedback(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/model/train", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "NO_TRAINING_DATA", decodeError(t, w).Code)
}

func TestTrainThenPredict(t *testing.T) {
	s := newTestServer(t)
	big := s.createTransaction(t, map[string]any{"client": "Acme", "amount": 50000, "timestamp": "2024-03-12T14:00:00Z", "status": "Paid"})
	small := s.createTransaction(t, map[string]any{"client": "Beta", "amount": 10, "timestamp": "2024-03-12T14:00:00Z", "status": "Paid", "justification": "office supplies"})

	for _, fb := range []map[string]any{
		{"transaction_id": big.ID, "label": "confirmed_violation"},
		{"transaction_id": small.ID, "label": "false_positive", "note": "routine"},
	} {
		w := s.do(t, http.MethodPost, "/api/v1/feedback", fb)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := s.do(t, http.MethodPost, "/api/v1/model/train", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var trained map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trained))
	assert.EqualValues(t, 2, trained["trained_samples"])
	assert.NotEmpty(t, trained["message"])

	w = s.do(t, http.MethodPost, "/api/v1/model/predict", map[string]any{"transaction_id": big.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var prediction service.Prediction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prediction))
	assert.Contains(t, []string{"confirmed_violation", "false_positive"}, prediction.Label)
	assert.Equal(t, big.ID, prediction.TransactionID)

	w = s.do(t, http.MethodPost, "/api/v1/model/predict", map[string]any{
		"client": "Gamma", "amount": "75.00", "timestamp": "2024-03-13T10:00:00Z", "status": "Paid",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestPredict_UnknownTransaction(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/model/predict", map[string]any{"transaction_id": 99})

	assert.Equal(t, http.StatusNotFound, w.Code)
}
