package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/models"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/provider"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/service"
)

// stubLedger satisfies service.Ledger for webhook tests
type stubLedger struct {
	accounts map[string]*models.VirtualAccount
	created  []*models.Transaction
}

func (s *stubLedger) GetTransactionByReference(_ context.Context, _ models.TransactionKind, _ string) (*models.Transaction, error) {
	return nil, nil
}

func (s *stubLedger) CreateTransaction(_ context.Context, tx *models.Transaction) error {
	s.created = append(s.created, tx)
	return nil
}

func (s *stubLedger) GetVirtualAccountByReference(_ context.Context, providerRef string) (*models.VirtualAccount, error) {
	return s.accounts[providerRef], nil
}

type stubProvider struct{}

func (stubProvider) ListSuccessfulTransactions(_ context.Context, _ time.Time) ([]provider.Transaction, error) {
	return nil, nil
}

func (stubProvider) InitiateTransfer(_ context.Context, _ provider.TransferRequest) (string, error) {
	return "", nil
}

func webhookSignature(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandleHealth(t *testing.T) {
	logger := zap.NewNop()
	handler := NewHandler(nil, nil, nil, nil, logger)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	handler.HandleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", response.Status)
	}

	if response.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", response.Version)
	}
}

func TestHandleDepositWebhook(t *testing.T) {
	const secret = "whsec_test"

	ledger := &stubLedger{accounts: map[string]*models.VirtualAccount{
		"cus_1": {UserAddress: "0xabc", ProviderRef: "cus_1", ChainID: 1},
	}}
	syncer := service.NewSyncService(ledger, stubProvider{}, secret, zap.NewNop())
	handler := NewHandler(nil, syncer, nil, nil, zap.NewNop())

	validBody := []byte(`{"event":"charge.success","data":{"reference":"ref_1","amount":"100","currency":"NGN","customer_ref":"cus_1"}}`)
	unknownAccountBody := []byte(`{"event":"charge.success","data":{"reference":"ref_2","amount":"100","currency":"NGN","customer_ref":"cus_missing"}}`)

	tests := []struct {
		name           string
		body           []byte
		signature      string
		expectedStatus int
	}{
		{
			name:           "valid signed deposit",
			body:           validBody,
			signature:      webhookSignature(secret, validBody),
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing signature",
			body:           validBody,
			signature:      "",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "wrong signature",
			body:           validBody,
			signature:      webhookSignature("other-secret", validBody),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "unknown virtual account",
			body:           unknownAccountBody,
			signature:      webhookSignature(secret, unknownAccountBody),
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/deposit", bytes.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.signature != "" {
				req.Header.Set("X-Webhook-Signature", tt.signature)
			}
			w := httptest.NewRecorder()

			handler.HandleDepositWebhook(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}

	if len(ledger.created) != 1 {
		t.Errorf("expected exactly 1 record created, got %d", len(ledger.created))
	}
}

func TestHandleDepositWebhookNeverCreatesOnBadSignature(t *testing.T) {
	ledger := &stubLedger{accounts: map[string]*models.VirtualAccount{
		"cus_1": {UserAddress: "0xabc", ProviderRef: "cus_1", ChainID: 1},
	}}
	syncer := service.NewSyncService(ledger, stubProvider{}, "secret", zap.NewNop())
	handler := NewHandler(nil, syncer, nil, nil, zap.NewNop())

	body := []byte(`{"event":"charge.success","data":{"reference":"ref_1","amount":"100","currency":"NGN","customer_ref":"cus_1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/deposit", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", "deadbeef")
	w := httptest.NewRecorder()

	handler.HandleDepositWebhook(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
	if len(ledger.created) != 0 {
		t.Errorf("bad signature must never create records, got %d", len(ledger.created))
	}
}

func TestRespondJSON(t *testing.T) {
	w := httptest.NewRecorder()

	data := map[string]string{"key": "value"}
	respondJSON(w, http.StatusOK, data)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected content-type 'application/json', got '%s'", ct)
	}

	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if result["key"] != "value" {
		t.Errorf("expected key 'value', got '%s'", result["key"])
	}
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		message       string
		err           error
		expectedError string
	}{
		{
			name:          "error without underlying error",
			statusCode:    http.StatusBadRequest,
			message:       "Bad request",
			err:           nil,
			expectedError: "Bad request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			respondError(w, tt.statusCode, tt.message, tt.err)

			if w.Code != tt.statusCode {
				t.Errorf("expected status %d, got %d", tt.statusCode, w.Code)
			}

			var errResp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}

			if errResp.Error != tt.expectedError {
				t.Errorf("expected error '%s', got '%s'", tt.expectedError, errResp.Error)
			}
		})
	}
}
