package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/database"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/models"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/service"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	db       *database.DB
	syncer   *service.SyncService
	initiate *service.InitiateService
	accounts *service.AccountService
	logger   *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	db *database.DB,
	syncer *service.SyncService,
	initiate *service.InitiateService,
	accounts *service.AccountService,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		db:       db,
		syncer:   syncer,
		initiate: initiate,
		accounts: accounts,
		logger:   logger,
	}
}

// ==================== Health Check ====================

// HandleHealth returns service health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Version: "1.0.0",
	}
	respondJSON(w, http.StatusOK, response)
}

// ==================== Webhook Ingestion ====================

// HandleDepositWebhook handles POST /api/v1/webhooks/deposit. The raw body
// is read before any decoding so the HMAC covers exactly what the provider
// signed; a bad signature is rejected without creating anything.
func (h *Handler) HandleDepositWebhook(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")

	if err := h.syncer.IngestWebhook(r.Context(), rawBody, signature); err != nil {
		switch {
		case errors.Is(err, service.ErrBadSignature):
			h.logger.Warn("Webhook rejected: bad signature",
				zap.String("remote_addr", r.RemoteAddr))
			respondError(w, http.StatusUnauthorized, "Invalid signature", nil)
		case errors.Is(err, service.ErrUnknownAccount):
			h.logger.Warn("Webhook references unknown virtual account")
			respondError(w, http.StatusBadRequest, "Unknown virtual account", nil)
		default:
			h.logger.Error("Webhook ingestion failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Failed to process webhook", err)
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// ==================== Provider Sync ====================

// HandleSync handles POST /api/v1/sync, a manual provider sync trigger
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	created, err := h.syncer.SyncOnce(r.Context())
	if err != nil {
		h.logger.Error("Manual sync failed", zap.Error(err))
		respondError(w, http.StatusBadGateway, "Provider sync failed", err)
		return
	}

	respondJSON(w, http.StatusOK, SyncResponse{Created: created})
}

// ==================== Virtual Accounts ====================

// HandleCreateAccount handles POST /api/v1/accounts
func (h *Handler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	account, err := h.accounts.CreateAccount(r.Context(), req.UserAddress, req.Email, req.Currency, req.ChainID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to create account", err)
		return
	}

	respondJSON(w, http.StatusCreated, toVirtualAccountResponse(account))
}

// HandleGetAccount handles GET /api/v1/accounts/{address}
func (h *Handler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = "NGN"
	}

	account, err := h.accounts.GetAccount(r.Context(), address, currency)
	if err != nil {
		h.logger.Error("Failed to get virtual account",
			zap.String("address", address),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get account", err)
		return
	}
	if account == nil {
		respondError(w, http.StatusNotFound, "Account not found", nil)
		return
	}

	respondJSON(w, http.StatusOK, toVirtualAccountResponse(account))
}

func toVirtualAccountResponse(account *models.VirtualAccount) VirtualAccountResponse {
	return VirtualAccountResponse{
		UserAddress: account.UserAddress,
		Currency:    account.Currency,
		AccountNo:   account.AccountNo,
		BankName:    account.BankName,
		ChainID:     account.ChainID,
	}
}

// ==================== Offramp / Bridge Initiation ====================

// HandleInitiateOfframp handles POST /api/v1/offramps
func (h *Handler) HandleInitiateOfframp(w http.ResponseWriter, r *http.Request) {
	var req InitiateOfframpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	record, err := h.initiate.InitiateOfframp(r.Context(), service.OfframpRequest{
		RecordID:    req.RecordID,
		UserAddress: req.UserAddress,
		Amount:      req.Amount,
		Currency:    req.Currency,
		ChainID:     req.ChainID,
		BankAccount: models.BankAccount{
			BankCode:      req.BankCode,
			AccountNumber: req.AccountNumber,
			AccountName:   req.AccountName,
			RecipientID:   req.RecipientID,
		},
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to initiate offramp", err)
		return
	}

	respondJSON(w, http.StatusCreated, toTransactionResponse(record))
}

// HandleInitiateBridge handles POST /api/v1/bridges
func (h *Handler) HandleInitiateBridge(w http.ResponseWriter, r *http.Request) {
	var req InitiateBridgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	record, err := h.initiate.InitiateBridge(r.Context(), service.BridgeRequest{
		RecordID:    req.RecordID,
		UserAddress: req.UserAddress,
		Amount:      req.Amount,
		Currency:    req.Currency,
		ChainID:     req.ChainID,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to initiate bridge", err)
		return
	}

	respondJSON(w, http.StatusCreated, toTransactionResponse(record))
}

// ==================== Transaction Status ====================

// HandleGetTransaction handles GET /api/v1/transactions/{id}
func (h *Handler) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	record, err := h.db.GetTransaction(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get transaction",
			zap.String("id", id),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get transaction", err)
		return
	}
	if record == nil {
		respondError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}

	respondJSON(w, http.StatusOK, toTransactionResponse(record))
}

// HandleGetUserTransactions handles GET /api/v1/transactions/user/{address}
func (h *Handler) HandleGetUserTransactions(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	records, err := h.db.GetTransactionsByUser(r.Context(), address, limit, 0)
	if err != nil {
		h.logger.Error("Failed to get user transactions",
			zap.String("address", address),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get transactions", err)
		return
	}

	response := GetUserTransactionsResponse{
		Transactions: make([]TransactionResponse, 0, len(records)),
	}
	for i := range records {
		response.Transactions = append(response.Transactions, toTransactionResponse(&records[i]))
	}

	respondJSON(w, http.StatusOK, response)
}

func toTransactionResponse(record *models.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:                    record.ID,
		Kind:                  record.Kind,
		UserAddress:           record.UserAddress,
		Amount:                record.Amount,
		Currency:              record.Currency,
		ChainID:               record.ChainID,
		Status:                record.Status,
		PaymentReference:      record.PaymentReference,
		BankTransferReference: record.BankTransferReference,
		OnChainTx:             record.OnChainTx,
		DestinationChainID:    record.DestinationChainID,
		DestinationTxHash:     record.DestinationTxHash,
		Error:                 record.ErrorMessage,
	}
}

// ==================== Helper Functions ====================

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but can't send response since headers already written
		fmt.Printf("Failed to encode JSON response: %v\n", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errorMsg := message
	if err != nil {
		errorMsg = fmt.Sprintf("%s: %v", message, err)
	}

	response := ErrorResponse{
		Error:   message,
		Message: errorMsg,
	}

	respondJSON(w, statusCode, response)
}
