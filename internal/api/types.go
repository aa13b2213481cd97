package api

import (
	"github.com/shopspring/decimal"

	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/models"
)

// ==================== Offramp / Bridge Initiation ====================

// InitiateOfframpRequest registers a user's burn-for-payout intent
type InitiateOfframpRequest struct {
	RecordID      string          `json:"record_id"`
	UserAddress   string          `json:"user_address"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	ChainID       int64           `json:"chain_id"`
	BankCode      string          `json:"bank_code"`
	AccountNumber string          `json:"account_number"`
	AccountName   string          `json:"account_name"`
	RecipientID   string          `json:"recipient_id"`
}

// InitiateBridgeRequest registers a user's cross-chain transfer intent
type InitiateBridgeRequest struct {
	RecordID    string          `json:"record_id"`
	UserAddress string          `json:"user_address"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	ChainID     int64           `json:"chain_id"`
}

// ==================== Virtual Accounts ====================

// CreateAccountRequest provisions a dedicated deposit account
type CreateAccountRequest struct {
	UserAddress string `json:"user_address"`
	Email       string `json:"email"`
	Currency    string `json:"currency"`
	ChainID     int64  `json:"chain_id"`
}

// VirtualAccountResponse describes an issued deposit account
type VirtualAccountResponse struct {
	UserAddress string `json:"user_address"`
	Currency    string `json:"currency"`
	AccountNo   string `json:"account_no"`
	BankName    string `json:"bank_name"`
	ChainID     int64  `json:"chain_id"`
}

// ==================== Transaction Status ====================

// TransactionResponse is the status view of a settlement record
type TransactionResponse struct {
	ID                    string                   `json:"id"`
	Kind                  models.TransactionKind   `json:"kind"`
	UserAddress           string                   `json:"user_address"`
	Amount                decimal.Decimal          `json:"amount"`
	Currency              string                   `json:"currency"`
	ChainID               *int64                   `json:"chain_id"`
	Status                models.TransactionStatus `json:"status"`
	PaymentReference      *string                  `json:"payment_reference,omitempty"`
	BankTransferReference *string                  `json:"bank_transfer_reference,omitempty"`
	OnChainTx             *string                  `json:"on_chain_tx,omitempty"`
	DestinationChainID    *int64                   `json:"destination_chain_id,omitempty"`
	DestinationTxHash     *string                  `json:"destination_tx_hash,omitempty"`
	Error                 *string                  `json:"error,omitempty"`
}

// GetUserTransactionsResponse lists a user's settlement records
type GetUserTransactionsResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
}

// ==================== Provider Sync ====================

// SyncResponse reports the outcome of a manual sync trigger
type SyncResponse struct {
	Created int `json:"created"`
}

// ==================== Error Response ====================

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==================== Health Check ====================

// HealthResponse represents health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
