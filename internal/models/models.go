package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind distinguishes the three settlement flows
type TransactionKind string

const (
	KindOnramp  TransactionKind = "onramp"
	KindOfframp TransactionKind = "offramp"
	KindBridge  TransactionKind = "bridge"
)

// TransactionStatus represents the state of a settlement record
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusQueued     TransactionStatus = "queued"
	StatusProcessing TransactionStatus = "processing"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
)

// Terminal reports whether a status admits no further transitions
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transaction is one settlement record. The same shape backs onramp,
// offramp, and bridge rows; Kind selects which fields are meaningful.
//
// ID is the 32-byte hex correlation key shared with the on-chain contract's
// own record for this operation. The external reference fields are
// append-only: populated as the record advances, never overwritten.
type Transaction struct {
	ID          string            `db:"id"`
	Kind        TransactionKind   `db:"kind"`
	UserAddress string            `db:"user_address"`
	Amount      decimal.Decimal   `db:"amount"`
	Currency    string            `db:"currency"`
	ChainID     *int64            `db:"chain_id"`
	Status      TransactionStatus `db:"status"`

	PaymentReference      *string `db:"payment_reference"`
	BankTransferReference *string `db:"bank_transfer_reference"`
	OnChainTx             *string `db:"on_chain_tx"`
	DestinationChainID    *int64  `db:"destination_chain_id"`
	DestinationTxHash     *string `db:"destination_tx_hash"`

	// Payout destination, offramp only. Immutable after creation.
	BankCode      *string `db:"bank_code"`
	AccountNumber *string `db:"account_number"`
	AccountName   *string `db:"account_name"`
	RecipientID   *string `db:"recipient_id"`

	ErrorMessage *string   `db:"error_message"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// BankAccount is the structured payout destination for an offramp record.
type BankAccount struct {
	BankCode      string
	AccountNumber string
	AccountName   string
	RecipientID   string
}

// Validate checks that the destination is usable for a payout
func (b BankAccount) Validate() error {
	if b.BankCode == "" {
		return fmt.Errorf("bank code is required")
	}
	if b.AccountNumber == "" {
		return fmt.Errorf("account number is required")
	}
	if b.RecipientID == "" {
		return fmt.Errorf("recipient id is required")
	}
	return nil
}

// BankAccount assembles the structured payout destination from the row,
// or nil when the record carries none.
func (t *Transaction) BankAccount() *BankAccount {
	if t.BankCode == nil || t.AccountNumber == nil || t.RecipientID == nil {
		return nil
	}
	acct := &BankAccount{
		BankCode:      *t.BankCode,
		AccountNumber: *t.AccountNumber,
		RecipientID:   *t.RecipientID,
	}
	if t.AccountName != nil {
		acct.AccountName = *t.AccountName
	}
	return acct
}

// VirtualAccount maps a provider-issued bank account number to a user.
// Incoming fiat deposits are attributed by the provider-assigned reference.
type VirtualAccount struct {
	ID          int64     `db:"id"`
	UserAddress string    `db:"user_address"`
	Currency    string    `db:"currency"`
	ProviderRef string    `db:"provider_ref"`
	AccountNo   string    `db:"account_no"`
	BankName    string    `db:"bank_name"`
	ChainID     int64     `db:"chain_id"` // destination chain for deposits to this account
	CreatedAt   time.Time `db:"created_at"`
}
