// Package provider defines the boundary to the fiat payment provider.
// The concrete HTTP client is wired in at startup; this core only depends
// on the interface so workers can be exercised against fakes.
package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// The provider reports amounts in the currency's minor unit (kobo for
// NGN); the ledger stores currency units. Every ingestion path, polled
// or webhook-delivered, must convert through the same pair.
const minorUnitExponent = 2

// FromMinorUnits converts a provider-reported amount to currency units
func FromMinorUnits(amount decimal.Decimal) decimal.Decimal {
	return amount.Shift(-minorUnitExponent)
}

// ToMinorUnits converts a currency-unit amount to the provider's minor units
func ToMinorUnits(amount decimal.Decimal) decimal.Decimal {
	return amount.Shift(minorUnitExponent)
}

// Transaction is one settled fiat transaction reported by the provider
type Transaction struct {
	ID          string
	Reference   string // provider-assigned external reference, dedupe key
	CustomerRef string // reference of the virtual account that received it
	Amount      decimal.Decimal
	Currency    string
	Status      string
	PaidAt      time.Time
}

// TransferRequest describes a payout to a bank recipient
type TransferRequest struct {
	Amount         decimal.Decimal
	Currency       string
	RecipientID    string
	IdempotencyKey string
	Narration      string
}

// VirtualAccountRequest asks the provider to issue a dedicated bank
// account for one user
type VirtualAccountRequest struct {
	UserAddress string
	Email       string
	Currency    string
}

// VirtualAccountDetails is the provider's description of an issued account
type VirtualAccountDetails struct {
	Reference string // provider-assigned customer reference, attribution key
	AccountNo string
	BankName  string
}

// AccountClient issues dedicated deposit accounts. Separate from Client so
// the reconciliation core never depends on provisioning.
type AccountClient interface {
	CreateVirtualAccount(ctx context.Context, req VirtualAccountRequest) (*VirtualAccountDetails, error)
}

// Client is the payment-provider contract this core depends on. Calls use
// a bounded request timeout and perform no internal retries; retry happens
// at poll-cycle granularity.
type Client interface {
	// ListSuccessfulTransactions returns recently settled incoming
	// transactions. The provider replays history on every poll, so
	// duplicates are expected and deduped downstream.
	ListSuccessfulTransactions(ctx context.Context, since time.Time) ([]Transaction, error)

	// InitiateTransfer starts a payout and returns the provider's transfer
	// reference. A provider-side rejection is permanent: the caller must
	// not retry, money may already have moved.
	InitiateTransfer(ctx context.Context, req TransferRequest) (string, error)
}
