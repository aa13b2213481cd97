package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/models"
)

var (
	// ErrStaleTransition is returned when a compare-and-set status update
	// matched no row: the record is not in the expected source status,
	// usually because another scheduler already advanced it.
	ErrStaleTransition = errors.New("transaction not in expected status")

	// ErrDuplicateReference is returned when a record with the same external
	// payment reference already exists for the kind.
	ErrDuplicateReference = errors.New("payment reference already ingested")
)

// ==================== Transaction Queries ====================

// CreateTransaction inserts a new settlement record. A unique index on
// (kind, payment_reference) backs the ingestion dedupe invariant; a
// violation surfaces as ErrDuplicateReference.
func (db *DB) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, kind, user_address, amount, currency, chain_id, status,
			payment_reference, destination_chain_id,
			bank_code, account_number, account_name, recipient_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	err := db.QueryRowContext(
		ctx, query,
		tx.ID,
		tx.Kind,
		tx.UserAddress,
		tx.Amount,
		tx.Currency,
		tx.ChainID,
		tx.Status,
		tx.PaymentReference,
		tx.DestinationChainID,
		tx.BankCode,
		tx.AccountNumber,
		tx.AccountName,
		tx.RecipientID,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateReference
	}
	return err
}

// GetTransaction retrieves a settlement record by its correlation id
func (db *DB) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var tx models.Transaction
	query := `SELECT * FROM transactions WHERE id = $1`
	err := db.GetContext(ctx, &tx, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &tx, err
}

// GetTransactionByReference retrieves a record by kind and external payment
// reference. Used by ingestion to dedupe poll and webhook deliveries.
func (db *DB) GetTransactionByReference(ctx context.Context, kind models.TransactionKind, reference string) (*models.Transaction, error) {
	var tx models.Transaction
	query := `SELECT * FROM transactions WHERE kind = $1 AND payment_reference = $2`
	err := db.GetContext(ctx, &tx, query, kind, reference)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &tx, err
}

// ListTransactionsByStatus retrieves records of one kind in a given status,
// oldest first. Pollers only ever select pending or queued rows, so
// completed records can never be re-enqueued.
func (db *DB) ListTransactionsByStatus(ctx context.Context, kind models.TransactionKind, status models.TransactionStatus, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	query := `
		SELECT * FROM transactions
		WHERE kind = $1 AND status = $2
		ORDER BY created_at ASC
		LIMIT $3
	`
	err := db.SelectContext(ctx, &txs, query, kind, status, limit)
	return txs, err
}

// GetTransactionsByUser retrieves records for a user address, newest first
func (db *DB) GetTransactionsByUser(ctx context.Context, userAddress string, limit, offset int) ([]models.Transaction, error) {
	var txs []models.Transaction
	query := `
		SELECT * FROM transactions
		WHERE user_address = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	err := db.SelectContext(ctx, &txs, query, userAddress, limit, offset)
	return txs, err
}

// TransitionFields are the money-moving writes bundled atomically with a
// status transition. Reference fields are append-only: a value already set
// is kept, never overwritten.
type TransitionFields struct {
	Amount                *decimal.Decimal
	OnChainTx             *string
	BankTransferReference *string
	DestinationChainID    *int64
	DestinationTxHash     *string
	ErrorMessage          *string
}

// TransitionTransaction performs the compare-and-set status transition that
// is the sole concurrency-control primitive over the ledger. The update
// matches on both id and the expected source status; if another worker
// already moved the record, no row matches and ErrStaleTransition is
// returned so the caller can drop the duplicate wake-up harmlessly.
func (db *DB) TransitionTransaction(
	ctx context.Context,
	id string,
	from, to models.TransactionStatus,
	fields TransitionFields,
) error {
	query := `
		UPDATE transactions
		SET status = $3,
		    amount = COALESCE($4, amount),
		    on_chain_tx = COALESCE(on_chain_tx, $5),
		    bank_transfer_reference = COALESCE(bank_transfer_reference, $6),
		    destination_chain_id = COALESCE(destination_chain_id, $7),
		    destination_tx_hash = COALESCE(destination_tx_hash, $8),
		    error_message = COALESCE($9, error_message),
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	result, err := db.ExecContext(
		ctx, query,
		id, from, to,
		fields.Amount,
		fields.OnChainTx,
		fields.BankTransferReference,
		fields.DestinationChainID,
		fields.DestinationTxHash,
		fields.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to transition transaction %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return ErrStaleTransition
	}
	return nil
}

// ==================== Virtual Account Queries ====================

// UpsertVirtualAccount records a provider-issued account for a user. The
// provider reference is stable, so a replayed creation is a no-op.
func (db *DB) UpsertVirtualAccount(ctx context.Context, va *models.VirtualAccount) error {
	query := `
		INSERT INTO virtual_accounts (user_address, currency, provider_ref, account_no, bank_name, chain_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider_ref) DO NOTHING
	`
	_, err := db.ExecContext(ctx, query,
		va.UserAddress, va.Currency, va.ProviderRef, va.AccountNo, va.BankName, va.ChainID)
	return err
}

// GetVirtualAccountByReference resolves the provider-assigned reference of
// an incoming deposit to the owning user.
func (db *DB) GetVirtualAccountByReference(ctx context.Context, providerRef string) (*models.VirtualAccount, error) {
	var va models.VirtualAccount
	query := `SELECT * FROM virtual_accounts WHERE provider_ref = $1`
	err := db.GetContext(ctx, &va, query, providerRef)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &va, err
}

// GetVirtualAccount retrieves the account issued to a user for a currency
func (db *DB) GetVirtualAccount(ctx context.Context, userAddress, currency string) (*models.VirtualAccount, error) {
	var va models.VirtualAccount
	query := `SELECT * FROM virtual_accounts WHERE user_address = $1 AND currency = $2`
	err := db.GetContext(ctx, &va, query, userAddress, currency)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &va, err
}
