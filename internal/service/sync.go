package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/database"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/models"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/provider"
)

var (
	// ErrBadSignature is returned when a webhook payload fails HMAC
	// verification. No record is ever created for such a payload.
	ErrBadSignature = errors.New("webhook signature mismatch")

	// ErrUnknownAccount is returned when a webhook references a virtual
	// account this service has never issued.
	ErrUnknownAccount = errors.New("unknown virtual account reference")
)

// Ledger is the slice of the store that ingestion needs
type Ledger interface {
	GetTransactionByReference(ctx context.Context, kind models.TransactionKind, reference string) (*models.Transaction, error)
	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	GetVirtualAccountByReference(ctx context.Context, providerRef string) (*models.VirtualAccount, error)
}

// SyncService materializes settled fiat deposits as pending onramp
// records. Polling and webhook delivery share one ingestion path, so
// whichever arrives second finds the payment reference already taken.
type SyncService struct {
	store         Ledger
	provider      provider.Client
	webhookSecret string
	window        time.Duration
	logger        *zap.Logger
}

// NewSyncService creates a new provider sync service
func NewSyncService(store Ledger, client provider.Client, webhookSecret string, logger *zap.Logger) *SyncService {
	return &SyncService{
		store:         store,
		provider:      client,
		webhookSecret: webhookSecret,
		window:        24 * time.Hour,
		logger:        logger.Named("sync"),
	}
}

// SyncOnce fetches recently settled provider transactions and returns the
// number of new onramp records created. Provider history is replayed on
// every poll, so every step here tolerates duplicates.
func (s *SyncService) SyncOnce(ctx context.Context) (int, error) {
	since := time.Now().Add(-s.window)

	txs, err := s.provider.ListSuccessfulTransactions(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("failed to list provider transactions: %w", err)
	}

	created := 0
	for _, tx := range txs {
		ok, err := s.ingestDeposit(ctx, tx.Reference, tx.CustomerRef, tx.Amount, tx.Currency)
		if err != nil {
			if errors.Is(err, ErrUnknownAccount) {
				// The account may simply not exist yet; the provider
				// replays history next poll, so skip rather than retry.
				s.logger.Warn("Deposit references unknown virtual account, skipping",
					zap.String("reference", tx.Reference),
					zap.String("customer_ref", tx.CustomerRef))
				continue
			}
			s.logger.Error("Failed to ingest deposit",
				zap.String("reference", tx.Reference),
				zap.Error(err))
			continue
		}
		if ok {
			created++
		}
	}

	if created > 0 {
		s.logger.Info("Provider sync completed",
			zap.Int("fetched", len(txs)),
			zap.Int("created", created))
	}

	return created, nil
}

// webhookEvent is the provider-signed deposit notification payload. The
// amount arrives in the provider's minor units, same as the poll API.
type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference   string          `json:"reference"`
		Amount      decimal.Decimal `json:"amount"`
		Currency    string          `json:"currency"`
		CustomerRef string          `json:"customer_ref"`
	} `json:"data"`
}

// IngestWebhook handles a provider-signed deposit notification. The HMAC
// is verified over the raw body before anything is decoded; a bad
// signature never creates a record. A deposit already materialized by
// polling is a silent no-op, and vice versa.
func (s *SyncService) IngestWebhook(ctx context.Context, rawBody []byte, signatureHeader string) error {
	if !provider.VerifyWebhookSignature(rawBody, signatureHeader, s.webhookSecret) {
		return ErrBadSignature
	}

	var event webhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return fmt.Errorf("failed to decode webhook payload: %w", err)
	}

	if event.Event != "charge.success" {
		s.logger.Debug("Ignoring webhook event", zap.String("event", event.Event))
		return nil
	}

	created, err := s.ingestDeposit(ctx, event.Data.Reference, event.Data.CustomerRef,
		provider.FromMinorUnits(event.Data.Amount), event.Data.Currency)
	if err != nil {
		return err
	}

	if created {
		s.logger.Info("Onramp record created from webhook",
			zap.String("reference", event.Data.Reference))
	}
	return nil
}

// ingestDeposit creates a pending onramp record for a settled deposit
// unless one already exists for the payment reference. Returns true when
// a new record was created.
func (s *SyncService) ingestDeposit(
	ctx context.Context,
	reference, customerRef string,
	amount decimal.Decimal,
	currency string,
) (bool, error) {
	if reference == "" {
		return false, fmt.Errorf("deposit has no payment reference")
	}
	if !amount.IsPositive() {
		return false, fmt.Errorf("deposit amount must be positive: %s", amount)
	}

	// Lookup-before-insert keeps the common path quiet; the unique index
	// on (kind, payment_reference) closes the race underneath.
	existing, err := s.store.GetTransactionByReference(ctx, models.KindOnramp, reference)
	if err != nil {
		return false, fmt.Errorf("failed to check existing record: %w", err)
	}
	if existing != nil {
		return false, nil
	}

	account, err := s.store.GetVirtualAccountByReference(ctx, customerRef)
	if err != nil {
		return false, fmt.Errorf("failed to resolve virtual account: %w", err)
	}
	if account == nil {
		return false, ErrUnknownAccount
	}

	id, err := NewRecordID()
	if err != nil {
		return false, err
	}

	chainID := account.ChainID
	record := &models.Transaction{
		ID:               id,
		Kind:             models.KindOnramp,
		UserAddress:      strings.ToLower(account.UserAddress),
		Amount:           amount,
		Currency:         currency,
		ChainID:          &chainID,
		Status:           models.StatusPending,
		PaymentReference: &reference,
	}

	if err := s.store.CreateTransaction(ctx, record); err != nil {
		if errors.Is(err, database.ErrDuplicateReference) {
			// Lost the race to the other ingestion path
			return false, nil
		}
		return false, fmt.Errorf("failed to create onramp record: %w", err)
	}

	s.logger.Info("Pending onramp record created",
		zap.String("id", record.ID),
		zap.String("reference", reference),
		zap.String("user_address", record.UserAddress),
		zap.String("amount", amount.String()),
		zap.Int64("chain_id", chainID))

	return true, nil
}
