package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/blockchain/evm"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/config"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/models"
)

// InitiateLedger is the store surface record initiation needs
type InitiateLedger interface {
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	CreateTransaction(ctx context.Context, tx *models.Transaction) error
}

// InitiateService registers user-initiated offramp and bridge operations
// as pending records. The record id is generated by the user's wallet and
// shared with the on-chain burn/bridge call; the pollers then watch the
// chain for that id to commit.
type InitiateService struct {
	store  InitiateLedger
	cfg    *config.Config
	logger *zap.Logger
}

// NewInitiateService creates a new initiation service
func NewInitiateService(store InitiateLedger, cfg *config.Config, logger *zap.Logger) *InitiateService {
	return &InitiateService{
		store:  store,
		cfg:    cfg,
		logger: logger.Named("initiate"),
	}
}

// OfframpRequest describes a user's intent to burn tokens for a payout
type OfframpRequest struct {
	RecordID    string
	UserAddress string
	Amount      decimal.Decimal
	Currency    string
	ChainID     int64
	BankAccount models.BankAccount
}

// InitiateOfframp creates a pending offramp record. The stored amount is
// an estimate; the confirmed on-chain burn amount replaces it when the
// poller observes the burn.
func (s *InitiateService) InitiateOfframp(ctx context.Context, req OfframpRequest) (*models.Transaction, error) {
	if err := s.validateCommon(req.RecordID, req.UserAddress, req.Amount, req.ChainID); err != nil {
		return nil, err
	}
	if err := req.BankAccount.Validate(); err != nil {
		return nil, fmt.Errorf("invalid payout destination: %w", err)
	}

	existing, err := s.store.GetTransaction(ctx, req.RecordID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing record: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("record %s already exists", req.RecordID)
	}

	chainID := req.ChainID
	record := &models.Transaction{
		ID:            req.RecordID,
		Kind:          models.KindOfframp,
		UserAddress:   strings.ToLower(req.UserAddress),
		Amount:        req.Amount,
		Currency:      req.Currency,
		ChainID:       &chainID,
		Status:        models.StatusPending,
		BankCode:      &req.BankAccount.BankCode,
		AccountNumber: &req.BankAccount.AccountNumber,
		AccountName:   &req.BankAccount.AccountName,
		RecipientID:   &req.BankAccount.RecipientID,
	}

	if err := s.store.CreateTransaction(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create offramp record: %w", err)
	}

	s.logger.Info("Pending offramp record created",
		zap.String("id", record.ID),
		zap.String("user_address", record.UserAddress),
		zap.Int64("chain_id", chainID))

	return record, nil
}

// BridgeRequest describes a user's intent to move tokens across chains
type BridgeRequest struct {
	RecordID    string
	UserAddress string
	Amount      decimal.Decimal
	Currency    string
	ChainID     int64 // source chain
}

// InitiateBridge creates a pending bridge record. The destination chain
// is read from the source chain's bridge record once it commits.
func (s *InitiateService) InitiateBridge(ctx context.Context, req BridgeRequest) (*models.Transaction, error) {
	if err := s.validateCommon(req.RecordID, req.UserAddress, req.Amount, req.ChainID); err != nil {
		return nil, err
	}

	existing, err := s.store.GetTransaction(ctx, req.RecordID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing record: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("record %s already exists", req.RecordID)
	}

	chainID := req.ChainID
	record := &models.Transaction{
		ID:          req.RecordID,
		Kind:        models.KindBridge,
		UserAddress: strings.ToLower(req.UserAddress),
		Amount:      req.Amount,
		Currency:    req.Currency,
		ChainID:     &chainID,
		Status:      models.StatusPending,
	}

	if err := s.store.CreateTransaction(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create bridge record: %w", err)
	}

	s.logger.Info("Pending bridge record created",
		zap.String("id", record.ID),
		zap.String("user_address", record.UserAddress),
		zap.Int64("source_chain_id", chainID))

	return record, nil
}

func (s *InitiateService) validateCommon(recordID, userAddress string, amount decimal.Decimal, chainID int64) error {
	if _, err := evm.ParseRecordID(recordID); err != nil {
		return err
	}
	if userAddress == "" {
		return fmt.Errorf("user address is required")
	}
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if _, ok := s.cfg.Chains[chainID]; !ok {
		return fmt.Errorf("chain %d is not configured", chainID)
	}
	return nil
}
