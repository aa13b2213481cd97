package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/config"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/models"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/provider"
)

// AccountLedger is the store surface account provisioning needs
type AccountLedger interface {
	GetVirtualAccount(ctx context.Context, userAddress, currency string) (*models.VirtualAccount, error)
	UpsertVirtualAccount(ctx context.Context, va *models.VirtualAccount) error
}

// AccountService provisions dedicated deposit accounts. One account per
// (user, currency); a repeated request returns the existing account
// instead of asking the provider for another.
type AccountService struct {
	store    AccountLedger
	provider provider.AccountClient
	cfg      *config.Config
	logger   *zap.Logger
}

// NewAccountService creates a new account provisioning service
func NewAccountService(store AccountLedger, client provider.AccountClient, cfg *config.Config, logger *zap.Logger) *AccountService {
	return &AccountService{
		store:    store,
		provider: client,
		cfg:      cfg,
		logger:   logger.Named("accounts"),
	}
}

// CreateAccount issues a deposit account for the user, or returns the one
// already issued. ChainID selects where this account's deposits mint.
func (s *AccountService) CreateAccount(ctx context.Context, userAddress, email, currency string, chainID int64) (*models.VirtualAccount, error) {
	if userAddress == "" {
		return nil, fmt.Errorf("user address is required")
	}
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if currency == "" {
		return nil, fmt.Errorf("currency is required")
	}
	if _, ok := s.cfg.Chains[chainID]; !ok {
		return nil, fmt.Errorf("chain %d is not configured", chainID)
	}

	userAddress = strings.ToLower(userAddress)

	existing, err := s.store.GetVirtualAccount(ctx, userAddress, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing account: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	details, err := s.provider.CreateVirtualAccount(ctx, provider.VirtualAccountRequest{
		UserAddress: userAddress,
		Email:       email,
		Currency:    currency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider account: %w", err)
	}

	account := &models.VirtualAccount{
		UserAddress: userAddress,
		Currency:    currency,
		ProviderRef: details.Reference,
		AccountNo:   details.AccountNo,
		BankName:    details.BankName,
		ChainID:     chainID,
	}
	if err := s.store.UpsertVirtualAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to store virtual account: %w", err)
	}

	s.logger.Info("Virtual account provisioned",
		zap.String("user_address", userAddress),
		zap.String("provider_ref", details.Reference),
		zap.Int64("chain_id", chainID))

	return account, nil
}

// GetAccount returns the account issued to the user for a currency, or nil
func (s *AccountService) GetAccount(ctx context.Context, userAddress, currency string) (*models.VirtualAccount, error) {
	return s.store.GetVirtualAccount(ctx, strings.ToLower(userAddress), currency)
}
