package service

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/config"
)

// FeeService handles the platform fee applied to offramp and bridge
// settlements
type FeeService struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFeeService creates a new fee service
func NewFeeService(cfg *config.Config, logger *zap.Logger) *FeeService {
	return &FeeService{
		cfg:    cfg,
		logger: logger,
	}
}

// PlatformFee returns the flat fee in currency units
func (s *FeeService) PlatformFee() decimal.Decimal {
	return s.cfg.Operator.PlatformFee
}

// NetAmount deducts the platform fee from a confirmed gross amount.
// A non-positive net is rejected: paying out nothing (or less) means the
// burn was below the fee and needs manual review, not an automatic payout.
func (s *FeeService) NetAmount(gross decimal.Decimal) (decimal.Decimal, error) {
	net := gross.Sub(s.cfg.Operator.PlatformFee)
	if !net.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount %s does not cover platform fee %s",
			gross, s.cfg.Operator.PlatformFee)
	}

	s.logger.Debug("Calculated net settlement amount",
		zap.String("gross", gross.String()),
		zap.String("fee", s.cfg.Operator.PlatformFee.String()),
		zap.String("net", net.String()))

	return net, nil
}
