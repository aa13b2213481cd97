package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/blockchain/evm"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/database"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/models"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/provider"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/queue"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/service"
)

// pollOfframp checks each locally pending offramp record against the
// source chain's burn record. Until the burn is mined the contract
// reports no record and the row simply waits for the next cadence; an RPC
// failure waits the same way but is logged at warn so chain trouble is
// visible.
func (m *Manager) pollOfframp(ctx context.Context) {
	logger := m.logger.Named("offramp")

	records, err := m.store.ListTransactionsByStatus(ctx, models.KindOfframp, models.StatusPending, DefaultBatchSize)
	if err != nil {
		logger.Error("Failed to list pending offramp records", zap.Error(err))
		return
	}

	for i := range records {
		select {
		case <-ctx.Done():
			return
		default:
		}

		record := &records[i]

		chain, err := m.chainFor(record.ChainID)
		if err != nil {
			logger.Error("Offramp record has unusable chain",
				zap.String("id", record.ID),
				zap.Error(err))
			continue
		}

		recordID, err := evm.ParseRecordID(record.ID)
		if err != nil {
			logger.Error("Offramp record has malformed id",
				zap.String("id", record.ID),
				zap.Error(err))
			continue
		}

		burn, err := chain.GetBurnRecord(ctx, recordID)
		if err != nil {
			logger.Warn("Failed to read burn record, retrying next cycle",
				zap.String("id", record.ID),
				zap.Error(err))
			continue
		}

		if !burn.Exists {
			logger.Debug("Burn not yet committed on-chain",
				zap.String("id", record.ID))
			continue
		}

		decimals, err := chain.TokenDecimals(ctx)
		if err != nil {
			logger.Warn("Failed to read token decimals, retrying next cycle",
				zap.String("id", record.ID),
				zap.Error(err))
			continue
		}

		// The confirmed on-chain amount overrides whatever the record was
		// created with; the payout is that amount minus the platform fee.
		gross := service.FromBaseUnits(burn.Amount, decimals)
		net, err := m.fees.NetAmount(gross)
		if err != nil {
			logger.Error("Burn does not cover platform fee, failing record",
				zap.String("id", record.ID),
				zap.String("gross", gross.String()),
				zap.Error(err))

			msg := err.Error()
			if failErr := m.store.TransitionTransaction(ctx, record.ID, models.StatusPending, models.StatusFailed, database.TransitionFields{ErrorMessage: &msg}); failErr != nil && failErr != database.ErrStaleTransition {
				logger.Error("Failed to fail offramp record", zap.Error(failErr))
			}
			continue
		}

		if err := m.enqueueRecordWithFields(ctx, record, models.KindOfframp, database.TransitionFields{Amount: &net}); err != nil {
			logger.Error("Failed to queue offramp record",
				zap.String("id", record.ID),
				zap.Error(err))
			continue
		}

		logger.Info("Burn confirmed, payout queued",
			zap.String("id", record.ID),
			zap.String("gross", gross.String()),
			zap.String("net", net.String()))
	}

	m.reclaimStale(ctx, models.KindOfframp, logger)
}

// handleOfframpJob executes the fiat payout for a queued offramp record.
// Provider failure is terminal: money may already have left the chain-side
// ledger, and retrying a payout risks paying twice. A human investigates
// failed rows.
func (m *Manager) handleOfframpJob(ctx context.Context, job queue.Job) error {
	logger := m.logger.Named("offramp")

	record, err := m.claimRecord(ctx, logger, job.TransactionID)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	account := record.BankAccount()
	if account == nil {
		m.failRecord(ctx, logger, record.ID, "record has no payout destination")
		return nil
	}
	if err := account.Validate(); err != nil {
		m.failRecord(ctx, logger, record.ID, err.Error())
		return nil
	}

	// The record id doubles as the transfer idempotency key, so a crashed
	// worker whose request actually went through cannot pay twice.
	reference, err := m.payouts.InitiateTransfer(ctx, provider.TransferRequest{
		Amount:         record.Amount,
		Currency:       record.Currency,
		RecipientID:    account.RecipientID,
		IdempotencyKey: record.ID,
		Narration:      fmt.Sprintf("Offramp settlement %s", record.ID),
	})
	if err != nil {
		m.failRecord(ctx, logger, record.ID, fmt.Sprintf("payout failed: %v", err))
		return nil
	}

	if err := m.store.TransitionTransaction(ctx, record.ID, models.StatusProcessing, models.StatusCompleted, database.TransitionFields{BankTransferReference: &reference}); err != nil {
		return fmt.Errorf("failed to complete record %s: %w", record.ID, err)
	}

	logger.Info("Offramp completed",
		zap.String("id", record.ID),
		zap.String("amount", record.Amount.String()),
		zap.String("transfer_reference", reference))

	return nil
}

// failRecord marks a processing record as terminally failed
func (m *Manager) failRecord(ctx context.Context, logger *zap.Logger, id, reason string) {
	logger.Error("Record failed, manual review required",
		zap.String("id", id),
		zap.String("reason", reason))

	if err := m.store.TransitionTransaction(ctx, id, models.StatusProcessing, models.StatusFailed, database.TransitionFields{ErrorMessage: &reason}); err != nil {
		logger.Error("Failed to mark record failed",
			zap.String("id", id),
			zap.Error(err))
	}
}
