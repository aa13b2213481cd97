package worker

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/blockchain/evm"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/database"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/models"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/queue"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/service"
)

// pollBridge checks pending bridge records against the source chain's
// bridge record. Once the source-side lock is committed, the confirmed
// amount (minus the platform fee) and destination chain are captured and
// a destination-chain credit job is queued.
func (m *Manager) pollBridge(ctx context.Context) {
	logger := m.logger.Named("bridge")

	records, err := m.store.ListTransactionsByStatus(ctx, models.KindBridge, models.StatusPending, DefaultBatchSize)
	if err != nil {
		logger.Error("Failed to list pending bridge records", zap.Error(err))
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
			logger.Error("Bridge record has unusable source chain",
				zap.String("id", record.ID),
				zap.Error(err))
			continue
		}

		recordID, err := evm.ParseRecordID(record.ID)
		if err != nil {
			logger.Error("Bridge record has malformed id",
				zap.String("id", record.ID),
				zap.Error(err))
			continue
		}

		bridgeRecord, err := chain.GetBridgeRecord(ctx, recordID)
		if err != nil {
			logger.Warn("Failed to read bridge record, retrying next cycle",
				zap.String("id", record.ID),
				zap.Error(err))
			continue
		}

		if !bridgeRecord.Exists {
			logger.Debug("Bridge request not yet committed on-chain",
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

		gross := service.FromBaseUnits(bridgeRecord.Amount, decimals)
		net, err := m.fees.NetAmount(gross)
		if err != nil {
			logger.Error("Bridge amount does not cover platform fee, failing record",
				zap.String("id", record.ID),
				zap.String("gross", gross.String()),
				zap.Error(err))

			msg := err.Error()
			if failErr := m.store.TransitionTransaction(ctx, record.ID, models.StatusPending, models.StatusFailed, database.TransitionFields{ErrorMessage: &msg}); failErr != nil && failErr != database.ErrStaleTransition {
				logger.Error("Failed to fail bridge record", zap.Error(failErr))
			}
			continue
		}

		destChainID := bridgeRecord.DestinationChainID.Int64()
		fields := database.TransitionFields{
			Amount:             &net,
			DestinationChainID: &destChainID,
		}
		if err := m.enqueueRecordWithFields(ctx, record, models.KindBridge, fields); err != nil {
			logger.Error("Failed to queue bridge record",
				zap.String("id", record.ID),
				zap.Error(err))
			continue
		}

		logger.Info("Bridge request confirmed, destination credit queued",
			zap.String("id", record.ID),
			zap.Int64("destination_chain_id", destChainID),
			zap.String("net", net.String()))
	}

	m.reclaimStale(ctx, models.KindBridge, logger)
}

// handleBridgeJob mints the fee-adjusted amount on the destination chain.
// The destination contract's own record gates re-submission exactly as in
// the onramp path; unlike onramp, errors are terminal because the source
// chain already locked the user's funds and a human must reconcile.
func (m *Manager) handleBridgeJob(ctx context.Context, job queue.Job) error {
	logger := m.logger.Named("bridge")

	record, err := m.claimRecord(ctx, logger, job.TransactionID)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	if err := m.creditDestination(ctx, record); err != nil {
		m.failRecord(ctx, logger, record.ID, err.Error())
	}
	return nil
}

// creditDestination performs the destination-chain mint for one claimed
// bridge record
func (m *Manager) creditDestination(ctx context.Context, record *models.Transaction) error {
	logger := m.logger.Named("bridge")

	chain, err := m.chainFor(record.DestinationChainID)
	if err != nil {
		return fmt.Errorf("destination chain unusable: %w", err)
	}

	recordID, err := evm.ParseRecordID(record.ID)
	if err != nil {
		return err
	}

	decimals, err := chain.TokenDecimals(ctx)
	if err != nil {
		return fmt.Errorf("failed to read destination token decimals: %w", err)
	}

	amount, err := service.ToBaseUnits(record.Amount, decimals)
	if err != nil {
		return err
	}

	mintRecord, err := chain.GetMintRecord(ctx, recordID)
	if err != nil {
		return fmt.Errorf("failed to read destination mint record: %w", err)
	}

	if mintRecord.Exists {
		logger.Info("Destination credit already committed, completing without re-submission",
			zap.String("id", record.ID))
		return m.store.TransitionTransaction(ctx, record.ID, models.StatusProcessing, models.StatusCompleted,
			database.TransitionFields{DestinationTxHash: m.findMintTxHash(ctx, chain, recordID, logger)})
	}

	receipt, err := chain.MintAndWait(ctx, recordID, common.HexToAddress(record.UserAddress), amount, ConfirmTimeout)
	if err != nil {
		// Same rule as onramp: timeout is not failure until the
		// destination chain says the mint is absent.
		if recheck, recheckErr := chain.GetMintRecord(ctx, recordID); recheckErr == nil && recheck.Exists {
			logger.Warn("Destination credit confirmed after wait error, completing",
				zap.String("id", record.ID),
				zap.Error(err))
			return m.store.TransitionTransaction(ctx, record.ID, models.StatusProcessing, models.StatusCompleted,
				database.TransitionFields{DestinationTxHash: m.findMintTxHash(ctx, chain, recordID, logger)})
		}
		return fmt.Errorf("destination mint failed: %w", err)
	}

	txHash := receipt.TxHash.Hex()
	if err := m.store.TransitionTransaction(ctx, record.ID, models.StatusProcessing, models.StatusCompleted, database.TransitionFields{DestinationTxHash: &txHash}); err != nil {
		return fmt.Errorf("failed to complete record: %w", err)
	}

	logger.Info("Bridge completed",
		zap.String("id", record.ID),
		zap.String("amount", record.Amount.String()),
		zap.String("destination_tx_hash", txHash))

	return nil
}
