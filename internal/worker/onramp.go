package worker

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/blockchain/evm"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/database"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/models"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/queue"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/service"
)

// pollOnramp runs one onramp cycle: ingest newly settled deposits, then
// queue pending records for minting. The enqueue delay absorbs provider
// eventual-consistency lag before worker pickup.
func (m *Manager) pollOnramp(ctx context.Context) {
	logger := m.logger.Named("onramp")

	if _, err := m.sync.SyncOnce(ctx); err != nil {
		logger.Error("Provider sync failed", zap.Error(err))
		// Pending records from earlier cycles can still make progress
	}

	records, err := m.store.ListTransactionsByStatus(ctx, models.KindOnramp, models.StatusPending, DefaultBatchSize)
	if err != nil {
		logger.Error("Failed to list pending onramp records", zap.Error(err))
		return
	}

	for i := range records {
		select {
		case <-ctx.Done():
			return
		default:
		}

		record := &records[i]

		if record.ChainID == nil {
			logger.Warn("Pending onramp record has no chain id, skipping",
				zap.String("id", record.ID))
			continue
		}

		if err := m.enqueueRecord(ctx, record, models.KindOnramp); err != nil {
			logger.Error("Failed to queue onramp record",
				zap.String("id", record.ID),
				zap.Error(err))
		}
	}

	m.reclaimStale(ctx, models.KindOnramp, logger)
}

// enqueueRecord moves a pending record to queued and schedules its job.
// Losing the CAS means another scheduler claimed the record first.
func (m *Manager) enqueueRecord(ctx context.Context, record *models.Transaction, kind models.TransactionKind) error {
	return m.enqueueRecordWithFields(ctx, record, kind, database.TransitionFields{})
}

func (m *Manager) enqueueRecordWithFields(ctx context.Context, record *models.Transaction, kind models.TransactionKind, fields database.TransitionFields) error {
	err := m.store.TransitionTransaction(ctx, record.ID, models.StatusPending, models.StatusQueued, fields)
	if err == database.ErrStaleTransition {
		return nil
	}
	if err != nil {
		return err
	}

	job := queue.Job{
		ID:            uuid.New().String(),
		Kind:          kind,
		TransactionID: record.ID,
	}

	if err := m.queue.Enqueue(ctx, job, m.interval.queueDelay); err != nil {
		// Put the record back so the next cycle retries the enqueue
		if revertErr := m.store.TransitionTransaction(ctx, record.ID, models.StatusQueued, models.StatusPending, database.TransitionFields{}); revertErr != nil {
			m.logger.Error("Failed to revert record after enqueue failure",
				zap.String("id", record.ID),
				zap.Error(revertErr))
		}
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	m.logger.Info("Record queued",
		zap.String("id", record.ID),
		zap.String("kind", string(kind)))

	return nil
}

// handleOnrampJob executes the mint for a queued onramp record. Every
// error path reverts the record to pending rather than failing it: onramp
// failures are assumed transient, and a user's settled deposit must never
// be stranded.
func (m *Manager) handleOnrampJob(ctx context.Context, job queue.Job) error {
	logger := m.logger.Named("onramp")

	record, err := m.claimRecord(ctx, logger, job.TransactionID)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	if err := m.mintOnramp(ctx, record); err != nil {
		logger.Error("Onramp mint failed, reverting to pending",
			zap.String("id", record.ID),
			zap.Error(err))

		msg := err.Error()
		if revertErr := m.store.TransitionTransaction(ctx, record.ID, models.StatusProcessing, models.StatusPending, database.TransitionFields{ErrorMessage: &msg}); revertErr != nil {
			logger.Error("Failed to revert onramp record",
				zap.String("id", record.ID),
				zap.Error(revertErr))
		}
	}

	return nil
}

// findMintTxHash recovers the hash of a mint transaction this process did
// not submit, from the contract's Minted event logs. Best effort: a node
// without the log in range yields nil and the tx column stays empty.
func (m *Manager) findMintTxHash(ctx context.Context, chain ChainBackend, recordID evm.RecordID, logger *zap.Logger) *string {
	txHash, found, err := chain.FindMintTx(ctx, recordID)
	if err != nil {
		logger.Debug("Could not recover mint transaction from logs",
			zap.String("id", recordID.Hex()),
			zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}
	hex := txHash.Hex()
	return &hex
}

// mintOnramp performs the chain write for one claimed onramp record
func (m *Manager) mintOnramp(ctx context.Context, record *models.Transaction) error {
	logger := m.logger.Named("onramp")

	chain, err := m.chainFor(record.ChainID)
	if err != nil {
		return err
	}

	recordID, err := evm.ParseRecordID(record.ID)
	if err != nil {
		return err
	}

	decimals, err := chain.TokenDecimals(ctx)
	if err != nil {
		return fmt.Errorf("failed to read token decimals: %w", err)
	}

	amount, err := service.ToBaseUnits(record.Amount, decimals)
	if err != nil {
		return err
	}

	// The contract's own record is the source of truth for whether this
	// mint already happened, e.g. after a crash mid-flight.
	mintRecord, err := chain.GetMintRecord(ctx, recordID)
	if err != nil {
		return fmt.Errorf("failed to read mint record: %w", err)
	}

	if mintRecord.Exists {
		logger.Info("Mint already committed on-chain, completing without re-submission",
			zap.String("id", record.ID))
		return m.store.TransitionTransaction(ctx, record.ID, models.StatusProcessing, models.StatusCompleted,
			database.TransitionFields{OnChainTx: m.findMintTxHash(ctx, chain, recordID, logger)})
	}

	receipt, err := chain.MintAndWait(ctx, recordID, common.HexToAddress(record.UserAddress), amount, ConfirmTimeout)
	if err != nil {
		// A confirmation timeout does not mean the mint failed. Re-read
		// on-chain state before deciding; submitting twice for money
		// already moved is the one failure this loop must never produce.
		if recheck, recheckErr := chain.GetMintRecord(ctx, recordID); recheckErr == nil && recheck.Exists {
			logger.Warn("Mint confirmed after wait error, completing",
				zap.String("id", record.ID),
				zap.Error(err))
			return m.store.TransitionTransaction(ctx, record.ID, models.StatusProcessing, models.StatusCompleted,
				database.TransitionFields{OnChainTx: m.findMintTxHash(ctx, chain, recordID, logger)})
		}
		return fmt.Errorf("mint failed: %w", err)
	}

	txHash := receipt.TxHash.Hex()
	if err := m.store.TransitionTransaction(ctx, record.ID, models.StatusProcessing, models.StatusCompleted, database.TransitionFields{OnChainTx: &txHash}); err != nil {
		return fmt.Errorf("failed to complete record: %w", err)
	}

	logger.Info("Onramp completed",
		zap.String("id", record.ID),
		zap.String("user_address", record.UserAddress),
		zap.String("amount", record.Amount.String()),
		zap.String("tx_hash", txHash))

	return nil
}
