package worker

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/blockchain/evm"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/models"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/queue"
)

func strPtr(s string) *string { return &s }

func offrampRecord(status models.TransactionStatus, amount string) *models.Transaction {
	record := newRecord(models.KindOfframp, status, amount)
	record.BankCode = strPtr("058")
	record.AccountNumber = strPtr("0123456789")
	record.AccountName = strPtr("Test User")
	record.RecipientID = strPtr("RCP_1")
	return record
}

// burn scales the amount into 18-decimal base units
func burn(amount string) *evm.BurnRecord {
	d := decimal.RequireFromString(amount).Shift(18)
	raw, _ := new(big.Int).SetString(d.String(), 10)
	return &evm.BurnRecord{Amount: raw, Exists: true}
}

func TestPollOfframpWaitsForUnminedBurn(t *testing.T) {
	record := offrampRecord(models.StatusPending, "1000")
	env := newTestEnv("50", record)

	env.manager.pollOfframp(context.Background())

	// No burn record on-chain yet: the row stays pending for next cycle
	assert.Equal(t, models.StatusPending, env.store.get(record.ID).Status)
	assert.Equal(t, 0, env.queue.jobCount())
}

func TestPollOfframpRetriesOnRPCError(t *testing.T) {
	record := offrampRecord(models.StatusPending, "1000")
	env := newTestEnv("50", record)
	env.chain.burnErr = errors.New("connection refused")

	env.manager.pollOfframp(context.Background())

	assert.Equal(t, models.StatusPending, env.store.get(record.ID).Status)
	assert.Equal(t, 0, env.queue.jobCount())
}

func TestPollOfframpQueuesFeeAdjustedPayout(t *testing.T) {
	record := offrampRecord(models.StatusPending, "900")
	env := newTestEnv("50", record)

	// The burn committed 1000 on-chain; that overrides the stored amount
	env.chain.burnRecords[mustRecordID(record.ID)] = burn("1000")

	env.manager.pollOfframp(context.Background())

	got := env.store.get(record.ID)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("950")),
		"payout amount must be the confirmed burn minus the platform fee, got %s", got.Amount)
	assert.Equal(t, 1, env.queue.jobCount())
}

func TestPollOfframpFailsBurnBelowFee(t *testing.T) {
	record := offrampRecord(models.StatusPending, "30")
	env := newTestEnv("50", record)
	env.chain.burnRecords[mustRecordID(record.ID)] = burn("30")

	env.manager.pollOfframp(context.Background())

	got := env.store.get(record.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, 0, env.queue.jobCount())
}

func TestHandleOfframpJobPaysOutAndCompletes(t *testing.T) {
	record := offrampRecord(models.StatusQueued, "950")
	env := newTestEnv("50", record)

	err := env.manager.handleOfframpJob(context.Background(), queue.Job{TransactionID: record.ID})
	require.NoError(t, err)

	got := env.store.get(record.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.BankTransferReference)
	assert.Equal(t, "TRF_1", *got.BankTransferReference)

	require.Len(t, env.payouts.requests, 1)
	req := env.payouts.requests[0]
	assert.True(t, req.Amount.Equal(decimal.RequireFromString("950")))
	assert.Equal(t, "RCP_1", req.RecipientID)
	assert.Equal(t, record.ID, req.IdempotencyKey, "record id must be the transfer idempotency key")
}

func TestHandleOfframpJobFailsTerminallyOnProviderRejection(t *testing.T) {
	record := offrampRecord(models.StatusQueued, "950")
	env := newTestEnv("50", record)
	env.payouts.err = errors.New("insufficient balance")

	err := env.manager.handleOfframpJob(context.Background(), queue.Job{TransactionID: record.ID})
	require.NoError(t, err)

	got := env.store.get(record.ID)
	assert.Equal(t, models.StatusFailed, got.Status, "payout failures are terminal, money may have moved")
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "insufficient balance")
}

func TestHandleOfframpJobFailsRecordWithoutDestination(t *testing.T) {
	record := newRecord(models.KindOfframp, models.StatusQueued, "950")
	env := newTestEnv("50", record)

	err := env.manager.handleOfframpJob(context.Background(), queue.Job{TransactionID: record.ID})
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, env.store.get(record.ID).Status)
	assert.Empty(t, env.payouts.requests)
}

func TestPollOfframpReclaimsAbandonedProcessingRecord(t *testing.T) {
	record := offrampRecord(models.StatusProcessing, "950")
	record.UpdatedAt = time.Now().Add(-time.Hour)
	env := newTestEnv("50", record)

	// A worker died mid-payout; the sweep hands the record back to the
	// queue. Re-running the payout is safe because the record id is the
	// transfer idempotency key.
	env.manager.pollOfframp(context.Background())

	assert.Equal(t, models.StatusQueued, env.store.get(record.ID).Status)
	require.Equal(t, 1, env.queue.jobCount())

	err := env.manager.handleOfframpJob(context.Background(), env.queue.jobs[0])
	require.NoError(t, err)

	got := env.store.get(record.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.Len(t, env.payouts.requests, 1)
	assert.Equal(t, record.ID, env.payouts.requests[0].IdempotencyKey)
}

func TestHandleOfframpJobDropsDuplicateDelivery(t *testing.T) {
	record := offrampRecord(models.StatusCompleted, "950")
	env := newTestEnv("50", record)

	err := env.manager.handleOfframpJob(context.Background(), queue.Job{TransactionID: record.ID})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, env.store.get(record.ID).Status)
	assert.Empty(t, env.payouts.requests, "a settled record must never pay out twice")
}
