package worker

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/blockchain/evm"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/config"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/database"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/models"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/provider"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/queue"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/service"
)

// Constants for worker configuration
const (
	DefaultBatchSize = 50
	PollTimeout      = 30 * time.Second
	ConfirmTimeout   = 3 * time.Minute
	JobTimeout       = 5 * time.Minute
)

// LedgerStore is the slice of the database the scheduler needs. The
// compare-and-set transition is the only concurrency-control primitive:
// a worker that loses the CAS drops its wake-up and moves on.
type LedgerStore interface {
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	ListTransactionsByStatus(ctx context.Context, kind models.TransactionKind, status models.TransactionStatus, limit int) ([]models.Transaction, error)
	TransitionTransaction(ctx context.Context, id string, from, to models.TransactionStatus, fields database.TransitionFields) error
}

// ChainBackend is one chain's read and write surface
type ChainBackend interface {
	TokenDecimals(ctx context.Context) (uint8, error)
	GetMintRecord(ctx context.Context, id evm.RecordID) (*evm.MintRecord, error)
	GetBurnRecord(ctx context.Context, id evm.RecordID) (*evm.BurnRecord, error)
	GetBridgeRecord(ctx context.Context, id evm.RecordID) (*evm.BridgeRecord, error)
	FindMintTx(ctx context.Context, id evm.RecordID) (common.Hash, bool, error)
	MintAndWait(ctx context.Context, id evm.RecordID, to common.Address, amount *big.Int, timeout time.Duration) (*types.Receipt, error)
}

// DepositSync ingests newly settled fiat deposits
type DepositSync interface {
	SyncOnce(ctx context.Context) (int, error)
}

// evmChain adapts an EVM client plus its bridge binding to ChainBackend
type evmChain struct {
	client *evm.Client
	bridge *evm.Bridge
}

func (c *evmChain) TokenDecimals(ctx context.Context) (uint8, error) {
	return c.client.TokenDecimals(ctx)
}

func (c *evmChain) GetMintRecord(ctx context.Context, id evm.RecordID) (*evm.MintRecord, error) {
	return c.bridge.GetMintRecord(ctx, id)
}

func (c *evmChain) GetBurnRecord(ctx context.Context, id evm.RecordID) (*evm.BurnRecord, error) {
	return c.bridge.GetBurnRecord(ctx, id)
}

func (c *evmChain) GetBridgeRecord(ctx context.Context, id evm.RecordID) (*evm.BridgeRecord, error) {
	return c.bridge.GetBridgeRecord(ctx, id)
}

func (c *evmChain) FindMintTx(ctx context.Context, id evm.RecordID) (common.Hash, bool, error) {
	return c.bridge.FindMintTx(ctx, id)
}

func (c *evmChain) MintAndWait(ctx context.Context, id evm.RecordID, to common.Address, amount *big.Int, timeout time.Duration) (*types.Receipt, error) {
	return c.bridge.MintAndWait(ctx, id, to, amount, timeout)
}

// Manager supervises the reconciliation loops: one poller per transaction
// kind plus the job-queue consumer. Start is idempotent; the supervisor
// tracks its own loop handles, so a second call observes the running set
// and no-ops.
type Manager struct {
	store    LedgerStore
	cfg      *config.Config
	queue    queue.Queue
	sync     DepositSync
	payouts  provider.Client
	fees     *service.FeeService
	chains   map[int64]ChainBackend
	logger   *zap.Logger
	clients  []*evm.Client
	interval intervals
	workers  int

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type intervals struct {
	onramp     time.Duration
	offramp    time.Duration
	bridge     time.Duration
	queueDelay time.Duration
}

// NewManager creates a manager with one chain backend per configured chain
func NewManager(
	store LedgerStore,
	cfg *config.Config,
	q queue.Queue,
	depositSync DepositSync,
	payouts provider.Client,
	fees *service.FeeService,
	logger *zap.Logger,
) (*Manager, error) {
	logger = logger.Named("worker")

	chains := make(map[int64]ChainBackend)
	var clients []*evm.Client

	for chainID, chainCfg := range cfg.Chains {
		chainCfgCopy := chainCfg

		client, err := evm.NewClient(&chainCfgCopy, cfg.Operator.EVMPrivateKey, logger)
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, fmt.Errorf("failed to create EVM client for chain %d: %w", chainID, err)
		}
		clients = append(clients, client)

		bridge, err := evm.NewBridge(client, logger)
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, fmt.Errorf("failed to create bridge binding for chain %d: %w", chainID, err)
		}

		chains[chainID] = &evmChain{client: client, bridge: bridge}

		logger.Info("Chain initialized",
			zap.Int64("chain_id", chainID),
			zap.String("chain_name", chainCfg.Name))

		verifyChain(client, &chainCfgCopy, logger)
	}

	return &Manager{
		store:   store,
		cfg:     cfg,
		queue:   q,
		sync:    depositSync,
		payouts: payouts,
		fees:    fees,
		chains:  chains,
		logger:  logger,
		clients: clients,
		workers: cfg.Operator.WorkerConcurrency,
		interval: intervals{
			onramp:     cfg.Operator.OnrampInterval,
			offramp:    cfg.Operator.OfframpInterval,
			bridge:     cfg.Operator.BridgeInterval,
			queueDelay: cfg.Operator.QueueDelay,
		},
	}, nil
}

// verifyChain logs the operator's standing on one chain at startup.
// Problems are logged, not fatal: an RPC hiccup at boot must not keep
// the other chains' reconciliation from starting.
func verifyChain(client *evm.Client, chainCfg *config.ChainConfig, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	operator := client.OperatorAddress()

	deployed, err := client.IsContractDeployed(ctx, common.HexToAddress(chainCfg.ContractAddress))
	if err != nil {
		logger.Warn("Could not verify contract deployment",
			zap.Int64("chain_id", chainCfg.ChainID),
			zap.Error(err))
	} else if !deployed {
		logger.Warn("No contract code at configured address",
			zap.Int64("chain_id", chainCfg.ChainID),
			zap.String("contract_address", chainCfg.ContractAddress))
	}

	gasBalance, err := client.GetETHBalance(ctx, operator)
	if err != nil {
		logger.Warn("Could not read operator gas balance",
			zap.Int64("chain_id", chainCfg.ChainID),
			zap.Error(err))
		return
	}

	tokenBalance, err := client.TokenBalance(ctx, operator)
	if err != nil {
		logger.Warn("Could not read operator token balance",
			zap.Int64("chain_id", chainCfg.ChainID),
			zap.Error(err))
		return
	}

	logger.Info("Operator verified",
		zap.Int64("chain_id", chainCfg.ChainID),
		zap.String("operator", operator.Hex()),
		zap.String("gas_balance", gasBalance.String()),
		zap.String("token_balance", tokenBalance.String()))
}

// Start launches the pollers and the queue consumer. Calling it again
// while running is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		m.logger.Info("Reconciliation already running, start ignored")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.started = true

	workers := m.workers
	if workers < 1 {
		workers = 1
	}

	m.logger.Info("Starting reconciliation",
		zap.Int("num_chains", len(m.chains)),
		zap.Int("workers", workers),
		zap.Duration("onramp_interval", m.interval.onramp),
		zap.Duration("offramp_interval", m.interval.offramp),
		zap.Duration("bridge_interval", m.interval.bridge))

	m.spawnPoller(ctx, "onramp", m.interval.onramp, m.pollOnramp)
	m.spawnPoller(ctx, "offramp", m.interval.offramp, m.pollOfframp)
	m.spawnPoller(ctx, "bridge", m.interval.bridge, m.pollBridge)

	// One backlog's slow confirmations must not starve the other kinds:
	// every consumer drains the same queue, so a blocked handler only
	// ties up its own slot.
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.queue.Consume(ctx, m.handleJob)
		}()
	}

	m.logger.Info("Reconciliation started")
}

// spawnPoller runs one polling loop on a fixed interval until shutdown.
// A slow or failing cycle for one kind never blocks the others.
func (m *Manager) spawnPoller(ctx context.Context, name string, interval time.Duration, poll func(context.Context)) {
	logger := m.logger.Named(name)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		logger.Info("Poller started", zap.Duration("interval", interval))

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Initial poll
		m.runPoll(ctx, poll)

		for {
			select {
			case <-ctx.Done():
				logger.Info("Poller stopping")
				return
			case <-ticker.C:
				m.runPoll(ctx, poll)
			}
		}
	}()
}

func (m *Manager) runPoll(ctx context.Context, poll func(context.Context)) {
	pollCtx, cancel := context.WithTimeout(ctx, PollTimeout)
	defer cancel()
	poll(pollCtx)
}

// handleJob routes a queue delivery to the handler for its kind. Handlers
// translate failures into status transitions; an error returned here means
// the record was left untouched and the delivery should be retried.
func (m *Manager) handleJob(ctx context.Context, job queue.Job) error {
	jobCtx, cancel := context.WithTimeout(ctx, JobTimeout)
	defer cancel()

	switch job.Kind {
	case models.KindOnramp:
		return m.handleOnrampJob(jobCtx, job)
	case models.KindOfframp:
		return m.handleOfframpJob(jobCtx, job)
	case models.KindBridge:
		return m.handleBridgeJob(jobCtx, job)
	default:
		m.logger.Error("Unknown job kind, dropping",
			zap.String("job_id", job.ID),
			zap.String("kind", string(job.Kind)))
		return nil
	}
}

// reclaimStale re-queues records whose delivery or worker was lost to a
// crash. A queued record past its delivery window has no live job behind
// it, so a fresh job is enqueued for the existing claim. A processing
// record past the job deadline lost its worker and is moved back to
// queued first. Re-running either is safe: chain writes gate on the
// contract's own record and payouts reuse the record id as the transfer
// idempotency key.
func (m *Manager) reclaimStale(ctx context.Context, kind models.TransactionKind, logger *zap.Logger) {
	now := time.Now()

	queuedCutoff := now.Add(-(m.interval.queueDelay + JobTimeout))
	queued, err := m.store.ListTransactionsByStatus(ctx, kind, models.StatusQueued, DefaultBatchSize)
	if err != nil {
		logger.Error("Failed to list queued records", zap.Error(err))
	} else {
		for i := range queued {
			record := &queued[i]
			if record.UpdatedAt.After(queuedCutoff) {
				continue
			}
			m.requeueJob(ctx, record.ID, kind, logger, "queued")
		}
	}

	processingCutoff := now.Add(-(JobTimeout + time.Minute))
	processing, err := m.store.ListTransactionsByStatus(ctx, kind, models.StatusProcessing, DefaultBatchSize)
	if err != nil {
		logger.Error("Failed to list processing records", zap.Error(err))
		return
	}
	for i := range processing {
		record := &processing[i]
		if record.UpdatedAt.After(processingCutoff) {
			continue
		}
		err := m.store.TransitionTransaction(ctx, record.ID, models.StatusProcessing, models.StatusQueued, database.TransitionFields{})
		if err == database.ErrStaleTransition {
			continue
		}
		if err != nil {
			logger.Error("Failed to reclaim abandoned record",
				zap.String("id", record.ID),
				zap.Error(err))
			continue
		}
		m.requeueJob(ctx, record.ID, kind, logger, "processing")
	}
}

// requeueJob enqueues an immediate job for a record that already holds
// its claim. A failed enqueue is retried by the next sweep.
func (m *Manager) requeueJob(ctx context.Context, transactionID string, kind models.TransactionKind, logger *zap.Logger, from string) {
	job := queue.Job{
		ID:            uuid.New().String(),
		Kind:          kind,
		TransactionID: transactionID,
	}
	if err := m.queue.Enqueue(ctx, job, 0); err != nil {
		logger.Error("Failed to re-queue stale record",
			zap.String("id", transactionID),
			zap.Error(err))
		return
	}
	logger.Warn("Re-queued stale record",
		zap.String("id", transactionID),
		zap.String("stranded_in", from))
}

// claimRecord loads a job's record and takes the processing lease on it.
// Returns nil without error when the delivery should be dropped: the
// record is unknown, already terminal, or another worker holds it.
func (m *Manager) claimRecord(ctx context.Context, logger *zap.Logger, transactionID string) (*models.Transaction, error) {
	record, err := m.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load record %s: %w", transactionID, err)
	}
	if record == nil {
		logger.Warn("Job references unknown record, dropping",
			zap.String("transaction_id", transactionID))
		return nil, nil
	}
	if record.Status.Terminal() {
		logger.Debug("Record already settled, dropping duplicate delivery",
			zap.String("id", record.ID),
			zap.String("status", string(record.Status)))
		return nil, nil
	}

	err = m.store.TransitionTransaction(ctx, record.ID, models.StatusQueued, models.StatusProcessing, database.TransitionFields{})
	if err == database.ErrStaleTransition {
		// Duplicate delivery or another worker holds the record
		logger.Debug("Record not queued, dropping duplicate delivery",
			zap.String("id", record.ID),
			zap.String("status", string(record.Status)))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim record %s: %w", record.ID, err)
	}
	return record, nil
}

// Shutdown gracefully stops all loops
func (m *Manager) Shutdown(timeout time.Duration) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.started = false
	m.mu.Unlock()

	m.logger.Info("Shutting down reconciliation")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Workers stopped gracefully")
	case <-time.After(timeout):
		m.logger.Warn("Worker shutdown timed out")
	}

	for _, client := range m.clients {
		client.Close()
	}

	m.logger.Info("Reconciliation shutdown complete")
	return nil
}

// chainFor resolves the backend for a chain id. A record referencing an
// unconfigured chain cannot make progress and is reported by the caller.
func (m *Manager) chainFor(chainID *int64) (ChainBackend, error) {
	if chainID == nil {
		return nil, fmt.Errorf("record has no chain id")
	}
	chain, ok := m.chains[*chainID]
	if !ok {
		return nil, fmt.Errorf("chain %d is not configured", *chainID)
	}
	return chain, nil
}
