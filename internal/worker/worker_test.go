package worker

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/blockchain/evm"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/config"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/database"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/models"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/provider"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/queue"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/service"
)

// fakeStore implements LedgerStore in memory with the same compare-and-set
// semantics as the SQL transition.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*models.Transaction
}

func newFakeStore(records ...*models.Transaction) *fakeStore {
	s := &fakeStore{records: make(map[string]*models.Transaction)}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

func (s *fakeStore) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) ListTransactionsByStatus(_ context.Context, kind models.TransactionKind, status models.TransactionStatus, limit int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, r := range s.records {
		if r.Kind == kind && r.Status == status && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) TransitionTransaction(_ context.Context, id string, from, to models.TransactionStatus, fields database.TransitionFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok || r.Status != from {
		return database.ErrStaleTransition
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	if fields.Amount != nil {
		r.Amount = *fields.Amount
	}
	if r.OnChainTx == nil {
		r.OnChainTx = fields.OnChainTx
	}
	if r.BankTransferReference == nil {
		r.BankTransferReference = fields.BankTransferReference
	}
	if r.DestinationChainID == nil {
		r.DestinationChainID = fields.DestinationChainID
	}
	if r.DestinationTxHash == nil {
		r.DestinationTxHash = fields.DestinationTxHash
	}
	if fields.ErrorMessage != nil {
		r.ErrorMessage = fields.ErrorMessage
	}
	return nil
}

func (s *fakeStore) get(id string) *models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

// fakeChain implements ChainBackend with scripted responses
type fakeChain struct {
	decimals    uint8
	mintRecords map[evm.RecordID]*evm.MintRecord
	burnRecords map[evm.RecordID]*evm.BurnRecord
	bridgeRecs  map[evm.RecordID]*evm.BridgeRecord
	mintTxs     map[evm.RecordID]common.Hash

	// mintReads, when set, answers successive GetMintRecord calls in
	// order before falling back to mintRecords
	mintReads []*evm.MintRecord

	burnErr error
	mintErr error

	mu    sync.Mutex
	mints []evm.RecordID // MintAndWait submissions, in order
}

func newFakeChain(decimals uint8) *fakeChain {
	return &fakeChain{
		decimals:    decimals,
		mintRecords: make(map[evm.RecordID]*evm.MintRecord),
		burnRecords: make(map[evm.RecordID]*evm.BurnRecord),
		bridgeRecs:  make(map[evm.RecordID]*evm.BridgeRecord),
		mintTxs:     make(map[evm.RecordID]common.Hash),
	}
}

func (c *fakeChain) TokenDecimals(_ context.Context) (uint8, error) {
	return c.decimals, nil
}

func (c *fakeChain) GetMintRecord(_ context.Context, id evm.RecordID) (*evm.MintRecord, error) {
	c.mu.Lock()
	if len(c.mintReads) > 0 {
		rec := c.mintReads[0]
		c.mintReads = c.mintReads[1:]
		c.mu.Unlock()
		return rec, nil
	}
	c.mu.Unlock()

	if rec, ok := c.mintRecords[id]; ok {
		return rec, nil
	}
	return &evm.MintRecord{Exists: false}, nil
}

func (c *fakeChain) GetBurnRecord(_ context.Context, id evm.RecordID) (*evm.BurnRecord, error) {
	if c.burnErr != nil {
		return nil, c.burnErr
	}
	if rec, ok := c.burnRecords[id]; ok {
		return rec, nil
	}
	return &evm.BurnRecord{Exists: false}, nil
}

func (c *fakeChain) GetBridgeRecord(_ context.Context, id evm.RecordID) (*evm.BridgeRecord, error) {
	if rec, ok := c.bridgeRecs[id]; ok {
		return rec, nil
	}
	return &evm.BridgeRecord{Exists: false}, nil
}

func (c *fakeChain) FindMintTx(_ context.Context, id evm.RecordID) (common.Hash, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.mintTxs[id]
	return tx, ok, nil
}

func (c *fakeChain) MintAndWait(_ context.Context, id evm.RecordID, _ common.Address, amount *big.Int, _ time.Duration) (*types.Receipt, error) {
	c.mu.Lock()
	c.mints = append(c.mints, id)
	c.mu.Unlock()

	if c.mintErr != nil {
		return nil, c.mintErr
	}
	c.mintRecords[id] = &evm.MintRecord{Amount: amount, Exists: true}
	c.mu.Lock()
	c.mintTxs[id] = common.HexToHash(id.Hex())
	c.mu.Unlock()
	return &types.Receipt{TxHash: common.HexToHash(id.Hex())}, nil
}

func (c *fakeChain) mintCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mints)
}

// fakeWorkQueue records enqueued jobs without delivering them
type fakeWorkQueue struct {
	mu           sync.Mutex
	jobs         []queue.Job
	enqueErr     error
	consumeCalls int
}

func (q *fakeWorkQueue) Enqueue(_ context.Context, job queue.Job, _ time.Duration) error {
	if q.enqueErr != nil {
		return q.enqueErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeWorkQueue) Consume(_ context.Context, _ queue.Handler) {
	q.mu.Lock()
	q.consumeCalls++
	q.mu.Unlock()
}

func (q *fakeWorkQueue) consumerCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.consumeCalls
}

func (q *fakeWorkQueue) jobCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type fakeDepositSync struct {
	created int
	err     error
}

func (f *fakeDepositSync) SyncOnce(_ context.Context) (int, error) {
	return f.created, f.err
}

// fakePayouts implements provider.Client and records transfer requests
type fakePayouts struct {
	mu        sync.Mutex
	requests  []provider.TransferRequest
	reference string
	err       error
}

func (f *fakePayouts) ListSuccessfulTransactions(_ context.Context, _ time.Time) ([]provider.Transaction, error) {
	return nil, nil
}

func (f *fakePayouts) InitiateTransfer(_ context.Context, req provider.TransferRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return f.reference, nil
}

type testEnv struct {
	manager *Manager
	store   *fakeStore
	chain   *fakeChain
	queue   *fakeWorkQueue
	payouts *fakePayouts
}

func newTestEnv(fee string, records ...*models.Transaction) *testEnv {
	cfg := &config.Config{
		Operator: config.OperatorConfig{
			PlatformFee: decimal.RequireFromString(fee),
			QueueDelay:  time.Second,
		},
	}

	store := newFakeStore(records...)
	chain := newFakeChain(18)
	q := &fakeWorkQueue{}
	payouts := &fakePayouts{reference: "TRF_1"}

	m := &Manager{
		store:   store,
		cfg:     cfg,
		queue:   q,
		sync:    &fakeDepositSync{},
		payouts: payouts,
		fees:    service.NewFeeService(cfg, zap.NewNop()),
		chains:  map[int64]ChainBackend{1: chain, 2: chain},
		logger:  zap.NewNop(),
		interval: intervals{
			onramp:     time.Second,
			offramp:    time.Second,
			bridge:     time.Second,
			queueDelay: time.Second,
		},
	}

	return &testEnv{manager: m, store: store, chain: chain, queue: q, payouts: payouts}
}

func chainID(id int64) *int64 { return &id }

func newRecord(kind models.TransactionKind, status models.TransactionStatus, amount string) *models.Transaction {
	id, err := service.NewRecordID()
	if err != nil {
		panic(err)
	}
	return &models.Transaction{
		ID:          id,
		Kind:        kind,
		UserAddress: "0x1111111111111111111111111111111111111111",
		Amount:      decimal.RequireFromString(amount),
		Currency:    "NGN",
		ChainID:     chainID(1),
		Status:      status,
		UpdatedAt:   time.Now(),
	}
}

func mintedRecord() *evm.MintRecord {
	return &evm.MintRecord{Amount: big.NewInt(1), Exists: true}
}

func mustRecordID(s string) evm.RecordID {
	id, err := evm.ParseRecordID(s)
	if err != nil {
		panic(err)
	}
	return id
}
