package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/database"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/models"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/provider"
)

type fakeLedger struct {
	byReference map[string]*models.Transaction
	accounts    map[string]*models.VirtualAccount
	created     []*models.Transaction
	createErr   error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		byReference: make(map[string]*models.Transaction),
		accounts:    make(map[string]*models.VirtualAccount),
	}
}

func (f *fakeLedger) GetTransactionByReference(_ context.Context, kind models.TransactionKind, reference string) (*models.Transaction, error) {
	tx, ok := f.byReference[reference]
	if !ok || tx.Kind != kind {
		return nil, nil
	}
	return tx, nil
}

func (f *fakeLedger) CreateTransaction(_ context.Context, tx *models.Transaction) error {
	if f.createErr != nil {
		return f.createErr
	}
	if tx.PaymentReference != nil {
		f.byReference[*tx.PaymentReference] = tx
	}
	f.created = append(f.created, tx)
	return nil
}

func (f *fakeLedger) GetVirtualAccountByReference(_ context.Context, providerRef string) (*models.VirtualAccount, error) {
	return f.accounts[providerRef], nil
}

type fakeProvider struct {
	txs     []provider.Transaction
	listErr error
}

func (f *fakeProvider) ListSuccessfulTransactions(_ context.Context, _ time.Time) ([]provider.Transaction, error) {
	return f.txs, f.listErr
}

func (f *fakeProvider) InitiateTransfer(_ context.Context, _ provider.TransferRequest) (string, error) {
	return "", nil
}

func depositTx(reference, customerRef, amount string) provider.Transaction {
	return provider.Transaction{
		Reference:   reference,
		CustomerRef: customerRef,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "NGN",
		Status:      "success",
		PaidAt:      time.Now(),
	}
}

func TestSyncOnceCreatesPendingOnramp(t *testing.T) {
	store := newFakeLedger()
	store.accounts["cus_1"] = &models.VirtualAccount{
		UserAddress: "0xABCDEF0000000000000000000000000000000001",
		ProviderRef: "cus_1",
		ChainID:     8453,
	}

	svc := NewSyncService(store, &fakeProvider{
		txs: []provider.Transaction{depositTx("ref_1", "cus_1", "5000")},
	}, "secret", zap.NewNop())

	created, err := svc.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	require.Len(t, store.created, 1)
	record := store.created[0]
	assert.Equal(t, models.KindOnramp, record.Kind)
	assert.Equal(t, models.StatusPending, record.Status)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", record.UserAddress)
	assert.True(t, record.Amount.Equal(decimal.RequireFromString("5000")))
	require.NotNil(t, record.ChainID)
	assert.Equal(t, int64(8453), *record.ChainID)
	require.NotNil(t, record.PaymentReference)
	assert.Equal(t, "ref_1", *record.PaymentReference)
	assert.Len(t, record.ID, 66)
}

func TestSyncOnceDeduplicatesByReference(t *testing.T) {
	store := newFakeLedger()
	store.accounts["cus_1"] = &models.VirtualAccount{
		UserAddress: "0xabc", ProviderRef: "cus_1", ChainID: 1,
	}

	client := &fakeProvider{txs: []provider.Transaction{
		depositTx("ref_1", "cus_1", "100"),
		depositTx("ref_1", "cus_1", "100"),
	}}
	svc := NewSyncService(store, client, "secret", zap.NewNop())

	created, err := svc.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	// Second poll replays the same history
	created, err = svc.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Len(t, store.created, 1)
}

func TestSyncOnceSkipsUnknownAccount(t *testing.T) {
	store := newFakeLedger()
	svc := NewSyncService(store, &fakeProvider{
		txs: []provider.Transaction{depositTx("ref_1", "cus_missing", "100")},
	}, "secret", zap.NewNop())

	created, err := svc.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Empty(t, store.created)
}

func TestSyncOnceTreatsCreateRaceAsNoop(t *testing.T) {
	store := newFakeLedger()
	store.accounts["cus_1"] = &models.VirtualAccount{
		UserAddress: "0xabc", ProviderRef: "cus_1", ChainID: 1,
	}
	store.createErr = database.ErrDuplicateReference

	svc := NewSyncService(store, &fakeProvider{
		txs: []provider.Transaction{depositTx("ref_1", "cus_1", "100")},
	}, "secret", zap.NewNop())

	created, err := svc.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}

func signBody(t *testing.T, secret string, body []byte) string {
	t.Helper()
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestIngestWebhookRejectsBadSignature(t *testing.T) {
	store := newFakeLedger()
	svc := NewSyncService(store, &fakeProvider{}, "secret", zap.NewNop())

	body := []byte(`{"event":"charge.success","data":{"reference":"ref_1","amount":"100","currency":"NGN","customer_ref":"cus_1"}}`)

	err := svc.IngestWebhook(context.Background(), body, "deadbeef")
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.Empty(t, store.created)

	err = svc.IngestWebhook(context.Background(), body, "")
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestIngestWebhookCreatesRecord(t *testing.T) {
	store := newFakeLedger()
	store.accounts["cus_1"] = &models.VirtualAccount{
		UserAddress: "0xabc", ProviderRef: "cus_1", ChainID: 137,
	}
	svc := NewSyncService(store, &fakeProvider{}, "secret", zap.NewNop())

	// 25050 kobo is 250.50 NGN
	body := []byte(`{"event":"charge.success","data":{"reference":"ref_1","amount":"25050","currency":"NGN","customer_ref":"cus_1"}}`)

	err := svc.IngestWebhook(context.Background(), body, signBody(t, "secret", body))
	require.NoError(t, err)
	require.Len(t, store.created, 1)
	assert.True(t, store.created[0].Amount.Equal(decimal.RequireFromString("250.50")))
}

func TestIngestWebhookAndPollAgreeOnAmount(t *testing.T) {
	webhookStore := newFakeLedger()
	webhookStore.accounts["cus_1"] = &models.VirtualAccount{
		UserAddress: "0xabc", ProviderRef: "cus_1", ChainID: 1,
	}
	pollStore := newFakeLedger()
	pollStore.accounts["cus_1"] = webhookStore.accounts["cus_1"]

	// The same 5000 NGN deposit: the poll client reports it already
	// converted to currency units, the webhook carries raw minor units.
	pollSvc := NewSyncService(pollStore, &fakeProvider{
		txs: []provider.Transaction{depositTx("ref_1", "cus_1", "5000")},
	}, "secret", zap.NewNop())
	_, err := pollSvc.SyncOnce(context.Background())
	require.NoError(t, err)

	webhookSvc := NewSyncService(webhookStore, &fakeProvider{}, "secret", zap.NewNop())
	body := []byte(`{"event":"charge.success","data":{"reference":"ref_1","amount":"500000","currency":"NGN","customer_ref":"cus_1"}}`)
	err = webhookSvc.IngestWebhook(context.Background(), body, signBody(t, "secret", body))
	require.NoError(t, err)

	require.Len(t, pollStore.created, 1)
	require.Len(t, webhookStore.created, 1)
	assert.True(t, pollStore.created[0].Amount.Equal(webhookStore.created[0].Amount),
		"poll %s vs webhook %s", pollStore.created[0].Amount, webhookStore.created[0].Amount)
}

func TestIngestWebhookIgnoresOtherEvents(t *testing.T) {
	store := newFakeLedger()
	svc := NewSyncService(store, &fakeProvider{}, "secret", zap.NewNop())

	body := []byte(`{"event":"transfer.success","data":{"reference":"ref_1"}}`)

	err := svc.IngestWebhook(context.Background(), body, signBody(t, "secret", body))
	require.NoError(t, err)
	assert.Empty(t, store.created)
}

func TestIngestWebhookAfterPollIsNoop(t *testing.T) {
	store := newFakeLedger()
	store.accounts["cus_1"] = &models.VirtualAccount{
		UserAddress: "0xabc", ProviderRef: "cus_1", ChainID: 1,
	}
	svc := NewSyncService(store, &fakeProvider{
		txs: []provider.Transaction{depositTx("ref_1", "cus_1", "100")},
	}, "secret", zap.NewNop())

	_, err := svc.SyncOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, store.created, 1)

	body := []byte(`{"event":"charge.success","data":{"reference":"ref_1","amount":"10000","currency":"NGN","customer_ref":"cus_1"}}`)
	err = svc.IngestWebhook(context.Background(), body, signBody(t, "secret", body))
	require.NoError(t, err)
	assert.Len(t, store.created, 1)
}
