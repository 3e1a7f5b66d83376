package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"credits-core/internal/chain"
	"credits-core/internal/model"
	"credits-core/internal/settings"
	"credits-core/internal/store"
	"credits-core/pkg/errno"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Hardhat account #0，公开测试密钥
const payoutTestKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const payoutDest = "0x40ceeEdE9fA9ee09e594aFFb63CFc4994aF5B14e"

// fakeChainBackend 内存后端，只记录提交的交易
type fakeChainBackend struct {
	mu      sync.Mutex
	sendErr error
	nonce   uint64
	sent    []*types.Transaction
}

func (f *fakeChainBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(chain.DefaultChainID), nil
}

func (f *fakeChainBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeChainBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeChainBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 60_000, nil
}

func (f *fakeChainBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, ethereum.NotFound
}

func (f *fakeChainBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func (f *fakeChainBackend) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeChainBackend) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

type payoutHarness struct {
	credits *CreditService
	payouts *PayoutService
	store   *store.Store
	backend *fakeChainBackend
}

func newPayoutHarness(t *testing.T, values map[string]string) *payoutHarness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(model.AllModels()...))

	for key := range settings.ManagedKeys {
		t.Setenv(key, "")
	}

	resolver := settings.NewResolver(db)
	for key, value := range values {
		require.NoError(t, resolver.Set(key, value))
	}

	backend := &fakeChainBackend{}
	capability := chain.NewCapabilityWithDial(resolver, func(ctx context.Context, rawURL string) (chain.Backend, error) {
		return backend, nil
	})

	s := store.New(db)
	return &payoutHarness{
		credits: NewCreditService(s),
		payouts: NewPayoutService(s, capability, chain.NewBroadcaster(capability)),
		store:   s,
		backend: backend,
	}
}

func nativePayoutSettings() map[string]string {
	return map[string]string{
		settings.KeyProviderURL: "http://localhost:8545",
		settings.KeyPrivateKey:  payoutTestKey,
	}
}

func TestPayoutLifecycle(t *testing.T) {
	h := newPayoutHarness(t, nativePayoutSettings())
	ctx := context.Background()

	balance, err := h.credits.Earn(ctx, "alice", 100)
	require.NoError(t, err)
	require.Equal(t, int64(100), balance)

	// 首次提现: 扣款 + 广播 + 回写
	result, err := h.payouts.RequestPayout(ctx, "alice", payoutDest, 40, "k1")
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.NotEmpty(t, result.TxHash)
	assert.Equal(t, model.PayoutStatusSent, result.Payout.Status)
	assert.Equal(t, 1, h.backend.sentCount())

	expectedUnits := decimal.NewFromBigInt(new(big.Int).Mul(big.NewInt(40), big.NewInt(chain.DefaultUnitsPerCredit)), 0)
	assert.True(t, expectedUnits.Equal(result.Payout.Units), "units = credits * units_per_credit")

	balance, err = h.credits.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance)

	// 同键重放: 返回既有单据，不再广播，不重复扣款
	replay, err := h.payouts.RequestPayout(ctx, "alice", payoutDest, 40, "k1")
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, result.Payout.ID, replay.Payout.ID)
	assert.Equal(t, result.TxHash, replay.TxHash)
	assert.Equal(t, 1, h.backend.sentCount())

	balance, err = h.credits.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance)

	// 余额不足: 拒绝，账本不动
	_, err = h.payouts.RequestPayout(ctx, "alice", payoutDest, 70, "k2")
	assert.Equal(t, &errno.ErrInsufficientCredits, err)

	balance, err = h.credits.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance)
	assert.Equal(t, 1, h.backend.sentCount())
}

func TestPayoutBroadcastFailureKeepsDebit(t *testing.T) {
	h := newPayoutHarness(t, nativePayoutSettings())
	ctx := context.Background()

	_, err := h.credits.Earn(ctx, "bob", 50)
	require.NoError(t, err)

	h.backend.setSendErr(errors.New("nonce too low"))

	result, err := h.payouts.RequestPayout(ctx, "bob", payoutDest, 20, "k-fail")
	require.Error(t, err)
	code, _ := errno.Decode(err)
	assert.Equal(t, errno.ErrBroadcastFailed.Code, code)

	// 广播失败不回滚扣款，单据停在 pending
	require.NotNil(t, result)
	require.NotNil(t, result.Payout)
	assert.Equal(t, model.PayoutStatusPending, result.Payout.Status)
	assert.Empty(t, result.TxHash)

	balance, err := h.credits.Balance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)

	// 后端恢复后同键重试也不重新广播，等待人工对账
	h.backend.setSendErr(nil)
	replay, err := h.payouts.RequestPayout(ctx, "bob", payoutDest, 20, "k-fail")
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, model.PayoutStatusPending, replay.Payout.Status)
	assert.Equal(t, 0, h.backend.sentCount())

	balance, err = h.credits.Balance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)
}

func TestPayoutConfigErrorBeforeLedger(t *testing.T) {
	h := newPayoutHarness(t, nil)
	ctx := context.Background()

	_, err := h.credits.Earn(ctx, "carol", 10)
	require.NoError(t, err)

	_, err = h.payouts.RequestPayout(ctx, "carol", payoutDest, 5, "k3")
	require.Error(t, err)
	code, msg := errno.Decode(err)
	assert.Equal(t, errno.ErrPayoutNotConfigured.Code, code)
	assert.Contains(t, msg, "Missing payout settings")

	// 配置错误发生在账本变更之前
	balance, err := h.credits.Balance(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	payouts, err := h.store.ListPayouts(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, payouts)
}

func TestPayoutRequestValidation(t *testing.T) {
	h := newPayoutHarness(t, nativePayoutSettings())
	ctx := context.Background()

	_, err := h.payouts.RequestPayout(ctx, "", payoutDest, 1, "")
	code, _ := errno.Decode(err)
	assert.Equal(t, errno.ErrValidation.Code, code)

	_, err = h.payouts.RequestPayout(ctx, "dave", payoutDest, 0, "")
	assert.Equal(t, &errno.ErrInvalidAmount, err)

	_, err = h.payouts.RequestPayout(ctx, "dave", "not-an-address", 1, "")
	code, _ = errno.Decode(err)
	assert.Equal(t, errno.ErrInvalidAddress.Code, code)
}

func TestEarnValidation(t *testing.T) {
	h := newPayoutHarness(t, nil)
	ctx := context.Background()

	_, err := h.credits.Earn(ctx, "", 1)
	code, _ := errno.Decode(err)
	assert.Equal(t, errno.ErrValidation.Code, code)

	_, err = h.credits.Earn(ctx, "erin", 0)
	assert.Equal(t, &errno.ErrInvalidAmount, err)

	_, err = h.credits.Earn(ctx, "erin", -3)
	assert.Equal(t, &errno.ErrInvalidAmount, err)
}
