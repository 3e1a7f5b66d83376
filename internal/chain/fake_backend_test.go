package chain

import (
	"bytes"
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"credits-core/internal/model"
	"credits-core/internal/settings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Hardhat account #0，公开测试密钥
const (
	testPrivKey  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testPayerAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

// fakeBackend 内存实现 Backend，记录提交的交易并校验 nonce 顺序
type fakeBackend struct {
	mu sync.Mutex

	chainID     *big.Int
	chainIDErr  error
	gasPrice    *big.Int
	gasPriceErr error
	estimateGas uint64
	estimateErr error
	sendErr     error
	sendDelay   time.Duration
	call        func(msg ethereum.CallMsg) ([]byte, error)

	nonce       uint64
	sent        []*types.Transaction
	nonceMisuse int // 提交时 nonce 与期望序号不符的次数
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:     big.NewInt(DefaultChainID),
		gasPrice:    big.NewInt(1_000_000_000),
		estimateGas: 52_000,
	}
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	if f.chainIDErr != nil {
		return nil, f.chainIDErr
	}
	return f.chainID, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if f.gasPriceErr != nil {
		return nil, f.gasPriceErr
	}
	return f.gasPrice, nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return f.estimateGas, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if f.call != nil {
		return f.call(msg)
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	// 模拟网络往返: 在未串行化的实现里会让两笔发送读到同一个 nonce
	if f.sendDelay > 0 {
		time.Sleep(f.sendDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if tx.Nonce() != f.nonce {
		f.nonceMisuse++
	} else {
		f.nonce++
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// methodInput 返回某个 ERC-20 方法的调用数据 (selector)
func methodInput(t *testing.T, method string) []byte {
	t.Helper()
	data, err := erc20ABI.Pack(method)
	require.NoError(t, err)
	return data
}

// packOutput ABI 编码某方法的返回值
func packOutput(t *testing.T, method string, values ...interface{}) []byte {
	t.Helper()
	out, err := erc20ABI.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	return out
}

// erc20CallHandler 按方法分发假合约调用
func erc20CallHandler(t *testing.T, decimals uint8, symbol string) func(msg ethereum.CallMsg) ([]byte, error) {
	t.Helper()
	decimalsInput := methodInput(t, "decimals")
	symbolInput := methodInput(t, "symbol")
	return func(msg ethereum.CallMsg) ([]byte, error) {
		switch {
		case bytes.Equal(msg.Data, decimalsInput):
			return packOutput(t, "decimals", decimals), nil
		case bytes.Equal(msg.Data, symbolInput):
			return packOutput(t, "symbol", symbol), nil
		default:
			return nil, ethereum.NotFound
		}
	}
}

// newChainTestResolver 建一个干净的 settings 解析器并写入给定配置
func newChainTestResolver(t *testing.T, values map[string]string) *settings.Resolver {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// 内存库限制单连接，避免连接池各自拿到独立的空库
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&model.AppSetting{}))

	for key := range settings.ManagedKeys {
		t.Setenv(key, "")
	}

	resolver := settings.NewResolver(db)
	for key, value := range values {
		require.NoError(t, resolver.Set(key, value))
	}
	return resolver
}

type countingDialer struct {
	mu      sync.Mutex
	count   int
	backend Backend
	err     error
}

func (d *countingDialer) dial(ctx context.Context, rawURL string) (Backend, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count++
	if d.err != nil {
		return nil, d.err
	}
	return d.backend, nil
}

func (d *countingDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// newTestCapability 组装一个接假后端的 Capability
func newTestCapability(t *testing.T, backend *fakeBackend, values map[string]string) (*Capability, *countingDialer) {
	t.Helper()
	resolver := newChainTestResolver(t, values)
	dialer := &countingDialer{backend: backend}
	return NewCapabilityWithDial(resolver, dialer.dial), dialer
}

func nativeSettings() map[string]string {
	return map[string]string{
		settings.KeyProviderURL: "http://localhost:8545",
		settings.KeyPrivateKey:  testPrivKey,
	}
}
