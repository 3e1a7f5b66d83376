package chain

import (
	"context"
	"errors"
	"sync"
	"testing"

	"credits-core/internal/settings"
	"credits-core/pkg/errno"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilityMissingSettings(t *testing.T) {
	capability, dialer := newTestCapability(t, newFakeBackend(), nil)

	_, err := capability.EnsureReady(context.Background())
	require.Error(t, err)
	code, msg := errno.Decode(err)
	assert.Equal(t, errno.ErrPayoutNotConfigured.Code, code)
	assert.Contains(t, msg, settings.KeyProviderURL)
	assert.Contains(t, msg, settings.KeyPrivateKey)

	status := capability.CurrentStatus(context.Background())
	assert.False(t, status.Configured)
	assert.Contains(t, status.Error, "Missing payout settings")

	// 缺配置时根本不应拨号
	assert.Equal(t, 0, dialer.dials())
}

func TestCapabilityReadyNativeMode(t *testing.T) {
	capability, _ := newTestCapability(t, newFakeBackend(), nativeSettings())

	mode, err := capability.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testPayerAddr, mode.From.Hex())
	assert.False(t, mode.TokenMode())
	assert.Equal(t, NativeAsset, mode.Asset())
	assert.Equal(t, int64(DefaultChainID), mode.ChainID.Int64())
	assert.Equal(t, int64(DefaultUnitsPerCredit), mode.UnitsPerCredit.Int64())

	status := capability.CurrentStatus(context.Background())
	assert.True(t, status.Configured)
	assert.Equal(t, testPayerAddr, status.FromAddress)
	assert.False(t, status.TokenMode)
	assert.Equal(t, NativeAsset, status.Asset)
	assert.Empty(t, status.Error)

	_, ok := capability.TokenDecimals(context.Background())
	assert.False(t, ok)
}

func TestCapabilityNumericSettingsParsing(t *testing.T) {
	values := nativeSettings()
	values[settings.KeyChainID] = "0x539" // 1337
	values[settings.KeyUnitsPerCredit] = "2000"
	capability, _ := newTestCapability(t, newFakeBackend(), values)

	mode, err := capability.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1337), mode.ChainID.Int64())
	assert.Equal(t, int64(2000), mode.UnitsPerCredit.Int64())
}

func TestCapabilityInvalidPrivateKey(t *testing.T) {
	values := nativeSettings()
	values[settings.KeyPrivateKey] = "not-a-key"
	capability, _ := newTestCapability(t, newFakeBackend(), values)

	_, err := capability.EnsureReady(context.Background())
	require.Error(t, err)
	_, msg := errno.Decode(err)
	assert.Contains(t, msg, "Private key invalid")
}

func TestCapabilityEndpointUnreachable(t *testing.T) {
	backend := newFakeBackend()
	backend.chainIDErr = errors.New("connection refused")
	capability, _ := newTestCapability(t, backend, nativeSettings())

	_, err := capability.EnsureReady(context.Background())
	require.Error(t, err)
	_, msg := errno.Decode(err)
	assert.Contains(t, msg, "RPC endpoint unreachable")
}

func TestCapabilityDialFailure(t *testing.T) {
	resolver := newChainTestResolver(t, nativeSettings())
	dialer := &countingDialer{err: errors.New("bad url")}
	capability := NewCapabilityWithDial(resolver, dialer.dial)

	_, err := capability.EnsureReady(context.Background())
	require.Error(t, err)
	_, msg := errno.Decode(err)
	assert.Contains(t, msg, "Failed to create RPC client")
}

func TestCapabilitySingleInitializer(t *testing.T) {
	capability, dialer := newTestCapability(t, newFakeBackend(), nativeSettings())

	// 并发首次访问: 只允许一次探测，其余调用方等待同一结果
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := capability.EnsureReady(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, dialer.dials())
}

func TestCapabilityTokenMetadataFetched(t *testing.T) {
	backend := newFakeBackend()
	backend.call = erc20CallHandler(t, 18, "LAC")

	values := nativeSettings()
	values[settings.KeyTokenAddress] = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	capability, _ := newTestCapability(t, backend, values)

	mode, err := capability.EnsureReady(context.Background())
	require.NoError(t, err)
	require.True(t, mode.TokenMode())
	assert.Equal(t, 18, mode.Token.Decimals)
	assert.Equal(t, "LAC", mode.Token.Symbol)
	assert.Equal(t, "LAC", capability.DescribeAsset(context.Background()))

	decimals, ok := capability.TokenDecimals(context.Background())
	assert.True(t, ok)
	assert.Equal(t, 18, decimals)
}

func TestCapabilityDecimalsOverrideSkipsNetwork(t *testing.T) {
	backend := newFakeBackend()
	// 合约完全不可达: decimals/symbol 调用一律失败
	backend.call = nil

	values := nativeSettings()
	values[settings.KeyTokenAddress] = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	values[settings.KeyTokenDecimals] = "8"
	capability, _ := newTestCapability(t, backend, values)

	mode, err := capability.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, mode.Token.Decimals)
	// symbol 取不到时降级为占位符号，非致命
	assert.Equal(t, placeholderSymbol, mode.Token.Symbol)

	decimals, ok := capability.TokenDecimals(context.Background())
	assert.True(t, ok)
	assert.Equal(t, 8, decimals)
}

func TestCapabilityDecimalsFetchFailureIsFatal(t *testing.T) {
	backend := newFakeBackend()
	backend.call = nil // decimals() 调用失败且无覆盖

	values := nativeSettings()
	values[settings.KeyTokenAddress] = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	capability, _ := newTestCapability(t, backend, values)

	_, err := capability.EnsureReady(context.Background())
	require.Error(t, err)
	_, msg := errno.Decode(err)
	assert.Contains(t, msg, "ERC-20 setup failed")
}

func TestCapabilityInvalidTokenAddress(t *testing.T) {
	values := nativeSettings()
	values[settings.KeyTokenAddress] = "not-an-address"
	capability, _ := newTestCapability(t, newFakeBackend(), values)

	_, err := capability.EnsureReady(context.Background())
	require.Error(t, err)
	_, msg := errno.Decode(err)
	assert.Contains(t, msg, "invalid contract address")
}

func TestCapabilityReloadInvalidatesCache(t *testing.T) {
	capability, dialer := newTestCapability(t, newFakeBackend(), nativeSettings())

	_, err := capability.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dialer.dials())
	gen := capability.Generation()

	capability.Reload()
	assert.Equal(t, gen+1, capability.Generation())

	// 下一次访问重新探测
	_, err = capability.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, dialer.dials())
}

func TestChecksumAddress(t *testing.T) {
	got, err := ChecksumAddress("0x40ceeede9fa9ee09e594affb63cfc4994af5b14e")
	require.NoError(t, err)
	assert.Equal(t, "0x40ceeEdE9fA9ee09e594aFFb63CFc4994aF5B14e", got)

	_, err = ChecksumAddress("nonsense")
	code, _ := errno.Decode(err)
	assert.Equal(t, errno.ErrInvalidAddress.Code, code)
}
