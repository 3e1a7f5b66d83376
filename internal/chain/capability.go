package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"credits-core/internal/settings"
	"credits-core/pkg/errno"
	"credits-core/pkg/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

const (
	// DefaultChainID Sepolia 测试网
	DefaultChainID = 11155111
	// DefaultUnitsPerCredit 每积分 0.001 ETH
	DefaultUnitsPerCredit = 1_000_000_000_000_000

	// NativeAsset 原生币模式下的资产符号
	NativeAsset = "ETH"
	// 合约 symbol() 调用失败时的占位符号 (非致命)
	placeholderSymbol = "TOKEN"

	rpcTimeout     = 30 * time.Second
	errReasonLimit = 200
)

// Backend 是 payout 引擎用到的 ethclient 子集，抽出来便于测试注入
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// DialFunc 建立到链端点的连接
type DialFunc func(ctx context.Context, rawURL string) (Backend, error)

func dialEthClient(ctx context.Context, rawURL string) (Backend, error) {
	return ethclient.DialContext(ctx, rawURL)
}

// Token 已绑定的 ERC-20 合约元数据
type Token struct {
	Address  common.Address
	Decimals int
	Symbol   string
}

// Mode 是一次成功初始化得到的可用状态快照
// Reload 只是换代，不原地改写字段，在途持有者不受影响
type Mode struct {
	Backend        Backend
	PayerKey       *ecdsa.PrivateKey
	From           common.Address
	ChainID        *big.Int
	UnitsPerCredit *big.Int
	Token          *Token // nil => 原生币模式
}

// TokenMode 报告是否绑定了代币合约
func (m *Mode) TokenMode() bool {
	return m.Token != nil
}

// Asset 返回当前支付资产符号
func (m *Mode) Asset() string {
	if m.Token != nil {
		return m.Token.Symbol
	}
	return NativeAsset
}

// Status 对外暴露的能力状态
type Status struct {
	Configured  bool   `json:"configured"`
	FromAddress string `json:"from_address,omitempty"`
	TokenMode   bool   `json:"token_mode"`
	Asset       string `json:"asset,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Capability 把原始 settings 解析成缓存的运行模式
// 三态: 未初始化 (mode=nil, errReason="") / 就绪 (mode!=nil) / 错误 (errReason!="")
// 初始化每代只执行一次；并发调用方在锁上等待同一次探测的结果
type Capability struct {
	settings *settings.Resolver
	dial     DialFunc

	mu         sync.Mutex
	generation uint64
	mode       *Mode
	errReason  string
}

func NewCapability(resolver *settings.Resolver) *Capability {
	return &Capability{
		settings: resolver,
		dial:     dialEthClient,
	}
}

// NewCapabilityWithDial 供测试注入假的链后端
func NewCapabilityWithDial(resolver *settings.Resolver, dial DialFunc) *Capability {
	return &Capability{settings: resolver, dial: dial}
}

// Reload 使缓存失效: 换代，下一次访问重新读 settings 并探测
func (c *Capability) Reload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.mode = nil
	c.errReason = ""
	logger.Info("payout capability cache invalidated", zap.Uint64("generation", c.generation))
}

// Generation 返回当前缓存代数
func (c *Capability) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func truncateReason(reason string) string {
	if len(reason) > errReasonLimit {
		return reason[:errReasonLimit]
	}
	return reason
}

func (c *Capability) loadInt(key string, def int64) *big.Int {
	raw := c.settings.Get(key)
	if raw == "" {
		return big.NewInt(def)
	}
	// 接受十进制或 0x 前缀十六进制
	value, ok := new(big.Int).SetString(raw, 0)
	if !ok {
		return big.NewInt(def)
	}
	return value
}

// initLocked 读 settings、探测网络、派生付款身份
// 只能在持有 c.mu 时调用；每代至多执行一次
func (c *Capability) initLocked(ctx context.Context) {
	if c.mode != nil || c.errReason != "" {
		return
	}

	provider := c.settings.Get(settings.KeyProviderURL)
	privateKey := c.settings.Get(settings.KeyPrivateKey)

	var missing []string
	if provider == "" {
		missing = append(missing, settings.KeyProviderURL)
	}
	if privateKey == "" {
		missing = append(missing, settings.KeyPrivateKey)
	}
	if len(missing) > 0 {
		c.errReason = fmt.Sprintf("Missing payout settings: %s", strings.Join(missing, ", "))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	backend, err := c.dial(ctx, provider)
	if err != nil {
		c.errReason = truncateReason(fmt.Sprintf("Failed to create RPC client: %v", err))
		return
	}

	// 连通性探测
	if _, err := backend.ChainID(ctx); err != nil {
		c.errReason = truncateReason(fmt.Sprintf("RPC endpoint unreachable: %v", err))
		return
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		c.errReason = truncateReason(fmt.Sprintf("Private key invalid: %v", err))
		return
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	mode := &Mode{
		Backend:        backend,
		PayerKey:       key,
		From:           from,
		ChainID:        c.loadInt(settings.KeyChainID, DefaultChainID),
		UnitsPerCredit: c.loadInt(settings.KeyUnitsPerCredit, DefaultUnitsPerCredit),
	}

	if tokenAddress := c.settings.Get(settings.KeyTokenAddress); tokenAddress != "" {
		token, err := c.resolveToken(ctx, backend, from, tokenAddress)
		if err != nil {
			c.errReason = truncateReason(fmt.Sprintf("ERC-20 setup failed: %v", err))
			return
		}
		mode.Token = token
	}

	c.mode = mode
	logger.Info("payout capability ready",
		zap.String("from", from.Hex()),
		zap.Bool("token_mode", mode.TokenMode()),
		zap.String("asset", mode.Asset()),
		zap.Uint64("generation", c.generation),
	)
}

// resolveToken 校验合约地址并取 decimals/symbol
// decimals 可被 TOKEN_DECIMALS 覆盖，覆盖时完全不发起链上调用
// symbol 调用失败降级为占位符号，不算失败
func (c *Capability) resolveToken(ctx context.Context, backend Backend, from common.Address, rawAddress string) (*Token, error) {
	if !common.IsHexAddress(rawAddress) {
		return nil, fmt.Errorf("invalid contract address: %s", rawAddress)
	}
	addr := common.HexToAddress(rawAddress)

	token := &Token{Address: addr, Symbol: placeholderSymbol}

	if override := c.settings.Get(settings.KeyTokenDecimals); override != "" {
		decimals, err := strconv.ParseInt(override, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid decimals override: %q", override)
		}
		token.Decimals = int(decimals)
	} else {
		decimals, err := c.callUint8(ctx, backend, from, addr, "decimals")
		if err != nil {
			return nil, fmt.Errorf("decimals() call failed: %w", err)
		}
		token.Decimals = int(decimals)
	}

	if symbol, err := c.callString(ctx, backend, from, addr, "symbol"); err == nil && symbol != "" {
		token.Symbol = symbol
	}

	return token, nil
}

func (c *Capability) callUint8(ctx context.Context, backend Backend, from, contract common.Address, method string) (uint8, error) {
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return 0, err
	}
	raw, err := backend.CallContract(ctx, ethereum.CallMsg{From: from, To: &contract, Data: data}, nil)
	if err != nil {
		return 0, err
	}
	out, err := erc20ABI.Unpack(method, raw)
	if err != nil {
		return 0, err
	}
	value, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected %s() return type %T", method, out[0])
	}
	return value, nil
}

func (c *Capability) callString(ctx context.Context, backend Backend, from, contract common.Address, method string) (string, error) {
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return "", err
	}
	raw, err := backend.CallContract(ctx, ethereum.CallMsg{From: from, To: &contract, Data: data}, nil)
	if err != nil {
		return "", err
	}
	out, err := erc20ABI.Unpack(method, raw)
	if err != nil {
		return "", err
	}
	value, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected %s() return type %T", method, out[0])
	}
	return value, nil
}

// EnsureReady 返回就绪模式快照；未就绪时返回配置错误
func (c *Capability) EnsureReady(ctx context.Context) (*Mode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initLocked(ctx)
	if c.errReason != "" {
		return nil, errno.ErrPayoutNotConfigured.WithMessage(c.errReason)
	}
	if c.mode == nil {
		return nil, errno.ErrPayoutNotConfigured.WithMessage("payout configuration incomplete")
	}
	return c.mode, nil
}

// CurrentStatus 返回当前能力状态 (需要时触发初始化)
func (c *Capability) CurrentStatus(ctx context.Context) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initLocked(ctx)

	if c.mode == nil {
		return Status{Error: c.errReason}
	}
	return Status{
		Configured:  true,
		FromAddress: c.mode.From.Hex(),
		TokenMode:   c.mode.TokenMode(),
		Asset:       c.mode.Asset(),
	}
}

// DescribeAsset 返回当前支付资产符号；未就绪时按原生币对待
func (c *Capability) DescribeAsset(ctx context.Context) string {
	status := c.CurrentStatus(ctx)
	if status.Asset != "" {
		return status.Asset
	}
	return NativeAsset
}

// TokenDecimals 返回已绑定代币的小数位；原生币或未就绪时 ok=false
func (c *Capability) TokenDecimals(ctx context.Context) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initLocked(ctx)
	if c.mode == nil || c.mode.Token == nil {
		return 0, false
	}
	return c.mode.Token.Decimals, true
}

// ChecksumAddress 校验并规范化十六进制地址
func ChecksumAddress(raw string) (string, error) {
	if !common.IsHexAddress(raw) {
		return "", &errno.ErrInvalidAddress
	}
	return common.HexToAddress(raw).Hex(), nil
}
