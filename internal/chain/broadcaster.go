package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"credits-core/pkg/errno"
	"credits-core/pkg/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

const (
	// 简单转账固定 gas
	nativeTransferGas = 21_000
	// ERC-20 transfer 估算失败时的保守回退值
	tokenTransferGasFallback = 60_000
)

// Broadcaster 负责为单一付款账户构造、签名并提交链上交易
// 串行化不变量: 同一付款账户的 "取 nonce -> 取 gas price -> 签名 -> 提交"
// 全程互斥，两笔并发 payout 不可能读到同一个 nonce
type Broadcaster struct {
	capability *Capability
	nonceMu    sync.Mutex
}

func NewBroadcaster(capability *Capability) *Broadcaster {
	return &Broadcaster{capability: capability}
}

// SendNative 发送一笔原生币转账，返回交易哈希
// 要求能力就绪且未绑定代币合约
func (b *Broadcaster) SendNative(ctx context.Context, to common.Address, amount *big.Int) (string, error) {
	mode, err := b.capability.EnsureReady(ctx)
	if err != nil {
		return "", err
	}
	if mode.TokenMode() {
		return "", errno.ErrPayoutNotConfigured.WithMessage("token contract bound; native payout disabled")
	}

	b.nonceMu.Lock()
	defer b.nonceMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	nonce, err := mode.Backend.PendingNonceAt(ctx, mode.From)
	if err != nil {
		return "", broadcastErr("fetch nonce", err)
	}
	gasPrice, err := mode.Backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", broadcastErr("fetch gas price", err)
	}

	tx := types.NewTransaction(nonce, to, amount, nativeTransferGas, gasPrice, nil)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(mode.ChainID), mode.PayerKey)
	if err != nil {
		return "", broadcastErr("sign transaction", err)
	}
	if err := mode.Backend.SendTransaction(ctx, signed); err != nil {
		return "", broadcastErr("submit transaction", err)
	}

	hash := signed.Hash().Hex()
	logger.Info("native payout broadcast",
		zap.String("to", to.Hex()),
		zap.String("amount", amount.String()),
		zap.Uint64("nonce", nonce),
		zap.String("tx_hash", hash),
	)
	return hash, nil
}

// SendToken 发送一笔 ERC-20 transfer，返回交易哈希
// 要求能力就绪且已绑定代币合约
func (b *Broadcaster) SendToken(ctx context.Context, to common.Address, amount *big.Int) (string, error) {
	mode, err := b.capability.EnsureReady(ctx)
	if err != nil {
		return "", err
	}
	if !mode.TokenMode() {
		return "", errno.ErrPayoutNotConfigured.WithMessage("no token contract bound; use native payout")
	}

	b.nonceMu.Lock()
	defer b.nonceMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return "", broadcastErr("encode transfer call", err)
	}

	// 估算失败不中止发送，回退到保守固定值
	gasLimit, err := mode.Backend.EstimateGas(ctx, ethereum.CallMsg{
		From: mode.From,
		To:   &mode.Token.Address,
		Data: data,
	})
	if err != nil {
		logger.Warn("gas estimation failed, using fallback",
			zap.Uint64("fallback_gas", tokenTransferGasFallback),
			zap.Error(err),
		)
		gasLimit = tokenTransferGasFallback
	}

	gasPrice, err := mode.Backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", broadcastErr("fetch gas price", err)
	}
	nonce, err := mode.Backend.PendingNonceAt(ctx, mode.From)
	if err != nil {
		return "", broadcastErr("fetch nonce", err)
	}

	tx := types.NewTransaction(nonce, mode.Token.Address, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(mode.ChainID), mode.PayerKey)
	if err != nil {
		return "", broadcastErr("sign transaction", err)
	}
	if err := mode.Backend.SendTransaction(ctx, signed); err != nil {
		return "", broadcastErr("submit transaction", err)
	}

	hash := signed.Hash().Hex()
	logger.Info("token payout broadcast",
		zap.String("to", to.Hex()),
		zap.String("amount", amount.String()),
		zap.String("token", mode.Token.Symbol),
		zap.Uint64("nonce", nonce),
		zap.String("tx_hash", hash),
	)
	return hash, nil
}

func broadcastErr(stage string, err error) *errno.Errno {
	return errno.ErrBroadcastFailed.WithMessage(
		truncateReason(fmt.Sprintf("%s: %v", stage, err)))
}
