package service

import (
	"context"
	"math/big"
	"time"

	"credits-core/internal/chain"
	"credits-core/internal/model"
	"credits-core/internal/store"
	"credits-core/pkg/errno"
	"credits-core/pkg/logger"
	"credits-core/pkg/monitor"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PayoutService 是 payout saga 的协调者:
// 校验 -> 能力检查 -> 原子预留 (扣积分) -> 广播 -> 回写结果
type PayoutService struct {
	store       *store.Store
	capability  *chain.Capability
	broadcaster *chain.Broadcaster
}

func NewPayoutService(s *store.Store, capability *chain.Capability, broadcaster *chain.Broadcaster) *PayoutService {
	return &PayoutService{
		store:       s,
		capability:  capability,
		broadcaster: broadcaster,
	}
}

// PayoutResult 单次提现请求的结果
// 广播失败时 Payout 仍然携带已扣款的 pending 单据
type PayoutResult struct {
	Payout   *model.Payout `json:"payout"`
	TxHash   string        `json:"tx_hash,omitempty"`
	Replayed bool          `json:"replayed"`
}

// RequestPayout 处理一次提现
//
// 幂等键重放直接返回既有单据，无论其状态如何都不再广播——
// 同一个键跨进程重启、跨客户端重试都保证至多一次广播意图。
// 广播失败不回滚扣款: 自动退款在假阴性 (交易其实上链了) 时会造成双付，
// 保留 pending 单据等待人工对账。
func (s *PayoutService) RequestPayout(ctx context.Context, userID, address string, credits int64, idempotencyKey string) (*PayoutResult, error) {
	if userID == "" {
		return nil, errno.ErrValidation.WithMessage("user_id must not be empty")
	}
	if credits <= 0 {
		return nil, &errno.ErrInvalidAmount
	}

	to, err := chain.ChecksumAddress(address)
	if err != nil {
		return nil, err
	}

	// 配置错误在任何账本变更之前快速失败
	mode, err := s.capability.EnsureReady(ctx)
	if err != nil {
		s.countOutcome("config_error")
		return nil, err
	}

	units := new(big.Int).Mul(big.NewInt(credits), mode.UnitsPerCredit)
	asset := mode.Asset()

	payout, replayed, err := s.store.ReserveForPayout(ctx, store.ReserveParams{
		UserID:         userID,
		Credits:        credits,
		Address:        to,
		Units:          decimal.NewFromBigInt(units, 0),
		Asset:          asset,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		if err == &errno.ErrInsufficientCredits {
			s.countOutcome("insufficient")
		}
		return nil, err
	}

	if replayed {
		s.countOutcome("replayed")
		logger.Info("payout replayed by idempotency key",
			zap.Uint64("payout_id", payout.ID),
			zap.String("status", payout.Status),
		)
		return &PayoutResult{Payout: payout, TxHash: payout.TxHash, Replayed: true}, nil
	}

	if monitor.Business != nil {
		monitor.Business.CreditsReservedTotal.Add(float64(credits))
	}

	txHash, err := s.broadcast(ctx, mode, common.HexToAddress(to), units, asset)
	if err != nil {
		// 扣款保留，单据停在 pending，等待人工对账
		s.countOutcome("broadcast_error")
		if monitor.Business != nil {
			monitor.Business.PayoutPendingReconcile.Inc()
		}
		logger.Error("payout broadcast failed, reservation kept",
			zap.Uint64("payout_id", payout.ID),
			zap.String("user_id", userID),
			zap.Int64("credits", credits),
			zap.Error(err),
		)
		return &PayoutResult{Payout: payout}, err
	}

	if err := s.store.MarkSent(ctx, payout.ID, txHash); err != nil {
		// 交易已上链但本地状态没写成。单据留在 pending 并带着已知哈希返回，
		// 对账时以链上为准。
		logger.Error("mark sent failed after broadcast",
			zap.Uint64("payout_id", payout.ID),
			zap.String("tx_hash", txHash),
			zap.Error(err),
		)
		return &PayoutResult{Payout: payout, TxHash: txHash}, errno.ErrDatabase.WithMessage(err.Error())
	}

	payout.Status = model.PayoutStatusSent
	payout.TxHash = txHash

	s.countOutcome("sent")
	return &PayoutResult{Payout: payout, TxHash: txHash}, nil
}

func (s *PayoutService) broadcast(ctx context.Context, mode *chain.Mode, to common.Address, units *big.Int, asset string) (string, error) {
	start := time.Now()
	defer func() {
		if monitor.Business != nil {
			monitor.Business.PayoutBroadcastDuration.WithLabelValues(asset).Observe(time.Since(start).Seconds())
		}
	}()

	if mode.TokenMode() {
		return s.broadcaster.SendToken(ctx, to, units)
	}
	return s.broadcaster.SendNative(ctx, to, units)
}

func (s *PayoutService) countOutcome(outcome string) {
	if monitor.Business != nil {
		monitor.Business.PayoutRequestsTotal.WithLabelValues(outcome).Inc()
	}
}
