package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"credits-core/internal/model"
	"credits-core/pkg/errno"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Outbox topics
const (
	TopicCreditEvents = "credit_events"
	TopicPayoutEvents = "payout_events"
)

// Store 是积分账本的持久层
// 并发约定: 所有写操作经过同一个互斥闸门，再在一个 gorm 事务里完成
// "读余额 -> 写流水 -> 改余额" 的全部步骤，保证两个并发预留不会
// 同时通过只够覆盖其中一个的余额校验
type Store struct {
	db *gorm.DB
	mu sync.Mutex // 进程级事务闸门 (单逻辑写者)
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB 暴露底层连接给只读协作方 (settings 解析器)
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ReserveParams 提现预留参数
type ReserveParams struct {
	UserID         string
	Credits        int64
	Address        string
	Units          decimal.Decimal
	Asset          string
	IdempotencyKey string // 空串表示未提供
}

// ensureUser 隐式建立用户与余额行 (幂等)
func ensureUser(tx *gorm.DB, userID string) error {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.User{ID: userID}).Error; err != nil {
		return err
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Balance{UserID: userID}).Error
}

func balanceOf(tx *gorm.DB, userID string) (int64, error) {
	var bal model.Balance
	err := tx.Where("user_id = ?", userID).First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return bal.Credits, nil
}

// Credit 记一笔积分变动并更新余额，返回变动后的余额
// 调用方只传正数 earn；负数路径统一走 ReserveForPayout
func (s *Store) Credit(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newBalance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUser(tx, userID); err != nil {
			return err
		}
		entry := model.LedgerEntry{UserID: userID, Delta: amount, Reason: reason}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Balance{}).Where("user_id = ?", userID).
			UpdateColumn("credits", gorm.Expr("credits + ?", amount)).Error; err != nil {
			return err
		}

		bal, err := balanceOf(tx, userID)
		if err != nil {
			return err
		}
		newBalance = bal

		return model.CreateOutboxMessage(tx, TopicCreditEvents, userID, map[string]interface{}{
			"user_id": userID,
			"delta":   amount,
			"reason":  reason,
			"balance": newBalance,
		})
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// ReserveForPayout 原子地预留 (扣减) 积分并创建 pending 提现单
// 幂等: 若 IdempotencyKey 已存在，原样返回既有提现单且不再扣款，replayed=true
// 余额不足时返回 errno.ErrInsufficientCredits，账本与余额均不变
func (s *Store) ReserveForPayout(ctx context.Context, p ReserveParams) (*model.Payout, bool, error) {
	if p.Credits <= 0 {
		return nil, false, &errno.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var payout model.Payout
	replayed := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUser(tx, p.UserID); err != nil {
			return err
		}

		if p.IdempotencyKey != "" {
			err := tx.Where("idempotency_key = ?", p.IdempotencyKey).First(&payout).Error
			if err == nil {
				replayed = true
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		bal, err := balanceOf(tx, p.UserID)
		if err != nil {
			return err
		}
		if p.Credits > bal {
			return &errno.ErrInsufficientCredits
		}

		entry := model.LedgerEntry{UserID: p.UserID, Delta: -p.Credits, Reason: model.ReasonPayout}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Balance{}).Where("user_id = ?", p.UserID).
			UpdateColumn("credits", gorm.Expr("credits - ?", p.Credits)).Error; err != nil {
			return err
		}

		payout = model.Payout{
			UserID:  p.UserID,
			Address: p.Address,
			Credits: p.Credits,
			Units:   p.Units,
			Asset:   p.Asset,
			Status:  model.PayoutStatusPending,
		}
		if p.IdempotencyKey != "" {
			key := p.IdempotencyKey
			payout.IdempotencyKey = &key
		}
		if err := tx.Create(&payout).Error; err != nil {
			return err
		}

		return model.CreateOutboxMessage(tx, TopicPayoutEvents, p.UserID, map[string]interface{}{
			"payout_id": payout.ID,
			"user_id":   p.UserID,
			"credits":   p.Credits,
			"units":     p.Units.String(),
			"asset":     p.Asset,
			"status":    payout.Status,
		})
	})
	if err != nil {
		return nil, false, err
	}
	return &payout, replayed, nil
}

// MarkSent 记录交易哈希并把提现单置为 sent
// 重放同一哈希等效 no-op；编排器保证每单只调用一次
func (s *Store) MarkSent(ctx context.Context, payoutID uint64, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payout model.Payout
		if err := tx.First(&payout, payoutID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &errno.ErrPayoutNotFound
			}
			return err
		}
		if payout.Status == model.PayoutStatusSent && payout.TxHash == txHash {
			return nil
		}

		updates := map[string]interface{}{
			"status":     model.PayoutStatusSent,
			"tx_hash":    txHash,
			"updated_at": time.Now(),
		}
		if err := tx.Model(&model.Payout{}).Where("id = ?", payoutID).
			Updates(updates).Error; err != nil {
			return err
		}

		return model.CreateOutboxMessage(tx, TopicPayoutEvents, payout.UserID, map[string]interface{}{
			"payout_id": payoutID,
			"user_id":   payout.UserID,
			"tx_hash":   txHash,
			"status":    model.PayoutStatusSent,
		})
	})
}

// BalanceOf 返回用户当前余额，未知用户视为 0
func (s *Store) BalanceOf(ctx context.Context, userID string) (int64, error) {
	return balanceOf(s.db.WithContext(ctx), userID)
}

// ListPayouts 返回用户全部提现单，最新在前
func (s *Store) ListPayouts(ctx context.Context, userID string) ([]model.Payout, error) {
	var payouts []model.Payout
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&payouts).Error
	if err != nil {
		return nil, err
	}
	return payouts, nil
}

// LedgerSum 返回用户流水 delta 之和 (审计用，应恒等于 BalanceOf)
func (s *Store) LedgerSum(ctx context.Context, userID string) (int64, error) {
	var sum *int64
	err := s.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("SUM(delta)").Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}
