package service

import (
	"context"

	"credits-core/internal/model"
	"credits-core/internal/store"
	"credits-core/pkg/errno"
	"credits-core/pkg/monitor"
)

// CreditService 处理积分发放与查询
type CreditService struct {
	store *store.Store
}

func NewCreditService(s *store.Store) *CreditService {
	return &CreditService{store: s}
}

// Earn 给用户加积分，返回新余额
func (s *CreditService) Earn(ctx context.Context, userID string, credits int64) (int64, error) {
	if userID == "" {
		return 0, errno.ErrValidation.WithMessage("user_id must not be empty")
	}
	if credits <= 0 {
		return 0, &errno.ErrInvalidAmount
	}

	newBalance, err := s.store.Credit(ctx, userID, credits, model.ReasonEarn)
	if err != nil {
		return 0, err
	}

	if monitor.Business != nil {
		monitor.Business.CreditsEarnedTotal.Add(float64(credits))
	}
	return newBalance, nil
}

// Balance 返回用户当前余额
func (s *CreditService) Balance(ctx context.Context, userID string) (int64, error) {
	return s.store.BalanceOf(ctx, userID)
}

// ListPayouts 返回用户提现历史，最新在前
func (s *CreditService) ListPayouts(ctx context.Context, userID string) ([]model.Payout, error) {
	return s.store.ListPayouts(ctx, userID)
}
