package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payout 状态机: pending -> sent (单向，不回退，不删除)
const (
	PayoutStatusPending = "pending"
	PayoutStatusSent    = "sent"
)

// LedgerEntry reason 标签
const (
	ReasonEarn   = "earn"
	ReasonPayout = "payout"
)

// User 用户表
// 用户在第一次 earn / payout 时隐式创建，只作为外键锚点存在
type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Balance 余额表: 每个用户一行
// 不变量: Credits 恒等于该用户所有 LedgerEntry.Delta 之和
// 只允许在 store 的事务闸门内读改写
type Balance struct {
	UserID    string    `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	Credits   int64     `gorm:"not null;default:0" json:"credits"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerEntry 积分流水表 (append-only，不更新不删除)
// 余额是它的派生投影，流水本身是审计事实
type LedgerEntry struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Delta     int64     `gorm:"not null" json:"delta"`
	Reason    string    `gorm:"type:varchar(32);not null" json:"reason"` // earn, payout
	CreatedAt time.Time `json:"created_at"`
}

// Payout 提现记录表
// 创建即代表积分已扣减 (预留)；广播成功后记录 TxHash 并置为 sent
// pending 且无 TxHash 的行是广播失败/未决的预留，等待人工对账，不自动回滚
type Payout struct {
	ID             uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         string          `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Address        string          `gorm:"type:varchar(64);not null" json:"address"`
	Credits        int64           `gorm:"not null" json:"credits"`
	Units          decimal.Decimal `gorm:"type:decimal(78,0);not null" json:"units"` // 链上最小单位数量
	Asset          string          `gorm:"type:varchar(32);not null" json:"asset"`
	TxHash         string          `gorm:"type:varchar(128)" json:"tx_hash,omitempty"`
	Status         string          `gorm:"type:varchar(16);not null;default:'pending'" json:"status"` // pending, sent
	IdempotencyKey *string         `gorm:"type:varchar(128);uniqueIndex" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AppSetting 持久化配置表 (由 settings 包独占写入)
type AppSetting struct {
	Key   string `gorm:"primaryKey;type:varchar(64)" json:"key"`
	Value string `gorm:"type:text" json:"value"`
}

func (User) TableName() string {
	return "users"
}

func (Balance) TableName() string {
	return "balances"
}

func (LedgerEntry) TableName() string {
	return "credits_ledger"
}

func (Payout) TableName() string {
	return "payouts"
}

func (AppSetting) TableName() string {
	return "app_settings"
}
