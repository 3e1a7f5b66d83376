package settings

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"credits-core/internal/model"
	"credits-core/pkg/errno"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 受管配置键: 环境变量优先于持久化存储
const (
	KeyProviderURL    = "WEB3_PROVIDER_URL"
	KeyPrivateKey     = "PAYOUT_PRIVATE_KEY"
	KeyChainID        = "CHAIN_ID"
	KeyTokenAddress   = "TOKEN_ADDRESS"
	KeyTokenDecimals  = "TOKEN_DECIMALS"
	KeyUnitsPerCredit = "UNITS_PER_CREDIT"
)

// ManagedKeys 键 -> 描述
var ManagedKeys = map[string]string{
	KeyProviderURL:    "Ethereum RPC endpoint",
	KeyPrivateKey:     "Hot wallet private key",
	KeyChainID:        "Chain ID",
	KeyTokenAddress:   "ERC-20 contract address",
	KeyTokenDecimals:  "ERC-20 decimals override",
	KeyUnitsPerCredit: "Base units per credit",
}

// Resolver 解析受管配置，优先级: 环境变量 > app_settings 表
// 值一律当作不透明字符串返回，由消费方 (chain 包) 自行解析
type Resolver struct {
	db *gorm.DB
}

func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

// Get 返回键的当前值；未配置返回空串
func (r *Resolver) Get(key string) string {
	if env := normalize(os.Getenv(key)); env != "" {
		return env
	}
	var row model.AppSetting
	err := r.db.Where("key = ?", key).First(&row).Error
	if err != nil {
		return ""
	}
	return normalize(row.Value)
}

// Set 写入持久化配置；空值表示删除该键
func (r *Resolver) Set(key, value string) error {
	if _, ok := ManagedKeys[key]; !ok {
		return errno.ErrUnknownSetting.WithMessage(fmt.Sprintf("unsupported setting: %s", key))
	}
	normalized := normalize(value)
	if normalized == "" {
		return r.db.Where("key = ?", key).Delete(&model.AppSetting{}).Error
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&model.AppSetting{Key: key, Value: normalized}).Error
}

// SetMany 批量写入，遇到第一个错误即停止
func (r *Resolver) SetMany(updates map[string]string) error {
	for key, value := range updates {
		if err := r.Set(key, value); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot 返回全部受管键的解析结果
func (r *Resolver) Snapshot() map[string]string {
	snap := make(map[string]string, len(ManagedKeys))
	for key := range ManagedKeys {
		snap[key] = r.Get(key)
	}
	return snap
}

// HasEnvOverride 判断键是否被环境变量覆盖 (覆盖时持久层只读)
func (r *Resolver) HasEnvOverride(key string) bool {
	return normalize(os.Getenv(key)) != ""
}

// Masked 返回脱敏后的值，用于展示私钥等敏感项
func (r *Resolver) Masked(key string) string {
	if r.HasEnvOverride(key) {
		return "Configured via environment"
	}
	value := r.Get(key)
	if value == "" {
		return ""
	}
	if len(value) <= 10 {
		return value
	}
	return fmt.Sprintf("%s…%s", value[:6], value[len(value)-4:])
}

// IsUnknownKey 判断错误是否为未知配置键
func IsUnknownKey(err error) bool {
	var e *errno.Errno
	return errors.As(err, &e) && e.Code == errno.ErrUnknownSetting.Code
}
