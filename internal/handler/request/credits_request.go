package request

// EarnRequest 发放积分
type EarnRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Credits int64  `json:"credits" binding:"required,gt=0"`
}

// PayoutRequest 申请提现
type PayoutRequest struct {
	UserID         string `json:"user_id" binding:"required"`
	Address        string `json:"address" binding:"required"`
	Credits        int64  `json:"credits" binding:"required,gt=0"`
	IdempotencyKey string `json:"idempotency_key"`
}

// SettingsUpdateRequest 更新受管配置
// 字段为 nil 表示不修改；空串表示清除该键
type SettingsUpdateRequest struct {
	ProviderURL     *string `json:"WEB3_PROVIDER_URL"`
	PrivateKey      *string `json:"PAYOUT_PRIVATE_KEY"`
	ChainID         *string `json:"CHAIN_ID"`
	TokenAddress    *string `json:"TOKEN_ADDRESS"`
	TokenDecimals   *string `json:"TOKEN_DECIMALS"`
	UnitsPerCredit  *string `json:"UNITS_PER_CREDIT"`
	ClearPrivateKey bool    `json:"clear_private_key"`
}
