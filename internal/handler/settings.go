package handler

import (
	"fmt"
	"math/big"
	"strings"

	"credits-core/internal/handler/request"
	"credits-core/internal/handler/response"
	"credits-core/internal/settings"
	"credits-core/pkg/errno"
	"credits-core/pkg/monitor"
	"credits-core/pkg/validator"

	"github.com/gin-gonic/gin"
)

// 数值型配置键，接受十进制或 0x 前缀十六进制
var numericSettings = map[string]string{
	settings.KeyChainID:        "Chain ID",
	settings.KeyUnitsPerCredit: "Units per credit",
	settings.KeyTokenDecimals:  "Token decimals",
}

// GetSettings godoc
// @Summary 查看受管配置
// @Description 返回配置快照 (私钥脱敏)、环境变量覆盖标记与当前能力状态
// @Tags Settings
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/settings [get]
func (h *Handler) GetSettings(c *gin.Context) {
	snapshot := h.settings.Snapshot()
	// 私钥不回传明文
	snapshot[settings.KeyPrivateKey] = h.settings.Masked(settings.KeyPrivateKey)

	envOverrides := make(map[string]bool, len(settings.ManagedKeys))
	for key := range settings.ManagedKeys {
		envOverrides[key] = h.settings.HasEnvOverride(key)
	}

	response.Success(c, gin.H{
		"settings":      snapshot,
		"env_overrides": envOverrides,
		"status":        h.capability.CurrentStatus(c.Request.Context()),
	})
}

// UpdateSettings godoc
// @Summary 更新受管配置
// @Description 持久化配置并重载 payout 能力缓存；被环境变量覆盖的键跳过不改
// @Tags Settings
// @Accept json
// @Produce json
// @Param request body request.SettingsUpdateRequest true "配置更新"
// @Success 200 {object} response.Response
// @Router /api/v1/settings [put]
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req request.SettingsUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	updates := map[string]string{}
	var errs []string

	collect := func(key string, value *string) {
		if value == nil {
			return
		}
		if h.settings.HasEnvOverride(key) {
			// 环境覆盖的键持久层只读
			return
		}
		trimmed := strings.TrimSpace(*value)
		if trimmed != "" {
			if label, numeric := numericSettings[key]; numeric {
				if _, ok := new(big.Int).SetString(trimmed, 0); !ok {
					errs = append(errs, fmt.Sprintf("%s must be an integer (dec or 0x hex)", label))
					return
				}
			}
		}
		updates[key] = trimmed
	}

	collect(settings.KeyProviderURL, req.ProviderURL)
	collect(settings.KeyChainID, req.ChainID)
	collect(settings.KeyTokenAddress, req.TokenAddress)
	collect(settings.KeyTokenDecimals, req.TokenDecimals)
	collect(settings.KeyUnitsPerCredit, req.UnitsPerCredit)

	if !h.settings.HasEnvOverride(settings.KeyPrivateKey) {
		if req.ClearPrivateKey {
			updates[settings.KeyPrivateKey] = ""
		} else if req.PrivateKey != nil && strings.TrimSpace(*req.PrivateKey) != "" {
			updates[settings.KeyPrivateKey] = strings.TrimSpace(*req.PrivateKey)
		}
	}

	if len(errs) > 0 {
		response.Error(c, errno.ErrValidation.WithMessage(strings.Join(errs, "; ")))
		return
	}

	if err := h.settings.SetMany(updates); err != nil {
		response.Error(c, err)
		return
	}

	h.capability.Reload()
	if monitor.Business != nil {
		monitor.Business.CapabilityReloadsTotal.Inc()
	}

	response.Success(c, gin.H{
		"saved":  true,
		"status": h.capability.CurrentStatus(c.Request.Context()),
	})
}

// ReloadConfiguration godoc
// @Summary 重载 payout 配置
// @Description 使能力缓存失效，下一次访问重新读配置并探测链端点
// @Tags Settings
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/reload [post]
func (h *Handler) ReloadConfiguration(c *gin.Context) {
	h.capability.Reload()
	if monitor.Business != nil {
		monitor.Business.CapabilityReloadsTotal.Inc()
	}
	response.Success(c, gin.H{"reloaded": true})
}
