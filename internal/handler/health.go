package handler

import (
	"credits-core/internal/chain"
	"credits-core/internal/handler/response"

	"github.com/gin-gonic/gin"
)

// HealthCheck godoc
// @Summary Check payout engine health
// @Description Reports whether the payout capability is configured, the payer address and the asset being paid
// @Tags system
// @Accept  json
// @Produce  json
// @Success 200 {object} response.Response
// @Router /health [get]
func (h *Handler) HealthCheck(c *gin.Context) {
	status := h.capability.CurrentStatus(c.Request.Context())

	state := "ok"
	if !status.Configured {
		state = "needs_config"
	}
	asset := status.Asset
	if asset == "" {
		asset = chain.NativeAsset
	}

	response.Success(c, gin.H{
		"status":       state,
		"from_address": status.FromAddress,
		"token_mode":   status.TokenMode,
		"asset":        asset,
		"error":        status.Error,
	})
}
