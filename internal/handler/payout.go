package handler

import (
	"credits-core/internal/handler/request"
	"credits-core/internal/handler/response"
	"credits-core/pkg/errno"
	"credits-core/pkg/validator"

	"github.com/gin-gonic/gin"
)

// Payout godoc
// @Summary 申请提现
// @Description 扣减积分并广播一笔链上转账；幂等键重放返回既有单据且不重复广播
// @Tags Payout
// @Accept json
// @Produce json
// @Param request body request.PayoutRequest true "提现参数"
// @Success 200 {object} response.Response
// @Router /api/v1/payout [post]
func (h *Handler) Payout(c *gin.Context) {
	var req request.PayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	result, err := h.payouts.RequestPayout(
		c.Request.Context(),
		req.UserID,
		req.Address,
		req.Credits,
		req.IdempotencyKey,
	)
	if err != nil {
		// 广播失败时单据已扣款并停留在 pending，必须随错误一起返回
		if result != nil && result.Payout != nil {
			response.ErrorWithData(c, err, gin.H{"payout": result.Payout})
			return
		}
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}
