package handler

import (
	"credits-core/internal/handler/request"
	"credits-core/internal/handler/response"
	"credits-core/pkg/errno"
	"credits-core/pkg/validator"

	"github.com/gin-gonic/gin"
)

// Earn godoc
// @Summary 发放积分
// @Description 给用户增加积分并返回新余额，用户首次出现时隐式创建
// @Tags Credits
// @Accept json
// @Produce json
// @Param request body request.EarnRequest true "发放参数"
// @Success 200 {object} response.Response
// @Router /api/v1/earn [post]
func (h *Handler) Earn(c *gin.Context) {
	var req request.EarnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	newBalance, err := h.credits.Earn(c.Request.Context(), req.UserID, req.Credits)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":       req.UserID,
		"credits_total": newBalance,
	})
}

// UserDetail godoc
// @Summary 用户积分详情
// @Description 返回用户余额与提现历史 (最新在前)
// @Tags Credits
// @Produce json
// @Param user_id path string true "用户 ID"
// @Success 200 {object} response.Response
// @Router /api/v1/users/{user_id} [get]
func (h *Handler) UserDetail(c *gin.Context) {
	userID := c.Param("user_id")

	balance, err := h.credits.Balance(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, errno.ErrDatabase.WithMessage(err.Error()))
		return
	}
	payouts, err := h.credits.ListPayouts(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, errno.ErrDatabase.WithMessage(err.Error()))
		return
	}

	response.Success(c, gin.H{
		"user_id": userID,
		"credits": balance,
		"payouts": payouts,
	})
}

// ListPayouts godoc
// @Summary 提现历史
// @Tags Credits
// @Produce json
// @Param user_id path string true "用户 ID"
// @Success 200 {object} response.Response
// @Router /api/v1/users/{user_id}/payouts [get]
func (h *Handler) ListPayouts(c *gin.Context) {
	payouts, err := h.credits.ListPayouts(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		response.Error(c, errno.ErrDatabase.WithMessage(err.Error()))
		return
	}
	response.Success(c, gin.H{"payouts": payouts})
}
