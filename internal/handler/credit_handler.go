package handler

import (
	"strconv"

	"creditledger/internal/service"
	"creditledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// ============================================================
// 计费相关接口（无需管理员登录）
// ============================================================

// DeductionRate 文本生成单价
// GET /credits/deduction-rate
//
// 价格读取失败时返回兜底价格，仍然是 200
func (h *Handler) DeductionRate(c *gin.Context) {
	cost, err := h.pricing.GetCreditCost(c.Request.Context(), service.ActionTextGeneration)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"deduction_rate": cost})
}

// ImageGenerationRate 图片生成单价
// GET /credits/image-generation-rate
func (h *Handler) ImageGenerationRate(c *gin.Context) {
	cost, err := h.pricing.GetCreditCost(c.Request.Context(), service.ActionImageGeneration)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"rate": cost})
}

// Balance 查询余额
// GET /credits/balance?user_id=xxx
func (h *Handler) Balance(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "INVALID_PARAMS", "user_id 参数错误")
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id": userID,
		"balance": balance,
	})
}

// DeductRequest 扣费请求
type DeductRequest struct {
	RequestID  string `json:"request_id" binding:"required"` // 幂等ID，客户端生成
	UserID     int64  `json:"user_id" binding:"required"`
	ActionType string `json:"action_type" binding:"required"` // image_generation / text_generation
}

// Deduct 按动作类型扣费
// POST /credits/deduct
//
// 扣费成功后调用方才能执行付费动作；动作失败时调用 /credits/refund 退回
func (h *Handler) Deduct(c *gin.Context) {
	var req DeductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "INVALID_PARAMS", "参数错误: "+err.Error())
		return
	}

	cost, err := h.pricing.GetCreditCost(c.Request.Context(), req.ActionType)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.ledger.Debit(c.Request.Context(), service.DebitRequest{
		RequestID: req.RequestID,
		UserID:    req.UserID,
		Amount:    cost,
		Reason:    req.ActionType,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

type RefundRequest struct {
	RequestID string `json:"request_id" binding:"required"` // 原扣费请求的 request_id
	Reason    string `json:"reason"`
}

// Refund 付费动作失败后退回积分
// POST /credits/refund
func (h *Handler) Refund(c *gin.Context) {
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "INVALID_PARAMS", "参数错误: "+err.Error())
		return
	}

	result, err := h.ledger.Refund(c.Request.Context(), service.RefundRequest{
		RequestID: req.RequestID,
		Reason:    req.Reason,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}
