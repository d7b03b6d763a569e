package handler

import (
	"strconv"

	"creditledger/internal/service"
	"creditledger/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ============================================================
// 审计
// ============================================================

// ListAlerts 异常操作视图
// GET /admin/audit/alerts?page=1&limit=20&risk_level=HIGH
func (h *Handler) ListAlerts(c *gin.Context) {
	page, ok := queryInt(c, "page")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	result, err := h.audit.ListAlerts(c.Request.Context(), service.AlertQuery{
		Page:      page,
		Limit:     limit,
		RiskLevel: c.Query("risk_level"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{
		"alerts":     result.Alerts,
		"pagination": result.Pagination,
	})
}

// ListLogs 完整审计记录
// GET /admin/audit/logs?operation_type=adjust_credits&admin_username=xxx&target_user_id=1
func (h *Handler) ListLogs(c *gin.Context) {
	page, ok := queryInt(c, "page")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	q := service.LogQuery{
		Page:          page,
		Limit:         limit,
		OperationType: c.Query("operation_type"),
		AdminUsername: c.Query("admin_username"),
	}
	if raw := c.Query("target_user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.ParamError(c, "INVALID_PARAMS", "target_user_id 参数错误")
			return
		}
		q.TargetUserID = &id
	}

	result, err := h.audit.ListLogs(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{
		"logs":       result.Logs,
		"pagination": result.Pagination,
	})
}

// ============================================================
// 会员
// ============================================================

type CreateMemberRequest struct {
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Nickname       string `json:"nickname"`
	InitialCredits int64  `json:"initial_credits"`
}

// CreateMember 创建会员
// POST /admin/members
func (h *Handler) CreateMember(c *gin.Context) {
	var req CreateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "INVALID_PARAMS", "参数错误: "+err.Error())
		return
	}

	member, err := h.members.CreateMember(c.Request.Context(), currentSession(c), service.CreateMemberRequest{
		Email:          req.Email,
		Phone:          req.Phone,
		Nickname:       req.Nickname,
		InitialCredits: req.InitialCredits,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, member)
}

// DisableMemberRequest 字段用指针区分缺省和零值
type DisableMemberRequest struct {
	UserID   *int64 `json:"user_id"`
	Disabled *bool  `json:"disabled"`
}

// DisableMember 禁用 / 启用会员
// POST /admin/members/disable
func (h *Handler) DisableMember(c *gin.Context) {
	var req DisableMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == nil || req.Disabled == nil {
		response.ParamError(c, "INVALID_PARAMS", "user_id 和 disabled 参数必填")
		return
	}

	if err := h.members.SetDisabled(c.Request.Context(), currentSession(c), *req.UserID, *req.Disabled); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":  *req.UserID,
		"disabled": *req.Disabled,
	})
}

type AdjustCreditsRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"` // 正数增加，负数扣减
	Description string `json:"description"`
}

// AdjustCredits 管理员调整积分
// POST /admin/members/credits
//
// 审计写入失败时返回 500 AUDIT_WRITE_FAILED，data 中带调整前后余额，余额变更不回滚
func (h *Handler) AdjustCredits(c *gin.Context) {
	var req AdjustCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "INVALID_PARAMS", "参数错误: "+err.Error())
		return
	}

	result, err := h.ledger.AdminAdjust(c.Request.Context(), currentSession(c), service.AdjustRequest{
		UserID:      req.UserID,
		Delta:       req.Amount,
		Description: req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// MemberBalance 会员信息和余额
// GET /admin/members/:id/balance
func (h *Handler) MemberBalance(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	member, err := h.members.GetMember(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, member)
}

// MemberTransactions 会员积分流水
// GET /admin/members/:id/transactions?page=1&limit=20
func (h *Handler) MemberTransactions(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}
	page, ok := queryInt(c, "page")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	result, err := h.ledger.ListTransactions(c.Request.Context(), userID, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{
		"transactions": result.Transactions,
		"pagination":   result.Pagination,
	})
}

// SearchUsers 搜索会员
// GET /admin/users/search?q=xxx&limit=10
func (h *Handler) SearchUsers(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	users, err := h.members.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{
		"users": users,
	})
}

// ============================================================
// 系统配置
// ============================================================

// GetConfig GET /admin/config/:key
func (h *Handler) GetConfig(c *gin.Context) {
	cfg, err := h.pricing.GetConfig(c.Request.Context(), c.Param("key"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, cfg)
}

type SetConfigRequest struct {
	Value       string `json:"value" binding:"required"`
	Description string `json:"description"`
}

// SetConfig 修改配置，积分价格类配置写入后立即生效
// PUT /admin/config/:key
func (h *Handler) SetConfig(c *gin.Context) {
	var req SetConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "INVALID_PARAMS", "参数错误: "+err.Error())
		return
	}

	cfg, err := h.pricing.SetConfig(c.Request.Context(), c.Param("key"), req.Value, req.Description)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.log.Info("管理员修改配置",
		zap.String("admin", currentSession(c).Username),
		zap.String("key", cfg.ConfigKey),
	)
	response.Success(c, cfg)
}
