package handler

import (
	"net/http"
	"strings"

	"creditledger/internal/apperr"
	"creditledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// ============================================================
// 管理员登录态
// ============================================================

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login 管理员登录
// POST /admin/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Username) == "" || req.Password == "" {
		response.ParamError(c, "MISSING_CREDENTIALS", "用户名和密码不能为空")
		return
	}

	session, err := h.sessions.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.setSessionCookie(c, session.Token, int(h.sessions.TTL().Seconds()))

	response.Success(c, gin.H{
		"username":  session.Username,
		"loginTime": session.IssuedAt,
	})
}

// Logout 管理员登出
// POST /admin/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	if err := h.sessions.Logout(c.Request.Context(), currentSession(c)); err != nil {
		response.Error(c, err)
		return
	}

	h.setSessionCookie(c, "", -1)

	response.Success(c, gin.H{
		"message": "已退出登录",
	})
}

// Session 当前会话
// GET /admin/auth/session
func (h *Handler) Session(c *gin.Context) {
	session := currentSession(c)
	response.Success(c, gin.H{
		"username":  session.Username,
		"loginTime": session.IssuedAt,
		"expiresAt": session.ExpiresAt,
	})
}

// setSessionCookie maxAge < 0 时清除 cookie（Max-Age=0）
func (h *Handler) setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cfg.Session.CookieName, token, maxAge, "/", "", h.cfg.Session.CookieSecure, true)
}

// AdminAuthMiddleware 校验会话 cookie，通过后把会话放进 gin.Context
func AdminAuthMiddleware(h *Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(h.cfg.Session.CookieName)
		if err != nil || token == "" {
			response.Error(c, apperr.ErrUnauthenticated)
			return
		}

		session, err := h.sessions.Verify(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			return
		}

		c.Set(sessionContextKey, session)
		c.Next()
	}
}
