package response

import (
	"net/http"

	"creditledger/internal/apperr"

	"github.com/gin-gonic/gin"
)

// Body 统一错误响应体
// code 为稳定的机器可读错误码，前端和监控只依赖 code 分支，不匹配 message
type Body struct {
	Success  bool        `json:"success"`
	Code     string      `json:"code,omitempty"`
	Message  string      `json:"message,omitempty"`
	Type     string      `json:"type,omitempty"`
	Severity string      `json:"severity,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

// Success 返回 {success: true, data: ...}
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{
		Success: true,
		Data:    data,
	})
}

// OK 返回 {success: true, ...fields}，用于字段平铺的接口（如 deduction_rate）
func OK(c *gin.Context, fields gin.H) {
	body := gin.H{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// Error 按错误分类返回 HTTP 状态码和错误体
func Error(c *gin.Context, err error) {
	appErr := apperr.From(err)
	c.AbortWithStatusJSON(appErr.Status, Body{
		Success:  false,
		Code:     appErr.Code,
		Message:  appErr.Message,
		Type:     string(appErr.Type),
		Severity: string(appErr.Severity),
		Data:     appErr.Details,
	})
}

func ParamError(c *gin.Context, code, message string) {
	Error(c, apperr.Validation(code, message))
}

func Unauthorized(c *gin.Context, code, message string) {
	Error(c, apperr.Unauthenticated(code, message))
}
