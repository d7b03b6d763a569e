// Package apperr 定义对外暴露的错误分类
//
// 每个错误都带稳定的 code、可读 message、粗粒度 type 和 severity，
// API 层直接序列化，调用方按 code 分支，不做字符串匹配。
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Type string

const (
	TypeValidation          Type = "VALIDATION"
	TypeAuthentication      Type = "AUTHENTICATION"
	TypeInsufficientCredits Type = "INSUFFICIENT_CREDITS"
	TypeNotFound            Type = "NOT_FOUND"
	TypeInvalidAdjustment   Type = "INVALID_ADJUSTMENT"
	TypeConflict            Type = "CONFLICT"
	TypeRateLimited         Type = "RATE_LIMITED"
	TypeDatabase            Type = "DATABASE"
	TypeStoreUnavailable    Type = "STORE_UNAVAILABLE"
	TypeAuditWriteFailed    Type = "AUDIT_WRITE_FAILED"
	TypeInternal            Type = "INTERNAL"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Error struct {
	Type     Type
	Code     string
	Message  string
	Severity Severity
	Status   int
	Details  interface{}
	cause    error
}

func New(t Type, code, message string, severity Severity, status int) *Error {
	return &Error{
		Type:     t,
		Code:     code,
		Message:  message,
		Severity: severity,
		Status:   status,
	}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is 按 code 比较，WithCause / WithDetails 派生出的错误仍然匹配原始哨兵
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *Error) WithCause(err error) *Error {
	cp := *e
	cp.cause = err
	return &cp
}

func (e *Error) WithDetails(details interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func (e *Error) WithMessage(message string) *Error {
	cp := *e
	cp.Message = message
	return &cp
}

var (
	ErrInvalidAmount       = New(TypeValidation, "INVALID_AMOUNT", "金额必须大于0", SeverityLow, http.StatusBadRequest)
	ErrUnauthenticated     = New(TypeAuthentication, "NOT_AUTHENTICATED", "未登录或会话已过期", SeverityMedium, http.StatusUnauthorized)
	ErrInvalidCredentials  = New(TypeAuthentication, "INVALID_CREDENTIALS", "用户名或密码错误", SeverityMedium, http.StatusUnauthorized)
	ErrInsufficientCredits = New(TypeInsufficientCredits, "INSUFFICIENT_CREDITS", "积分不足", SeverityLow, http.StatusPaymentRequired)
	ErrBalanceNotFound     = New(TypeNotFound, "BALANCE_NOT_FOUND", "积分账户不存在", SeverityLow, http.StatusNotFound)
	ErrUserNotFound        = New(TypeNotFound, "USER_NOT_FOUND", "用户不存在", SeverityLow, http.StatusNotFound)
	ErrTransactionNotFound = New(TypeNotFound, "TRANSACTION_NOT_FOUND", "原始扣费记录不存在", SeverityLow, http.StatusNotFound)
	ErrConfigNotFound      = New(TypeNotFound, "CONFIG_NOT_FOUND", "配置项不存在", SeverityLow, http.StatusNotFound)
	ErrInvalidAdjustment   = New(TypeInvalidAdjustment, "INVALID_ADJUSTMENT", "调整后余额不能为负数", SeverityMedium, http.StatusUnprocessableEntity)
	ErrConflict            = New(TypeConflict, "CONFLICT", "操作冲突，请稍后重试", SeverityMedium, http.StatusConflict)
	ErrMemberExists        = New(TypeConflict, "MEMBER_EXISTS", "会员已存在", SeverityLow, http.StatusConflict)
	ErrRateLimited         = New(TypeRateLimited, "RATE_LIMITED", "请求过于频繁，请稍后再试", SeverityLow, http.StatusTooManyRequests)
	ErrDatabase            = New(TypeDatabase, "DATABASE_ERROR", "数据库错误", SeverityHigh, http.StatusInternalServerError)
	ErrStoreUnavailable    = New(TypeStoreUnavailable, "STORE_UNAVAILABLE", "存储暂不可用", SeverityHigh, http.StatusServiceUnavailable)
	ErrAuditWriteFailed    = New(TypeAuditWriteFailed, "AUDIT_WRITE_FAILED", "余额已变更但审计记录写入失败，已标记待对账", SeverityCritical, http.StatusInternalServerError)
	ErrInternal            = New(TypeInternal, "INTERNAL_ERROR", "服务器内部错误", SeverityHigh, http.StatusInternalServerError)
)

func Validation(code, message string) *Error {
	return New(TypeValidation, code, message, SeverityLow, http.StatusBadRequest)
}

func Unauthenticated(code, message string) *Error {
	return New(TypeAuthentication, code, message, SeverityMedium, http.StatusUnauthorized)
}

// Store 把存储层错误归类为超时/不可用或一般数据库错误
func Store(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrStoreUnavailable.WithCause(err)
	}
	return ErrDatabase.WithCause(err)
}

// From 将任意错误转换为 *Error，未知错误统一视为 INTERNAL
func From(err error) *Error {
	if err == nil {
		return ErrInternal
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrStoreUnavailable.WithCause(err)
	}
	return ErrInternal.WithCause(err)
}
