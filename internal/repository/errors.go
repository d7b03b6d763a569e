package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrBalanceNotFound  = errors.New("积分账户不存在")
	ErrBalanceNotEnough = errors.New("积分不足")
	ErrNegativeBalance  = errors.New("调整后余额为负")
	ErrUserNotFound     = errors.New("用户不存在")
	ErrAdminNotFound    = errors.New("管理员不存在")
	ErrConfigNotFound   = errors.New("配置项不存在")
	ErrDuplicateKey     = errors.New("唯一键冲突")
)

// isDuplicateKeyErr 兼容 MySQL / Postgres / SQLite 的唯一约束错误
func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") || // PostgreSQL 23505
		strings.Contains(msg, "Error 1062") || // MySQL
		strings.Contains(msg, "UNIQUE constraint failed") // SQLite
}

func orDefault(tx, db *gorm.DB) *gorm.DB {
	if tx == nil {
		return db
	}
	return tx
}
