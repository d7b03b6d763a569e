package model

import (
	"time"
)

// CreditBalance 用户积分余额表
// 每个用户一行，余额只能通过账本服务修改，任何时刻都不能为负
type CreditBalance struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	Version   int       `gorm:"not null;default:0" json:"version"` // 每次变动 +1，便于对账
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CreditBalance) TableName() string {
	return "credit_balances"
}
