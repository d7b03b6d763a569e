package model

import (
	"time"
)

// ============================================================================
// 交易类型常量
// ============================================================================

const (
	TransactionTypeDebit        = "DEBIT"         // 计费动作扣减
	TransactionTypeCredit       = "CREDIT"        // 充值 / 奖励
	TransactionTypeRefund       = "REFUND"        // 付费动作失败后的退回
	TransactionTypeAdminAdjust  = "ADMIN_ADJUST"  // 管理员调整
	TransactionTypeInitialGrant = "INITIAL_GRANT" // 创建会员时的初始积分
)

const (
	AuditStatusNone     = ""
	AuditStatusPending  = "PENDING"  // 变更已提交，审计记录尚未写入
	AuditStatusRecorded = "RECORDED" // 审计记录已写入
)

// ============================================================================
// 积分流水实体
// ============================================================================

// CreditTransaction 积分流水表
// 只追加，不修改（audit_status 除外），记录交易前后余额便于校验
//
// RequestID 为幂等键：同一个 request_id 只会扣费一次
type CreditTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	RequestID     *string   `gorm:"type:varchar(128);uniqueIndex" json:"request_id,omitempty"`
	UserID        int64     `gorm:"index;not null" json:"user_id"`
	Amount        int64     `gorm:"not null" json:"amount"` // 正数入账，负数出账
	Type          string    `gorm:"type:varchar(20);not null" json:"type"`
	Reason        string    `gorm:"type:varchar(256)" json:"reason"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Operator      string    `gorm:"type:varchar(64)" json:"operator,omitempty"`
	AuditStatus   string    `gorm:"type:varchar(20);index;not null;default:''" json:"audit_status,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transactions"
}
