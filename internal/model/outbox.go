package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage 本地消息表，与业务写入同一个事务，由 OutboxSender 异步投递到 Kafka
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:'PENDING'" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// CreditEvent 积分变动事件，投递到 credit_events topic
type CreditEvent struct {
	TransactionNo string    `json:"transaction_no"`
	UserID        int64     `json:"user_id"`
	Type          string    `json:"type"`
	Amount        int64     `json:"amount"`
	BalanceBefore int64     `json:"balance_before"`
	BalanceAfter  int64     `json:"balance_after"`
	Reason        string    `json:"reason,omitempty"`
	Operator      string    `json:"operator,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// AuditAlertEvent 高风险调整告警，投递到 audit_alerts topic
type AuditAlertEvent struct {
	ReferenceNo   string    `json:"reference_no"`
	AdminUsername string    `json:"admin_username"`
	TargetUserID  int64     `json:"target_user_id"`
	CreditAmount  int64     `json:"credit_amount"`
	BeforeBalance int64     `json:"before_balance"`
	AfterBalance  int64     `json:"after_balance"`
	RiskLevel     string    `json:"risk_level"`
	OccurredAt    time.Time `json:"occurred_at"`
}
