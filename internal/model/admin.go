package model

import (
	"time"
)

const (
	OperationCreateMember  = "create_member"
	OperationAdjustCredits = "adjust_credits"
	OperationLogin         = "login"
	OperationLogout        = "logout"
)

const (
	RiskLevelLow    = "LOW"
	RiskLevelMedium = "MEDIUM"
	RiskLevelHigh   = "HIGH"
)

// AdminUser 管理员账号
type AdminUser struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	PasswordHash string     `gorm:"type:varchar(255);not null" json:"-"`
	Disabled     bool       `gorm:"not null;default:false" json:"disabled"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AdminUser) TableName() string {
	return "admin_users"
}

// AdminOperationLog 管理员操作审计表
//
// 只追加，不修改，不删除。adjust_credits 记录必须满足
// after_balance = before_balance + credit_amount
type AdminOperationLog struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OperationType string    `gorm:"type:varchar(32);index;not null" json:"operation_type"`
	AdminUsername string    `gorm:"type:varchar(64);index;not null" json:"admin_username"`
	TargetUserID  *int64    `gorm:"index" json:"target_user_id,omitempty"`
	TargetEmail   string    `gorm:"type:varchar(128)" json:"target_email,omitempty"`
	CreditAmount  int64     `gorm:"not null;default:0" json:"credit_amount"`
	BeforeBalance int64     `gorm:"not null;default:0" json:"before_balance"`
	AfterBalance  int64     `gorm:"not null;default:0" json:"after_balance"`
	Description   string    `gorm:"type:varchar(512)" json:"description"`
	IPAddress     string    `gorm:"type:varchar(64)" json:"ip_address"`
	UserAgent     string    `gorm:"type:varchar(512)" json:"user_agent"`
	ReferenceNo   *string   `gorm:"type:varchar(64);uniqueIndex" json:"reference_no,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AdminOperationLog) TableName() string {
	return "admin_operation_logs"
}

// AuditAlert 异常视图中的一行，risk_level 由查询时计算，不落库
type AuditAlert struct {
	AdminOperationLog
	RiskLevel string `json:"risk_level"`
}

// AdminSession 管理员会话，存放在 Redis，不落库
type AdminSession struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired 会话是否已过期（绝对过期，不续期）
func (s *AdminSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
