package model

import (
	"time"
)

// User 会员。身份信息归用户系统所有，账本只引用 ID
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Email     *string   `gorm:"type:varchar(128);uniqueIndex" json:"email,omitempty"`
	Phone     *string   `gorm:"type:varchar(32);index" json:"phone,omitempty"`
	Nickname  string    `gorm:"type:varchar(64)" json:"nickname"`
	Disabled  bool      `gorm:"not null;default:false" json:"disabled"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
