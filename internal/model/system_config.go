package model

import (
	"time"
)

const (
	ConfigKeyImageGenerationCredits = "image_generation_credits"
	ConfigKeyTextGenerationCredits  = "text_generation_credits"
)

// SystemConfig 系统配置表，值一律以字符串保存，由读取方负责校验
type SystemConfig struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ConfigKey   string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"config_key"`
	ConfigValue string    `gorm:"type:varchar(1024);not null" json:"config_value"`
	Description string    `gorm:"type:varchar(256)" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SystemConfig) TableName() string {
	return "system_configs"
}
