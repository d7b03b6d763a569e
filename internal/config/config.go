package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Session   SessionConfig   `mapstructure:"session"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Audit     AuditConfig     `mapstructure:"audit"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Business  BusinessConfig  `mapstructure:"business"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port     int `mapstructure:"port"`
	WorkerID int `mapstructure:"worker_id"`
}

// DatabaseConfig Type 取值 mysql / postgres / sqlite
type DatabaseConfig struct {
	Type         string        `mapstructure:"type"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	Database     string        `mapstructure:"database"`
	SSLMode      string        `mapstructure:"ssl_mode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	LogLevel     string        `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	CreditEvents string `mapstructure:"credit_events"`
	AuditAlerts  string `mapstructure:"audit_alerts"`
}

type SessionConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	CookieName   string        `mapstructure:"cookie_name"`
	CookieSecure bool          `mapstructure:"cookie_secure"`
}

type PricingConfig struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	InvalidateDelay time.Duration `mapstructure:"invalidate_delay"` // 修改配置后延迟再删一次缓存
}

type AuditConfig struct {
	MediumRiskThreshold int64 `mapstructure:"medium_risk_threshold"`
	HighRiskThreshold   int64 `mapstructure:"high_risk_threshold"`
}

type RateLimitConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxRequests int64         `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

type BusinessConfig struct {
	MaxRetryCount        int           `mapstructure:"max_retry_count"`
	AdjustLockTTL        time.Duration `mapstructure:"adjust_lock_ttl"`
	AdjustLockRetries    int           `mapstructure:"adjust_lock_retries"`
	ReconcileInterval    time.Duration `mapstructure:"reconcile_interval"`
	ReconcileGracePeriod time.Duration `mapstructure:"reconcile_grace_period"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Default 返回带默认值的配置，测试和未提供配置文件时使用
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// 默认值全部是合法类型，这里不会失败
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)

	v.SetDefault("database.type", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.database", "credit_ledger")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.query_timeout", 5*time.Second)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.credit_events", "credit_events")
	v.SetDefault("kafka.topic.audit_alerts", "audit_alerts")

	v.SetDefault("session.ttl", 2*time.Hour)
	v.SetDefault("session.cookie_name", "admin_session")
	v.SetDefault("session.cookie_secure", true)

	v.SetDefault("pricing.cache_ttl", 30*time.Second)
	v.SetDefault("pricing.invalidate_delay", time.Second)

	v.SetDefault("audit.medium_risk_threshold", 100)
	v.SetDefault("audit.high_risk_threshold", 1000)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.max_requests", 10)
	v.SetDefault("ratelimit.window", time.Minute)

	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.adjust_lock_ttl", 10*time.Second)
	v.SetDefault("business.adjust_lock_retries", 20)
	v.SetDefault("business.reconcile_interval", 30*time.Second)
	v.SetDefault("business.reconcile_grace_period", time.Minute)

	v.SetDefault("log.level", "info")
}

// LoadConfig 加载配置文件，环境变量 CREDITLEDGER_* 可覆盖任意配置项
// configPath 为空时只使用默认值和环境变量
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CREDITLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if cfg.Audit.HighRiskThreshold < cfg.Audit.MediumRiskThreshold {
		return nil, fmt.Errorf("audit.high_risk_threshold (%d) 不能小于 audit.medium_risk_threshold (%d)",
			cfg.Audit.HighRiskThreshold, cfg.Audit.MediumRiskThreshold)
	}

	return cfg, nil
}
