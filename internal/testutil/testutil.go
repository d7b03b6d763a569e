// Package testutil 测试用的内存数据库、Redis 和默认配置
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/infrastructure/database"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq int64

// NewDB 每个测试独立的内存 SQLite，已迁移表结构
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, atomic.AddInt64(&dbSeq, 1))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// NewRedis miniredis 实例和连接它的客户端
func NewRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// Config 默认配置，关闭 Kafka，调整锁快速失败，价格缓存不做延迟双删
func Config() *config.Config {
	cfg := config.Default()
	cfg.Database.Type = "sqlite"
	cfg.Database.QueryTimeout = 5 * time.Second
	cfg.Kafka.Enabled = false
	cfg.Business.AdjustLockRetries = 3
	cfg.Business.MaxRetryCount = 3
	cfg.Pricing.InvalidateDelay = 0
	return cfg
}
