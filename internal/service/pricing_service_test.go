package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"creditledger/internal/apperr"
	"creditledger/internal/infrastructure/metrics"
	"creditledger/internal/model"
	"creditledger/internal/testutil"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseCreditCost(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
		ok   bool
	}{
		{"50", 50, true},
		{" 7 ", 7, true},
		{"0", 0, false},
		{"-5", 0, false},
		{"12abc", 0, false},
		{"1e3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseCreditCost(tc.raw)
		if tc.ok {
			require.NoError(t, err, tc.raw)
			assert.Equal(t, tc.want, got, tc.raw)
		} else {
			assert.Error(t, err, tc.raw)
		}
	}
}

func TestGetCreditCostFallbacks(t *testing.T) {
	db := testutil.NewDB(t)
	m := metrics.New()
	svc := NewPricingService(db, nil, testutil.Config(), zap.NewNop(), m)

	// 配置缺失
	cost, err := svc.GetCreditCost(context.Background(), ActionImageGeneration)
	require.NoError(t, err)
	assert.Equal(t, int64(50), cost)

	// 配置值非法
	require.NoError(t, db.Create(&model.SystemConfig{ConfigKey: model.ConfigKeyTextGenerationCredits, ConfigValue: "abc"}).Error)
	cost, err = svc.GetCreditCost(context.Background(), ActionTextGeneration)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cost)

	assert.Equal(t, float64(1), promtestutil.ToFloat64(m.PricingFallbacks.WithLabelValues(ActionImageGeneration)))

	_, err = svc.GetCreditCost(context.Background(), "video_generation")
	assert.True(t, errors.Is(err, ErrUnknownAction))
}

func TestGetCreditCostStoreUnavailable(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewPricingService(db, nil, testutil.Config(), zap.NewNop(), metrics.New())

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	cost, err := svc.GetCreditCost(context.Background(), ActionImageGeneration)
	require.NoError(t, err)
	assert.Equal(t, int64(50), cost)
}

func TestGetCreditCostReadsStore(t *testing.T) {
	db := testutil.NewDB(t)
	cfg := testutil.Config()
	cfg.Pricing.CacheTTL = 0
	svc := NewPricingService(db, nil, cfg, zap.NewNop(), metrics.New())

	require.NoError(t, db.Create(&model.SystemConfig{ConfigKey: model.ConfigKeyImageGenerationCredits, ConfigValue: "80"}).Error)
	cost, err := svc.GetCreditCost(context.Background(), ActionImageGeneration)
	require.NoError(t, err)
	assert.Equal(t, int64(80), cost)

	// 无缓存时每次都重新读取
	require.NoError(t, db.Model(&model.SystemConfig{}).
		Where("config_key = ?", model.ConfigKeyImageGenerationCredits).
		Update("config_value", "90").Error)
	cost, err = svc.GetCreditCost(context.Background(), ActionImageGeneration)
	require.NoError(t, err)
	assert.Equal(t, int64(90), cost)
}

func TestSetConfigInvalidatesCache(t *testing.T) {
	db := testutil.NewDB(t)
	mr, rdb := testutil.NewRedis(t)
	svc := NewPricingService(db, rdb, testutil.Config(), zap.NewNop(), metrics.New())
	ctx := context.Background()

	_, err := svc.SetConfig(ctx, model.ConfigKeyImageGenerationCredits, "60", "图片生成单价")
	require.NoError(t, err)

	cost, err := svc.GetCreditCost(ctx, ActionImageGeneration)
	require.NoError(t, err)
	assert.Equal(t, int64(60), cost)
	assert.True(t, mr.Exists(priceCacheKeyPrefix+model.ConfigKeyImageGenerationCredits))

	_, err = svc.SetConfig(ctx, model.ConfigKeyImageGenerationCredits, "70", "")
	require.NoError(t, err)
	assert.False(t, mr.Exists(priceCacheKeyPrefix+model.ConfigKeyImageGenerationCredits))

	cost, err = svc.GetCreditCost(ctx, ActionImageGeneration)
	require.NoError(t, err)
	assert.Equal(t, int64(70), cost)

	stored, err := svc.GetConfig(ctx, model.ConfigKeyImageGenerationCredits)
	require.NoError(t, err)
	assert.Equal(t, "70", stored.ConfigValue)
}

func TestSetConfigRejectsInvalidCost(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewPricingService(db, nil, testutil.Config(), zap.NewNop(), metrics.New())

	_, err := svc.SetConfig(context.Background(), model.ConfigKeyImageGenerationCredits, "-1", "")
	require.Error(t, err)
	assert.Equal(t, "INVALID_CONFIG_VALUE", apperr.From(err).Code)

	_, err = svc.GetConfig(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperr.ErrConfigNotFound))
}

func TestSetConfigClearsStaleBackfill(t *testing.T) {
	db := testutil.NewDB(t)
	mr, rdb := testutil.NewRedis(t)
	cfg := testutil.Config()
	cfg.Pricing.InvalidateDelay = 20 * time.Millisecond
	svc := NewPricingService(db, rdb, cfg, zap.NewNop(), metrics.New())
	ctx := context.Background()
	cacheKey := priceCacheKeyPrefix + model.ConfigKeyImageGenerationCredits

	_, err := svc.SetConfig(ctx, model.ConfigKeyImageGenerationCredits, "60", "")
	require.NoError(t, err)

	// 写入前读到旧价格的请求在第一次删除之后才回填
	require.NoError(t, mr.Set(cacheKey, "50"))

	assert.Eventually(t, func() bool { return !mr.Exists(cacheKey) }, time.Second, 5*time.Millisecond)

	cost, err := svc.GetCreditCost(ctx, ActionImageGeneration)
	require.NoError(t, err)
	assert.Equal(t, int64(60), cost)
}
