package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"creditledger/internal/apperr"
	"creditledger/internal/config"
	"creditledger/internal/infrastructure/metrics"
	"creditledger/internal/model"
	"creditledger/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ActionImageGeneration = "image_generation"
	ActionTextGeneration  = "text_generation"
)

type pricePolicy struct {
	configKey string
	fallback  int64
}

// 读取失败时的兜底价格
var pricePolicies = map[string]pricePolicy{
	ActionImageGeneration: {configKey: model.ConfigKeyImageGenerationCredits, fallback: 50},
	ActionTextGeneration:  {configKey: model.ConfigKeyTextGenerationCredits, fallback: 5},
}

var ErrUnknownAction = apperr.Validation("UNKNOWN_ACTION", "未知的计费动作类型")

const priceCacheKeyPrefix = "credit:config:"

// PricingService 解析每种计费动作的积分价格
//
// 缓存是可选的短 TTL 读穿缓存，cacheTTL 为 0 时每次都查库。
// SetConfig 写入后立即删缓存，invalidateDelay 后再删一次：
// 写入前读到旧值的请求可能在第一次删除之后才回填缓存。
type PricingService struct {
	configRepo      *repository.ConfigRepository
	rdb             *redis.Client
	cacheTTL        time.Duration
	invalidateDelay time.Duration
	timeout         time.Duration
	log             *zap.Logger
	metrics         *metrics.Metrics
}

func NewPricingService(db *gorm.DB, rdb *redis.Client, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) *PricingService {
	return &PricingService{
		configRepo:      repository.NewConfigRepository(db),
		rdb:             rdb,
		cacheTTL:        cfg.Pricing.CacheTTL,
		invalidateDelay: cfg.Pricing.InvalidateDelay,
		timeout:         cfg.Database.QueryTimeout,
		log:             log.Named("pricing"),
		metrics:         m,
	}
}

// GetCreditCost 返回动作的积分价格。配置缺失、存储不可用、值非法时返回兜底价格，不返回错误；
// 只有未知动作类型会返回 ErrUnknownAction
func (s *PricingService) GetCreditCost(ctx context.Context, actionType string) (int64, error) {
	policy, ok := pricePolicies[actionType]
	if !ok {
		return 0, ErrUnknownAction
	}

	if cost, ok := s.fromCache(ctx, policy.configKey); ok {
		return cost, nil
	}

	cost, err := s.fromStore(ctx, policy.configKey)
	if err != nil {
		s.log.Warn("读取积分价格失败，使用兜底价格",
			zap.String("action", actionType),
			zap.String("key", policy.configKey),
			zap.Int64("fallback", policy.fallback),
			zap.Error(err),
		)
		s.metrics.PricingFallbacks.WithLabelValues(actionType).Inc()
		return policy.fallback, nil
	}

	s.storeCache(ctx, policy.configKey, cost)
	return cost, nil
}

func (s *PricingService) fromStore(ctx context.Context, key string) (int64, error) {
	ctx, cancel := storeCtx(ctx, s.timeout)
	defer cancel()

	cfg, err := s.configRepo.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	return ParseCreditCost(cfg.ConfigValue)
}

func (s *PricingService) fromCache(ctx context.Context, key string) (int64, bool) {
	if s.rdb == nil || s.cacheTTL <= 0 {
		return 0, false
	}
	val, err := s.rdb.Get(ctx, priceCacheKeyPrefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Debug("读取价格缓存失败", zap.String("key", key), zap.Error(err))
		}
		return 0, false
	}
	cost, err := ParseCreditCost(val)
	if err != nil {
		return 0, false
	}
	return cost, true
}

func (s *PricingService) storeCache(ctx context.Context, key string, cost int64) {
	if s.rdb == nil || s.cacheTTL <= 0 {
		return
	}
	if err := s.rdb.Set(ctx, priceCacheKeyPrefix+key, strconv.FormatInt(cost, 10), s.cacheTTL).Err(); err != nil {
		s.log.Debug("写入价格缓存失败", zap.String("key", key), zap.Error(err))
	}
}

// invalidateLater 延迟双删
func (s *PricingService) invalidateLater(key string) {
	if s.rdb == nil || s.cacheTTL <= 0 || s.invalidateDelay <= 0 {
		return
	}
	time.AfterFunc(s.invalidateDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.invalidate(ctx, key); err != nil {
			s.log.Warn("延迟清除价格缓存失败", zap.String("key", key), zap.Error(err))
		}
	})
}

func (s *PricingService) invalidate(ctx context.Context, key string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, priceCacheKeyPrefix+key).Err()
}

// ParseCreditCost 严格解析：只接受十进制正整数
func ParseCreditCost(raw string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, errors.New("积分价格必须为正整数")
	}
	return v, nil
}

func isCreditCostKey(key string) bool {
	for _, p := range pricePolicies {
		if p.configKey == key {
			return true
		}
	}
	return false
}

func (s *PricingService) GetConfig(ctx context.Context, key string) (*model.SystemConfig, error) {
	ctx, cancel := storeCtx(ctx, s.timeout)
	defer cancel()

	cfg, err := s.configRepo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrConfigNotFound) {
			return nil, apperr.ErrConfigNotFound
		}
		return nil, apperr.Store(err)
	}
	return cfg, nil
}

// SetConfig 管理员修改配置，积分价格类配置必须是正整数，写入后清除缓存
func (s *PricingService) SetConfig(ctx context.Context, key, value, description string) (*model.SystemConfig, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperr.Validation("INVALID_PARAMS", "配置项名称不能为空")
	}
	if isCreditCostKey(key) {
		if _, err := ParseCreditCost(value); err != nil {
			return nil, apperr.Validation("INVALID_CONFIG_VALUE", "积分价格必须为正整数")
		}
	}

	sctx, cancel := storeCtx(ctx, s.timeout)
	defer cancel()

	cfg := &model.SystemConfig{
		ConfigKey:   key,
		ConfigValue: strings.TrimSpace(value),
		Description: description,
	}
	if err := s.configRepo.Upsert(sctx, cfg); err != nil {
		return nil, apperr.Store(err)
	}

	if err := s.invalidate(ctx, key); err != nil {
		// 缓存 TTL 很短，失效失败只会短暂读到旧值
		s.log.Warn("清除价格缓存失败", zap.String("key", key), zap.Error(err))
	}
	s.invalidateLater(key)

	s.log.Info("系统配置已更新", zap.String("key", key), zap.String("value", cfg.ConfigValue))
	return cfg, nil
}
