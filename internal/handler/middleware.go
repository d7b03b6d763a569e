package handler

import (
	"fmt"
	"strconv"
	"time"

	"creditledger/internal/apperr"
	"creditledger/internal/config"
	"creditledger/internal/infrastructure/metrics"
	"creditledger/internal/reqctx"
	"creditledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// LoggerMiddleware 访问日志 + 请求耗时指标
func LoggerMiddleware(log *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// 处理请求
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Observe(latency.Seconds())

		fields := []zap.Field{
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
		}
		if status >= 500 {
			log.Error("http", fields...)
		} else {
			log.Info("http", fields...)
		}
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic", zap.Any("error", err), zap.String("path", c.Request.URL.Path), zap.Stack("stack"))
				response.Error(c, apperr.ErrInternal)
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// ClientInfoMiddleware 把请求方 IP 和 UA 放进 request context，审计记录从这里读取
func ClientInfoMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := reqctx.WithClientInfo(c.Request.Context(), c.ClientIP(), c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// rateLimitScript 计数与设置窗口在一个脚本内完成，计数 key 不会丢失过期时间
const rateLimitScript = `
local count = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`

var rateLimiter = redis.NewScript(rateLimitScript)

// RateLimitMiddleware 固定窗口限流，按路由 + 客户端 IP 计数
//
//	INCR ratelimit:<route>:<ip>   没有过期时间时 PEXPIRE window
//
// Redis 不可用时放行
func RateLimitMiddleware(rdb *redis.Client, cfg config.RateLimitConfig, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled || rdb == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := fmt.Sprintf("ratelimit:%s:%s", c.FullPath(), c.ClientIP())

		count, err := rateLimiter.Run(ctx, rdb, []string{key}, cfg.Window.Milliseconds()).Int64()
		if err != nil {
			log.Warn("限流计数失败，放行", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		if count > cfg.MaxRequests {
			c.Header("Retry-After", strconv.Itoa(int(cfg.Window.Seconds())))
			response.Error(c, apperr.ErrRateLimited)
			return
		}

		c.Next()
	}
}
