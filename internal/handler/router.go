package handler

import (
	"creditledger/internal/config"
	"creditledger/internal/infrastructure/metrics"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log.Named("access"), m))
	r.Use(CORSMiddleware())
	r.Use(ClientInfoMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg, log, m)

	admin := r.Group("/admin")
	{
		admin.POST("/auth/login", h.Login)

		authed := admin.Group("", AdminAuthMiddleware(h))
		{
			authed.POST("/auth/logout", h.Logout)
			authed.GET("/auth/session", h.Session)

			authed.GET("/audit/alerts", h.ListAlerts)
			authed.GET("/audit/logs", h.ListLogs)

			authed.POST("/members", h.CreateMember)
			authed.POST("/members/disable", h.DisableMember)
			authed.POST("/members/credits", h.AdjustCredits)
			authed.GET("/members/:id/balance", h.MemberBalance)
			authed.GET("/members/:id/transactions", h.MemberTransactions)
			authed.GET("/users/search", h.SearchUsers)

			authed.GET("/config/:key", h.GetConfig)
			authed.PUT("/config/:key", h.SetConfig)
		}
	}

	credits := r.Group("/credits")
	{
		credits.GET("/deduction-rate", h.DeductionRate)
		credits.GET("/image-generation-rate", h.ImageGenerationRate)
		credits.GET("/balance", h.Balance)
		credits.POST("/deduct", RateLimitMiddleware(rdb, cfg.RateLimit, log.Named("ratelimit")), h.Deduct)
		credits.POST("/refund", h.Refund)
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	return r
}
