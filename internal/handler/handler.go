package handler

import (
	"strconv"

	"creditledger/internal/config"
	"creditledger/internal/infrastructure/metrics"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/internal/service"
	"creditledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	sessions *service.SessionService
	ledger   *service.LedgerService
	audit    *service.AuditService
	members  *service.MemberService
	pricing  *service.PricingService
	cfg      *config.Config
	log      *zap.Logger
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) *Handler {
	audit := service.NewAuditService(db, cfg, log)
	ledger := service.NewLedgerService(db, rdb, audit, cfg, log, m)

	return &Handler{
		sessions: service.NewSessionService(db, repository.NewRedisSessionStore(rdb), audit, cfg, log, m),
		ledger:   ledger,
		audit:    audit,
		members:  service.NewMemberService(db, ledger, audit, cfg, log),
		pricing:  service.NewPricingService(db, rdb, cfg, log, m),
		cfg:      cfg,
		log:      log.Named("http"),
	}
}

const sessionContextKey = "admin_session"

// currentSession 由 AdminAuthMiddleware 写入
func currentSession(c *gin.Context) *model.AdminSession {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return nil
	}
	session, _ := v.(*model.AdminSession)
	return session
}

// queryInt 参数缺省返回 0；格式错误时已写入 400 响应，返回 false
func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		response.ParamError(c, "INVALID_PARAMS", name+" 参数错误")
		return 0, false
	}
	return v, true
}

func pathUserID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "INVALID_PARAMS", "用户ID参数错误")
		return 0, false
	}
	return id, true
}
