package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"creditledger/internal/apperr"
	"creditledger/internal/config"
	"creditledger/internal/infrastructure/metrics"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/internal/reqctx"
	"creditledger/pkg/password"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SessionAuditor 会话相关的审计写入
type SessionAuditor interface {
	RecordLogin(ctx context.Context, username string) error
	RecordLogout(ctx context.Context, username string) error
}

// SessionService 管理员登录态
//
// 令牌为随机 UUIDv4，有效期固定（默认 2 小时），到期必须重新登录，没有续期
type SessionService struct {
	adminRepo *repository.AdminRepository
	store     repository.SessionStore
	audit     SessionAuditor
	ttl       time.Duration
	timeout   time.Duration
	now       func() time.Time
	log       *zap.Logger
	metrics   *metrics.Metrics
}

func NewSessionService(db *gorm.DB, store repository.SessionStore, audit SessionAuditor, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) *SessionService {
	return &SessionService{
		adminRepo: repository.NewAdminRepository(db),
		store:     store,
		audit:     audit,
		ttl:       cfg.Session.TTL,
		timeout:   cfg.Database.QueryTimeout,
		now:       time.Now,
		log:       log.Named("session"),
		metrics:   m,
	}
}

// WithClock 替换时钟
func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// Login 校验账号密码并签发会话
//
// 登录失败不写审计表，只记 warn 日志和失败计数；
// 登录成功但审计写入失败时撤销会话并返回错误
func (s *SessionService) Login(ctx context.Context, username, pwd string) (*model.AdminSession, error) {
	username = strings.TrimSpace(username)
	if username == "" || pwd == "" {
		return nil, apperr.Validation("MISSING_CREDENTIALS", "用户名和密码不能为空")
	}

	qctx, cancel := storeCtx(ctx, s.timeout)
	admin, err := s.adminRepo.GetByUsername(qctx, username)
	cancel()
	if err != nil && !errors.Is(err, repository.ErrAdminNotFound) {
		s.metrics.AdminLogins.WithLabelValues("error").Inc()
		return nil, apperr.Store(err)
	}
	if admin == nil || admin.Disabled || !password.Verify(pwd, admin.PasswordHash) {
		s.metrics.AdminLogins.WithLabelValues("failure").Inc()
		client := reqctx.ClientInfoFrom(ctx)
		s.log.Warn("管理员登录失败",
			zap.String("username", username),
			zap.String("ip", client.IP),
			zap.String("user_agent", client.UserAgent),
		)
		return nil, apperr.ErrInvalidCredentials
	}

	now := s.now()
	session := &model.AdminSession{
		Token:     uuid.NewString(),
		Username:  admin.Username,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.Save(ctx, session, s.ttl); err != nil {
		s.metrics.AdminLogins.WithLabelValues("error").Inc()
		return nil, apperr.ErrStoreUnavailable.WithCause(err)
	}

	if err := s.audit.RecordLogin(ctx, admin.Username); err != nil {
		if derr := s.store.Delete(ctx, session.Token); derr != nil {
			s.log.Error("撤销会话失败", zap.String("username", admin.Username), zap.Error(derr))
		}
		s.metrics.AdminLogins.WithLabelValues("error").Inc()
		return nil, err
	}

	uctx, cancel := storeCtx(ctx, s.timeout)
	if err := s.adminRepo.UpdateLastLogin(uctx, admin.ID, now); err != nil {
		s.log.Warn("更新最后登录时间失败", zap.String("username", admin.Username), zap.Error(err))
	}
	cancel()

	s.metrics.AdminLogins.WithLabelValues("success").Inc()
	s.log.Info("管理员登录", zap.String("username", admin.Username), zap.Time("expires_at", session.ExpiresAt))
	return session, nil
}

// Verify 令牌不存在或已过期返回 NOT_AUTHENTICATED
func (s *SessionService) Verify(ctx context.Context, token string) (*model.AdminSession, error) {
	if token == "" {
		return nil, apperr.ErrUnauthenticated
	}

	session, err := s.store.Get(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, apperr.ErrUnauthenticated
		}
		return nil, apperr.ErrStoreUnavailable.WithCause(err)
	}

	if session.Expired(s.now()) {
		if err := s.store.Delete(ctx, token); err != nil {
			s.log.Debug("删除过期会话失败", zap.Error(err))
		}
		return nil, apperr.ErrUnauthenticated
	}
	return session, nil
}

// Logout 立即失效。登出审计写入失败不影响登出
func (s *SessionService) Logout(ctx context.Context, session *model.AdminSession) error {
	if session == nil {
		return apperr.ErrUnauthenticated
	}

	if err := s.store.Delete(ctx, session.Token); err != nil {
		return apperr.ErrStoreUnavailable.WithCause(err)
	}

	if err := s.audit.RecordLogout(ctx, session.Username); err != nil {
		s.log.Warn("登出审计写入失败", zap.String("username", session.Username), zap.Error(err))
	}

	s.log.Info("管理员登出", zap.String("username", session.Username))
	return nil
}

// CreateAdmin 创建管理员账号，供命令行初始化使用
func (s *SessionService) CreateAdmin(ctx context.Context, username, pwd string) (*model.AdminUser, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(pwd) < 8 {
		return nil, apperr.Validation("INVALID_PARAMS", "用户名不能为空，密码至少 8 位")
	}

	hash, err := password.Hash(pwd)
	if err != nil {
		return nil, apperr.ErrInternal.WithCause(err)
	}

	admin := &model.AdminUser{
		Username:     username,
		PasswordHash: hash,
	}

	ctx, cancel := storeCtx(ctx, s.timeout)
	defer cancel()
	if err := s.adminRepo.Create(ctx, admin); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, apperr.New(apperr.TypeConflict, "ADMIN_EXISTS", "管理员已存在", apperr.SeverityLow, 409)
		}
		return nil, apperr.Store(err)
	}
	return admin, nil
}
