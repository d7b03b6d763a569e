package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"creditledger/internal/apperr"
	"creditledger/internal/config"
	"creditledger/internal/model"
	"creditledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CreateMemberRequest struct {
	Email          string
	Phone          string
	Nickname       string
	InitialCredits int64
}

type Member struct {
	User    *model.User `json:"user"`
	Balance int64       `json:"balance"`
}

// MemberService 会员管理：创建、禁用、搜索
type MemberService struct {
	db       *gorm.DB
	userRepo *repository.UserRepository
	ledger   *LedgerService
	audit    AuditRecorder
	timeout  time.Duration
	log      *zap.Logger
}

func NewMemberService(db *gorm.DB, ledger *LedgerService, audit AuditRecorder, cfg *config.Config, log *zap.Logger) *MemberService {
	return &MemberService{
		db:       db,
		userRepo: repository.NewUserRepository(db),
		ledger:   ledger,
		audit:    audit,
		timeout:  cfg.Database.QueryTimeout,
		log:      log.Named("member"),
	}
}

// CreateMember 创建会员和余额行，初始积分记一笔 INITIAL_GRANT，并写 create_member 审计
//
// 审计写入失败与管理员调整一样：会员保留，返回 AUDIT_WRITE_FAILED，等待对账
func (s *MemberService) CreateMember(ctx context.Context, session *model.AdminSession, req CreateMemberRequest) (*Member, error) {
	if session == nil {
		return nil, apperr.ErrUnauthenticated
	}
	email := strings.TrimSpace(req.Email)
	phone := strings.TrimSpace(req.Phone)
	if email == "" && phone == "" {
		return nil, apperr.Validation("INVALID_PARAMS", "邮箱和手机号至少填写一个")
	}
	if req.InitialCredits < 0 {
		return nil, apperr.ErrInvalidAmount.WithMessage("初始积分不能为负数")
	}

	user := &model.User{
		Email:    optionalString(email),
		Phone:    optionalString(phone),
		Nickname: strings.TrimSpace(req.Nickname),
	}

	sctx, cancel := storeCtx(ctx, s.timeout)
	defer cancel()

	var grant *model.CreditTransaction
	err := s.db.WithContext(sctx).Transaction(func(tx *gorm.DB) error {
		if err := s.userRepo.Create(sctx, tx, user); err != nil {
			return err
		}
		t, err := s.ledger.OpenAccount(sctx, tx, user.ID, req.InitialCredits, session.Username)
		if err != nil {
			return err
		}
		grant = t
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, apperr.ErrMemberExists
		}
		return nil, apperr.Store(err)
	}

	member := &Member{User: user, Balance: req.InitialCredits}

	entry := memberAuditEntry(user, req.InitialCredits, session.Username, grant)
	if err := s.audit.Record(ctx, entry); err != nil {
		s.ledger.metrics.AuditWriteFailures.Inc()
		s.log.Error("会员已创建但审计写入失败，等待对账",
			zap.Int64("user_id", user.ID),
			zap.String("admin", session.Username),
			zap.Error(err),
		)
		return nil, apperr.ErrAuditWriteFailed.WithCause(err).WithDetails(member)
	}
	if grant != nil {
		if err := s.ledger.markAuditRecorded(ctx, grant.TransactionNo); err != nil {
			s.log.Warn("标记审计状态失败", zap.String("transaction_no", grant.TransactionNo), zap.Error(err))
		}
	}

	s.log.Info("会员已创建",
		zap.Int64("user_id", user.ID),
		zap.String("admin", session.Username),
		zap.Int64("initial_credits", req.InitialCredits),
	)
	return member, nil
}

func memberAuditEntry(user *model.User, initial int64, admin string, grant *model.CreditTransaction) *model.AdminOperationLog {
	userID := user.ID
	entry := &model.AdminOperationLog{
		OperationType: model.OperationCreateMember,
		AdminUsername: admin,
		TargetUserID:  &userID,
		CreditAmount:  initial,
		BeforeBalance: 0,
		AfterBalance:  initial,
		Description:   fmt.Sprintf("创建会员，初始积分 %d", initial),
	}
	if user.Email != nil {
		entry.TargetEmail = *user.Email
	}
	if grant != nil {
		no := grant.TransactionNo
		entry.ReferenceNo = &no
	}
	return entry
}

func (s *MemberService) SetDisabled(ctx context.Context, session *model.AdminSession, userID int64, disabled bool) error {
	if session == nil {
		return apperr.ErrUnauthenticated
	}
	if userID <= 0 {
		return apperr.Validation("INVALID_PARAMS", "user_id 不合法")
	}

	ctx, cancel := storeCtx(ctx, s.timeout)
	defer cancel()

	if err := s.userRepo.SetDisabled(ctx, userID, disabled); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return apperr.ErrUserNotFound
		}
		return apperr.Store(err)
	}

	s.log.Info("会员状态已更新",
		zap.Int64("user_id", userID),
		zap.Bool("disabled", disabled),
		zap.String("admin", session.Username),
	)
	return nil
}

// Search 邮箱 / 昵称 / 手机号子串搜索，关键字至少 2 个字符，limit 默认 10、最大 50
func (s *MemberService) Search(ctx context.Context, q string, limit int) ([]*model.User, error) {
	q = strings.TrimSpace(q)
	if utf8.RuneCountInString(q) < 2 {
		return nil, apperr.Validation("QUERY_TOO_SHORT", "搜索关键字至少 2 个字符")
	}
	_, limit = normalizePage(1, limit, 10, 50)

	ctx, cancel := storeCtx(ctx, s.timeout)
	defer cancel()

	users, err := s.userRepo.Search(ctx, q, limit)
	if err != nil {
		return nil, apperr.Store(err)
	}
	if users == nil {
		users = []*model.User{}
	}
	return users, nil
}

func (s *MemberService) GetMember(ctx context.Context, userID int64) (*Member, error) {
	qctx, cancel := storeCtx(ctx, s.timeout)
	user, err := s.userRepo.GetByID(qctx, userID)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, apperr.Store(err)
	}

	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil && !errors.Is(err, apperr.ErrBalanceNotFound) {
		return nil, err
	}
	return &Member{User: user, Balance: balance}, nil
}
