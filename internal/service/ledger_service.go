package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"creditledger/internal/apperr"
	"creditledger/internal/config"
	"creditledger/internal/infrastructure/lock"
	"creditledger/internal/infrastructure/metrics"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============================================================================
// 积分账本
// ============================================================================
//
// 所有余额变更都在一个数据库事务内完成：
//   条件更新余额 -> 写积分流水 -> 写 outbox 消息
//
// 扣减的检查与写入是同一条 UPDATE，不依赖任何进程内锁。
// 管理员调整额外按用户加 Redis 锁，并在事务提交后写审计（见 AdminAdjust）。
//
// ============================================================================

// LedgerResult 一次余额变更的结果
type LedgerResult struct {
	TransactionNo string `json:"transaction_no"`
	UserID        int64  `json:"user_id"`
	Amount        int64  `json:"amount"`
	BalanceBefore int64  `json:"balance_before"`
	BalanceAfter  int64  `json:"balance_after"`
	Replayed      bool   `json:"replayed"` // 幂等重放，未重复扣费
}

type DebitRequest struct {
	RequestID string
	UserID    int64
	Amount    int64
	Reason    string
}

type CreditRequest struct {
	RequestID string
	UserID    int64
	Amount    int64
	Reason    string
	Operator  string
}

type RefundRequest struct {
	RequestID string // 原扣费请求的 request_id
	Reason    string
}

type AdjustRequest struct {
	UserID      int64
	Delta       int64
	Description string
}

type AdjustResult struct {
	TransactionNo string `json:"transaction_no"`
	UserID        int64  `json:"user_id"`
	Delta         int64  `json:"delta"`
	BalanceBefore int64  `json:"before_balance"`
	BalanceAfter  int64  `json:"after_balance"`
}

type LedgerService struct {
	db          *gorm.DB
	rdb         *redis.Client
	balanceRepo *repository.BalanceRepository
	transRepo   *repository.TransactionRepository
	outboxRepo  *repository.OutboxRepository
	audit       AuditRecorder
	cfg         *config.Config
	log         *zap.Logger
	metrics     *metrics.Metrics
}

func NewLedgerService(db *gorm.DB, rdb *redis.Client, audit AuditRecorder, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) *LedgerService {
	return &LedgerService{
		db:          db,
		rdb:         rdb,
		balanceRepo: repository.NewBalanceRepository(db),
		transRepo:   repository.NewTransactionRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		audit:       audit,
		cfg:         cfg,
		log:         log.Named("ledger"),
		metrics:     m,
	}
}

func (s *LedgerService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := storeCtx(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	balance, err := s.balanceRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		return 0, translateLedgerErr(err)
	}
	return balance.Balance, nil
}

// mutation 一次余额变更的内部描述，amount 带符号
type mutation struct {
	requestID   string
	userID      int64
	amount      int64
	txType      string
	reason      string
	operator    string
	auditStatus string
}

// Debit 扣减积分
//
// 余额不足返回 INSUFFICIENT_CREDITS，余额不变；相同 request_id 重复调用返回首次结果
func (s *LedgerService) Debit(ctx context.Context, req DebitRequest) (*LedgerResult, error) {
	if req.Amount <= 0 {
		return nil, apperr.ErrInvalidAmount
	}

	result, err := s.apply(ctx, mutation{
		requestID: req.RequestID,
		userID:    req.UserID,
		amount:    -req.Amount,
		txType:    model.TransactionTypeDebit,
		reason:    req.Reason,
	})
	if err != nil {
		s.metrics.Debits.WithLabelValues(debitResultLabel(err)).Inc()
		return nil, err
	}

	label := "success"
	if result.Replayed {
		label = "replayed"
	}
	s.metrics.Debits.WithLabelValues(label).Inc()
	return result, nil
}

func debitResultLabel(err error) string {
	switch {
	case errors.Is(err, apperr.ErrInsufficientCredits):
		return "insufficient"
	case errors.Is(err, apperr.ErrBalanceNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// Credit 增加积分，没有上限
func (s *LedgerService) Credit(ctx context.Context, req CreditRequest) (*LedgerResult, error) {
	if req.Amount <= 0 {
		return nil, apperr.ErrInvalidAmount
	}

	return s.apply(ctx, mutation{
		requestID: req.RequestID,
		userID:    req.UserID,
		amount:    req.Amount,
		txType:    model.TransactionTypeCredit,
		reason:    req.Reason,
		operator:  req.Operator,
	})
}

// Refund 付费动作失败后退回原扣费金额，同一笔扣费只退一次
func (s *LedgerService) Refund(ctx context.Context, req RefundRequest) (*LedgerResult, error) {
	if req.RequestID == "" {
		return nil, apperr.Validation("INVALID_PARAMS", "request_id 不能为空")
	}

	qctx, cancel := storeCtx(ctx, s.cfg.Database.QueryTimeout)
	original, err := s.transRepo.GetByRequestID(qctx, nil, req.RequestID)
	cancel()
	if err != nil {
		return nil, apperr.Store(err)
	}
	if original == nil {
		return nil, apperr.ErrTransactionNotFound
	}
	if original.Type != model.TransactionTypeDebit {
		return nil, apperr.Validation("NOT_REFUNDABLE", "只有扣费记录可以退回")
	}

	reason := req.Reason
	if reason == "" {
		reason = "退回扣费 " + original.TransactionNo
	}

	return s.apply(ctx, mutation{
		requestID: refundRequestID(req.RequestID),
		userID:    original.UserID,
		amount:    -original.Amount,
		txType:    model.TransactionTypeRefund,
		reason:    reason,
	})
}

func refundRequestID(original string) string {
	return "refund:" + original
}

// apply 执行一次余额变更并写流水、outbox，带幂等重放
func (s *LedgerService) apply(ctx context.Context, m mutation) (*LedgerResult, error) {
	ctx, cancel := storeCtx(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	if m.requestID != "" {
		if result, err := s.replay(ctx, m); result != nil || err != nil {
			return result, err
		}
	}

	var trans *model.CreditTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.applyTx(ctx, tx, m)
		if err != nil {
			return err
		}
		trans = t
		return nil
	})
	if err != nil {
		// 并发的重复请求由唯一索引拦下，事务已回滚，返回先提交的那一笔
		if errors.Is(err, repository.ErrDuplicateKey) && m.requestID != "" {
			if result, rerr := s.replay(ctx, m); result != nil || rerr != nil {
				return result, rerr
			}
		}
		if !isExpectedLedgerErr(err) {
			s.log.Error("余额变更失败",
				zap.Int64("user_id", m.userID),
				zap.String("type", m.txType),
				zap.Int64("amount", m.amount),
				zap.Error(err),
			)
		}
		return nil, translateLedgerErr(err)
	}

	s.log.Info("余额变更成功",
		zap.String("transaction_no", trans.TransactionNo),
		zap.Int64("user_id", trans.UserID),
		zap.String("type", trans.Type),
		zap.Int64("amount", trans.Amount),
		zap.Int64("balance_after", trans.BalanceAfter),
	)
	return resultFrom(trans, false), nil
}

// applyTx 在调用方的事务内执行余额变更，事务内所有读写都走 tx
func (s *LedgerService) applyTx(ctx context.Context, tx *gorm.DB, m mutation) (*model.CreditTransaction, error) {
	var (
		balance *model.CreditBalance
		err     error
	)
	switch m.txType {
	case model.TransactionTypeDebit:
		balance, err = s.balanceRepo.Deduct(ctx, tx, m.userID, -m.amount)
	case model.TransactionTypeAdminAdjust:
		balance, err = s.balanceRepo.Adjust(ctx, tx, m.userID, m.amount)
	default:
		balance, err = s.balanceRepo.Increase(ctx, tx, m.userID, m.amount)
	}
	if err != nil {
		return nil, err
	}

	trans := &model.CreditTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		RequestID:     optionalString(m.requestID),
		UserID:        m.userID,
		Amount:        m.amount,
		Type:          m.txType,
		Reason:        m.reason,
		BalanceBefore: balance.Balance - m.amount,
		BalanceAfter:  balance.Balance,
		Operator:      m.operator,
		AuditStatus:   m.auditStatus,
	}
	if err := s.transRepo.Create(ctx, tx, trans); err != nil {
		return nil, err
	}

	if err := s.enqueueEvent(ctx, tx, trans); err != nil {
		return nil, fmt.Errorf("写入outbox消息失败: %w", err)
	}
	return trans, nil
}

// replay 相同 request_id 已有流水时返回首次结果；没有时返回 nil, nil
func (s *LedgerService) replay(ctx context.Context, m mutation) (*LedgerResult, error) {
	existing, err := s.transRepo.GetByRequestID(ctx, nil, m.requestID)
	if err != nil {
		return nil, apperr.Store(err)
	}
	if existing == nil {
		return nil, nil
	}
	if existing.UserID != m.userID || existing.Type != m.txType || existing.Amount != m.amount {
		return nil, apperr.New(apperr.TypeConflict, "REQUEST_ID_REUSED",
			"request_id 已被另一笔不同的交易使用", apperr.SeverityMedium, 409)
	}

	s.log.Info("幂等重放",
		zap.String("request_id", m.requestID),
		zap.String("transaction_no", existing.TransactionNo),
	)
	return resultFrom(existing, true), nil
}

func resultFrom(t *model.CreditTransaction, replayed bool) *LedgerResult {
	return &LedgerResult{
		TransactionNo: t.TransactionNo,
		UserID:        t.UserID,
		Amount:        t.Amount,
		BalanceBefore: t.BalanceBefore,
		BalanceAfter:  t.BalanceAfter,
		Replayed:      replayed,
	}
}

// enqueueEvent Kafka 关闭时不写 outbox
func (s *LedgerService) enqueueEvent(ctx context.Context, tx *gorm.DB, t *model.CreditTransaction) error {
	if !s.cfg.Kafka.Enabled {
		return nil
	}

	payload, err := json.Marshal(model.CreditEvent{
		TransactionNo: t.TransactionNo,
		UserID:        t.UserID,
		Type:          t.Type,
		Amount:        t.Amount,
		BalanceBefore: t.BalanceBefore,
		BalanceAfter:  t.BalanceAfter,
		Reason:        t.Reason,
		Operator:      t.Operator,
		OccurredAt:    time.Now(),
	})
	if err != nil {
		return err
	}

	return s.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: fmt.Sprintf("%d", t.UserID),
		Topic:      s.cfg.Kafka.Topic.CreditEvents,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

// ============================================================================
// 管理员调整
// ============================================================================

// AdminAdjust 管理员调整余额
//
// 两步写入：
//  1. 事务内条件更新余额（balance + delta >= 0），流水标记 audit_status=PENDING
//  2. 事务提交后写审计，reference_no = 流水号；成功后标记 RECORDED
//
// 第 2 步失败时余额变更保留，返回 AUDIT_WRITE_FAILED 并附带前后余额，
// 流水保持 PENDING，由 AuditReconcileJob 补写审计。
func (s *LedgerService) AdminAdjust(ctx context.Context, session *model.AdminSession, req AdjustRequest) (*AdjustResult, error) {
	if session == nil {
		return nil, apperr.ErrUnauthenticated
	}
	if req.Delta == 0 {
		return nil, apperr.Validation("INVALID_PARAMS", "调整值不能为 0")
	}

	unlock, err := s.lockUser(ctx, req.UserID, uuid.NewString())
	if err != nil {
		s.metrics.Adjustments.WithLabelValues("conflict").Inc()
		return nil, err
	}
	defer unlock()

	sctx, cancel := storeCtx(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	var trans *model.CreditTransaction
	err = s.db.WithContext(sctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.applyTx(sctx, tx, mutation{
			userID:      req.UserID,
			amount:      req.Delta,
			txType:      model.TransactionTypeAdminAdjust,
			reason:      req.Description,
			operator:    session.Username,
			auditStatus: model.AuditStatusPending,
		})
		if err != nil {
			return err
		}
		trans = t
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNegativeBalance) {
			s.metrics.Adjustments.WithLabelValues("invalid").Inc()
			s.log.Warn("调整后余额为负，拒绝",
				zap.String("admin", session.Username),
				zap.Int64("user_id", req.UserID),
				zap.Int64("delta", req.Delta),
			)
		} else {
			s.metrics.Adjustments.WithLabelValues("error").Inc()
		}
		return nil, translateLedgerErr(err)
	}

	result := &AdjustResult{
		TransactionNo: trans.TransactionNo,
		UserID:        trans.UserID,
		Delta:         trans.Amount,
		BalanceBefore: trans.BalanceBefore,
		BalanceAfter:  trans.BalanceAfter,
	}

	entry := s.adjustAuditEntry(trans, session.Username)
	if err := s.audit.Record(ctx, entry); err != nil {
		s.metrics.Adjustments.WithLabelValues("audit_failed").Inc()
		s.metrics.AuditWriteFailures.Inc()
		s.log.Error("余额已调整但审计写入失败，等待对账",
			zap.String("transaction_no", trans.TransactionNo),
			zap.String("admin", session.Username),
			zap.Int64("user_id", trans.UserID),
			zap.Int64("before", trans.BalanceBefore),
			zap.Int64("after", trans.BalanceAfter),
			zap.Error(err),
		)
		return nil, apperr.ErrAuditWriteFailed.WithCause(err).WithDetails(result)
	}

	if err := s.markAuditRecorded(ctx, trans.TransactionNo); err != nil {
		// 审计已写入，对账任务会发现重复 reference_no 后补标记
		s.log.Warn("标记审计状态失败", zap.String("transaction_no", trans.TransactionNo), zap.Error(err))
	}

	s.metrics.Adjustments.WithLabelValues("success").Inc()
	s.log.Info("管理员调整成功",
		zap.String("transaction_no", trans.TransactionNo),
		zap.String("admin", session.Username),
		zap.Int64("user_id", trans.UserID),
		zap.Int64("delta", trans.Amount),
		zap.Int64("before", trans.BalanceBefore),
		zap.Int64("after", trans.BalanceAfter),
	)
	return result, nil
}

// lockUser 同一用户的调整串行执行，拿不到锁返回 CONFLICT
//
// owner 每次调用唯一，锁过期后被别的请求拿到时，本次的 Unlock 不会误删
func (s *LedgerService) lockUser(ctx context.Context, userID int64, owner string) (func(), error) {
	if s.rdb == nil {
		return func() {}, nil
	}

	l := lock.NewAdjustLock(s.rdb, userID, owner, s.cfg.Business.AdjustLockTTL)
	if err := l.Lock(ctx, 50*time.Millisecond, s.cfg.Business.AdjustLockRetries); err != nil {
		if errors.Is(err, lock.ErrLockFailed) {
			return nil, apperr.ErrConflict
		}
		return nil, apperr.ErrStoreUnavailable.WithCause(err)
	}

	return func() {
		// 请求 ctx 可能已取消，释放锁用独立 ctx
		uctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := l.Unlock(uctx); err != nil {
			s.log.Warn("释放调整锁失败", zap.Int64("user_id", userID), zap.Error(err))
		}
	}, nil
}

func (s *LedgerService) adjustAuditEntry(t *model.CreditTransaction, admin string) *model.AdminOperationLog {
	userID := t.UserID
	no := t.TransactionNo
	return &model.AdminOperationLog{
		OperationType: model.OperationAdjustCredits,
		AdminUsername: admin,
		TargetUserID:  &userID,
		CreditAmount:  t.Amount,
		BeforeBalance: t.BalanceBefore,
		AfterBalance:  t.BalanceAfter,
		Description:   t.Reason,
		ReferenceNo:   &no,
	}
}

func (s *LedgerService) markAuditRecorded(ctx context.Context, transactionNo string) error {
	ctx, cancel := storeCtx(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()
	return s.transRepo.MarkAuditRecorded(ctx, transactionNo)
}

// OpenAccount 在调用方事务内创建余额行，并写一笔 INITIAL_GRANT 流水（待审计）
//
// 初始积分为 0 时也写一笔 0 额流水，作为 create_member 审计的对账标记
func (s *LedgerService) OpenAccount(ctx context.Context, tx *gorm.DB, userID, initial int64, operator string) (*model.CreditTransaction, error) {
	if initial < 0 {
		return nil, apperr.ErrInvalidAmount
	}

	_, created, err := s.balanceRepo.GetOrCreate(ctx, tx, userID, 0)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, nil
	}

	return s.applyTx(ctx, tx, mutation{
		userID:      userID,
		amount:      initial,
		txType:      model.TransactionTypeInitialGrant,
		reason:      "初始积分",
		operator:    operator,
		auditStatus: model.AuditStatusPending,
	})
}

// EnsureBalance 懒创建余额行
func (s *LedgerService) EnsureBalance(ctx context.Context, userID, initial int64) (int64, error) {
	ctx, cancel := storeCtx(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	balance, _, err := s.balanceRepo.GetOrCreate(ctx, nil, userID, initial)
	if err != nil {
		return 0, apperr.Store(err)
	}
	return balance.Balance, nil
}

type TransactionPage struct {
	Transactions []*model.CreditTransaction `json:"transactions"`
	Pagination   Pagination                 `json:"pagination"`
}

func (s *LedgerService) ListTransactions(ctx context.Context, userID int64, page, limit int) (*TransactionPage, error) {
	page, limit = normalizePage(page, limit, 20, 100)

	ctx, cancel := storeCtx(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	list, total, err := s.transRepo.ListByUserID(ctx, userID, page, limit)
	if err != nil {
		return nil, apperr.Store(err)
	}
	if list == nil {
		list = []*model.CreditTransaction{}
	}
	return &TransactionPage{
		Transactions: list,
		Pagination:   newPagination(page, limit, total),
	}, nil
}

func isExpectedLedgerErr(err error) bool {
	return errors.Is(err, repository.ErrBalanceNotFound) ||
		errors.Is(err, repository.ErrBalanceNotEnough) ||
		errors.Is(err, repository.ErrNegativeBalance)
}

// translateLedgerErr 仓储层哨兵错误 -> 对外错误
func translateLedgerErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrBalanceNotFound):
		return apperr.ErrBalanceNotFound
	case errors.Is(err, repository.ErrBalanceNotEnough):
		return apperr.ErrInsufficientCredits
	case errors.Is(err, repository.ErrNegativeBalance):
		return apperr.ErrInvalidAdjustment
	default:
		return apperr.Store(err)
	}
}
