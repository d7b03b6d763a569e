package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"creditledger/internal/apperr"
	"creditledger/internal/config"
	"creditledger/internal/model"
	"creditledger/internal/reqctx"
	"creditledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuditRecorder 追加一条管理员操作审计
type AuditRecorder interface {
	Record(ctx context.Context, entry *model.AdminOperationLog) error
}

var validOperationTypes = map[string]bool{
	model.OperationCreateMember:  true,
	model.OperationAdjustCredits: true,
	model.OperationLogin:         true,
	model.OperationLogout:        true,
}

// AuditService 审计记录 + 异常视图
type AuditService struct {
	db         *gorm.DB
	auditRepo  *repository.AuditRepository
	outboxRepo *repository.OutboxRepository
	cfg        *config.Config
	log        *zap.Logger
}

func NewAuditService(db *gorm.DB, cfg *config.Config, log *zap.Logger) *AuditService {
	return &AuditService{
		db:         db,
		auditRepo:  repository.NewAuditRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
		cfg:        cfg,
		log:        log.Named("audit"),
	}
}

// Record 只追加。IP / UA 为空时从请求 context 读取，仍取不到记为 "unknown"。
//
// 带 reference_no 的记录重复写入视为已记录，便于对账任务重放。
// 写入失败返回 AUDIT_WRITE_FAILED，由调用方决定后续处理。
func (s *AuditService) Record(ctx context.Context, entry *model.AdminOperationLog) error {
	if !validOperationTypes[entry.OperationType] {
		return apperr.Validation("INVALID_OPERATION_TYPE", "未知的审计操作类型: "+entry.OperationType)
	}
	if entry.OperationType == model.OperationAdjustCredits &&
		entry.AfterBalance != entry.BeforeBalance+entry.CreditAmount {
		return apperr.ErrInternal.WithMessage("审计记录前后余额与调整值不一致")
	}

	client := reqctx.ClientInfoFrom(ctx)
	if entry.IPAddress == "" {
		entry.IPAddress = client.IP
	}
	if entry.UserAgent == "" {
		entry.UserAgent = client.UserAgent
	}

	ctx, cancel := storeCtx(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	alert := s.alertFor(entry)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.auditRepo.Insert(ctx, tx, entry); err != nil {
			return err
		}
		if alert != nil {
			if err := s.outboxRepo.Create(ctx, tx, alert); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) && entry.ReferenceNo != nil {
			s.log.Info("审计记录已存在，跳过", zap.String("reference_no", *entry.ReferenceNo))
			return nil
		}
		s.log.Error("写入审计记录失败",
			zap.String("operation", entry.OperationType),
			zap.String("admin", entry.AdminUsername),
			zap.Int64("credit_amount", entry.CreditAmount),
			zap.Error(err),
		)
		return apperr.ErrAuditWriteFailed.WithCause(err)
	}

	s.log.Info("审计记录已写入",
		zap.Int64("id", entry.ID),
		zap.String("operation", entry.OperationType),
		zap.String("admin", entry.AdminUsername),
		zap.Int64("credit_amount", entry.CreditAmount),
	)
	return nil
}

// alertFor 高风险调整额外投递告警消息
func (s *AuditService) alertFor(entry *model.AdminOperationLog) *model.OutboxMessage {
	if !s.cfg.Kafka.Enabled || entry.OperationType != model.OperationAdjustCredits {
		return nil
	}
	if RiskLevelOf(entry.CreditAmount, s.cfg.Audit.MediumRiskThreshold, s.cfg.Audit.HighRiskThreshold) != model.RiskLevelHigh {
		return nil
	}

	event := model.AuditAlertEvent{
		AdminUsername: entry.AdminUsername,
		CreditAmount:  entry.CreditAmount,
		BeforeBalance: entry.BeforeBalance,
		AfterBalance:  entry.AfterBalance,
		RiskLevel:     model.RiskLevelHigh,
		OccurredAt:    time.Now(),
	}
	if entry.ReferenceNo != nil {
		event.ReferenceNo = *entry.ReferenceNo
	}
	if entry.TargetUserID != nil {
		event.TargetUserID = *entry.TargetUserID
	}
	payload, _ := json.Marshal(event)

	key := event.ReferenceNo
	if key == "" {
		key = entry.AdminUsername
	}
	return &model.OutboxMessage{
		MessageKey: key,
		Topic:      s.cfg.Kafka.Topic.AuditAlerts,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
}

func (s *AuditService) RecordLogin(ctx context.Context, username string) error {
	return s.Record(ctx, &model.AdminOperationLog{
		OperationType: model.OperationLogin,
		AdminUsername: username,
		Description:   "管理员登录",
	})
}

func (s *AuditService) RecordLogout(ctx context.Context, username string) error {
	return s.Record(ctx, &model.AdminOperationLog{
		OperationType: model.OperationLogout,
		AdminUsername: username,
		Description:   "管理员登出",
	})
}

// RiskLevelOf 与异常视图 SQL 中的分级规则一致
func RiskLevelOf(amount, medium, high int64) string {
	if amount < 0 {
		amount = -amount
	}
	switch {
	case amount >= high:
		return model.RiskLevelHigh
	case amount >= medium:
		return model.RiskLevelMedium
	default:
		return model.RiskLevelLow
	}
}

type AlertQuery struct {
	Page      int
	Limit     int
	RiskLevel string
}

type AlertPage struct {
	Alerts     []*model.AuditAlert `json:"alerts"`
	Pagination Pagination          `json:"pagination"`
}

// ListAlerts 异常视图，page 默认 1，limit 默认 20、最大 100
func (s *AuditService) ListAlerts(ctx context.Context, q AlertQuery) (*AlertPage, error) {
	riskLevel := strings.ToUpper(strings.TrimSpace(q.RiskLevel))
	switch riskLevel {
	case "", model.RiskLevelLow, model.RiskLevelMedium, model.RiskLevelHigh:
	default:
		return nil, apperr.Validation("INVALID_RISK_LEVEL", "risk_level 只能是 LOW / MEDIUM / HIGH")
	}

	page, limit := normalizePage(q.Page, q.Limit, 20, 100)

	ctx, cancel := storeCtx(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	alerts, total, err := s.auditRepo.ListAlerts(ctx, repository.AlertFilter{
		RiskLevel:       riskLevel,
		MediumThreshold: s.cfg.Audit.MediumRiskThreshold,
		HighThreshold:   s.cfg.Audit.HighRiskThreshold,
		Offset:          (page - 1) * limit,
		Limit:           limit,
	})
	if err != nil {
		s.log.Error("查询异常视图失败", zap.Error(err))
		return nil, apperr.ErrDatabase.WithCause(err)
	}
	if alerts == nil {
		alerts = []*model.AuditAlert{}
	}

	return &AlertPage{
		Alerts:     alerts,
		Pagination: newPagination(page, limit, total),
	}, nil
}

type LogQuery struct {
	Page          int
	Limit         int
	OperationType string
	AdminUsername string
	TargetUserID  *int64
}

type LogPage struct {
	Logs       []*model.AdminOperationLog `json:"logs"`
	Pagination Pagination                 `json:"pagination"`
}

// ListLogs 完整审计记录
func (s *AuditService) ListLogs(ctx context.Context, q LogQuery) (*LogPage, error) {
	if q.OperationType != "" && !validOperationTypes[q.OperationType] {
		return nil, apperr.Validation("INVALID_OPERATION_TYPE", "未知的审计操作类型: "+q.OperationType)
	}

	page, limit := normalizePage(q.Page, q.Limit, 20, 100)

	ctx, cancel := storeCtx(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	logs, total, err := s.auditRepo.List(ctx, repository.LogFilter{
		OperationType: q.OperationType,
		AdminUsername: strings.TrimSpace(q.AdminUsername),
		TargetUserID:  q.TargetUserID,
		Offset:        (page - 1) * limit,
		Limit:         limit,
	})
	if err != nil {
		return nil, apperr.ErrDatabase.WithCause(err)
	}
	if logs == nil {
		logs = []*model.AdminOperationLog{}
	}

	return &LogPage{
		Logs:       logs,
		Pagination: newPagination(page, limit, total),
	}, nil
}

func (s *AuditService) HasReference(ctx context.Context, referenceNo string) (bool, error) {
	entry, err := s.auditRepo.GetByReferenceNo(ctx, referenceNo)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}
