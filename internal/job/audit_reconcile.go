package job

import (
	"context"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/infrastructure/metrics"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/internal/service"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuditReconcileJob 补写审计
//
// 管理员调整和创建会员都是先改余额、后写审计。审计写入失败时流水停留在
// audit_status=PENDING，这里按流水补写审计（reference_no = 流水号，重复写入视为成功），
// 然后标记 RECORDED。余额变更本身不回滚。
type AuditReconcileJob struct {
	transRepo *repository.TransactionRepository
	userRepo  *repository.UserRepository
	audit     service.AuditRecorder
	log       *zap.Logger
	metrics   *metrics.Metrics
	stopCh    chan struct{}
	interval  time.Duration
	grace     time.Duration
	batchSize int
}

func NewAuditReconcileJob(db *gorm.DB, audit service.AuditRecorder, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) *AuditReconcileJob {
	return &AuditReconcileJob{
		transRepo: repository.NewTransactionRepository(db),
		userRepo:  repository.NewUserRepository(db),
		audit:     audit,
		log:       log.Named("job.reconcile"),
		metrics:   m,
		stopCh:    make(chan struct{}),
		interval:  cfg.Business.ReconcileInterval,
		grace:     cfg.Business.ReconcileGracePeriod,
		batchSize: 50,
	}
}

func (j *AuditReconcileJob) Start(ctx context.Context) {
	j.log.Info("审计对账任务启动", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("任务停止")
			return
		case <-ticker.C:
			j.RunOnce(ctx, time.Now().Add(-j.grace))
		}
	}
}

func (j *AuditReconcileJob) Stop() {
	close(j.stopCh)
}

// RunOnce 处理 before 之前创建的待审计流水，返回补写成功的条数
//
// 刚提交的流水可能正在由请求本身写审计，before 留出宽限期
func (j *AuditReconcileJob) RunOnce(ctx context.Context, before time.Time) int {
	pending, err := j.transRepo.ListPendingAudit(ctx, before, j.batchSize)
	if err != nil {
		j.log.Error("查询待审计流水失败", zap.Error(err))
		return 0
	}
	if len(pending) == 0 {
		return 0
	}

	j.log.Warn("发现审计缺失的流水", zap.Int("count", len(pending)))

	repaired := 0
	for _, trans := range pending {
		if j.reconcile(ctx, trans) {
			repaired++
		}
	}

	j.log.Info("本次补写审计完成", zap.Int("repaired", repaired), zap.Int("pending", len(pending)))
	return repaired
}

func (j *AuditReconcileJob) reconcile(ctx context.Context, trans *model.CreditTransaction) bool {
	entry := j.entryFor(ctx, trans)
	if entry == nil {
		j.log.Error("未知的待审计流水类型", zap.String("transaction_no", trans.TransactionNo), zap.String("type", trans.Type))
		return false
	}

	if err := j.audit.Record(ctx, entry); err != nil {
		j.log.Error("补写审计失败", zap.String("transaction_no", trans.TransactionNo), zap.Error(err))
		return false
	}

	if err := j.transRepo.MarkAuditRecorded(ctx, trans.TransactionNo); err != nil {
		j.log.Error("标记审计状态失败", zap.String("transaction_no", trans.TransactionNo), zap.Error(err))
		return false
	}

	j.metrics.ReconciledAudits.Inc()
	j.log.Info("审计已补写",
		zap.String("transaction_no", trans.TransactionNo),
		zap.String("operator", trans.Operator),
		zap.Int64("user_id", trans.UserID),
		zap.Int64("amount", trans.Amount),
	)
	return true
}

func (j *AuditReconcileJob) entryFor(ctx context.Context, trans *model.CreditTransaction) *model.AdminOperationLog {
	var operation string
	switch trans.Type {
	case model.TransactionTypeAdminAdjust:
		operation = model.OperationAdjustCredits
	case model.TransactionTypeInitialGrant:
		operation = model.OperationCreateMember
	default:
		return nil
	}

	userID := trans.UserID
	no := trans.TransactionNo
	entry := &model.AdminOperationLog{
		OperationType: operation,
		AdminUsername: trans.Operator,
		TargetUserID:  &userID,
		CreditAmount:  trans.Amount,
		BeforeBalance: trans.BalanceBefore,
		AfterBalance:  trans.BalanceAfter,
		Description:   trans.Reason + "（对账补写）",
		ReferenceNo:   &no,
	}

	if operation == model.OperationCreateMember {
		if user, err := j.userRepo.GetByID(ctx, trans.UserID); err == nil && user.Email != nil {
			entry.TargetEmail = *user.Email
		}
	}
	return entry
}
