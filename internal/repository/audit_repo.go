package repository

import (
	"context"
	"errors"
	"fmt"

	"creditledger/internal/model"

	"gorm.io/gorm"
)

// AuditRepository 管理员操作审计，只有 Insert，没有 Update / Delete
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Insert(ctx context.Context, tx *gorm.DB, entry *model.AdminOperationLog) error {
	err := orDefault(tx, r.db).WithContext(ctx).Create(entry).Error
	if isDuplicateKeyErr(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *AuditRepository) GetByReferenceNo(ctx context.Context, referenceNo string) (*model.AdminOperationLog, error) {
	var entry model.AdminOperationLog
	err := r.db.WithContext(ctx).Where("reference_no = ?", referenceNo).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

type LogFilter struct {
	OperationType string
	AdminUsername string
	TargetUserID  *int64
	Offset        int
	Limit         int
}

func (r *AuditRepository) List(ctx context.Context, filter LogFilter) ([]*model.AdminOperationLog, int64, error) {
	var logs []*model.AdminOperationLog
	var total int64

	query := r.db.WithContext(ctx).Model(&model.AdminOperationLog{})
	if filter.OperationType != "" {
		query = query.Where("operation_type = ?", filter.OperationType)
	}
	if filter.AdminUsername != "" {
		query = query.Where("admin_username = ?", filter.AdminUsername)
	}
	if filter.TargetUserID != nil {
		query = query.Where("target_user_id = ?", *filter.TargetUserID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&logs).Error

	return logs, total, err
}

// 等级常量直接写进 SQL，阈值走参数
var riskLevelSelect = fmt.Sprintf(`*, CASE
	WHEN ABS(credit_amount) >= ? THEN '%s'
	WHEN ABS(credit_amount) >= ? THEN '%s'
	ELSE '%s' END AS risk_level`,
	model.RiskLevelHigh, model.RiskLevelMedium, model.RiskLevelLow)

type AlertFilter struct {
	RiskLevel       string
	MediumThreshold int64
	HighThreshold   int64
	Offset          int
	Limit           int
}

// ListAlerts 异常视图：adjust_credits 记录 + 查询时计算的 risk_level
//
// 按调整幅度绝对值降序，幅度相同按时间倒序
func (r *AuditRepository) ListAlerts(ctx context.Context, filter AlertFilter) ([]*model.AuditAlert, int64, error) {
	newQuery := func() *gorm.DB {
		view := r.db.WithContext(ctx).
			Model(&model.AdminOperationLog{}).
			Select(riskLevelSelect, filter.HighThreshold, filter.MediumThreshold).
			Where("operation_type = ?", model.OperationAdjustCredits)

		query := r.db.WithContext(ctx).Table("(?) AS alerts", view)
		if filter.RiskLevel != "" {
			query = query.Where("risk_level = ?", filter.RiskLevel)
		}
		return query
	}

	var total int64
	if err := newQuery().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var alerts []*model.AuditAlert
	err := newQuery().
		Order("ABS(credit_amount) DESC").
		Order("created_at DESC").
		Order("id DESC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&alerts).Error

	return alerts, total, err
}
