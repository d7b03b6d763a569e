package repository

import (
	"context"
	"errors"
	"time"

	"creditledger/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.CreditTransaction) error {
	err := orDefault(tx, r.db).WithContext(ctx).Create(trans).Error
	if isDuplicateKeyErr(err) {
		return ErrDuplicateKey
	}
	return err
}

// GetByRequestID 没有记录时返回 nil, nil
func (r *TransactionRepository) GetByRequestID(ctx context.Context, tx *gorm.DB, requestID string) (*model.CreditTransaction, error) {
	var trans model.CreditTransaction
	err := orDefault(tx, r.db).WithContext(ctx).Where("request_id = ?", requestID).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.CreditTransaction, error) {
	var trans model.CreditTransaction
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	var transactions []*model.CreditTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.CreditTransaction{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// MarkAuditRecorded 审计写入成功后清除待对账标记
func (r *TransactionRepository) MarkAuditRecorded(ctx context.Context, transactionNo string) error {
	return r.db.WithContext(ctx).
		Model(&model.CreditTransaction{}).
		Where("transaction_no = ? AND audit_status = ?", transactionNo, model.AuditStatusPending).
		Update("audit_status", model.AuditStatusRecorded).Error
}

// ListPendingAudit 查询创建时间早于 before 且审计未写入的流水
func (r *TransactionRepository) ListPendingAudit(ctx context.Context, before time.Time, limit int) ([]*model.CreditTransaction, error) {
	var transactions []*model.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("audit_status = ? AND created_at < ?", model.AuditStatusPending, before).
		Order("id ASC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}
