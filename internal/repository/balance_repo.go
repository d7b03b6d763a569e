package repository

import (
	"context"
	"errors"

	"creditledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.CreditBalance, error) {
	var balance model.CreditBalance
	err := orDefault(tx, r.db).WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// Deduct 条件扣减，检查与写入是一条 UPDATE
//
//	UPDATE credit_balances SET balance = balance - ? WHERE user_id = ? AND balance >= ?
//
// 两个并发扣减不可能同时基于旧余额通过检查。影响行数为 0 时再查一次区分
// "账户不存在" 和 "余额不足"，此时没有任何写入。
func (r *BalanceRepository) Deduct(ctx context.Context, tx *gorm.DB, userID int64, amount int64) (*model.CreditBalance, error) {
	tx = orDefault(tx, r.db)
	result := tx.WithContext(ctx).
		Model(&model.CreditBalance{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return nil, result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByUserID(ctx, tx, userID); err != nil {
			return nil, err
		}
		return nil, ErrBalanceNotEnough
	}

	return r.GetByUserID(ctx, tx, userID)
}

// Increase 无条件增加余额
func (r *BalanceRepository) Increase(ctx context.Context, tx *gorm.DB, userID int64, amount int64) (*model.CreditBalance, error) {
	tx = orDefault(tx, r.db)
	result := tx.WithContext(ctx).
		Model(&model.CreditBalance{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrBalanceNotFound
	}

	return r.GetByUserID(ctx, tx, userID)
}

// Adjust 带符号调整，条件 balance + delta >= 0
func (r *BalanceRepository) Adjust(ctx context.Context, tx *gorm.DB, userID int64, delta int64) (*model.CreditBalance, error) {
	tx = orDefault(tx, r.db)
	result := tx.WithContext(ctx).
		Model(&model.CreditBalance{}).
		Where("user_id = ? AND balance + ? >= 0", userID, delta).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", delta),
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return nil, result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByUserID(ctx, tx, userID); err != nil {
			return nil, err
		}
		return nil, ErrNegativeBalance
	}

	return r.GetByUserID(ctx, tx, userID)
}

// GetOrCreate 懒创建余额行，并发创建时以先写入者为准
func (r *BalanceRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, userID int64, initial int64) (*model.CreditBalance, bool, error) {
	tx = orDefault(tx, r.db)
	balance, err := r.GetByUserID(ctx, tx, userID)
	if err == nil {
		return balance, false, nil
	}
	if !errors.Is(err, ErrBalanceNotFound) {
		return nil, false, err
	}

	newBalance := &model.CreditBalance{
		UserID:  userID,
		Balance: initial,
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newBalance)
	if result.Error != nil {
		return nil, false, result.Error
	}

	balance, err = r.GetByUserID(ctx, tx, userID)
	if err != nil {
		return nil, false, err
	}
	return balance, result.RowsAffected > 0, nil
}
