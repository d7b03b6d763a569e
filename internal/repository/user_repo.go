package repository

import (
	"context"
	"errors"

	"creditledger/internal/model"

	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, tx *gorm.DB, user *model.User) error {
	err := orDefault(tx, r.db).WithContext(ctx).Create(user).Error
	if isDuplicateKeyErr(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) SetDisabled(ctx context.Context, id int64, disabled bool) error {
	result := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Update("disabled", disabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// MySQL 值未变化时 RowsAffected 也是 0，再确认一次用户是否存在
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Search 邮箱 / 昵称 / 手机号子串匹配
func (r *UserRepository) Search(ctx context.Context, keyword string, limit int) ([]*model.User, error) {
	var users []*model.User
	pattern := "%" + keyword + "%"
	err := r.db.WithContext(ctx).
		Where("email LIKE ? OR nickname LIKE ? OR phone LIKE ?", pattern, pattern, pattern).
		Order("id DESC").
		Limit(limit).
		Find(&users).Error
	return users, err
}
