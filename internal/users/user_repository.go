package users

import (
	"context"

	"github.com/khanghh/rms/model"
	"gorm.io/gorm"
)

const (
	ColUserPasswordHash      = "password_hash"
	ColUserPasswordUpdatedAt = "password_updated_at"
	ColUserLoginFailures     = "login_failures"
	ColUserLockedUntil       = "locked_until"
	ColUserLastLoginAt       = "last_login_at"
	ColUserLastLoginIP       = "last_login_ip"
)

type UserRepository interface {
	WithTx(tx *gorm.DB) UserRepository
	First(ctx context.Context, query interface{}, args ...interface{}) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
	// Updates writes only the given columns of the user with id userID.
	Updates(ctx context.Context, userID uint, columns map[string]interface{}) (int64, error)
}

type userRepository struct {
	db *gorm.DB
}

func (r *userRepository) WithTx(tx *gorm.DB) UserRepository {
	return NewUserRepository(tx)
}

func (r *userRepository) First(ctx context.Context, query interface{}, args ...interface{}) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where(query, args...).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) Updates(ctx context.Context, userID uint, columns map[string]interface{}) (int64, error) {
	ret := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Updates(columns)
	return ret.RowsAffected, ret.Error
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db}
}
