package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/khanghh/rms/model"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type CreateUserOptions struct {
	Username      string
	Password      string
	Name          string
	Role          model.Role
	Title         string
	College       string
	Email         string
	Phone         string
	ResearchField string
}

// LoginState is the security state written back after a login attempt.
type LoginState struct {
	LoginFailures int
	LockedUntil   *time.Time
	LastLoginAt   *time.Time // set only on success
	LastLoginIP   string
}

type UserService struct {
	userRepo UserRepository
	hashCost int
	now      func() time.Time
}

func (s *UserService) first(ctx context.Context, query interface{}, args ...interface{}) (*model.User, error) {
	user, err := s.userRepo.First(ctx, query, args...)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

func (s *UserService) GetUserByID(ctx context.Context, userID uint) (*model.User, error) {
	return s.first(ctx, "id = ?", userID)
}

func (s *UserService) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.first(ctx, "username = ?", username)
}

func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.first(ctx, "email = ?", email)
}

// VerifyPassword reports whether password matches the stored hash of user.
func (s *UserService) VerifyPassword(user *model.User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
}

func (s *UserService) checkUserExist(ctx context.Context, username string, email string) error {
	if _, err := s.GetUserByUsername(ctx, username); !errors.Is(err, ErrUserNotFound) {
		if err == nil {
			return ErrUsernameTaken
		}
		return err
	}
	if email == "" {
		return nil
	}
	if _, err := s.GetUserByEmail(ctx, email); !errors.Is(err, ErrUserNotFound) {
		if err == nil {
			return ErrEmailRegistered
		}
		return err
	}
	return nil
}

func (s *UserService) CreateUser(ctx context.Context, opts CreateUserOptions) (*model.User, error) {
	if opts.Role == "" {
		opts.Role = model.RoleTeacher
	}
	if !opts.Role.Valid() {
		return nil, ErrInvalidRole
	}
	if err := s.checkUserExist(ctx, opts.Username, opts.Email); err != nil {
		return nil, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), s.hashCost)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := model.User{
		Username:          opts.Username,
		PasswordHash:      string(passwordHash),
		Name:              opts.Name,
		Role:              opts.Role,
		Title:             opts.Title,
		College:           opts.College,
		Phone:             opts.Phone,
		ResearchField:     opts.ResearchField,
		PasswordUpdatedAt: &now,
	}
	if opts.Email != "" {
		email := opts.Email
		user.Email = &email
	}

	var mysqlErr *mysql.MySQLError
	if err := s.userRepo.Create(ctx, &user); errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		switch {
		case strings.Contains(mysqlErr.Message, model.IdxUserUsername):
			return nil, ErrUsernameTaken
		case strings.Contains(mysqlErr.Message, model.IdxUserEmail):
			return nil, ErrEmailRegistered
		}
		return nil, err
	} else if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdatePassword stores a new password hash and restarts the password expiry window.
// It returns the stored password_updated_at.
func (s *UserService) UpdatePassword(ctx context.Context, userID uint, newPassword string) (time.Time, error) {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.hashCost)
	if err != nil {
		return time.Time{}, err
	}
	updatedAt := s.now()
	updates := map[string]interface{}{
		ColUserPasswordHash:      string(passwordHash),
		ColUserPasswordUpdatedAt: updatedAt,
	}
	rows, err := s.userRepo.Updates(ctx, userID, updates)
	if err != nil {
		return time.Time{}, err
	}
	if rows == 0 {
		return time.Time{}, ErrUserNotFound
	}
	return updatedAt, nil
}

// UpdateLoginState persists the security state of a login attempt.
// The last login columns are written only when state.LastLoginAt is set.
func (s *UserService) UpdateLoginState(ctx context.Context, userID uint, state LoginState) error {
	updates := map[string]interface{}{
		ColUserLoginFailures: state.LoginFailures,
		ColUserLockedUntil:   state.LockedUntil,
	}
	if state.LastLoginAt != nil {
		updates[ColUserLastLoginAt] = state.LastLoginAt
		updates[ColUserLastLoginIP] = state.LastLoginIP
	}
	_, err := s.userRepo.Updates(ctx, userID, updates)
	return err
}

// ResetLock clears the failure counter and any lock of the user.
func (s *UserService) ResetLock(ctx context.Context, userID uint) error {
	_, err := s.userRepo.Updates(ctx, userID, map[string]interface{}{
		ColUserLoginFailures: 0,
		ColUserLockedUntil:   nil,
	})
	return err
}

func (s *UserService) ResetLockByUsername(ctx context.Context, username string) (*model.User, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := s.ResetLock(ctx, user.ID); err != nil {
		return nil, err
	}
	user.LoginFailures = 0
	user.LockedUntil = nil
	return user, nil
}

type ServiceOption func(*UserService)

func WithHashCost(cost int) ServiceOption {
	return func(s *UserService) { s.hashCost = cost }
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *UserService) { s.now = now }
}

func NewUserService(userRepo UserRepository, opts ...ServiceOption) *UserService {
	s := &UserService{
		userRepo: userRepo,
		hashCost: bcrypt.DefaultCost,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
