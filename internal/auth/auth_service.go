// Package auth implements password login with account lockout, registration and
// password changes on top of the account store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/khanghh/rms/internal/audit"
	"github.com/khanghh/rms/internal/metrics"
	"github.com/khanghh/rms/internal/policy"
	"github.com/khanghh/rms/internal/users"
	"github.com/khanghh/rms/model"
)

const (
	TokenTypeBearer = "bearer"

	OperationRegister       = "注册"
	OperationChangePassword = "修改密码"

	moduleUser       = "user"
	resourceTypeUser = "用户"

	reasonUserNotFound = "用户不存在"
)

// AccountStore is the account record store used by AuthService.
type AccountStore interface {
	GetUserByID(ctx context.Context, userID uint) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	VerifyPassword(user *model.User, password string) bool
	CreateUser(ctx context.Context, opts users.CreateUserOptions) (*model.User, error)
	UpdatePassword(ctx context.Context, userID uint, newPassword string) (time.Time, error)
	UpdateLoginState(ctx context.Context, userID uint, state users.LoginState) error
}

// LockNotifier is told when a failed login locks an account.
type LockNotifier interface {
	NotifyAccountLocked(ctx context.Context, user *model.User, until time.Time, minutes int) error
}

type LoginResult struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	User        *model.User
	Warning     string
}

type RegisterRequest struct {
	Username      string
	Password      string
	Name          string
	Title         string
	College       string
	Email         string
	Phone         string
	ResearchField string
}

type AuthService struct {
	accounts AccountStore
	policy   *policy.PasswordPolicy
	tokens   *TokenManager
	auditLog *audit.Logger
	notifier LockNotifier
	metrics  *metrics.Metrics
}

func (s *AuthService) recordLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordLogin(outcome)
	}
}

func (s *AuthService) notifyLocked(ctx context.Context, user *model.User, until time.Time) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyAccountLocked(ctx, user, until, s.policy.LockoutMinutes()); err != nil {
		slog.Warn("Failed to send account locked notification", "username", user.Username, "error", err)
	}
}

// Login authenticates username and password and issues an access token.
// Unknown users and wrong passwords share the same message, a locked account reports
// the remaining lock minutes.
func (s *AuthService) Login(ctx context.Context, username, password string, rc audit.RequestContext) (*LoginResult, error) {
	user, err := s.accounts.GetUserByUsername(ctx, username)
	if errors.Is(err, users.ErrUserNotFound) {
		s.auditLog.LogLoginAttempt(ctx, username, rc, false, reasonUserNotFound)
		s.recordLogin(metrics.LoginUnknown)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if s.policy.IsAccountLocked(user.LockedUntil) {
		lockErr := NewAccountLockedError(*user.LockedUntil, s.policy.RemainingLockMinutes(*user.LockedUntil), false)
		s.auditLog.LogLoginAttempt(ctx, username, rc, false, lockErr.Error())
		s.recordLogin(metrics.LoginBlocked)
		return nil, lockErr
	}

	if !s.accounts.VerifyPassword(user, password) {
		return nil, s.handleFailedLogin(ctx, user, rc)
	}

	now := s.policy.Now()
	state := users.LoginState{
		LoginFailures: 0,
		LockedUntil:   nil,
		LastLoginAt:   &now,
		LastLoginIP:   audit.GetClientIP(rc),
	}
	if err := s.accounts.UpdateLoginState(ctx, user.ID, state); err != nil {
		return nil, err
	}
	user.LoginFailures = state.LoginFailures
	user.LockedUntil = state.LockedUntil
	user.LastLoginAt = state.LastLoginAt
	user.LastLoginIP = state.LastLoginIP

	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	s.auditLog.LogLoginAttempt(ctx, username, rc, true, "")
	s.recordLogin(metrics.LoginSuccess)

	return &LoginResult{
		AccessToken: token,
		TokenType:   TokenTypeBearer,
		ExpiresAt:   expiresAt,
		User:        user,
		Warning:     s.policy.ExpiryWarning(user.PasswordUpdatedAt),
	}, nil
}

func (s *AuthService) handleFailedLogin(ctx context.Context, user *model.User, rc audit.RequestContext) error {
	failures := user.LoginFailures + 1
	state := users.LoginState{
		LoginFailures: failures,
		LockedUntil:   user.LockedUntil,
	}

	var loginErr error
	locked := failures >= s.policy.Config().MaxLoginFailures
	if locked {
		until := s.policy.CalculateLockoutTime()
		state.LockedUntil = &until
		loginErr = NewAccountLockedError(until, s.policy.LockoutMinutes(), true)
	} else {
		loginErr = NewLoginFailError(s.policy.Config().MaxLoginFailures - failures)
	}

	if err := s.accounts.UpdateLoginState(ctx, user.ID, state); err != nil {
		return err
	}
	user.LoginFailures = state.LoginFailures
	user.LockedUntil = state.LockedUntil

	s.auditLog.LogLoginAttempt(ctx, user.Username, rc, false, loginErr.Error())
	if locked {
		s.recordLogin(metrics.LoginLocked)
		s.notifyLocked(ctx, user, *state.LockedUntil)
	} else {
		s.recordLogin(metrics.LoginFailed)
	}
	return loginErr
}

func (s *AuthService) LogRegisterFailure(ctx context.Context, username string, rc audit.RequestContext, reason string) {
	s.auditLog.LogOperation(ctx, audit.Entry{
		Actor:     audit.Actor{Username: username},
		Operation: OperationRegister,
		Module:    audit.ModuleAuth,
		Request:   rc,
		Details:   audit.Details{"username": username},
		Status:    model.StatusFailed,
		ErrorMsg:  reason,
	})
}

// Register creates a teacher account after checking password strength and that the
// username and email are unused.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest, rc audit.RequestContext) (*model.User, error) {
	if ok, reason := s.policy.ValidatePasswordStrength(req.Password); !ok {
		s.LogRegisterFailure(ctx, req.Username, rc, reason)
		return nil, NewWeakPasswordError(reason)
	}

	user, err := s.accounts.CreateUser(ctx, users.CreateUserOptions{
		Username:      req.Username,
		Password:      req.Password,
		Name:          req.Name,
		Role:          model.RoleTeacher,
		Title:         req.Title,
		College:       req.College,
		Email:         req.Email,
		Phone:         req.Phone,
		ResearchField: req.ResearchField,
	})
	switch {
	case errors.Is(err, users.ErrUsernameTaken):
		s.LogRegisterFailure(ctx, req.Username, rc, ErrUsernameTaken.Error())
		return nil, ErrUsernameTaken
	case errors.Is(err, users.ErrEmailRegistered):
		s.LogRegisterFailure(ctx, req.Username, rc, ErrEmailRegistered.Error())
		return nil, ErrEmailRegistered
	case err != nil:
		return nil, err
	}

	s.auditLog.LogCreate(ctx, audit.UserActor(user.ID, user.Username), moduleUser, resourceTypeUser, user.ID, rc, audit.Details{
		"username": user.Username,
		"name":     user.Name,
		"role":     string(user.Role),
	})
	return user, nil
}

// ChangePassword replaces the password of user after verifying the old one.
func (s *AuthService) ChangePassword(ctx context.Context, user *model.User, oldPassword, newPassword string, rc audit.RequestContext) error {
	logFailure := func(reason string) {
		s.auditLog.LogOperation(ctx, audit.Entry{
			Actor:     audit.UserActor(user.ID, user.Username),
			Operation: OperationChangePassword,
			Module:    audit.ModuleAuth,
			Request:   rc,
			Status:    model.StatusFailed,
			ErrorMsg:  reason,
		})
	}

	if !s.accounts.VerifyPassword(user, oldPassword) {
		logFailure(ErrIncorrectPassword.Error())
		return ErrIncorrectPassword
	}
	if ok, reason := s.policy.ValidatePasswordStrength(newPassword); !ok {
		logFailure(reason)
		return NewWeakPasswordError(reason)
	}
	updatedAt, err := s.accounts.UpdatePassword(ctx, user.ID, newPassword)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	user.PasswordUpdatedAt = &updatedAt
	s.auditLog.LogOperation(ctx, audit.Entry{
		Actor:     audit.UserActor(user.ID, user.Username),
		Operation: OperationChangePassword,
		Module:    audit.ModuleAuth,
		Request:   rc,
	})
	return nil
}

// Authenticate resolves the account of a bearer token.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	user, err := s.accounts.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, users.ErrUserNotFound) {
		return nil, ErrTokenInvalid
	}
	return user, err
}

func (s *AuthService) Policy() *policy.PasswordPolicy {
	return s.policy
}

type Option func(*AuthService)

func WithLockNotifier(notifier LockNotifier) Option {
	return func(s *AuthService) { s.notifier = notifier }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *AuthService) { s.metrics = m }
}

func NewAuthService(accounts AccountStore, pwPolicy *policy.PasswordPolicy, tokens *TokenManager, auditLog *audit.Logger, opts ...Option) *AuthService {
	s := &AuthService{
		accounts: accounts,
		policy:   pwPolicy,
		tokens:   tokens,
		auditLog: auditLog,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
