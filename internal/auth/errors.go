package auth

import (
	"errors"
	"fmt"
	"time"
)

// Messages of these errors are shown to clients as is.
var (
	ErrInvalidCredentials = errors.New("用户名或密码错误")
	ErrIncorrectPassword  = errors.New("旧密码错误")
	ErrUsernameTaken      = errors.New("用户名已存在")
	ErrEmailRegistered    = errors.New("邮箱已被使用")
	ErrTokenInvalid       = errors.New("无效的认证凭证")
	ErrTokenExpired       = errors.New("认证凭证已过期")
)

// LoginFailError is returned for a wrong password that did not lock the account.
type LoginFailError struct {
	AttemptsLeft int
}

func (e *LoginFailError) Error() string {
	return fmt.Sprintf("用户名或密码错误，还剩 %d 次尝试机会", e.AttemptsLeft)
}

func NewLoginFailError(attemptsLeft int) *LoginFailError {
	return &LoginFailError{AttemptsLeft: attemptsLeft}
}

// AccountLockedError is returned when the account is locked, either already or by
// the failed attempt itself (Triggered).
type AccountLockedError struct {
	Until     time.Time
	Minutes   int
	Triggered bool
}

func (e *AccountLockedError) Error() string {
	if e.Triggered {
		return fmt.Sprintf("登录失败次数过多，账号已被锁定 %d 分钟", e.Minutes)
	}
	return fmt.Sprintf("账号已被锁定，请在 %d 分钟后重试", e.Minutes)
}

func NewAccountLockedError(until time.Time, minutes int, triggered bool) *AccountLockedError {
	return &AccountLockedError{
		Until:     until,
		Minutes:   minutes,
		Triggered: triggered,
	}
}

type WeakPasswordError struct {
	Reason string
}

func (e *WeakPasswordError) Error() string {
	return e.Reason
}

func NewWeakPasswordError(reason string) *WeakPasswordError {
	return &WeakPasswordError{Reason: reason}
}
