// Package policy implements the password and account lockout rules required by the
// compliance baseline. Every function is a pure computation over its inputs and the
// configured clock.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/khanghh/rms/params"
)

var DefaultWeakPasswords = []string{
	"password", "12345678", "admin123", "qwerty123",
	"abc12345", "11111111", "00000000",
}

type Config struct {
	MinLength        int
	MaxLength        int
	SpecialChars     string
	ExpireAfter      time.Duration
	ExpiryWarning    time.Duration
	MaxLoginFailures int
	LockoutDuration  time.Duration
	WeakPasswords    []string // compared case-insensitively
}

func DefaultConfig() Config {
	return Config{
		MinLength:        params.PasswordMinLength,
		MaxLength:        params.PasswordMaxLength,
		SpecialChars:     params.PasswordSpecialChars,
		ExpireAfter:      params.PasswordExpiration,
		ExpiryWarning:    params.PasswordExpiryWarning,
		MaxLoginFailures: params.MaxLoginFailures,
		LockoutDuration:  params.LockoutDuration,
		WeakPasswords:    DefaultWeakPasswords,
	}
}

// withDefaults fills zero fields so a partially specified config stays usable.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinLength <= 0 {
		c.MinLength = def.MinLength
	}
	if c.MaxLength <= 0 {
		c.MaxLength = def.MaxLength
	}
	if c.SpecialChars == "" {
		c.SpecialChars = def.SpecialChars
	}
	if c.ExpireAfter <= 0 {
		c.ExpireAfter = def.ExpireAfter
	}
	if c.ExpiryWarning <= 0 {
		c.ExpiryWarning = def.ExpiryWarning
	}
	if c.MaxLoginFailures <= 0 {
		c.MaxLoginFailures = def.MaxLoginFailures
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = def.LockoutDuration
	}
	if c.WeakPasswords == nil {
		c.WeakPasswords = def.WeakPasswords
	}
	return c
}

type PasswordPolicy struct {
	cfg  Config
	weak map[string]struct{}
	now  func() time.Time
}

func (p *PasswordPolicy) Config() Config {
	return p.cfg
}

func (p *PasswordPolicy) Now() time.Time {
	return p.now()
}

// ValidatePasswordStrength checks length, upper, lower, digit, special and deny-list
// in that order and reports the first violated rule.
func (p *PasswordPolicy) ValidatePasswordStrength(password string) (bool, string) {
	length := len([]rune(password))
	if length < p.cfg.MinLength {
		return false, fmt.Sprintf("密码长度至少为 %d 位", p.cfg.MinLength)
	}
	if length > p.cfg.MaxLength {
		return false, fmt.Sprintf("密码长度不能超过 %d 位", p.cfg.MaxLength)
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case 'A' <= r && r <= 'Z':
			hasUpper = true
		case 'a' <= r && r <= 'z':
			hasLower = true
		case '0' <= r && r <= '9':
			hasDigit = true
		case strings.ContainsRune(p.cfg.SpecialChars, r):
			hasSpecial = true
		}
	}
	if !hasUpper {
		return false, "密码必须包含至少一个大写字母"
	}
	if !hasLower {
		return false, "密码必须包含至少一个小写字母"
	}
	if !hasDigit {
		return false, "密码必须包含至少一个数字"
	}
	if !hasSpecial {
		return false, fmt.Sprintf("密码必须包含至少一个特殊字符 (%s...)", p.specialHint())
	}
	if _, weak := p.weak[strings.ToLower(password)]; weak {
		return false, "密码过于简单，请使用更复杂的密码"
	}
	return true, "密码强度符合要求"
}

func (p *PasswordPolicy) specialHint() string {
	chars := []rune(p.cfg.SpecialChars)
	if len(chars) > 10 {
		chars = chars[:10]
	}
	return string(chars)
}

// IsPasswordExpired reports true for a nil timestamp.
func (p *PasswordPolicy) IsPasswordExpired(passwordUpdatedAt *time.Time) bool {
	if passwordUpdatedAt == nil {
		return true
	}
	return p.now().After(passwordUpdatedAt.Add(p.cfg.ExpireAfter))
}

// DaysUntilExpiry returns whole days left before expiry, negative once expired and -1
// for a nil timestamp.
func (p *PasswordPolicy) DaysUntilExpiry(passwordUpdatedAt *time.Time) int {
	if passwordUpdatedAt == nil {
		return -1
	}
	remaining := passwordUpdatedAt.Add(p.cfg.ExpireAfter).Sub(p.now())
	return int(remaining / (24 * time.Hour))
}

// ExpiryWarning returns an advisory message when the password is expired or close to
// expiry, and an empty string otherwise.
func (p *PasswordPolicy) ExpiryWarning(passwordUpdatedAt *time.Time) string {
	if p.IsPasswordExpired(passwordUpdatedAt) {
		return "您的密码已过期，请尽快修改密码"
	}
	days := p.DaysUntilExpiry(passwordUpdatedAt)
	if time.Duration(days)*24*time.Hour <= p.cfg.ExpiryWarning {
		return fmt.Sprintf("您的密码将在 %d 天后过期，请及时修改", days)
	}
	return ""
}

func (p *PasswordPolicy) IsAccountLocked(lockedUntil *time.Time) bool {
	if lockedUntil == nil {
		return false
	}
	return p.now().Before(*lockedUntil)
}

func (p *PasswordPolicy) CalculateLockoutTime() time.Time {
	return p.now().Add(p.cfg.LockoutDuration)
}

// RemainingLockMinutes rounds the remaining lock window up to whole minutes.
func (p *PasswordPolicy) RemainingLockMinutes(lockedUntil time.Time) int {
	remaining := lockedUntil.Sub(p.now())
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Minute - 1) / time.Minute)
}

func (p *PasswordPolicy) LockoutMinutes() int {
	return int(p.cfg.LockoutDuration / time.Minute)
}

// Requirements describes the strength rules for display.
func (p *PasswordPolicy) Requirements() string {
	requirements := []string{
		fmt.Sprintf("长度为 %d-%d 位", p.cfg.MinLength, p.cfg.MaxLength),
		"包含至少一个大写字母",
		"包含至少一个小写字母",
		"包含至少一个数字",
		fmt.Sprintf("包含至少一个特殊字符 (%s...)", p.specialHint()),
	}
	return strings.Join(requirements, "；")
}

type Option func(*PasswordPolicy)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *PasswordPolicy) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPasswordPolicy(cfg Config, opts ...Option) *PasswordPolicy {
	cfg = cfg.withDefaults()
	p := &PasswordPolicy{
		cfg:  cfg,
		weak: make(map[string]struct{}, len(cfg.WeakPasswords)),
		now:  time.Now,
	}
	for _, w := range cfg.WeakPasswords {
		p.weak[strings.ToLower(w)] = struct{}{}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}
