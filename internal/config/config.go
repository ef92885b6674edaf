package config

import (
	"errors"
	"strings"
	"time"

	"github.com/khanghh/rms/internal/mail"
	"github.com/khanghh/rms/internal/policy"
	"github.com/khanghh/rms/params"
	"github.com/spf13/viper"
)

const (
	DefaultListenAddr  = ":3000"
	DefaultSiteName    = "科研管理系统"
	DefaultMailBackend = "log"
)

var ErrMissingJWTSecret = errors.New("auth.jwtSecret is required")

type MySQLConfig struct {
	Dsn             string   `mapstructure:"dsn"`
	Replicas        []string `mapstructure:"replicas"`
	TablePrefix     string   `mapstructure:"tablePrefix"`
	MaxIdleConns    int      `mapstructure:"maxIdleConns"`
	MaxOpenConns    int      `mapstructure:"maxOpenConns"`
	ConnMaxIdleTime int      `mapstructure:"connMaxIdleTime"` // seconds
	ConnMaxLifetime int      `mapstructure:"connMaxLifetime"` // seconds
}

type RedisConfig struct {
	URL         string `mapstructure:"url"`
	PoolSize    int    `mapstructure:"poolSize"`
	ClusterMode bool   `mapstructure:"clusterMode"`
	AuditStream string `mapstructure:"auditStream"`
}

type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwtSecret"`
	TokenExpiration time.Duration `mapstructure:"tokenExpiration"`
}

// PasswordPolicyConfig overrides the built-in policy. Zero fields keep the defaults.
type PasswordPolicyConfig struct {
	MinLength        int           `mapstructure:"minLength"`
	MaxLength        int           `mapstructure:"maxLength"`
	SpecialChars     string        `mapstructure:"specialChars"`
	ExpireAfter      time.Duration `mapstructure:"expireAfter"`
	ExpiryWarning    time.Duration `mapstructure:"expiryWarning"`
	MaxLoginFailures int           `mapstructure:"maxLoginFailures"`
	LockoutDuration  time.Duration `mapstructure:"lockoutDuration"`
	WeakPasswords    []string      `mapstructure:"weakPasswords"`
}

func (c PasswordPolicyConfig) PolicyConfig() policy.Config {
	return policy.Config{
		MinLength:        c.MinLength,
		MaxLength:        c.MaxLength,
		SpecialChars:     c.SpecialChars,
		ExpireAfter:      c.ExpireAfter,
		ExpiryWarning:    c.ExpiryWarning,
		MaxLoginFailures: c.MaxLoginFailures,
		LockoutDuration:  c.LockoutDuration,
		WeakPasswords:    c.WeakPasswords,
	}
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	TLS      bool   `mapstructure:"tls"`
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
	CAFile   string `mapstructure:"caFile"`
}

func (c SMTPConfig) MailConfig() mail.SMTPConfig {
	return mail.SMTPConfig{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		TLS:      c.TLS,
		CertFile: c.CertFile,
		KeyFile:  c.KeyFile,
		CAFile:   c.CAFile,
	}
}

type MailConfig struct {
	Backend string     `mapstructure:"backend"` // smtp or log
	From    string     `mapstructure:"from"`
	SMTP    SMTPConfig `mapstructure:"smtp"`
}

type AuditConfig struct {
	RedisMirror bool `mapstructure:"redisMirror"` // also publish entries to redis.auditStream
}

type Config struct {
	Debug          bool                 `mapstructure:"debug"`
	SiteName       string               `mapstructure:"siteName"`
	ListenAddr     string               `mapstructure:"listenAddr"`
	AllowOrigins   []string             `mapstructure:"allowOrigins"`
	MySQL          MySQLConfig          `mapstructure:"mysql"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Auth           AuthConfig           `mapstructure:"auth"`
	PasswordPolicy PasswordPolicyConfig `mapstructure:"passwordPolicy"`
	Mail           MailConfig           `mapstructure:"mail"`
	Audit          AuditConfig          `mapstructure:"audit"`
}

func (c *Config) Sanitize() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.SiteName == "" {
		c.SiteName = DefaultSiteName
	}
	if c.Auth.TokenExpiration <= 0 {
		c.Auth.TokenExpiration = params.AccessTokenExpiration
	}
	if c.Mail.Backend == "" {
		c.Mail.Backend = DefaultMailBackend
	}
	if c.Redis.AuditStream == "" {
		c.Redis.AuditStream = params.AuditRedisDefaultStream
	}
	if c.Auth.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	return nil
}

func LoadConfig(filename string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filename)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Sanitize(); err != nil {
		return nil, err
	}
	return &config, nil
}
