package params

import "time"

const (
	ServerBodyLimit          = 1048576 // 1 MiB
	ServerIdleTimeout        = 30 * time.Second
	ServerReadTimeout        = 10 * time.Second
	ServerWriteTimeout       = 10 * time.Second
	HealthCheckServerAddr    = ":3001"          // health check and metrics server address
	APIVersion               = "1.0"            // version reported in every api response
	PasswordMinLength        = 8                // minimum password length in characters
	PasswordMaxLength        = 32               // maximum password length in characters
	PasswordSpecialChars     = "!@#$%^&*()_+-=[]{}|;:,.<>?"
	PasswordExpiration       = 90 * 24 * time.Hour // password must be changed after this window
	PasswordExpiryWarning    = 7 * 24 * time.Hour  // warn on login when expiry is this close
	MaxLoginFailures         = 5                   // consecutive failures before the account is locked
	LockoutDuration          = 30 * time.Minute    // lock window after reaching MaxLoginFailures
	AccessTokenExpiration    = 24 * time.Hour      // bearer token lifetime
	AccessTokenIssuer        = "rms"
	AuditUserAgentMaxLength  = 500  // user agent is truncated to this many characters
	AuditDetailsMaxLength    = 4096 // serialized details are truncated to this many bytes
	AuditAnonymousUsername   = "anonymous"
	AuditDefaultPageSize     = 20
	AuditMaxPageSize         = 100
	AuditDefaultStatsDays    = 7
	AuditMaxStatsDays        = 90
	AuditStatsTopN           = 10
	AuditExportMaxRows       = 10000 // upper bound of rows written to a single export
	AuditRedisStreamMaxLen   = 100000
	AuditRedisDefaultStream  = "audit:events"
	SnowflakeNodeID          = 1
)
