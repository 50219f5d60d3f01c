package middleware

import (
	"time"

	"github.com/exphub-io/exphub/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits are requests per second for three tiers: global (all
// requests), per-key (authenticated), and unauthenticated. Burst fields of 0
// are computed automatically as 2x the rate.
type Config struct {
	GlobalRPS int
	KeyRPS    int
	UnAuthRPS int

	GlobalBurst int
	KeyBurst    int
	UnAuthBurst int

	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxClients      int
}

// LoadConfig loads rate limiter config from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS: config.GetEnvInt("EXPHUB_GLOBAL_RPS", defaultGlobalRPS),
		KeyRPS:    config.GetEnvInt("EXPHUB_KEY_RPS", defaultClientRPS),
		UnAuthRPS: config.GetEnvInt("EXPHUB_UNAUTH_RPS", defaultUnAuthRPS),

		GlobalBurst: config.GetEnvInt("EXPHUB_GLOBAL_BURST", 0),
		KeyBurst:    config.GetEnvInt("EXPHUB_KEY_BURST", 0),
		UnAuthBurst: config.GetEnvInt("EXPHUB_UNAUTH_BURST", 0),

		CleanupInterval: config.GetEnvDuration("EXPHUB_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval),
		IdleTimeout:     config.GetEnvDuration("EXPHUB_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:      config.GetEnvInt("EXPHUB_RATE_LIMIT_MAX_CLIENTS", defaultMaxClients),
	}
}
