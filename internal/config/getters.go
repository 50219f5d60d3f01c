// Package config provides helpers for reading configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvStr returns the value of the environment variable key, or defaultValue
// if the variable is unset or empty.
//
// Example:
//
//	host := config.GetEnvStr("EXPHUB_HOST", "localhost")
func GetEnvStr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// GetEnvInt returns the integer value of the environment variable key, or
// defaultValue if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}

	return defaultValue
}

// GetEnvInt64 returns the int64 value of the environment variable key, or
// defaultValue if the variable is unset, empty, or not a valid integer.
func GetEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}

	return defaultValue
}

// GetEnvFloat returns the float value of the environment variable key, or
// defaultValue if the variable is unset, empty, or not a valid float.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}

	return defaultValue
}

// GetEnvBool returns the boolean value of the environment variable key, or
// defaultValue if the variable is unset, empty, or not parseable by
// strconv.ParseBool ("true", "1", "false", "0", ...).
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}

	return defaultValue
}

// GetEnvDuration returns the duration value of the environment variable key
// (parsed with time.ParseDuration, e.g. "30s", "5m"), or defaultValue if the
// variable is unset, empty, or not a valid duration.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}

	return defaultValue
}

// ParseCommaSeparatedList splits a comma-separated string into trimmed,
// non-empty elements. Returns nil for an empty input.
func ParseCommaSeparatedList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// GetEnvLogLevel returns the slog level named by the environment variable key
// (debug, info, warn, error; case-insensitive), or defaultValue if the
// variable is unset or names no known level.
func GetEnvLogLevel(key string, defaultValue slog.Level) slog.Level {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "debug":
			return slog.LevelDebug
		case "info":
			return slog.LevelInfo
		case "warn", "warning":
			return slog.LevelWarn
		case "error":
			return slog.LevelError
		}
	}

	return defaultValue
}
