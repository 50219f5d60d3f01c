package main

import (
	"fmt"
	"strings"

	"github.com/exphub-io/exphub/internal/config"
)

// Config holds all configuration for the migration tool.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// MigrationTable is the name of the table that tracks applied migrations.
	MigrationTable string
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. Migration files are embedded in the binary, so no path
// configuration is needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    config.GetEnvStr("DATABASE_URL", ""),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL cannot be empty")
	}

	if c.MigrationTable == "" {
		return fmt.Errorf("MIGRATION_TABLE cannot be empty")
	}

	return nil
}

// String returns a representation of the configuration safe for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}",
		maskDatabaseURL(c.DatabaseURL), c.MigrationTable)
}

// maskDatabaseURL replaces the password in a connection URL with asterisks.
// URLs without a userinfo password pass through unchanged.
func maskDatabaseURL(url string) string {
	authStart := strings.Index(url, "//")
	if authStart == -1 {
		return url
	}
	authStart += 2

	// The authority section ends at the first path, query, or fragment
	// delimiter. The last "@" before that boundary separates userinfo from
	// host, which matters when the password itself contains "@".
	authEnd := len(url)
	if i := strings.IndexAny(url[authStart:], "/?#"); i != -1 {
		authEnd = authStart + i
	}

	atPos := strings.LastIndex(url[authStart:authEnd], "@")
	if atPos == -1 {
		return url
	}
	atPos += authStart

	colonPos := strings.Index(url[authStart:atPos], ":")
	if colonPos == -1 {
		return url
	}
	colonPos += authStart

	if atPos == colonPos+1 {
		return url // empty password, nothing to mask
	}

	return url[:colonPos+1] + "***" + url[atPos:]
}
