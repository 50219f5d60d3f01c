package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 10*time.Minute, cfg.ConnMaxIdleTime)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://exphub:secret@db:5432/exphub")
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "50")

	cfg := LoadConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.MaxOpenConns)
}

func TestConfig_Validate_EmptyURL(t *testing.T) {
	cfg := &Config{databaseURL: "   "}

	assert.ErrorIs(t, cfg.Validate(), ErrDatabaseURLEmpty)
}

func TestConfig_MaskDatabaseURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{
			"password masked",
			"postgres://exphub:secret@db:5432/exphub",
			"postgres://exphub:***@db:5432/exphub",
		},
		{
			"no password",
			"postgres://exphub@db:5432/exphub",
			"postgres://exphub@db:5432/exphub",
		},
		{
			"no userinfo",
			"postgres://db:5432/exphub",
			"postgres://db:5432/exphub",
		},
		{
			"empty password",
			"postgres://exphub:@db:5432/exphub",
			"postgres://exphub:@db:5432/exphub",
		},
		{
			"no scheme",
			"db:5432/exphub",
			"db:5432/exphub",
		},
		{
			"empty",
			"",
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{databaseURL: tt.url}

			assert.Equal(t, tt.expected, cfg.MaskDatabaseURL())
		})
	}
}
