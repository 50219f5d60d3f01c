package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const healthCheckTimeout = 5 * time.Second

var (
	// ErrNoDatabaseConnection is returned when a store is created without a connection.
	ErrNoDatabaseConnection = errors.New("no database connection")

	// ErrStoreUnavailable is returned when the backing database cannot be reached.
	// API handlers map this to 503.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Connection wraps *sql.DB with pool configuration and health checking.
// All stores share one Connection; the caller owns its lifecycle.
type Connection struct {
	db  *sql.DB
	cfg *Config
}

// NewConnection opens a PostgreSQL connection pool and verifies it with a ping.
func NewConnection(ctx context.Context, cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return &Connection{db: db, cfg: cfg}, nil
}

// NewConnectionFromDB wraps an existing database handle. Used by tests that
// provision their own database (testcontainers).
func NewConnectionFromDB(db *sql.DB) *Connection {
	return &Connection{db: db}
}

// HealthCheck verifies the database is reachable within a bounded timeout.
func (c *Connection) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := c.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return nil
}

// Close closes the underlying connection pool.
func (c *Connection) Close() error {
	return c.db.Close()
}

// QueryContext delegates to the underlying pool.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext delegates to the underlying pool.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// ExecContext delegates to the underlying pool.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

// BeginTx delegates to the underlying pool.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, opts)
}

// isConnectionError reports whether err is a PostgreSQL connection-class
// failure (SQLSTATE class 08) rather than a statement error.
func isConnectionError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	return false
}

// wrapStoreError normalizes connection-class failures to ErrStoreUnavailable
// so callers can map them to a retryable status.
func wrapStoreError(op string, err error) error {
	if isConnectionError(err) {
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
