package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Compile-time interface assertion.
var _ KeyStore = (*PersistentKeyStore)(nil)

// PersistentKeyStore implements KeyStore with a PostgreSQL backend.
//
// Validation is a single indexed read on the SHA-256 lookup digest followed
// by one bcrypt comparison; the plaintext key is never stored.
type PersistentKeyStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPersistentKeyStore creates a PostgreSQL-backed key store.
func NewPersistentKeyStore(conn *Connection, logger *slog.Logger) (*PersistentKeyStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PersistentKeyStore{conn: conn, logger: logger}, nil
}

// FindByKey retrieves an API key by its plaintext value.
// Returns (nil, false) when the key is unknown, inactive, expired, or fails
// the bcrypt check.
func (s *PersistentKeyStore) FindByKey(ctx context.Context, key string) (*Key, bool) {
	if key == "" {
		return nil, false
	}

	var (
		stored  Key
		keyHash string
	)

	err := s.conn.QueryRowContext(ctx, `
		SELECT id, key_hash, name, active, created_at, expires_at
		FROM api_keys
		WHERE lookup = $1
	`, KeyLookup(key)).Scan(
		&stored.ID, &keyHash, &stored.Name, &stored.Active, &stored.CreatedAt, &stored.ExpiresAt,
	)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Error("API key lookup failed", slog.String("error", err.Error()))
		}

		return nil, false
	}

	if !stored.Valid(time.Now()) {
		return nil, false
	}

	if !CompareAPIKeyHash(keyHash, key) {
		return nil, false
	}

	stored.Key = MaskKey(key)

	return &stored, true
}

// Add stores a new API key with bcrypt hashing.
func (s *PersistentKeyStore) Add(ctx context.Context, apiKey *Key) error {
	if apiKey == nil {
		return ErrKeyNil
	}

	keyHash, err := HashAPIKey(apiKey.Key)
	if err != nil {
		return fmt.Errorf("failed to hash API key: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO api_keys (id, lookup, key_hash, name, active, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, apiKey.ID, KeyLookup(apiKey.Key), keyHash, apiKey.Name,
		apiKey.Active, apiKey.CreatedAt, apiKey.ExpiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrKeyAlreadyExists
		}

		return wrapStoreError("insert api key", err)
	}

	s.logger.Info("API key created",
		slog.String("key_id", apiKey.ID),
		slog.String("name", apiKey.Name),
	)

	return nil
}

// Deactivate revokes an API key by id.
func (s *PersistentKeyStore) Deactivate(ctx context.Context, keyID string) error {
	result, err := s.conn.ExecContext(ctx,
		`UPDATE api_keys SET active = false WHERE id = $1`, keyID)
	if err != nil {
		return wrapStoreError("deactivate api key", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return wrapStoreError("deactivate api key", err)
	}

	if affected == 0 {
		return ErrKeyNotFound
	}

	s.logger.Info("API key deactivated", slog.String("key_id", keyID))

	return nil
}
