package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/exphub-io/exphub/internal/ingestion"
)

// Compile-time interface assertion.
var _ ingestion.Store = (*EventStore)(nil)

// EventStore implements ingestion.Store with a PostgreSQL backend.
//
// Events are append-only. Deduplication rides on the primary key: inserting an
// existing event id is ON CONFLICT DO NOTHING, reported as duplicate and never
// as an error, which makes at-least-once delivery safe.
type EventStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewEventStore creates a PostgreSQL-backed event store.
func NewEventStore(conn *Connection, logger *slog.Logger) (*EventStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &EventStore{conn: conn, logger: logger}, nil
}

// AppendEvent appends a single event.
// Returns (stored, duplicate, error); duplicate ids are idempotent no-ops.
func (s *EventStore) AppendEvent(ctx context.Context, event *ingestion.Event) (bool, bool, error) {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return false, false, fmt.Errorf("marshal event metadata: %w", err)
	}

	result, err := s.conn.ExecContext(ctx, `
		INSERT INTO events (id, user_id, experiment_id, event_type, occurred_at, value, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, event.UserID, event.ExperimentID, event.Type,
		event.Timestamp, event.Value, metadataJSON)
	if err != nil {
		return false, false, wrapStoreError("insert event", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, false, wrapStoreError("insert event", err)
	}

	if affected == 0 {
		return false, true, nil
	}

	return true, false, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *EventStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}
