package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/exphub-io/exphub/internal/experiment"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint violations.
const uniqueViolation = "23505"

// Compile-time interface assertion.
var _ experiment.Store = (*ExperimentStore)(nil)

// ExperimentStore implements experiment.Store with a PostgreSQL backend.
//
// An experiment and its variants are written in one transaction; the variant
// list is immutable after creation, so reads never see a partial definition.
type ExperimentStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewExperimentStore creates a PostgreSQL-backed experiment store.
func NewExperimentStore(conn *Connection, logger *slog.Logger) (*ExperimentStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &ExperimentStore{conn: conn, logger: logger}, nil
}

// CreateExperiment inserts the experiment and its variants atomically.
// Returns experiment.ErrDuplicateExperiment when the id already exists.
func (s *ExperimentStore) CreateExperiment(ctx context.Context, exp *experiment.Experiment) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreError("begin create experiment", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO experiments (id, name, description, status, start_at, end_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, exp.ID, exp.Name, exp.Description, string(exp.Status),
		nullTime(exp.StartAt), nullTime(exp.EndAt))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("%w: %s", experiment.ErrDuplicateExperiment, exp.ID)
		}

		return wrapStoreError("insert experiment", err)
	}

	for _, v := range exp.Variants {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO variants (experiment_id, id, name, allocation)
			VALUES ($1, $2, $3, $4)
		`, exp.ID, v.ID, v.Name, v.Allocation)
		if err != nil {
			return wrapStoreError("insert variant", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapStoreError("commit create experiment", err)
	}

	return nil
}

// GetExperiment loads an experiment with its variants ordered by variant id.
// Returns experiment.ErrUnknownExperiment when the id does not exist.
func (s *ExperimentStore) GetExperiment(ctx context.Context, id string) (*experiment.Experiment, error) {
	var (
		exp    experiment.Experiment
		status string
		start  sql.NullTime
		end    sql.NullTime
	)

	err := s.conn.QueryRowContext(ctx, `
		SELECT id, name, description, status, start_at, end_at
		FROM experiments
		WHERE id = $1
	`, id).Scan(&exp.ID, &exp.Name, &exp.Description, &status, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", experiment.ErrUnknownExperiment, id)
	}

	if err != nil {
		return nil, wrapStoreError("select experiment", err)
	}

	exp.Status = experiment.Status(status)
	if start.Valid {
		exp.StartAt = start.Time
	}

	if end.Valid {
		exp.EndAt = end.Time
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, allocation
		FROM variants
		WHERE experiment_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, wrapStoreError("select variants", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var v experiment.Variant
		if err := rows.Scan(&v.ID, &v.Name, &v.Allocation); err != nil {
			return nil, wrapStoreError("scan variant", err)
		}

		exp.Variants = append(exp.Variants, v)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapStoreError("iterate variants", err)
	}

	return &exp, nil
}

// UpdateStatus performs a compare-and-set status transition. The WHERE clause
// on the current status makes concurrent transitions race-safe: exactly one
// writer observes a row change, the rest get ErrInvalidTransition.
func (s *ExperimentStore) UpdateStatus(ctx context.Context, id string, from, to experiment.Status) error {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE experiments
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return wrapStoreError("update experiment status", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return wrapStoreError("update experiment status", err)
	}

	if affected == 0 {
		// Distinguish a missing experiment from a lost CAS race.
		var exists bool
		if err := s.conn.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM experiments WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return wrapStoreError("check experiment exists", err)
		}

		if !exists {
			return fmt.Errorf("%w: %s", experiment.ErrUnknownExperiment, id)
		}

		return fmt.Errorf("%w: %s is no longer %s", experiment.ErrInvalidTransition, id, from)
	}

	s.logger.Info("Experiment status updated",
		slog.String("experiment_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)

	return nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
