package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/exphub-io/exphub/internal/assignment"
)

// Compile-time interface assertion.
var _ assignment.Store = (*AssignmentStore)(nil)

// AssignmentStore implements assignment.Store with a PostgreSQL backend.
//
// First-write-wins is enforced by the primary key on (user_id, experiment_id):
// the insert uses ON CONFLICT DO NOTHING, and a writer that lost the race
// re-reads the winner's row. No application-level locking.
type AssignmentStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewAssignmentStore creates a PostgreSQL-backed assignment store.
func NewAssignmentStore(conn *Connection, logger *slog.Logger) (*AssignmentStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &AssignmentStore{conn: conn, logger: logger}, nil
}

// FindAssignment returns the stored assignment for (userID, experimentID).
// Returns assignment.ErrAssignmentNotFound when no row exists.
func (s *AssignmentStore) FindAssignment(
	ctx context.Context, userID, experimentID string,
) (*assignment.Assignment, error) {
	var a assignment.Assignment

	err := s.conn.QueryRowContext(ctx, `
		SELECT user_id, experiment_id, variant_id, assigned_at
		FROM assignments
		WHERE user_id = $1 AND experiment_id = $2
	`, userID, experimentID).Scan(&a.UserID, &a.ExperimentID, &a.VariantID, &a.AssignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, assignment.ErrAssignmentNotFound
	}

	if err != nil {
		return nil, wrapStoreError("select assignment", err)
	}

	return &a, nil
}

// CreateAssignment inserts the candidate assignment. When a concurrent writer
// already inserted a row for the same (user, experiment), the stored row is
// returned instead; losing the race is not an error.
func (s *AssignmentStore) CreateAssignment(
	ctx context.Context, candidate *assignment.Assignment,
) (*assignment.Assignment, error) {
	stored := *candidate

	err := s.conn.QueryRowContext(ctx, `
		INSERT INTO assignments (user_id, experiment_id, variant_id, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, experiment_id) DO NOTHING
		RETURNING assigned_at
	`, candidate.UserID, candidate.ExperimentID, candidate.VariantID, candidate.AssignedAt,
	).Scan(&stored.AssignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the insert race: the winner's row is authoritative.
		winner, findErr := s.FindAssignment(ctx, candidate.UserID, candidate.ExperimentID)
		if findErr != nil {
			return nil, fmt.Errorf("re-read assignment after conflict: %w", findErr)
		}

		s.logger.Debug("Assignment insert race lost, returning stored row",
			slog.String("user_id", candidate.UserID),
			slog.String("experiment_id", candidate.ExperimentID),
			slog.String("variant_id", winner.VariantID),
		)

		return winner, nil
	}

	if err != nil {
		return nil, wrapStoreError("insert assignment", err)
	}

	return &stored, nil
}
