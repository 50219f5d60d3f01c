package storage

import (
	"context"
	"log/slog"

	"github.com/exphub-io/exphub/internal/analysis"
)

// Compile-time interface assertion.
var _ analysis.Store = (*AnalysisStore)(nil)

// AnalysisStore implements analysis.Store with a PostgreSQL backend.
//
// All aggregates join events to assignments at read time, so events recorded
// before their assignment row became visible are excluded until it lands, and
// events from users without any assignment never count at all.
type AnalysisStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewAnalysisStore creates a PostgreSQL-backed analysis read store.
func NewAnalysisStore(conn *Connection, logger *slog.Logger) (*AnalysisStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &AnalysisStore{conn: conn, logger: logger}, nil
}

// VariantCounts returns per-variant user aggregates for the experiment.
// Exposed and Converted count distinct users via per-user flags, not events.
func (s *AnalysisStore) VariantCounts(ctx context.Context, experimentID string) ([]analysis.VariantCounts, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT
			a.variant_id,
			COUNT(*)                                   AS assigned,
			COUNT(*) FILTER (WHERE u.exposed)          AS exposed,
			COUNT(*) FILTER (WHERE u.converted)        AS converted,
			COALESCE(SUM(u.value_sum), 0)              AS value_sum,
			COALESCE(SUM(u.value_count), 0)            AS value_count
		FROM assignments a
		LEFT JOIN (
			SELECT
				e.user_id,
				BOOL_OR(e.event_type = 'exposure')   AS exposed,
				BOOL_OR(e.event_type = 'conversion') AS converted,
				COALESCE(SUM(e.value) FILTER (WHERE e.event_type = 'conversion'), 0) AS value_sum,
				COUNT(e.value)   FILTER (WHERE e.event_type = 'conversion')          AS value_count
			FROM events e
			WHERE e.experiment_id = $1
			GROUP BY e.user_id
		) u ON u.user_id = a.user_id
		WHERE a.experiment_id = $1
		GROUP BY a.variant_id
		ORDER BY a.variant_id
	`, experimentID)
	if err != nil {
		return nil, wrapStoreError("query variant counts", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var counts []analysis.VariantCounts

	for rows.Next() {
		var c analysis.VariantCounts
		if err := rows.Scan(
			&c.VariantID, &c.Assigned, &c.Exposed, &c.Converted, &c.ValueSum, &c.ValueCount,
		); err != nil {
			return nil, wrapStoreError("scan variant counts", err)
		}

		counts = append(counts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapStoreError("iterate variant counts", err)
	}

	return counts, nil
}

// SegmentCounts returns per-segment, per-variant aggregates. A user belongs
// to a segment when any of their exposure events carried that metadata
// key/value pair; conversion within the segment means the user converted at
// all.
func (s *AnalysisStore) SegmentCounts(ctx context.Context, experimentID string) ([]analysis.SegmentCounts, error) {
	rows, err := s.conn.QueryContext(ctx, `
		WITH segment_users AS (
			SELECT DISTINCT m.key, m.value, e.user_id
			FROM events e
			CROSS JOIN LATERAL jsonb_each_text(e.metadata) AS m(key, value)
			WHERE e.experiment_id = $1 AND e.event_type = 'exposure'
		),
		user_flags AS (
			SELECT e.user_id, BOOL_OR(e.event_type = 'conversion') AS converted
			FROM events e
			WHERE e.experiment_id = $1
			GROUP BY e.user_id
		)
		SELECT
			su.key,
			su.value,
			a.variant_id,
			COUNT(*)                            AS exposed,
			COUNT(*) FILTER (WHERE f.converted) AS converted
		FROM segment_users su
		JOIN assignments a ON a.experiment_id = $1 AND a.user_id = su.user_id
		LEFT JOIN user_flags f ON f.user_id = su.user_id
		GROUP BY su.key, su.value, a.variant_id
		ORDER BY su.key, su.value, a.variant_id
	`, experimentID)
	if err != nil {
		return nil, wrapStoreError("query segment counts", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var counts []analysis.SegmentCounts

	for rows.Next() {
		var c analysis.SegmentCounts
		if err := rows.Scan(&c.Key, &c.Value, &c.VariantID, &c.Exposed, &c.Converted); err != nil {
			return nil, wrapStoreError("scan segment counts", err)
		}

		counts = append(counts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapStoreError("iterate segment counts", err)
	}

	return counts, nil
}
