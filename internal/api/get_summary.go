package api

import (
	"log/slog"
	"net/http"

	"github.com/exphub-io/exphub/internal/api/middleware"
)

// handleGetSummary handles GET /api/v1/experiments/{id}/summary.
//
// Computes the full analysis on demand: per-variant conversion summaries,
// chi-square comparisons against the control, the sample ratio mismatch
// check, and per-segment winner divergence. Every configured variant is
// reported even before any activity is recorded.
//
// Response codes:
//   - 200 OK: summary returned
//   - 404 Not Found: unknown experiment id
//   - 503 Service Unavailable: storage backend unreachable
func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	experimentID := r.PathValue("id")

	summary, err := s.analyzer.Summarize(r.Context(), experimentID)
	if err != nil {
		s.logger.Error("Failed to summarize experiment",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("experiment_id", experimentID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, problemFromDomainError(err))

		return
	}

	s.writeJSON(w, r, http.StatusOK, mapSummaryResponse(summary))
}
