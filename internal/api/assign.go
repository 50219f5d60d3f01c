package api

import (
	"log/slog"
	"net/http"

	"github.com/exphub-io/exphub/internal/api/middleware"
)

// handleAssign handles POST /api/v1/experiments/{id}/assignments.
//
// Assignment is idempotent: the first call for a (user, experiment) pair
// buckets and persists, every later call returns the stored row unchanged.
// Both cases respond 200; the caller cannot and should not distinguish them.
//
// Response codes:
//   - 200 OK: assignment returned (fresh or pre-existing)
//   - 400 Bad Request: malformed JSON or empty user_id
//   - 404 Not Found: unknown experiment id
//   - 409 Conflict: experiment is not running
//   - 503 Service Unavailable: storage backend unreachable
func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	experimentID := r.PathValue("id")

	var req AssignRequest
	if problem := s.decodeJSONBody(r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	assigned, err := s.assigner.Assign(r.Context(), req.UserID, experimentID)
	if err != nil {
		s.logger.Warn("Assignment rejected",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("experiment_id", experimentID),
			slog.String("reason", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, problemFromDomainError(err))

		return
	}

	s.writeJSON(w, r, http.StatusOK, mapAssignmentResponse(assigned))
}
