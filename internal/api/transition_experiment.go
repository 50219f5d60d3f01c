package api

import (
	"log/slog"
	"net/http"

	"github.com/exphub-io/exphub/internal/api/middleware"
	"github.com/exphub-io/exphub/internal/experiment"
)

// handleTransitionExperiment handles POST /api/v1/experiments/{id}/status.
//
// Moves an experiment through its lifecycle: planned -> running ->
// {completed, aborted}. When an experiment leaves running, its cached
// bucketing table is invalidated so stopped experiments stop assigning
// immediately.
//
// Response codes:
//   - 200 OK: transition applied, updated experiment returned
//   - 400 Bad Request: malformed JSON
//   - 404 Not Found: unknown experiment id
//   - 409 Conflict: transition not permitted by the state machine, or a
//     concurrent transition won
func (s *Server) handleTransitionExperiment(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())
	experimentID := r.PathValue("id")

	var req TransitionRequest
	if problem := s.decodeJSONBody(r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	next := experiment.Status(req.Status)

	exp, err := s.registry.Transition(r.Context(), experimentID, next)
	if err != nil {
		s.logger.Warn("Experiment transition rejected",
			slog.String("correlation_id", correlationID),
			slog.String("experiment_id", experimentID),
			slog.String("target_status", req.Status),
			slog.String("reason", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, problemFromDomainError(err))

		return
	}

	// A running experiment's boundary table is cached in the assigner. Drop
	// it on any exit from running so no further assignments are served.
	if s.assigner != nil && next != experiment.StatusRunning {
		s.assigner.Invalidate(experimentID)
	}

	s.writeJSON(w, r, http.StatusOK, mapExperimentResponse(exp))
}
