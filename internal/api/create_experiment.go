package api

import (
	"log/slog"
	"net/http"

	"github.com/exphub-io/exphub/internal/api/middleware"
)

// handleCreateExperiment handles POST /api/v1/experiments.
//
// Experiments are created in planned status regardless of the payload; the
// status state machine is the only way to reach running.
//
// Response codes:
//   - 201 Created: experiment persisted
//   - 400 Bad Request: malformed JSON
//   - 409 Conflict: experiment id already exists
//   - 422 Unprocessable Entity: invalid configuration (allocations, variants)
func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	var req CreateExperimentRequest
	if problem := s.decodeJSONBody(r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	exp := mapExperimentRequest(&req)

	if err := s.registry.Create(r.Context(), exp); err != nil {
		s.logger.Warn("Experiment creation rejected",
			slog.String("correlation_id", correlationID),
			slog.String("experiment_id", req.ID),
			slog.String("reason", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, problemFromDomainError(err))

		return
	}

	s.writeJSON(w, r, http.StatusCreated, mapExperimentResponse(exp))
}

// handleGetExperiment handles GET /api/v1/experiments/{id}.
func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	experimentID := r.PathValue("id")

	exp, err := s.registry.Get(r.Context(), experimentID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromDomainError(err))

		return
	}

	s.writeJSON(w, r, http.StatusOK, mapExperimentResponse(exp))
}
