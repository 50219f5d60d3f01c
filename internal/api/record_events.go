package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/exphub-io/exphub/internal/api/middleware"
	"github.com/exphub-io/exphub/internal/ingestion"
)

// handleRecordEvents handles POST /api/v1/events.
//
// Accepts a batch of events and processes each independently: one invalid
// event never blocks the rest. Duplicate event ids are idempotent successes,
// so at-least-once delivery is safe to retry.
//
// Response codes:
//   - 200 OK: every event appended or deduplicated
//   - 207 Multi-Status: partial success, failed_events lists the rejects
//   - 400 Bad Request: malformed JSON or empty batch
//   - 413 Payload Too Large: request body exceeds the configured maximum
//   - 415 Unsupported Media Type: Content-Type is not application/json
//   - 422 Unprocessable Entity: every event in the batch failed
func (s *Server) handleRecordEvents(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	var requests []EventRequest
	if problem := s.decodeJSONBody(r, &requests); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if len(requests) == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("Event array cannot be empty"))

		return
	}

	events := make([]*ingestion.Event, len(requests))
	for i := range requests {
		events[i] = mapEventRequest(&requests[i])
	}

	results := s.recorder.RecordBatch(r.Context(), events)
	response := buildEventBatchResponse(correlationID, results)
	statusCode := eventBatchStatusCode(&response.Summary)

	s.writeJSON(w, r, statusCode, response)

	s.logger.Info("Event batch processed",
		slog.String("correlation_id", correlationID),
		slog.String("status", response.Status),
		slog.Int("received", response.Summary.Received),
		slog.Int("appended", response.Summary.Appended),
		slog.Int("duplicates", response.Summary.Duplicates),
		slog.Int("failed", response.Summary.Failed),
		slog.Int("status_code", statusCode),
		slog.Duration("duration", time.Since(startTime)),
	)
}

// buildEventBatchResponse aggregates per-event outcomes into the batch
// response. Only failures are listed individually.
func buildEventBatchResponse(correlationID string, results []*ingestion.AppendResult) *EventBatchResponse {
	failedEvents := make([]FailedEvent, 0)
	appended, duplicates, failed := 0, 0, 0

	for i, result := range results {
		switch {
		case result.Err != nil:
			failed++

			failedEvents = append(failedEvents, FailedEvent{
				Index:  i,
				Reason: result.Err.Error(),
			})
		case result.Duplicate:
			duplicates++
		default:
			appended++
		}
	}

	status := "success"
	if failed > 0 {
		status = "partial_success"
	}

	if failed > 0 && appended == 0 && duplicates == 0 {
		status = "error"
	}

	return &EventBatchResponse{
		Status: status,
		Summary: BatchSummary{
			Received:   len(results),
			Appended:   appended,
			Duplicates: duplicates,
			Failed:     failed,
		},
		FailedEvents:  failedEvents,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}

// eventBatchStatusCode maps a batch summary to its HTTP status code:
// 200 all succeeded, 207 partial, 422 all failed.
func eventBatchStatusCode(summary *BatchSummary) int {
	if summary.Failed == 0 {
		return http.StatusOK
	}

	if summary.Appended+summary.Duplicates > 0 {
		return http.StatusMultiStatus
	}

	return http.StatusUnprocessableEntity
}
