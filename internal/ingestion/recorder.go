package ingestion

import (
	"context"
	"log/slog"
)

// Store defines what the recorder needs for event persistence.
//
// Implementations must deduplicate by event id: appending an id that already
// exists reports duplicate=true with no error and leaves the stored event
// untouched. Events are never updated or deleted.
type Store interface {
	// AppendEvent appends a single event.
	//
	// Returns (stored, duplicate, error):
	//   - (true, false, nil)  - event appended
	//   - (false, true, nil)  - duplicate id, idempotent no-op
	//   - (false, false, err) - append failed
	AppendEvent(ctx context.Context, event *Event) (stored bool, duplicate bool, err error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}

// Recorder validates and appends experiment events.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder creates a recorder backed by the given store.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Recorder{store: store, logger: logger}
}

// Record validates and appends one event. A duplicate event id is an
// idempotent no-op reported as success.
func (r *Recorder) Record(ctx context.Context, event *Event) (*AppendResult, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	stored, duplicate, err := r.store.AppendEvent(ctx, event)
	if err != nil {
		return nil, err
	}

	if duplicate {
		r.logger.Debug("Duplicate event ignored",
			slog.String("event_id", event.ID),
			slog.String("experiment_id", event.ExperimentID),
		)
	}

	return &AppendResult{Event: event, Stored: stored, Duplicate: duplicate}, nil
}

// RecordBatch appends a batch of events with per-event outcomes: one invalid
// or failing event never blocks the rest of the batch. The returned slice is
// index-aligned with events.
func (r *Recorder) RecordBatch(ctx context.Context, events []*Event) []*AppendResult {
	results := make([]*AppendResult, len(events))

	for i, event := range events {
		result, err := r.Record(ctx, event)
		if err != nil {
			results[i] = &AppendResult{Event: event, Err: err}

			continue
		}

		results[i] = result
	}

	return results
}

// HealthCheck verifies the backing store is reachable.
func (r *Recorder) HealthCheck(ctx context.Context) error {
	return r.store.HealthCheck(ctx)
}
