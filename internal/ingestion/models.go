// Package ingestion provides the experiment event domain model and the
// recorder that appends events to the store.
//
// Events are append-only and deduplicated by event id, so retried deliveries
// are harmless. An event logically requires a prior assignment for the same
// (user, experiment), but assignment is deliberately NOT checked at write
// time: events may arrive before their assignment is visible, and the
// analysis engine excludes unmatched events by joining against assignments at
// read time.
package ingestion

import (
	"errors"
	"strings"
	"time"
)

// Well-known event types. EventType on an Event is free-form; these are the
// two types the analysis engine aggregates on.
const (
	// TypeExposure indicates the user observed the experiment's effect.
	TypeExposure = "exposure"

	// TypeConversion indicates the target business outcome occurred.
	TypeConversion = "conversion"
)

// Sentinel errors for event validation.
var (
	ErrNilEvent             = errors.New("event cannot be nil")
	ErrEventIDEmpty         = errors.New("event id is required")
	ErrEventUserIDEmpty     = errors.New("event user_id is required")
	ErrEventExperimentEmpty = errors.New("event experiment_id is required")
	ErrEventTypeEmpty       = errors.New("event event_type is required")
	ErrEventTimestampZero   = errors.New("event timestamp is required")
)

type (
	// Event is a single exposure, conversion, or custom experiment event.
	//
	// ID is the caller-supplied deduplication key: recording the same id
	// twice is an idempotent no-op, which makes at-least-once delivery (HTTP
	// retries, Kafka redelivery) safe.
	Event struct {
		// ID uniquely identifies the event. Recommended format: UUID.
		ID string

		// UserID is the user the event belongs to.
		UserID string

		// ExperimentID is the experiment the event belongs to.
		ExperimentID string

		// Type is the event type: exposure, conversion, or any custom
		// caller-defined type.
		Type string

		// Timestamp is when the event occurred (not when it was ingested).
		Timestamp time.Time

		// Value is an optional numeric value (revenue, duration). Nil when
		// the event carries no value.
		Value *float64

		// Metadata is optional segmentation context (device, browser,
		// country). Each key/value pair defines a segment the analysis
		// engine can re-compare within.
		Metadata map[string]string
	}

	// AppendResult is the per-event outcome of a batch append. Duplicate is
	// success, not failure: the event was already recorded.
	AppendResult struct {
		Event     *Event
		Stored    bool
		Duplicate bool
		Err       error
	}
)

// Validate checks the event's required fields. Value and Metadata are
// optional.
func (e *Event) Validate() error {
	if e == nil {
		return ErrNilEvent
	}

	if strings.TrimSpace(e.ID) == "" {
		return ErrEventIDEmpty
	}

	if strings.TrimSpace(e.UserID) == "" {
		return ErrEventUserIDEmpty
	}

	if strings.TrimSpace(e.ExperimentID) == "" {
		return ErrEventExperimentEmpty
	}

	if strings.TrimSpace(e.Type) == "" {
		return ErrEventTypeEmpty
	}

	if e.Timestamp.IsZero() {
		return ErrEventTimestampZero
	}

	return nil
}
