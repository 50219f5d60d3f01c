package ingestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() *Event {
	value := 19.99

	return &Event{
		ID:           "evt-001",
		UserID:       "user-42",
		ExperimentID: "checkout-cta",
		Type:         TypeConversion,
		Timestamp:    time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Value:        &value,
		Metadata:     map[string]string{"device": "mobile"},
	}
}

func TestEvent_Validate_Valid(t *testing.T) {
	require.NoError(t, validEvent().Validate())
}

func TestEvent_Validate_OptionalFields(t *testing.T) {
	event := validEvent()
	event.Value = nil
	event.Metadata = nil

	require.NoError(t, event.Validate())
}

func TestEvent_Validate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Event)
		expected error
	}{
		{"empty id", func(e *Event) { e.ID = "" }, ErrEventIDEmpty},
		{"whitespace id", func(e *Event) { e.ID = "  " }, ErrEventIDEmpty},
		{"empty user id", func(e *Event) { e.UserID = "" }, ErrEventUserIDEmpty},
		{"empty experiment id", func(e *Event) { e.ExperimentID = "" }, ErrEventExperimentEmpty},
		{"empty type", func(e *Event) { e.Type = "" }, ErrEventTypeEmpty},
		{"zero timestamp", func(e *Event) { e.Timestamp = time.Time{} }, ErrEventTimestampZero},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := validEvent()
			tt.mutate(event)

			assert.ErrorIs(t, event.Validate(), tt.expected)
		})
	}
}

func TestEvent_Validate_NilEvent(t *testing.T) {
	var event *Event

	assert.ErrorIs(t, event.Validate(), ErrNilEvent)
}
