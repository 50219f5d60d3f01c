package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/exphub-io/exphub/internal/ingestion"
)

type (
	// Source is the slice of kafka.Reader the consumer depends on. Defined as
	// an interface so tests can feed messages without a broker.
	Source interface {
		FetchMessage(ctx context.Context) (kafka.Message, error)
		CommitMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	// Recorder is the slice of ingestion.Recorder the consumer depends on.
	Recorder interface {
		Record(ctx context.Context, event *ingestion.Event) (*ingestion.AppendResult, error)
	}

	// eventMessage is the wire format of one experiment event on the topic.
	// Identical to the HTTP ingestion payload, so producers can switch
	// transports without reshaping events.
	eventMessage struct {
		ID           string            `json:"id"`
		UserID       string            `json:"user_id"`
		ExperimentID string            `json:"experiment_id"`
		EventType    string            `json:"event_type"`
		Timestamp    time.Time         `json:"timestamp"`
		Value        *float64          `json:"value,omitempty"`
		Metadata     map[string]string `json:"metadata,omitempty"`
	}

	// Consumer reads experiment events from a Kafka topic and records them.
	//
	// Offset handling implements at-least-once with poison-message drop:
	//   - stored or duplicate: commit
	//   - undecodable or invalid event: log, commit (redelivery cannot fix it)
	//   - store failure: do NOT commit, return the error; the uncommitted
	//     offset is redelivered after restart and deduplication absorbs any
	//     messages that were fetched but not committed
	Consumer struct {
		source   Source
		recorder Recorder
		logger   *slog.Logger
	}
)

// NewConsumer creates a consumer reading from source and recording through
// recorder.
func NewConsumer(source Source, recorder Recorder, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		source:   source,
		recorder: recorder,
		logger:   logger,
	}
}

// Run consumes messages until ctx is canceled or the store fails.
//
// Context cancellation is the normal shutdown path and returns nil. A store
// error returns non-nil so the process can exit and restart with its offsets
// intact.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.source.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}

			return fmt.Errorf("fetching message: %w", err)
		}

		if err := c.process(ctx, msg); err != nil {
			return err
		}
	}
}

// process records one message and commits its offset. Permanently broken
// messages are dropped with a log line; only store failures propagate.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	event, err := decodeEventMessage(msg.Value)
	if err != nil {
		c.logger.Warn("Dropping undecodable event message",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)

		return c.commit(ctx, msg)
	}

	result, err := c.recorder.Record(ctx, event)
	if err != nil {
		if isValidationError(err) {
			c.logger.Warn("Dropping invalid event message",
				slog.String("topic", msg.Topic),
				slog.Int64("offset", msg.Offset),
				slog.String("event_id", event.ID),
				slog.String("error", err.Error()),
			)

			return c.commit(ctx, msg)
		}

		return fmt.Errorf("recording event %s: %w", event.ID, err)
	}

	if result.Duplicate {
		c.logger.Debug("Duplicate event message ignored",
			slog.String("event_id", event.ID),
			slog.Int64("offset", msg.Offset),
		)
	}

	return c.commit(ctx, msg)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) error {
	if err := c.source.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("committing offset %d: %w", msg.Offset, err)
	}

	return nil
}

// Close closes the underlying source.
func (c *Consumer) Close() error {
	return c.source.Close()
}

// decodeEventMessage decodes the wire format into the domain event.
func decodeEventMessage(data []byte) (*ingestion.Event, error) {
	var msg eventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decoding event message: %w", err)
	}

	return &ingestion.Event{
		ID:           msg.ID,
		UserID:       msg.UserID,
		ExperimentID: msg.ExperimentID,
		Type:         msg.EventType,
		Timestamp:    msg.Timestamp,
		Value:        msg.Value,
		Metadata:     msg.Metadata,
	}, nil
}

// isValidationError reports whether err is a permanent event validation
// failure, which redelivery can never fix.
func isValidationError(err error) bool {
	return errors.Is(err, ingestion.ErrNilEvent) ||
		errors.Is(err, ingestion.ErrEventIDEmpty) ||
		errors.Is(err, ingestion.ErrEventUserIDEmpty) ||
		errors.Is(err, ingestion.ErrEventExperimentEmpty) ||
		errors.Is(err, ingestion.ErrEventTypeEmpty) ||
		errors.Is(err, ingestion.ErrEventTimestampZero)
}
