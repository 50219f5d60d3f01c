package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exphub-io/exphub/internal/ingestion"
)

type (
	// fakeSource feeds a fixed message sequence and records commits. Once
	// drained it reports context.Canceled, which Run treats as shutdown.
	fakeSource struct {
		mu        sync.Mutex
		messages  []kafka.Message
		committed []int64
		closed    bool
	}

	// stubRecorder validates like the real recorder and stores events in a
	// map, with optional store error injection.
	stubRecorder struct {
		events   map[string]*ingestion.Event
		storeErr error
	}
)

func (f *fakeSource) FetchMessage(context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.messages) == 0 {
		return kafka.Message{}, context.Canceled
	}

	msg := f.messages[0]
	f.messages = f.messages[1:]

	return msg, nil
}

func (f *fakeSource) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, msg := range msgs {
		f.committed = append(f.committed, msg.Offset)
	}

	return nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

func newStubRecorder() *stubRecorder {
	return &stubRecorder{events: make(map[string]*ingestion.Event)}
}

func (s *stubRecorder) Record(_ context.Context, event *ingestion.Event) (*ingestion.AppendResult, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	if s.storeErr != nil {
		return nil, s.storeErr
	}

	if _, exists := s.events[event.ID]; exists {
		return &ingestion.AppendResult{Event: event, Duplicate: true}, nil
	}

	s.events[event.ID] = event

	return &ingestion.AppendResult{Event: event, Stored: true}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func messageFor(t *testing.T, offset int64, event eventMessage) kafka.Message {
	t.Helper()

	data, err := json.Marshal(event)
	require.NoError(t, err)

	return kafka.Message{Topic: "exphub.events", Offset: offset, Value: data}
}

func validMessage(t *testing.T, offset int64, eventID string) kafka.Message {
	t.Helper()

	return messageFor(t, offset, eventMessage{
		ID:           eventID,
		UserID:       "user-42",
		ExperimentID: "checkout-cta",
		EventType:    ingestion.TypeConversion,
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
}

func TestConsumerRun(t *testing.T) {
	t.Run("records and commits valid messages", func(t *testing.T) {
		source := &fakeSource{messages: []kafka.Message{
			validMessage(t, 0, "evt-1"),
			validMessage(t, 1, "evt-2"),
		}}
		recorder := newStubRecorder()

		consumer := NewConsumer(source, recorder, testLogger())

		require.NoError(t, consumer.Run(context.Background()))

		assert.Len(t, recorder.events, 2)
		assert.Equal(t, []int64{0, 1}, source.committed)
	})

	t.Run("drops and commits undecodable messages", func(t *testing.T) {
		source := &fakeSource{messages: []kafka.Message{
			{Topic: "exphub.events", Offset: 0, Value: []byte("{broken")},
			validMessage(t, 1, "evt-1"),
		}}
		recorder := newStubRecorder()

		consumer := NewConsumer(source, recorder, testLogger())

		require.NoError(t, consumer.Run(context.Background()))

		assert.Len(t, recorder.events, 1)
		assert.Equal(t, []int64{0, 1}, source.committed, "poison message must still be committed")
	})

	t.Run("drops and commits invalid events", func(t *testing.T) {
		source := &fakeSource{messages: []kafka.Message{
			messageFor(t, 0, eventMessage{
				ID:           "evt-1",
				ExperimentID: "checkout-cta", // no user_id
				EventType:    ingestion.TypeExposure,
				Timestamp:    time.Now(),
			}),
		}}
		recorder := newStubRecorder()

		consumer := NewConsumer(source, recorder, testLogger())

		require.NoError(t, consumer.Run(context.Background()))

		assert.Empty(t, recorder.events)
		assert.Equal(t, []int64{0}, source.committed)
	})

	t.Run("redelivered event is a duplicate no-op", func(t *testing.T) {
		source := &fakeSource{messages: []kafka.Message{
			validMessage(t, 0, "evt-1"),
			validMessage(t, 1, "evt-1"),
		}}
		recorder := newStubRecorder()

		consumer := NewConsumer(source, recorder, testLogger())

		require.NoError(t, consumer.Run(context.Background()))

		assert.Len(t, recorder.events, 1)
		assert.Equal(t, []int64{0, 1}, source.committed)
	})

	t.Run("store failure stops the consumer without committing", func(t *testing.T) {
		source := &fakeSource{messages: []kafka.Message{
			validMessage(t, 0, "evt-1"),
		}}
		recorder := newStubRecorder()
		recorder.storeErr = errors.New("connection refused")

		consumer := NewConsumer(source, recorder, testLogger())

		err := consumer.Run(context.Background())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "evt-1")
		assert.Empty(t, source.committed, "failed message must not be acknowledged")
	})

	t.Run("close closes the source", func(t *testing.T) {
		source := &fakeSource{}
		consumer := NewConsumer(source, newStubRecorder(), testLogger())

		require.NoError(t, consumer.Close())
		assert.True(t, source.closed)
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := LoadConfig()

		assert.Empty(t, cfg.Brokers)
		assert.Equal(t, "exphub.events", cfg.Topic)
		assert.Equal(t, "exphub-ingester", cfg.GroupID)
		assert.Equal(t, 1<<20, cfg.MaxBytes)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("EXPHUB_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
		t.Setenv("EXPHUB_KAFKA_TOPIC", "events.test")

		cfg := LoadConfig()

		assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers)
		assert.Equal(t, "events.test", cfg.Topic)
		require.NoError(t, cfg.Validate())
	})

	t.Run("no brokers fails validation", func(t *testing.T) {
		cfg := LoadConfig()

		assert.ErrorIs(t, cfg.Validate(), ErrNoBrokers)
	})
}
