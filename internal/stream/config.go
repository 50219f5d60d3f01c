// Package stream consumes experiment events from Kafka and records them
// through the ingestion recorder.
//
// Kafka delivery is at-least-once: the recorder deduplicates by event id, so
// redelivered messages are harmless and offsets are only committed after the
// event is durably stored (or permanently rejected).
package stream

import (
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/exphub-io/exphub/internal/config"
)

const (
	defaultTopic       = "exphub.events"
	defaultGroupID     = "exphub-ingester"
	defaultMinBytes    = 1
	defaultMaxBytes    = 1 << 20 // 1 MB, matches the HTTP max request size
	defaultMaxWait     = 500 * time.Millisecond
	defaultDialTimeout = 10 * time.Second
)

// ErrNoBrokers indicates the consumer configuration names no Kafka brokers.
var ErrNoBrokers = errors.New("at least one Kafka broker is required")

// Config holds Kafka consumer configuration.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string

	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
}

// LoadConfig loads Kafka consumer configuration from environment variables
// with fallback to defaults. Brokers have no default: a consumer with no
// brokers is a deployment mistake, caught by Validate.
func LoadConfig() *Config {
	return &Config{
		Brokers: config.ParseCommaSeparatedList(config.GetEnvStr("EXPHUB_KAFKA_BROKERS", "")),
		Topic:   config.GetEnvStr("EXPHUB_KAFKA_TOPIC", defaultTopic),
		GroupID: config.GetEnvStr("EXPHUB_KAFKA_GROUP_ID", defaultGroupID),

		MinBytes: config.GetEnvInt("EXPHUB_KAFKA_MIN_BYTES", defaultMinBytes),
		MaxBytes: config.GetEnvInt("EXPHUB_KAFKA_MAX_BYTES", defaultMaxBytes),
		MaxWait:  config.GetEnvDuration("EXPHUB_KAFKA_MAX_WAIT", defaultMaxWait),
	}
}

// Validate validates the consumer configuration.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}

	return nil
}

// NewReader creates a kafka-go reader for the configured topic and consumer
// group. Offsets are committed explicitly by the consumer, never on an
// interval: an interval commit could acknowledge a message the store rejected.
func NewReader(cfg *Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  cfg.MaxWait,
		Dialer: &kafka.Dialer{
			Timeout:   defaultDialTimeout,
			DualStack: true,
		},
	})
}
