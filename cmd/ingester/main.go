// Package main provides the exphub Kafka ingestion worker.
//
// The worker consumes experiment events from a Kafka topic and appends them
// to the event store with the same validation and deduplication as the HTTP
// ingestion endpoint. HTTP and Kafka are alternative transports for the same
// event stream; high-volume producers use Kafka, everything else uses HTTP.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/exphub-io/exphub/internal/config"
	"github.com/exphub-io/exphub/internal/ingestion"
	"github.com/exphub-io/exphub/internal/storage"
	"github.com/exphub-io/exphub/internal/stream"
)

// Version information.
const (
	version = "0.1.0-dev"
	name    = "exphub-ingester"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("EXPHUB_INGESTER_LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting exphub ingestion worker",
		slog.String("service", name),
		slog.String("version", version),
	)

	streamConfig := stream.LoadConfig()
	if err := streamConfig.Validate(); err != nil {
		logger.Error("Invalid Kafka configuration",
			slog.String("error", err.Error()),
			slog.String("note", "Set EXPHUB_KAFKA_BROKERS to a comma-separated broker list"),
		)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(ctx, storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	eventStore, err := storage.NewEventStore(dbConn, logger)
	if err != nil {
		logger.Error("Failed to initialize event store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	recorder := ingestion.NewRecorder(eventStore, logger)
	consumer := stream.NewConsumer(stream.NewReader(streamConfig), recorder, logger)

	defer func() {
		if err := consumer.Close(); err != nil {
			logger.Error("Failed to close consumer", slog.String("error", err.Error()))
		}
	}()

	logger.Info("Consuming experiment events",
		slog.Any("brokers", streamConfig.Brokers),
		slog.String("topic", streamConfig.Topic),
		slog.String("group_id", streamConfig.GroupID),
	)

	// Run blocks until shutdown or a store failure. Store failures exit
	// non-zero so the orchestrator restarts the worker with its offsets
	// intact; deduplication absorbs anything fetched but uncommitted.
	if err := consumer.Run(ctx); err != nil {
		logger.Error("Consumer stopped on error", slog.String("error", err.Error()))

		_ = consumer.Close()
		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	logger.Info("exphub ingestion worker stopped")
}
