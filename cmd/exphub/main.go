// Package main provides the exphub experiment service.
//
// The service owns experiment configuration, deterministic variant
// assignment, event ingestion over HTTP, and on-demand experiment analysis.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/exphub-io/exphub/internal/analysis"
	"github.com/exphub-io/exphub/internal/api"
	"github.com/exphub-io/exphub/internal/api/middleware"
	"github.com/exphub-io/exphub/internal/assignment"
	"github.com/exphub-io/exphub/internal/config"
	"github.com/exphub-io/exphub/internal/experiment"
	"github.com/exphub-io/exphub/internal/ingestion"
	"github.com/exphub-io/exphub/internal/storage"
)

// Version information.
const (
	version = "0.1.0-dev"
	name    = "exphub"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting exphub service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	middlewareConfig := middleware.LoadConfig()

	// Graceful shutdown of the limiter's cleanup goroutine is handled by the
	// server on shutdown.
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("global_burst", middlewareConfig.GlobalBurst),
		slog.Int("key_rps", middlewareConfig.KeyRPS),
		slog.Int("key_burst", middlewareConfig.KeyBurst),
		slog.Int("unauth_rps", middlewareConfig.UnAuthRPS),
		slog.Int("unauth_burst", middlewareConfig.UnAuthBurst),
	)

	ctx := context.Background()

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(ctx, storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // ensure connection closes on normal shutdown
	}()

	logger.Info("Database connection established",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
		slog.Duration("database_conn_max_lifetime", storageConfig.ConnMaxLifetime),
		slog.Duration("database_conn_max_idle_time", storageConfig.ConnMaxIdleTime),
	)

	deps, err := buildDependencies(ctx, dbConn, rateLimiter, logger)
	if err != nil {
		logger.Error("Failed to initialize services", slog.String("error", err.Error()))

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	server := api.NewServer(serverConfig, deps)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("exphub service stopped")
}

// buildDependencies wires the domain services onto the shared database
// connection and applies the experiment definitions file.
func buildDependencies(
	ctx context.Context,
	dbConn *storage.Connection,
	rateLimiter middleware.RateLimiter,
	logger *slog.Logger,
) (*api.Dependencies, error) {
	experimentStore, err := storage.NewExperimentStore(dbConn, logger)
	if err != nil {
		return nil, err
	}

	assignmentStore, err := storage.NewAssignmentStore(dbConn, logger)
	if err != nil {
		return nil, err
	}

	eventStore, err := storage.NewEventStore(dbConn, logger)
	if err != nil {
		return nil, err
	}

	analysisStore, err := storage.NewAnalysisStore(dbConn, logger)
	if err != nil {
		return nil, err
	}

	registry := experiment.NewRegistry(experimentStore, logger)

	// Operator-authored experiment definitions are applied on every start;
	// existing experiments are never mutated.
	defs, err := experiment.LoadDefinitionsFromEnv()
	if err != nil {
		return nil, err
	}

	if err := registry.Apply(ctx, defs); err != nil {
		return nil, err
	}

	if len(defs.Experiments) > 0 {
		logger.Info("Experiment definitions applied",
			slog.Int("defined", len(defs.Experiments)),
		)
	}

	analyzer := analysis.NewAnalyzer(analysisStore, registry, logger,
		analysis.WithSRMTolerance(config.GetEnvFloat("EXPHUB_SRM_TOLERANCE", analysis.DefaultSRMTolerance)),
		analysis.WithMinSegmentUsers(config.GetEnvInt("EXPHUB_MIN_SEGMENT_USERS", analysis.DefaultMinSegmentUsers)),
	)

	deps := &api.Dependencies{
		Registry:    registry,
		Assigner:    assignment.NewAssigner(assignmentStore, registry, logger),
		Recorder:    ingestion.NewRecorder(eventStore, logger),
		Analyzer:    analyzer,
		RateLimiter: rateLimiter,
	}

	authEnabled := config.GetEnvBool("EXPHUB_AUTH_ENABLED", false)
	if authEnabled {
		keyStore, err := storage.NewPersistentKeyStore(dbConn, logger)
		if err != nil {
			return nil, err
		}

		deps.KeyStore = keyStore

		logger.Info("API key authentication enabled")
	} else {
		logger.Warn("API key authentication disabled",
			slog.String("security", "Only use in trusted networks (localhost, VPN, internal)"),
			slog.String("note", "Set EXPHUB_AUTH_ENABLED=true to enable API key authentication"),
		)
	}

	return deps, nil
}
