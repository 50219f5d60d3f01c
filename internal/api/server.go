package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exphub-io/exphub/internal/analysis"
	"github.com/exphub-io/exphub/internal/api/middleware"
	"github.com/exphub-io/exphub/internal/assignment"
	"github.com/exphub-io/exphub/internal/experiment"
	"github.com/exphub-io/exphub/internal/ingestion"
	"github.com/exphub-io/exphub/internal/storage"
)

type (
	// Dependencies holds the runtime services the server dispatches to.
	//
	// Injected explicitly rather than being part of ServerConfig: configuration
	// (what) is separated from dependencies (how). KeyStore and RateLimiter may
	// be nil, which disables authentication and rate limiting respectively;
	// useful in tests and local development, never in production.
	Dependencies struct {
		Registry    *experiment.Registry
		Assigner    *assignment.Assigner
		Recorder    *ingestion.Recorder
		Analyzer    *analysis.Analyzer
		KeyStore    storage.KeyStore
		RateLimiter middleware.RateLimiter
	}

	// Server represents the HTTP API server.
	Server struct {
		httpServer  *http.Server
		logger      *slog.Logger
		config      *ServerConfig
		startTime   time.Time
		registry    *experiment.Registry
		assigner    *assignment.Assigner
		recorder    *ingestion.Recorder
		analyzer    *analysis.Analyzer
		keyStore    storage.KeyStore
		rateLimiter middleware.RateLimiter
	}
)

// NewServer creates a new HTTP server instance with structured logging and the
// full middleware stack.
func NewServer(cfg *ServerConfig, deps *Dependencies) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	mux := http.NewServeMux()

	server := &Server{
		logger:      logger,
		config:      cfg,
		registry:    deps.Registry,
		assigner:    deps.Assigner,
		recorder:    deps.Recorder,
		analyzer:    deps.Analyzer,
		keyStore:    deps.KeyStore,
		rateLimiter: deps.RateLimiter,
	}

	server.setupRoutes(mux)

	if server.keyStore != nil {
		logger.Info("API key authentication middleware enabled")
	} else {
		logger.Warn("KeyStore not configured - authentication middleware disabled")
	}

	if server.rateLimiter != nil {
		logger.Info("Rate limiting middleware enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	// Middleware executes in the order listed (top-to-bottom):
	//   1. CorrelationID - generate correlation ID for all responses
	//   2. Recovery - catch panics in all downstream middleware
	//   3. Auth - identify API key and set ClientContext (optional)
	//   4. RateLimit - block requests before expensive operations (optional)
	//   5. RequestLogger - log only legitimate requests (not rate-limited spam)
	//   6. CORS - lightweight header manipulation
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAuth(server.keyStore, logger),
		middleware.WithRateLimit(server.rateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting exphub API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal",
			slog.String("signal", sig.String()),
		)

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server, then closes dependencies that
// hold resources (rate limiter cleanup goroutine, key store connections).
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.closeDependency("API key store", s.keyStore)
	s.closeDependency("rate limiter", s.rateLimiter)

	s.logger.Info("Server shutdown completed successfully")

	return nil
}

// closeDependency closes a dependency if it implements io.Closer. Nil
// interfaces and non-closers are skipped silently.
func (s *Server) closeDependency(name string, dep any) {
	closer, ok := dep.(io.Closer)
	if !ok || dep == nil {
		return
	}

	if err := closer.Close(); err != nil {
		s.logger.Error("Failed to close "+name, slog.String("error", err.Error()))

		return
	}

	s.logger.Info("Closed " + name)
}
