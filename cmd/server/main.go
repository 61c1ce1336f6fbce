/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the installment (parcela) engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (flags over env over .env)
  2. Build the logger
  3. Open the store (sqlite, postgres or memory)
  4. Create API handler, optionally seed a demo scenario
  5. Start the consistency checker and the session janitor
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop background loops
  4. Close the store
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/parcelas.db"

  # Run in memory with demo data
  ./server -driver=memory -seed=portfolio

  # Run against Postgres
  DB_DRIVER=postgres DATABASE_URL=postgres://... ./server

SEE ALSO:
  - config/config.go: All settings
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/parcela-engine/api"
	"github.com/warp/parcela-engine/config"
	"github.com/warp/parcela-engine/parcela/store"
	"github.com/warp/parcela-engine/store/postgres"
	"github.com/warp/parcela-engine/store/sqlite"
)

func main() {
	os.Exit(serve(os.Args[1:]))
}

// serve returns the process exit code once every deferred cleanup has run.
func serve(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 2
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		return 1
	}
	return 0
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	st, closer, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer closer.Close()
	logger.Info("store ready", zap.String("driver", cfg.DBDriver))

	// Initialize handler
	handler := api.NewHandler(st, logger)
	if cfg.SeedScenario != "" {
		if err := handler.Load(ctx, cfg.SeedScenario); err != nil {
			return fmt.Errorf("failed to seed scenario: %w", err)
		}
		logger.Info("scenario loaded", zap.String("scenario", cfg.SeedScenario))
	}

	// Background loops
	handler.Checker.CheckInterval = cfg.ConsistencyInterval
	handler.Checker.Enabled = cfg.ConsistencyInterval > 0
	handler.Checker.Start()
	defer handler.Checker.Stop()

	janitorDone := make(chan struct{})
	defer close(janitorDone)
	go expireSessions(handler.Sessions, cfg.SessionTTL, janitorDone, logger)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (api.Store, io.Closer, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		return s, s, err
	case config.DriverMemory:
		return store.NewMemory(), nopCloser{}, nil
	default:
		s, err := sqlite.New(cfg.DBPath)
		return s, s, err
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// expireSessions drops idle edit sessions until done is closed.
func expireSessions(sessions *api.SessionRegistry, ttl time.Duration, done <-chan struct{}, logger *zap.Logger) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := sessions.Expire(ttl); n > 0 {
				logger.Info("expired idle edit sessions", zap.Int("count", n))
			}
		case <-done:
			return
		}
	}
}
