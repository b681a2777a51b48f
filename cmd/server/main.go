/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the policy billing server. Handles configuration,
  dependency injection, the cancellation sweep and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (flags, then environment, then defaults)
  2. Configure logging
  3. Initialize SQLite store
  4. Build Accounting with Prometheus metrics as its observer
  5. Optionally load demo data
  6. Start the cancellation sweep
  7. Start the HTTP server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete
  3. Stop the sweep, waiting for a running pass
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/billing.db"

  # In-memory database with demo data, no sweep
  ./server -db=":memory:" -seed -sweep-schedule=off

  # JSON logs for production
  LOG_FORMAT=json ./server

SEE ALSO:
  - config/config.go: All flags and environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/warp/policy-billing/api"
	"github.com/warp/policy-billing/billing"
	"github.com/warp/policy-billing/config"
	"github.com/warp/policy-billing/logging"
	"github.com/warp/policy-billing/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	logger := logging.SetupWith(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := api.NewMetrics(registry)

	acct := billing.NewAccounting(store,
		billing.WithLogger(logger),
		billing.WithObserver(metrics),
	)

	handler := api.NewHandler(acct, store, metrics)
	handler.Logger = logger

	if cfg.Seed {
		if _, err := handler.Seed(context.Background()); err != nil {
			return err
		}
	}

	if cfg.SweepEnabled() {
		handler.Sweep.Schedule = cfg.SweepSchedule
		handler.Sweep.Logger = logger
		if err := handler.Sweep.Start(); err != nil {
			return err
		}
		defer handler.Sweep.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler, cfg.Server.CORSOrigins...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}
