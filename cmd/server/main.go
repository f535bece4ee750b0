/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll reconciliation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and the app config
  2. Build the zap logger
  3. Initialize SQLite store, seeding settings on first start
  4. Create API handler and router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to an app config file (yaml/json/toml). Optional.

ENVIRONMENT:
  Every config key can be overridden with a PAYROLL_ variable, e.g.
    PAYROLL_SERVER_PORT=3000
    PAYROLL_DB_PATH=":memory:"
    PAYROLL_LOG_FORMAT=console

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/app.go: App config and defaults
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/logging"
	"github.com/warp/payroll-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "payroll server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to app config file")
	flag.Parse()

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.LoadApp(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	if err := seedSettings(context.Background(), store, cfg.SettingsFile, logger); err != nil {
		return err
	}

	handler := api.NewHandler(store, logger, cfg.Server.MaxUploadMB)
	router := api.NewRouter(handler, cfg.Server.AllowOrigins)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("db", cfg.Database.Path),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// seedSettings stores the settings file when the database has none yet.
// Settings saved through the API are never overwritten.
func seedSettings(ctx context.Context, store *sqlite.Store, path string, logger *zap.Logger) error {
	if path == "" {
		return nil
	}
	_, saved, err := store.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if saved {
		logger.Debug("settings already stored, seed file ignored", zap.String("file", path))
		return nil
	}

	settings, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	if err := store.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	logger.Info("settings seeded", zap.String("file", path))
	return nil
}
