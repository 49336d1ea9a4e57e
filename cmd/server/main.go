/*
main.go - Application entry point

PURPOSE:
  Starts the estimator back-office API. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, then ESTIMATOR_* environment, then flags);
     ESTIMATOR_JWT_SECRET is required
  2. Build the logger
  3. Create the storage engine
  4. Initialize users: opens and migrates the database, ensures an admin
  5. Create repositories, handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides ESTIMATOR_PORT)
  -db      SQLite database path (overrides ESTIMATOR_DATA_DIR/DB_FILE)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the database
  4. Exit

OPERATIONS NOTE:
  The database file is owned by this process. Running a second server
  against the same file is not supported.

EXAMPLES:
  ESTIMATOR_JWT_SECRET=... ./server -db="./data/estimates.db"
  ESTIMATOR_JWT_SECRET=... ESTIMATOR_ADMIN_PASSWORD=change-me ./server -port=3000

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Storage engine
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

	"github.com/warp/estimator/api"
	"github.com/warp/estimator/auth"
	"github.com/warp/estimator/config"
	"github.com/warp/estimator/estimate"
	"github.com/warp/estimator/logging"
	"github.com/warp/estimator/quote"
	"github.com/warp/estimator/store/sqlite"
	"github.com/warp/estimator/timesheet"
	"github.com/warp/estimator/users"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "estimator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Auth.JWTSecret == "" {
		return errors.New("ESTIMATOR_JWT_SECRET must be set")
	}

	port := flag.Int("port", cfg.App.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DB.Path(), "SQLite database path")
	flag.Parse()

	log := logging.New(logging.Options{
		ServiceName: "estimator",
		Level:       cfg.App.LogLevel,
		Format:      cfg.App.LogFormat,
	})

	engine := sqlite.New(sqlite.Options{
		Path:        *dbPath,
		BusyTimeout: cfg.DB.BusyTimeout,
		Logger:      log,
	})
	defer func() {
		if err := engine.Close(); err != nil {
			log.Error().Err(err).Msg("close database")
		}
	}()

	userRepo := users.NewRepository(engine, users.Options{
		BcryptCost: cfg.Auth.BcryptCost,
		Logger:     log,
	})

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()
	if err := userRepo.Initialize(startCtx, users.Bootstrap{
		Email:    cfg.Admin.Email,
		Password: cfg.Admin.Password,
		Name:     cfg.Admin.Name,
	}); err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}

	handler := api.NewHandler(
		estimate.NewRepository(engine),
		timesheet.NewRepository(engine),
		userRepo,
		quote.NewRepository(engine),
		log,
	)
	handler.AllowedOrigins = cfg.App.AllowedOrigins
	handler.Tokens = auth.Config{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.JWTIssuer,
		TTL:    cfg.Auth.TokenTTL,
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", *port).Str("db", engine.Path()).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}
