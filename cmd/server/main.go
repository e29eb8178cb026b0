/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Warp Resource Allocation Engine server.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve     Run the HTTP API (default when no command is given)
  migrate   Create the schema and optionally seed the leave/PTO catalog

STARTUP SEQUENCE (serve):
  1. Load environment configuration, apply flag overrides
  2. Initialize structured logger
  3. Initialize SQLite store (schema is migrated on open)
  4. Create allocation engine and API handler
  5. Configure HTTP router
  6. Start server with graceful shutdown

FLAGS (override environment):
  --port        HTTP server port              (ALLOC_HTTP_PORT, default 8080)
  --db          SQLite database path          (ALLOC_DB_PATH, default allocation.db)
                Use ":memory:" for in-memory database
  --log-level   debug, info, warn, error      (ALLOC_LOG_LEVEL, default info)

ENVIRONMENT:
  ALLOC_LOG_FORMAT             text or json
  ALLOC_ALLOWED_ORIGINS        comma separated CORS origins
  ALLOC_LEAVE_TASK_NAME        task mirrored by PTO sync
  ALLOC_PTO_PROJECT_CATEGORY   category marking the PTO project
  ALLOC_PTO_PROJECT_NAME       fallback PTO project name

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server serve --db=./data/warp.db

  # Create schema and the leave task / PTO project
  ./server migrate --seed-catalog

  # Run on different port with debug logs
  ./server serve --port=3000 --log-level=debug

SEE ALSO:
  - config/config.go: Environment configuration
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/api"
	"github.com/warp/allocation-engine/config"
	"github.com/warp/allocation-engine/logging"
	"github.com/warp/allocation-engine/store/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// flagOverrides holds command-line values that take precedence over the environment.
type flagOverrides struct {
	port     int
	dbPath   string
	logLevel string
}

func newRootCmd() *cobra.Command {
	var flags flagOverrides

	root := &cobra.Command{
		Use:          "server",
		Short:        "Warp resource allocation engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().IntVar(&flags.port, "port", 0, "HTTP server port (overrides ALLOC_HTTP_PORT)")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "SQLite database path (overrides ALLOC_DB_PATH)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (overrides ALLOC_LOG_LEVEL)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}

	var seedCatalog bool
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			return migrate(cmd.Context(), cfg, seedCatalog)
		},
	}
	migrateCmd.Flags().BoolVar(&seedCatalog, "seed-catalog", false, "Create the leave task and PTO project if missing")

	root.AddCommand(serveCmd, migrateCmd)
	root.RunE = serveCmd.RunE

	return root
}

// loadConfig reads the environment and applies any flags the user set.
func loadConfig(cmd *cobra.Command, flags flagOverrides) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("port") {
		cfg.HTTPPort = flags.port
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = flags.dbPath
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	return cfg, nil
}

func serve(cfg config.Config) error {
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	engine := allocation.NewEngine(store, cfg.Catalog(), logger)
	handler := api.NewHandler(engine, logger)
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", fmt.Sprintf("http://localhost:%d", cfg.HTTPPort),
			"db", cfg.DBPath,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func migrate(ctx context.Context, cfg config.Config, seedCatalog bool) error {
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()
	logger.Info("schema ready", "db", cfg.DBPath)

	if !seedCatalog {
		return nil
	}

	created, err := store.SeedCatalog(ctx, sqlite.CatalogSeed{
		LeaveTaskName:      cfg.LeaveTaskName,
		PTOProjectCategory: cfg.PTOProjectCategory,
		PTOProjectName:     cfg.PTOProjectName,
	})
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	logCreated(logger, created)
	return nil
}

func logCreated(logger *slog.Logger, created []string) {
	if len(created) == 0 {
		logger.Info("catalog already seeded")
		return
	}
	for _, name := range created {
		logger.Info("catalog record created", "record", name)
	}
}
