package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/api"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/config"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/handler"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/logger"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/service"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/storage"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/token"

	_ "github.com/lib/pq"
)

// Database connection timeout.
const dbPingTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log, err := createLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	db, err := connectDatabase(cfg, log)
	if err != nil {
		log.Error("Failed to connect to database", logger.Error(err))
		return 1
	}
	defer func() { _ = db.Close() }()

	return runServer(cfg, log, db)
}

// loadConfig loads and validates configuration.
func loadConfig() (*config.Config, error) {
	configPath := config.GetConfigPath("config.yml")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if validationErr := cfg.Validate(); validationErr != nil {
		return nil, fmt.Errorf("validate config: %w", validationErr)
	}
	return cfg, nil
}

// createLogger creates a logger instance from configuration.
func createLogger(cfg *config.Config) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: cfg.Service.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log.With(logger.String("service", cfg.Service.Name)), nil
}

// connectDatabase opens and verifies a database connection.
func connectDatabase(cfg *config.Config, log logger.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	log.Info("Database connected",
		logger.String("host", cfg.Database.Host),
		logger.Int("port", cfg.Database.Port),
		logger.String("database", cfg.Database.Database),
	)

	return db, nil
}

// runServer creates all dependencies and starts the HTTP server.
func runServer(cfg *config.Config, log logger.Logger, db *sql.DB) int {
	if err := handler.RegisterValidators(); err != nil {
		log.Error("Failed to register validators", logger.Error(err))
		return 1
	}

	store := storage.NewStore(db, log)
	tokens := token.NewGenerator(cfg.Service.TokenBytes)
	svc := service.New(store, tokens, log, service.Config{
		PublicBaseURL: cfg.Service.PublicBaseURL,
		MaxBatchSize:  cfg.Service.MaxBatchSize,
		PageSize:      cfg.Service.PageSize,
	})

	server := api.NewServer(cfg, api.Dependencies{
		Public: handler.NewPublicHandler(svc, log),
		Admin:  handler.NewAdminHandler(svc, log),
		Health: handler.NewHealthHandler(cfg.Service.Name, cfg.Service.Version, db.Ping),
	}, log)

	log.Info("Link registry starting",
		logger.Int("port", cfg.Service.Port),
	)

	if err := server.Run(context.Background()); err != nil {
		log.Error("Server error", logger.Error(err))
		return 1
	}

	log.Info("Link registry exited cleanly")
	return 0
}
