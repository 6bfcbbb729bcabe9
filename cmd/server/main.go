// Package main provides the API server entry point for the fx-insight service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fx-insight/internal/adapter"
	"github.com/fx-insight/internal/api"
	"github.com/fx-insight/internal/config"
	"github.com/fx-insight/internal/job"
	"github.com/fx-insight/internal/logging"
	"github.com/fx-insight/internal/service"
	"github.com/fx-insight/internal/storage"
)

func main() {
	fmt.Println("FX Insight API Server")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Rate source: HTTP provider, static table, or both
	source, err := adapter.NewSourceFromConfig(&cfg.Forex, redis.Client())
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize rate source")
	}

	// Initialize repositories
	accountRepo := storage.NewAccountRepository(postgres.Pool())
	snapshotRepo := storage.NewSnapshotRepository(postgres.Pool())
	rateHistory := storage.NewRateHistoryRepository(clickhouse)
	rateCache := storage.NewRateCache(redis, cfg.Cache.RateTTL)

	// Initialize services
	logger.Info("Initializing services...")

	forexService := service.NewForexService(source, rateCache, rateHistory)

	revaluationService := service.NewRevaluationService(snapshotRepo, accountRepo, forexService, service.RevaluationConfig{
		DefaultBaseCurrency: cfg.Analysis.DefaultBaseCurrency,
		DefaultWindowDays:   cfg.Analysis.DefaultWindowDays,
		LookupConcurrency:   cfg.Analysis.LookupConcurrency,
	})

	snapshotService := service.NewSnapshotService(snapshotRepo, accountRepo, accountRepo, forexService, service.SnapshotConfig{
		BaseCurrency:      cfg.Analysis.DefaultBaseCurrency,
		RetentionDays:     cfg.Analysis.SnapshotRetentionDays,
		LookupConcurrency: cfg.Analysis.LookupConcurrency,
	}, logger)

	// Alerts are published to Redis pub/sub by a small worker pool
	alerts := job.NewNotificationQueue(redis, job.NotificationQueueConfig{
		Workers:  cfg.Notifications.Workers,
		Capacity: cfg.Notifications.QueueSize,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := alerts.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start notification queue")
	}

	logger.Info("Services initialized")

	serverConfig := &api.ServerConfig{
		Host:                  cfg.Server.Host,
		Port:                  cfg.Server.Port,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           60 * time.Second,
		ShutdownTimeout:       10 * time.Second,
		RequestsPerSecond:     cfg.RateLimit.RequestsPerSecond,
		Burst:                 cfg.RateLimit.Burst,
		FxShareAlertThreshold: cfg.Notifications.AlertFxShareThreshold,
	}

	server := api.NewServer(serverConfig, revaluationService, snapshotService, forexService, alerts, logger)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host":   cfg.Server.Host,
		"port":   cfg.Server.Port,
		"source": source.Name(),
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	if err := alerts.Stop(); err != nil {
		logger.WithError(err).Warn("Notification queue did not stop cleanly")
	}

	logger.Info("Server exited")
}
