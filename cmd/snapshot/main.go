// Package main provides the snapshot worker entry point.
// This worker captures daily net-worth snapshots at 00:00 UTC.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fx-insight/internal/adapter"
	"github.com/fx-insight/internal/config"
	"github.com/fx-insight/internal/logging"
	"github.com/fx-insight/internal/service"
	"github.com/fx-insight/internal/storage"
)

func main() {
	var (
		runOnce = flag.Bool("run-once", false, "Capture snapshots for every user now and exit")
		userID  = flag.String("user", "", "With -run-once, capture only this user")
		base    = flag.String("base", "", "With -user, base currency for the snapshot (default from config)")
	)
	flag.Parse()

	fmt.Println("FX Insight Snapshot Worker")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

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

	source, err := adapter.NewSourceFromConfig(&cfg.Forex, redis.Client())
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize rate source")
	}

	accountRepo := storage.NewAccountRepository(postgres.Pool())
	snapshotRepo := storage.NewSnapshotRepository(postgres.Pool())
	forexService := service.NewForexService(
		source,
		storage.NewRateCache(redis, cfg.Cache.RateTTL),
		storage.NewRateHistoryRepository(clickhouse),
	)

	snapshotService := service.NewSnapshotService(snapshotRepo, accountRepo, accountRepo, forexService, service.SnapshotConfig{
		BaseCurrency:      cfg.Analysis.DefaultBaseCurrency,
		RetentionDays:     cfg.Analysis.SnapshotRetentionDays,
		LookupConcurrency: cfg.Analysis.LookupConcurrency,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *runOnce {
		if err := runNow(ctx, snapshotService, *userID, *base, logger); err != nil {
			logger.WithError(err).Fatal("Snapshot capture failed")
		}
		return
	}

	logger.Info("Starting snapshot scheduler...")
	if err := snapshotService.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start snapshot scheduler")
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down snapshot worker...")
	if err := snapshotService.Stop(); err != nil {
		logger.WithError(err).Warn("Snapshot scheduler did not stop cleanly")
	}
	logger.Info("Worker stopped")
}

// runNow captures snapshots immediately, for one user or for all of them
func runNow(ctx context.Context, snapshots *service.SnapshotService, userID, base string, logger *logging.Logger) error {
	started := time.Now()

	if userID == "" {
		if err := snapshots.CaptureAllSnapshots(ctx); err != nil {
			return err
		}
		logger.WithField("duration", time.Since(started).String()).Info("Snapshot capture complete")
		return nil
	}

	snapshot, err := snapshots.CaptureSnapshot(ctx, userID, base)
	if err != nil {
		return err
	}
	logger.WithFields(map[string]interface{}{
		"user_id":         userID,
		"base_currency":   snapshot.BaseCurrency,
		"total_net_worth": snapshot.TotalNetWorth.String(),
		"accounts":        len(snapshot.Accounts),
		"duration":        time.Since(started).String(),
	}).Info("Snapshot captured")
	return nil
}
