// Package main provides the rate sync worker entry point for the fx-insight
// service. It records the rates of every held currency into ClickHouse.
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
	"github.com/fx-insight/internal/storage"
	"github.com/fx-insight/internal/worker"
)

func main() {
	once := flag.Bool("once", false, "Poll every tracked pair once and exit")
	flag.Parse()

	fmt.Println("FX Insight Rate Sync Worker")

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

	syncWorker, err := worker.NewRateSyncWorker(&worker.RateSyncWorkerConfig{
		Source:         source,
		Currencies:     storage.NewAccountRepository(postgres.Pool()),
		History:        storage.NewRateHistoryRepository(clickhouse),
		Cache:          storage.NewRateCache(redis, cfg.Cache.RateTTL),
		BaseCurrencies: cfg.RateSync.BaseCurrencies,
		PollInterval:   cfg.RateSync.PollInterval,
		Concurrency:    cfg.RateSync.Concurrency,
		Logger:         logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create rate sync worker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		result, err := syncWorker.PollRates(ctx)
		if err != nil {
			logger.WithError(err).Fatal("Rate poll failed")
		}
		logger.WithFields(map[string]interface{}{
			"pairs":    result.Pairs,
			"recorded": result.Recorded,
			"failed":   len(result.Failures),
		}).Info("Rate poll complete")
		return
	}

	if err := syncWorker.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start rate sync worker")
	}

	// Wait for interrupt signal to gracefully shutdown the worker
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down rate sync worker...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := syncWorker.Stop(stopCtx); err != nil {
		logger.WithError(err).Warn("Rate sync worker did not stop cleanly")
	}

	logger.Info("Worker stopped")
}
