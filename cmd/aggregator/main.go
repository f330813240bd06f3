package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smukkama/mobility-server/internal/aggregation"
	"github.com/smukkama/mobility-server/internal/cache"
	"github.com/smukkama/mobility-server/internal/database"
	"github.com/smukkama/mobility-server/internal/logging"
	"github.com/smukkama/mobility-server/internal/scheduler"
	"github.com/smukkama/mobility-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Must(cfg.Log, "aggregator")
	defer logger.Sync()

	logger.Info("starting aggregation service")

	db, err := database.Connect(cfg.Database.ConnectionString(), logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.RunMigrations("migrations"); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	hourlyAgg := aggregation.NewHourlyAggregator(db, cache.NewStatsCache(redisClient, cfg.Redis.StatsTTL), logger)

	sched := scheduler.New(1, logger)
	sched.Start()
	defer sched.Stop()

	refresh := func(ctx context.Context) error {
		_, err := hourlyAgg.Refresh(ctx)
		return err
	}

	// Refresh once at startup, then on the configured interval
	if _, err := hourlyAgg.Refresh(context.Background()); err != nil {
		logger.Error("initial refresh failed", zap.Error(err))
	}
	if err := sched.Every("hourly-summary", cfg.Aggregation.Interval, refresh); err != nil {
		logger.Fatal("failed to schedule refresh", zap.Error(err))
	}

	logger.Info("aggregation service is running", zap.Duration("interval", cfg.Aggregation.Interval))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down gracefully")
}
