package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/mobility-server/internal/database"
	"github.com/smukkama/mobility-server/internal/logging"
	"github.com/smukkama/mobility-server/internal/observability"
	"github.com/smukkama/mobility-server/internal/queue"
	"github.com/smukkama/mobility-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Must(cfg.Log, "dbwriter")
	defer logger.Sync()

	logger.Info("starting database writer service")
	db, err := database.Connect(cfg.Database.ConnectionString(), logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.RunMigrations("migrations"); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	metrics := observability.NewMetrics("")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One consumer and batch writer per topic
	var consumers []*queue.Consumer
	var writers []*queue.BatchWriter
	for _, topic := range []string{cfg.Kafka.TopicTrips, cfg.Kafka.TopicAnomalies} {
		consumer := queue.NewConsumer(cfg.Kafka.Brokers, topic, cfg.Kafka.GroupID)
		defer consumer.Close()
		consumers = append(consumers, consumer)

		bw := queue.NewBatchWriter(consumer, topic, db, cfg.Kafka.BatchSize, cfg.Kafka.FlushInterval, logger, metrics)
		if err := bw.Start(ctx); err != nil {
			logger.Fatal("failed to start batch writer", zap.String("topic", topic), zap.Error(err))
		}
		writers = append(writers, bw)
	}

	logger.Info("database writer service is running",
		zap.Strings("topics", []string{cfg.Kafka.TopicTrips, cfg.Kafka.TopicAnomalies}),
		zap.Int("batch_size", cfg.Kafka.BatchSize),
		zap.Duration("flush_interval", cfg.Kafka.FlushInterval))

	// Log consumer stats periodically
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, c := range consumers {
					stats := c.Stats()
					logger.Info("consumer stats",
						zap.String("topic", stats.Topic),
						zap.Int64("messages", stats.Messages),
						zap.Int64("bytes", stats.Bytes),
						zap.Int64("errors", stats.Errors))
				}
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down gracefully")
	for _, bw := range writers {
		bw.Stop()
	}
	logger.Info("database writer service stopped")
}
