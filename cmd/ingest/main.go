package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/smukkama/mobility-server/internal/anomaly"
	"github.com/smukkama/mobility-server/internal/database"
	"github.com/smukkama/mobility-server/internal/logging"
	"github.com/smukkama/mobility-server/internal/observability"
	"github.com/smukkama/mobility-server/internal/pipeline"
	"github.com/smukkama/mobility-server/internal/queue"
	"github.com/smukkama/mobility-server/internal/trip"
	"github.com/smukkama/mobility-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Must(cfg.Log, "ingest")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ingest failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	classifier, err := anomaly.NewClassifier(cfg.Pipeline.Classifier, cfg.Pipeline.Settings)
	if err != nil {
		return err
	}

	p, err := pipeline.New(pipeline.Options{
		Bounds:      cfg.Pipeline.Bounds,
		Classifier:  classifier,
		SpeedFilter: anomaly.NewSpeedFilter(cfg.Pipeline.Settings.SpeedThreshold),
		Logger:      logger,
		Metrics:     observability.NewMetrics(""),
	})
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	res, err := runSource(ctx, p, cfg.Pipeline, logger)
	if err != nil {
		return err
	}

	if err := writeOutputs(cfg.Pipeline, res, logger); err != nil {
		return err
	}

	sink, closeSink, err := openSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	delivery, err := p.Deliver(ctx, res, sink)
	if err != nil {
		return err
	}

	res.Summary.WriteTo(os.Stdout)
	logger.Info("ingest complete",
		zap.String("run_id", res.RunID),
		zap.String("sink", cfg.Pipeline.Sink),
		zap.Int64("trips_delivered", delivery.Trips),
		zap.Int64("anomalies_delivered", delivery.Anomalies),
		zap.Int64("trips_skipped", int64(len(res.Clean))-delivery.Trips))
	return nil
}

// runSource reads the input file in its configured layout and runs the
// matching pipeline variant
func runSource(ctx context.Context, p *pipeline.Pipeline, cfg config.PipelineConfig, logger *zap.Logger) (*pipeline.Result, error) {
	f, err := os.Open(cfg.InputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	logger.Info("reading input", zap.String("path", cfg.InputPath), zap.String("source", cfg.Source))

	if cfg.Source == config.SourceCleaned {
		records, read, err := trip.ReadCleaned(f)
		if err != nil {
			return nil, err
		}
		logRead(logger, read)
		return p.RunCleaned(ctx, records)
	}

	rows, read, err := trip.ReadRaw(f)
	if err != nil {
		return nil, err
	}
	logRead(logger, read)
	return p.Run(ctx, rows)
}

func logRead(logger *zap.Logger, read *trip.ReadResult) {
	logger.Info("input read", zap.Int("rows", read.Total), zap.Int("skipped", read.Skipped))
	for _, e := range read.Errors {
		logger.Debug("skipped row", zap.String("error", e))
	}
}

func writeOutputs(cfg config.PipelineConfig, res *pipeline.Result, logger *zap.Logger) error {
	if cfg.CleanedPath != "" {
		if err := writeFile(cfg.CleanedPath, func(f *os.File) error { return trip.WriteCleaned(f, res.Clean) }); err != nil {
			return err
		}
		logger.Info("cleaned trips written", zap.String("path", cfg.CleanedPath), zap.Int("trips", len(res.Clean)))
	}
	if cfg.ExcludedPath != "" {
		if err := writeFile(cfg.ExcludedPath, func(f *os.File) error { return trip.WriteExcluded(f, res.Excluded) }); err != nil {
			return err
		}
		logger.Info("excluded rows written", zap.String("path", cfg.ExcludedPath), zap.Int("rows", len(res.Excluded)))
	}
	return nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// openSink returns the configured sink and a function releasing it
func openSink(ctx context.Context, cfg *config.Config, logger *zap.Logger) (pipeline.Sink, func(), error) {
	switch cfg.Pipeline.Sink {
	case config.SinkKafka:
		if err := queue.EnsureTopics(ctx, cfg.Kafka.Brokers, cfg.Kafka.NumPartitions, 1, logger,
			cfg.Kafka.TopicTrips, cfg.Kafka.TopicAnomalies); err != nil {
			logger.Warn("topic setup failed", zap.Error(err))
		}
		trips := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicTrips)
		anomalies := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAnomalies)
		closer := func() {
			trips.Close()
			anomalies.Close()
		}
		return queue.NewPublisher(trips, anomalies, cfg.Kafka.BatchSize), closer, nil

	default:
		db, err := database.Connect(cfg.Database.ConnectionString(), logger)
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations("migrations"); err != nil {
			db.Close()
			return nil, nil, err
		}
		return pipeline.NewDatabaseSink(db, cfg.Pipeline.InsertBatch), func() { db.Close() }, nil
	}
}
