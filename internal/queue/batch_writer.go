package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smukkama/mobility-server/internal/observability"
	"github.com/smukkama/mobility-server/internal/protocol"
	"github.com/smukkama/mobility-server/internal/trip"
)

// MessageSource is the consuming side of a topic
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// TripWriter persists decoded messages
type TripWriter interface {
	InsertTrips(ctx context.Context, trips []trip.Trip, batchSize int) (int64, error)
	InsertAnomalies(ctx context.Context, anomalies []trip.Anomaly) (int64, error)
}

// Backoff between attempts to store a failed batch
const (
	DefaultRetryBackoff = time.Second
	MaxRetryBackoff     = 30 * time.Second
)

// BatchWriter consumes trip messages from Kafka and batch-writes them to
// the database. Offsets are committed only after the batch is stored; a
// batch that fails is retried before anything newer is taken.
type BatchWriter struct {
	source        MessageSource
	topic         string
	writer        TripWriter
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger
	metrics       *observability.Metrics
	retryBackoff  time.Duration

	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBatchWriter creates a new batch writer. metrics may be nil.
func NewBatchWriter(source MessageSource, topic string, writer TripWriter, batchSize int, flushInterval time.Duration, logger *zap.Logger, metrics *observability.Metrics) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchWriter{
		source:        source,
		topic:         topic,
		writer:        writer,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger.With(zap.String("topic", topic)),
		metrics:       metrics,
		retryBackoff:  DefaultRetryBackoff,
		stopCh:        make(chan struct{}),
	}
}

// Start begins consuming and writing to database
func (bw *BatchWriter) Start(ctx context.Context) error {
	ctx, bw.cancel = context.WithCancel(ctx)

	msgCh := make(chan kafka.Message, bw.batchSize)
	bw.wg.Add(2)
	go bw.consume(ctx, msgCh)
	go bw.run(ctx, msgCh)
	return nil
}

// Stop flushes the pending batch and stops the writer
func (bw *BatchWriter) Stop() {
	close(bw.stopCh)
	bw.wg.Wait()
	if bw.cancel != nil {
		bw.cancel()
	}
}

func (bw *BatchWriter) consume(ctx context.Context, msgCh chan<- kafka.Message) {
	defer bw.wg.Done()

	for {
		msg, err := bw.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			bw.logger.Warn("consumer error", zap.Error(err))
			bw.countError("consume")
			select {
			case <-time.After(time.Second):
				continue
			case <-bw.stopCh:
				return
			}
		}

		select {
		case msgCh <- msg:
		case <-bw.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (bw *BatchWriter) run(ctx context.Context, msgCh <-chan kafka.Message) {
	defer bw.wg.Done()
	// Cancel the consumer so it stops fetching
	defer func() {
		if bw.cancel != nil {
			bw.cancel()
		}
	}()

	var batch []kafka.Message
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-bw.stopCh:
			// The caller's context may already be cancelled on shutdown
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			if err := bw.flush(flushCtx, batch); err != nil {
				bw.logger.Warn("final batch left uncommitted for redelivery",
					zap.Int("messages", len(batch)), zap.Error(err))
			}
			cancel()
			return

		case <-ticker.C:
			if len(batch) > 0 {
				bw.logger.Debug("flush interval reached", zap.Int("messages", len(batch)))
				if !bw.flushWithRetry(ctx, batch) {
					return
				}
				batch = nil
			}

		case msg := <-msgCh:
			if bw.metrics != nil {
				bw.metrics.MessagesConsumed.WithLabelValues(bw.topic).Inc()
			}
			batch = append(batch, msg)

			if len(batch) >= bw.batchSize {
				if !bw.flushWithRetry(ctx, batch) {
					return
				}
				batch = nil
			}
		}
	}
}

// flushWithRetry stores and commits the batch, backing off between failed
// attempts. It returns false when the writer is stopped or its context ends
// first; the batch then stays uncommitted and is redelivered to the group.
func (bw *BatchWriter) flushWithRetry(ctx context.Context, batch []kafka.Message) bool {
	backoff := bw.retryBackoff
	for attempt := 1; ; attempt++ {
		err := bw.flush(ctx, batch)
		if err == nil {
			return true
		}

		bw.logger.Warn("batch not stored, retrying",
			zap.Int("messages", len(batch)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-time.After(backoff):
		case <-bw.stopCh:
			bw.logger.Warn("stopped with batch uncommitted", zap.Int("messages", len(batch)))
			return false
		case <-ctx.Done():
			return false
		}

		backoff *= 2
		if backoff > MaxRetryBackoff {
			backoff = MaxRetryBackoff
		}
	}
}

// flush decodes the batch, writes it, and commits the offsets. Messages that
// cannot be decoded are logged and committed so they are not redelivered.
// Nothing is committed when the write or the commit fails.
func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) error {
	if len(batch) == 0 {
		return nil
	}

	var trips []trip.Trip
	var anomalies []trip.Anomaly
	for _, msg := range batch {
		decoded, err := protocol.DecodeTripMessage(msg.Value)
		if err != nil {
			bw.logger.Warn("dropping undecodable message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			bw.countError("decode")
			continue
		}
		switch decoded.Kind {
		case protocol.KindTrip:
			trips = append(trips, *decoded.Trip)
		case protocol.KindAnomaly:
			anomalies = append(anomalies, *decoded.Anomaly)
		}
	}

	insertedTrips, err := bw.writer.InsertTrips(ctx, trips, bw.batchSize)
	if err != nil {
		bw.countError("write")
		return fmt.Errorf("failed to write %d trips: %w", len(trips), err)
	}
	insertedAnomalies, err := bw.writer.InsertAnomalies(ctx, anomalies)
	if err != nil {
		bw.countError("write")
		return fmt.Errorf("failed to write %d anomalies: %w", len(anomalies), err)
	}

	if err := bw.source.Commit(ctx, batch...); err != nil {
		bw.countError("commit")
		return err
	}

	if bw.metrics != nil {
		bw.metrics.RowsInserted.WithLabelValues("trips").Add(float64(insertedTrips))
		bw.metrics.RowsSkipped.WithLabelValues("trips").Add(float64(int64(len(trips)) - insertedTrips))
		bw.metrics.RowsInserted.WithLabelValues("trip_anomalies").Add(float64(insertedAnomalies))
		bw.metrics.RowsSkipped.WithLabelValues("trip_anomalies").Add(float64(int64(len(anomalies)) - insertedAnomalies))
	}

	bw.logger.Info("flushed batch",
		zap.Int("messages", len(batch)),
		zap.Int64("trips_inserted", insertedTrips),
		zap.Int64("anomalies_inserted", insertedAnomalies))
	return nil
}

func (bw *BatchWriter) countError(stage string) {
	if bw.metrics != nil {
		bw.metrics.MessageErrors.WithLabelValues(stage).Inc()
	}
}
