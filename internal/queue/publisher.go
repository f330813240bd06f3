package queue

import (
	"context"
	"time"

	"github.com/smukkama/mobility-server/internal/protocol"
	"github.com/smukkama/mobility-server/internal/trip"
)

// MessagePublisher sends trip messages to one topic
type MessagePublisher interface {
	PublishMessages(ctx context.Context, msgs []*protocol.TripMessage) error
}

// Publisher delivers pipeline output to Kafka, clean trips and anomalies
// on separate topics.
type Publisher struct {
	trips     MessagePublisher
	anomalies MessagePublisher
	batchSize int
	now       func() time.Time
}

// NewPublisher creates a publisher. batchSize bounds the messages per write.
func NewPublisher(trips, anomalies MessagePublisher, batchSize int) *Publisher {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Publisher{
		trips:     trips,
		anomalies: anomalies,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// WriteTrips publishes clean trips and returns the number published
func (p *Publisher) WriteTrips(ctx context.Context, trips []trip.Trip) (int64, error) {
	now := p.now().UTC()
	msgs := make([]*protocol.TripMessage, len(trips))
	for i, t := range trips {
		msgs[i] = protocol.NewTripMessage(t, now)
	}
	return p.publish(ctx, p.trips, msgs)
}

// WriteAnomalies publishes anomalies and returns the number published
func (p *Publisher) WriteAnomalies(ctx context.Context, anomalies []trip.Anomaly) (int64, error) {
	now := p.now().UTC()
	msgs := make([]*protocol.TripMessage, len(anomalies))
	for i, a := range anomalies {
		msgs[i] = protocol.NewAnomalyMessage(a, now)
	}
	return p.publish(ctx, p.anomalies, msgs)
}

func (p *Publisher) publish(ctx context.Context, dst MessagePublisher, msgs []*protocol.TripMessage) (int64, error) {
	var published int64
	for start := 0; start < len(msgs); start += p.batchSize {
		end := start + p.batchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		if err := dst.PublishMessages(ctx, msgs[start:end]); err != nil {
			return published, err
		}
		published += int64(end - start)
	}
	return published, nil
}
