package pipeline

import (
	"context"

	"github.com/smukkama/mobility-server/internal/trip"
)

// TripStore is the part of the database the direct sink needs
type TripStore interface {
	InsertTrips(ctx context.Context, trips []trip.Trip, batchSize int) (int64, error)
	InsertAnomalies(ctx context.Context, anomalies []trip.Anomaly) (int64, error)
}

// DatabaseSink writes a run straight to the database
type DatabaseSink struct {
	store     TripStore
	batchSize int
}

// NewDatabaseSink creates a sink inserting batchSize trips per statement
func NewDatabaseSink(store TripStore, batchSize int) *DatabaseSink {
	return &DatabaseSink{store: store, batchSize: batchSize}
}

// WriteTrips inserts the clean trips, skipping ids already stored
func (s *DatabaseSink) WriteTrips(ctx context.Context, trips []trip.Trip) (int64, error) {
	return s.store.InsertTrips(ctx, trips, s.batchSize)
}

// WriteAnomalies stores the anomalies for audit
func (s *DatabaseSink) WriteAnomalies(ctx context.Context, anomalies []trip.Anomaly) (int64, error) {
	return s.store.InsertAnomalies(ctx, anomalies)
}
