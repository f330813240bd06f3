package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/mobility-server/internal/trip"
)

type fakeStore struct {
	batchSize int
	trips     int
	anomalies int
}

func (s *fakeStore) InsertTrips(_ context.Context, trips []trip.Trip, batchSize int) (int64, error) {
	s.batchSize = batchSize
	s.trips += len(trips)
	return int64(len(trips)), nil
}

func (s *fakeStore) InsertAnomalies(_ context.Context, anomalies []trip.Anomaly) (int64, error) {
	s.anomalies += len(anomalies)
	return int64(len(anomalies)), nil
}

func TestDatabaseSink(t *testing.T) {
	store := &fakeStore{}
	sink := NewDatabaseSink(store, 250)

	n, err := sink.WriteTrips(context.Background(), []trip.Trip{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 250, store.batchSize)

	n, err = sink.WriteAnomalies(context.Background(), []trip.Anomaly{{TripID: "c"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, store.anomalies)
}
