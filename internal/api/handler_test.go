package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/mobility-server/internal/cache"
	"github.com/smukkama/mobility-server/internal/database"
	"github.com/smukkama/mobility-server/internal/observability"
	"github.com/smukkama/mobility-server/internal/trip"
)

type fakeStore struct {
	trips      []trip.Trip
	lastFilter database.TripFilter
	stats      *database.Stats
	statsCalls int
	hourly     []database.HourlySummary
	anomalies  []database.AnomalyRecord
	lastRunID  string
	lastLimit  int
	err        error
}

func (s *fakeStore) ListTrips(_ context.Context, f database.TripFilter) ([]trip.Trip, error) {
	s.lastFilter = f
	return s.trips, s.err
}

func (s *fakeStore) GetTrip(_ context.Context, id string) (*trip.Trip, error) {
	if s.err != nil {
		return nil, s.err
	}
	for i := range s.trips {
		if s.trips[i].ID == id {
			return &s.trips[i], nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *fakeStore) Stats(context.Context) (*database.Stats, error) {
	s.statsCalls++
	return s.stats, s.err
}

func (s *fakeStore) ListHourlySummary(context.Context) ([]database.HourlySummary, error) {
	return s.hourly, s.err
}

func (s *fakeStore) ListAnomalies(_ context.Context, runID string, limit int) ([]database.AnomalyRecord, error) {
	s.lastRunID = runID
	s.lastLimit = limit
	return s.anomalies, s.err
}

// memoryCache keeps JSON-encoded values in a map
type memoryCache struct {
	data map[string][]byte
	err  error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, key string, dst interface{}) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	data, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dst)
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = data
	return nil
}

func sampleTrips() []trip.Trip {
	pickup := time.Date(2016, 3, 14, 17, 24, 55, 0, time.UTC)
	return []trip.Trip{
		{ID: "id2875421", VendorID: 2, PickupAt: pickup, DurationSec: 455, PickupHour: 17, TimeOfDay: trip.Evening, SpeedKmh: 11.86},
		{ID: "id2377394", VendorID: 1, PickupAt: pickup.Add(-time.Hour), DurationSec: 663, PickupHour: 16, TimeOfDay: trip.Afternoon},
	}
}

func serve(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestRoot(t *testing.T) {
	router := NewRouter(NewHandler(&fakeStore{}, nil, nil, nil), []string{"*"})

	rec := serve(t, router, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "running")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestListTrips(t *testing.T) {
	store := &fakeStore{trips: sampleTrips()}
	router := NewRouter(NewHandler(store, nil, nil, nil), []string{"*"})

	rec := serve(t, router, "/api/trips?limit=5&pickup_hour=17&time_of_day=Evening&min_speed=2.5&max_duration=600")
	require.Equal(t, http.StatusOK, rec.Code)

	var trips []trip.Trip
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trips))
	assert.Len(t, trips, 2)

	f := store.lastFilter
	assert.Equal(t, 5, f.Limit)
	require.NotNil(t, f.PickupHour)
	assert.Equal(t, 17, *f.PickupHour)
	require.NotNil(t, f.TimeOfDay)
	assert.Equal(t, "evening", *f.TimeOfDay)
	require.NotNil(t, f.MinSpeed)
	assert.Equal(t, 2.5, *f.MinSpeed)
	require.NotNil(t, f.MaxDuration)
	assert.Equal(t, 600, *f.MaxDuration)
	assert.Nil(t, f.PickupWeekday)
	assert.Nil(t, f.MinDistance)
}

func TestListTrips_DefaultLimit(t *testing.T) {
	store := &fakeStore{}
	router := NewRouter(NewHandler(store, nil, nil, nil), []string{"*"})

	rec := serve(t, router, "/api/trips")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, database.DefaultTripLimit, store.lastFilter.EffectiveLimit())
}

func TestListTrips_InvalidParams(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"limit=0", "limit must be between 1 and 1000"},
		{"limit=1001", "limit must be between 1 and 1000"},
		{"limit=abc", "limit must be an integer"},
		{"pickup_hour=24", "pickup_hour must be between 0 and 23"},
		{"pickup_weekday=7", "pickup_weekday must be between 0 and 6"},
		{"pickup_weekday=-1", "pickup_weekday must be between 0 and 6"},
		{"time_of_day=dawn", "time_of_day must be one of night, morning, afternoon, evening"},
		{"min_duration=-5", "min_duration must be >= 0"},
		{"max_speed=-0.1", "max_speed must be >= 0"},
		{"min_distance=far", "min_distance must be a number"},
		{"max_distance=NaN", "max_distance must be a number"},
	}

	router := NewRouter(NewHandler(&fakeStore{}, nil, nil, nil), []string{"*"})
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := serve(t, router, "/api/trips?"+tt.query)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decodeError(t, rec))
		})
	}
}

func TestListTrips_StoreError(t *testing.T) {
	router := NewRouter(NewHandler(&fakeStore{err: errors.New("connection reset")}, nil, nil, nil), []string{"*"})

	rec := serve(t, router, "/api/trips")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decodeError(t, rec))
}

func TestGetTrip(t *testing.T) {
	router := NewRouter(NewHandler(&fakeStore{trips: sampleTrips()}, nil, nil, nil), []string{"*"})

	rec := serve(t, router, "/api/trips/id2875421")
	require.Equal(t, http.StatusOK, rec.Code)

	var got trip.Trip
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "id2875421", got.ID)
	assert.Equal(t, trip.Evening, got.TimeOfDay)

	rec = serve(t, router, "/api/trips/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Trip not found", decodeError(t, rec))
}

func TestGetStats_Cached(t *testing.T) {
	avg := 837.25
	hour := 18
	store := &fakeStore{stats: &database.Stats{TotalTrips: 4, AvgTripDurationSec: &avg, MostActiveHour: &hour}}
	c := newMemoryCache()
	metrics := observability.NewMetrics("test")
	router := NewRouter(NewHandler(store, c, nil, metrics), []string{"*"})

	for i := 0; i < 2; i++ {
		rec := serve(t, router, "/api/stats")
		require.Equal(t, http.StatusOK, rec.Code)

		var stats database.Stats
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
		assert.Equal(t, int64(4), stats.TotalTrips)
		require.NotNil(t, stats.AvgTripDurationSec)
		assert.Equal(t, 837.25, *stats.AvgTripDurationSec)
		assert.Nil(t, stats.AvgTripSpeedKmh)
	}

	assert.Equal(t, 1, store.statsCalls)
	assert.Contains(t, c.data, cache.KeyOverall)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("/api/stats", "200")))
}

func TestGetStats_CacheErrorFallsBack(t *testing.T) {
	store := &fakeStore{stats: &database.Stats{TotalTrips: 1}}
	c := newMemoryCache()
	c.err = errors.New("redis down")
	router := NewRouter(NewHandler(store, c, nil, nil), []string{"*"})

	rec := serve(t, router, "/api/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, store.statsCalls)
}

func TestGetHourlyStats(t *testing.T) {
	store := &fakeStore{hourly: []database.HourlySummary{
		{PickupWeekday: 0, PickupHour: 8, TripCount: 12, AvgSpeedKmh: 14.2},
	}}
	router := NewRouter(NewHandler(store, newMemoryCache(), nil, nil), []string{"*"})

	rec := serve(t, router, "/api/stats/hourly")
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []database.HourlySummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, int64(12), rows[0].TripCount)
}

func TestListAnomalies(t *testing.T) {
	speed := 88.4
	store := &fakeStore{anomalies: []database.AnomalyRecord{
		{TripID: "fast", RunID: "run-1", Classifier: "iqr", SpeedKmh: &speed, Payload: []byte(`{"id":"fast"}`)},
	}}
	router := NewRouter(NewHandler(store, nil, nil, nil), []string{"*"})

	rec := serve(t, router, "/api/anomalies?run_id=run-1&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-1", store.lastRunID)
	assert.Equal(t, 10, store.lastLimit)

	var body []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "fast", body[0]["trip_id"])
	assert.Equal(t, map[string]interface{}{"id": "fast"}, body[0]["payload"])

	rec = serve(t, router, "/api/anomalies?limit=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := observability.NewMetrics("test")
	router := NewRouter(NewHandler(&fakeStore{}, nil, nil, metrics), []string{"*"})

	serve(t, router, "/")
	rec := serve(t, router, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_api_requests_total{route="/",status="200"} 1`)
}

func TestCORS(t *testing.T) {
	router := NewRouter(NewHandler(&fakeStore{}, nil, nil, nil), []string{"http://localhost:3000"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
