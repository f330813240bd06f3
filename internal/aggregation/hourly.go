package aggregation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Execer runs a statement against the database
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Invalidator drops cached results derived from the trips table
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

const refreshHourlyQuery = `
	INSERT INTO trip_hourly_summary (
		pickup_weekday, pickup_hour, trip_count, avg_duration_sec,
		avg_distance_km, avg_speed_kmh, refreshed_at
	)
	SELECT
		pickup_weekday,
		pickup_hour,
		COUNT(*) AS trip_count,
		AVG(trip_duration) AS avg_duration_sec,
		AVG(trip_distance_km) AS avg_distance_km,
		AVG(trip_speed_kmh) AS avg_speed_kmh,
		$1 AS refreshed_at
	FROM
		trips
	GROUP BY
		pickup_weekday, pickup_hour
	ON CONFLICT (pickup_weekday, pickup_hour) DO UPDATE
	SET
		trip_count = EXCLUDED.trip_count,
		avg_duration_sec = EXCLUDED.avg_duration_sec,
		avg_distance_km = EXCLUDED.avg_distance_km,
		avg_speed_kmh = EXCLUDED.avg_speed_kmh,
		refreshed_at = EXCLUDED.refreshed_at
`

// HourlyAggregator rebuilds the weekday by hour summary of stored trips
type HourlyAggregator struct {
	db     Execer
	cache  Invalidator
	logger *zap.Logger
	now    func() time.Time
}

// NewHourlyAggregator creates a new hourly aggregator. cache may be nil.
func NewHourlyAggregator(db Execer, cache Invalidator, logger *zap.Logger) *HourlyAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HourlyAggregator{
		db:     db,
		cache:  cache,
		logger: logger.Named("aggregation"),
		now:    time.Now,
	}
}

// Refresh upserts one summary row per (weekday, hour) group and drops the
// cached stats. Returns the number of groups written.
func (h *HourlyAggregator) Refresh(ctx context.Context) (int64, error) {
	start := h.now().UTC()
	h.logger.Info("refreshing hourly summary")

	result, err := h.db.ExecContext(ctx, refreshHourlyQuery, start)
	if err != nil {
		return 0, fmt.Errorf("failed to refresh hourly summary: %w", err)
	}
	groups, _ := result.RowsAffected()

	if h.cache != nil {
		if err := h.cache.Invalidate(ctx); err != nil {
			// Stale entries expire on their own
			h.logger.Warn("failed to invalidate stats cache", zap.Error(err))
		}
	}

	h.logger.Info("hourly summary refreshed",
		zap.Int64("groups", groups),
		zap.Duration("took", h.now().UTC().Sub(start)))
	return groups, nil
}
