package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/smukkama/mobility-server/internal/trip"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// DB wraps the database connection
type DB struct {
	*sqlx.DB
	logger *zap.Logger
}

// Connect establishes a connection to the database
func Connect(connectionString string, logger *zap.Logger) (*DB, error) {
	db, err := sqlx.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return New(db, logger), nil
}

// New wraps an open connection
func New(db *sqlx.DB, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{DB: db, logger: logger.Named("database")}
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		db.logger.Info("running migration", zap.String("file", filename))

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	db.logger.Info("all migrations completed", zap.Int("count", len(sqlFiles)))
	return nil
}

// maxBindParams is the PostgreSQL wire protocol limit on parameters in one
// statement
const maxBindParams = 65535

// Bind parameters per row of each bulk insert
const (
	tripParams    = 16
	anomalyParams = 10
)

// rowsPerStatement caps a requested batch size so one statement stays under
// the bind parameter limit. A non-positive request means as many as fit.
func rowsPerStatement(requested, paramsPerRow int) int {
	limit := maxBindParams / paramsPerRow
	if requested <= 0 || requested > limit {
		return limit
	}
	return requested
}

const insertTripQuery = `
	INSERT INTO trips (
		id, vendor_id, pickup_datetime, dropoff_datetime, passenger_count,
		pickup_longitude, pickup_latitude, dropoff_longitude, dropoff_latitude,
		store_and_fwd_flag, trip_duration, pickup_hour, pickup_weekday,
		trip_distance_km, trip_speed_kmh, time_of_day
	) VALUES (
		:id, :vendor_id, :pickup_datetime, :dropoff_datetime, :passenger_count,
		:pickup_longitude, :pickup_latitude, :dropoff_longitude, :dropoff_latitude,
		:store_and_fwd_flag, :trip_duration, :pickup_hour, :pickup_weekday,
		:trip_distance_km, :trip_speed_kmh, :time_of_day
	)
	ON CONFLICT (id) DO NOTHING
`

// InsertTrips bulk-inserts trips in one transaction, batchSize rows per
// statement. batchSize is capped so a statement never exceeds the bind
// parameter limit. Trips whose id already exists are skipped. Returns the
// number of rows actually inserted.
func (db *DB) InsertTrips(ctx context.Context, trips []trip.Trip, batchSize int) (int64, error) {
	if len(trips) == 0 {
		return 0, nil
	}
	batchSize = rowsPerStatement(batchSize, tripParams)

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var inserted int64
	for start := 0; start < len(trips); start += batchSize {
		end := start + batchSize
		if end > len(trips) {
			end = len(trips)
		}

		result, err := tx.NamedExecContext(ctx, insertTripQuery, trips[start:end])
		if err != nil {
			return 0, fmt.Errorf("failed to insert trips %d-%d: %w", start, end, err)
		}
		n, _ := result.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit trips: %w", err)
	}

	db.logger.Debug("inserted trips",
		zap.Int("received", len(trips)),
		zap.Int64("inserted", inserted))
	return inserted, nil
}

const insertAnomalyQuery = `
	INSERT INTO trip_anomalies (
		trip_id, run_id, classifier, reason, trip_speed_kmh, trip_distance_km,
		trip_duration, pickup_datetime, payload, detected_at
	) VALUES (
		:trip_id, :run_id, :classifier, :reason, :trip_speed_kmh, :trip_distance_km,
		:trip_duration, :pickup_datetime, :payload, :detected_at
	)
	ON CONFLICT (trip_id, run_id) DO NOTHING
`

// InsertAnomalies stores the anomaly partition of a run for audit. Rows are
// written in one transaction, as many per statement as the bind parameter
// limit allows.
func (db *DB) InsertAnomalies(ctx context.Context, anomalies []trip.Anomaly) (int64, error) {
	if len(anomalies) == 0 {
		return 0, nil
	}

	rows := make([]AnomalyRecord, 0, len(anomalies))
	for _, a := range anomalies {
		rec, err := NewAnomalyRecord(a)
		if err != nil {
			return 0, err
		}
		rows = append(rows, rec)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	batchSize := rowsPerStatement(0, anomalyParams)
	var inserted int64
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}

		result, err := tx.NamedExecContext(ctx, insertAnomalyQuery, rows[start:end])
		if err != nil {
			return 0, fmt.Errorf("failed to insert anomalies %d-%d: %w", start, end, err)
		}
		n, _ := result.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit anomalies: %w", err)
	}
	return inserted, nil
}

// NewAnomalyRecord flattens an anomaly into its audit row. Non-finite speeds
// are stored as NULL.
func NewAnomalyRecord(a trip.Anomaly) (AnomalyRecord, error) {
	rec := AnomalyRecord{
		TripID:     a.TripID,
		RunID:      a.RunID,
		Classifier: a.Classifier,
		Reason:     a.Reason,
		DetectedAt: a.DetectedAt,
	}

	var payload interface{} = a.Record
	if a.Trip != nil {
		if rec.TripID == "" {
			rec.TripID = a.Trip.ID
		}
		speed, distance, duration := a.Trip.SpeedKmh, a.Trip.DistanceKm, a.Trip.DurationSec
		pickup := a.Trip.PickupAt
		if !math.IsInf(speed, 0) && !math.IsNaN(speed) {
			rec.SpeedKmh = &speed
		}
		payload = a.Trip.Encodable()
		rec.DistanceKm = &distance
		rec.DurationSec = &duration
		rec.PickupDatetime = &pickup
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return AnomalyRecord{}, fmt.Errorf("failed to encode anomaly payload for %s: %w", rec.TripID, err)
	}
	rec.Payload = data
	return rec, nil
}

// CountTrips returns the number of rows in the trips table
func (db *DB) CountTrips(ctx context.Context) (int64, error) {
	var count int64
	if err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM trips`); err != nil {
		return 0, fmt.Errorf("failed to count trips: %w", err)
	}
	return count, nil
}

const tripColumns = `
	id, vendor_id, pickup_datetime, dropoff_datetime, passenger_count,
	pickup_longitude, pickup_latitude, dropoff_longitude, dropoff_latitude,
	store_and_fwd_flag, trip_duration, pickup_hour, pickup_weekday,
	trip_distance_km, trip_speed_kmh, time_of_day
`

// GetTrip retrieves a trip by id. Returns ErrNotFound when it does not exist.
func (db *DB) GetTrip(ctx context.Context, id string) (*trip.Trip, error) {
	var t trip.Trip
	err := db.GetContext(ctx, &t, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip %s: %w", id, err)
	}
	return &t, nil
}

// ListTrips returns trips matching the filter, most recent pickup first
func (db *DB) ListTrips(ctx context.Context, f TripFilter) ([]trip.Trip, error) {
	where, args := f.Where()
	args = append(args, f.EffectiveLimit())

	query := fmt.Sprintf(`
		SELECT %s
		FROM trips
		%s
		ORDER BY pickup_datetime DESC
		LIMIT $%d
	`, tripColumns, where, len(args))

	trips := []trip.Trip{}
	if err := db.SelectContext(ctx, &trips, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list trips: %w", err)
	}
	return trips, nil
}

// Stats computes the aggregate statistics over all stored trips
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	query := `
		SELECT
			COUNT(*) AS total_trips,
			ROUND(AVG(trip_duration)::numeric, 2)::float8 AS avg_trip_duration_sec,
			ROUND(AVG(trip_distance_km)::numeric, 2)::float8 AS avg_trip_distance_km,
			ROUND(AVG(trip_speed_kmh)::numeric, 2)::float8 AS avg_trip_speed_kmh,
			MODE() WITHIN GROUP (ORDER BY pickup_hour) AS most_active_hour,
			MODE() WITHIN GROUP (ORDER BY pickup_weekday) AS most_active_weekday
		FROM trips
	`

	var stats Stats
	if err := db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return &stats, nil
}

// ListHourlySummary returns the weekday/hour summary ordered by weekday and hour
func (db *DB) ListHourlySummary(ctx context.Context) ([]HourlySummary, error) {
	query := `
		SELECT pickup_weekday, pickup_hour, trip_count, avg_duration_sec,
		       avg_distance_km, avg_speed_kmh, refreshed_at
		FROM trip_hourly_summary
		ORDER BY pickup_weekday, pickup_hour
	`

	rows := []HourlySummary{}
	if err := db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list hourly summary: %w", err)
	}
	return rows, nil
}

// ListAnomalies returns audit rows, newest first. An empty runID lists all runs.
func (db *DB) ListAnomalies(ctx context.Context, runID string, limit int) ([]AnomalyRecord, error) {
	if limit <= 0 || limit > MaxTripLimit {
		limit = DefaultTripLimit
	}

	query := `
		SELECT trip_id, run_id, classifier, reason, trip_speed_kmh, trip_distance_km,
		       trip_duration, pickup_datetime, payload, detected_at
		FROM trip_anomalies
		WHERE ($1 = '' OR run_id = $1)
		ORDER BY detected_at DESC, trip_id
		LIMIT $2
	`

	rows := []AnomalyRecord{}
	if err := db.SelectContext(ctx, &rows, query, runID, limit); err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	return rows, nil
}
