package database

import (
	"time"
)

// Stats is the aggregate view served by the stats endpoint
type Stats struct {
	TotalTrips         int64    `json:"total_trips" db:"total_trips"`
	AvgTripDurationSec *float64 `json:"avg_trip_duration_sec" db:"avg_trip_duration_sec"`
	AvgTripDistanceKm  *float64 `json:"avg_trip_distance_km" db:"avg_trip_distance_km"`
	AvgTripSpeedKmh    *float64 `json:"avg_trip_speed_kmh" db:"avg_trip_speed_kmh"`
	MostActiveHour     *int     `json:"most_active_hour" db:"most_active_hour"`
	MostActiveWeekday  *int     `json:"most_active_weekday" db:"most_active_weekday"`
}

// HourlySummary represents one weekday/hour cell of the trip summary
type HourlySummary struct {
	PickupWeekday  int       `json:"pickup_weekday" db:"pickup_weekday"`
	PickupHour     int       `json:"pickup_hour" db:"pickup_hour"`
	TripCount      int64     `json:"trip_count" db:"trip_count"`
	AvgDurationSec float64   `json:"avg_duration_sec" db:"avg_duration_sec"`
	AvgDistanceKm  float64   `json:"avg_distance_km" db:"avg_distance_km"`
	AvgSpeedKmh    float64   `json:"avg_speed_kmh" db:"avg_speed_kmh"`
	RefreshedAt    time.Time `json:"refreshed_at" db:"refreshed_at"`
}

// AnomalyRecord represents a row of the anomaly audit table
type AnomalyRecord struct {
	TripID         string     `json:"trip_id" db:"trip_id"`
	RunID          string     `json:"run_id" db:"run_id"`
	Classifier     string     `json:"classifier" db:"classifier"`
	Reason         string     `json:"reason" db:"reason"`
	SpeedKmh       *float64   `json:"trip_speed_kmh" db:"trip_speed_kmh"`
	DistanceKm     *float64   `json:"trip_distance_km" db:"trip_distance_km"`
	DurationSec    *int       `json:"trip_duration" db:"trip_duration"`
	PickupDatetime *time.Time `json:"pickup_datetime" db:"pickup_datetime"`
	Payload        []byte     `json:"-" db:"payload"`
	DetectedAt     time.Time  `json:"detected_at" db:"detected_at"`
}
