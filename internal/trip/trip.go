package trip

import (
	"math"
	"time"
)

// TimeOfDay is the pickup time bucket stored with every trip
type TimeOfDay string

const (
	Night     TimeOfDay = "night"
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
)

// Valid reports whether t is one of the known buckets
func (t TimeOfDay) Valid() bool {
	switch t {
	case Night, Morning, Afternoon, Evening:
		return true
	}
	return false
}

// RawTrip is one row of the source trip file, before any validation
type RawTrip struct {
	ID              string
	VendorID        string
	PickupDatetime  string
	DropoffDatetime string
	PassengerCount  string
	PickupLon       string
	PickupLat       string
	DropoffLon      string
	DropoffLat      string
	StoreAndFwdFlag string
	TripDuration    string
}

// Trip represents a validated taxi trip with its derived features
type Trip struct {
	ID              string    `json:"id" db:"id"`
	VendorID        int       `json:"vendor_id" db:"vendor_id"`
	PickupAt        time.Time `json:"pickup_datetime" db:"pickup_datetime"`
	DropoffAt       time.Time `json:"dropoff_datetime" db:"dropoff_datetime"`
	PassengerCount  int       `json:"passenger_count" db:"passenger_count"`
	PickupLon       float64   `json:"pickup_longitude" db:"pickup_longitude"`
	PickupLat       float64   `json:"pickup_latitude" db:"pickup_latitude"`
	DropoffLon      float64   `json:"dropoff_longitude" db:"dropoff_longitude"`
	DropoffLat      float64   `json:"dropoff_latitude" db:"dropoff_latitude"`
	StoreAndFwdFlag string    `json:"store_and_fwd_flag" db:"store_and_fwd_flag"`
	DurationSec     int       `json:"trip_duration" db:"trip_duration"`

	// Derived
	PickupHour    int       `json:"pickup_hour" db:"pickup_hour"`
	PickupWeekday int       `json:"pickup_weekday" db:"pickup_weekday"`
	DistanceKm    float64   `json:"trip_distance_km" db:"trip_distance_km"`
	SpeedKmh      float64   `json:"trip_speed_kmh" db:"trip_speed_kmh"`
	TimeOfDay     TimeOfDay `json:"time_of_day" db:"time_of_day"`
}

// Encodable returns a copy of t whose derived values can be encoded as JSON.
// Non-finite speed and distance become zero.
func (t Trip) Encodable() Trip {
	if math.IsInf(t.SpeedKmh, 0) || math.IsNaN(t.SpeedKmh) {
		t.SpeedKmh = 0
	}
	if math.IsInf(t.DistanceKm, 0) || math.IsNaN(t.DistanceKm) {
		t.DistanceKm = 0
	}
	return t
}

// Anomaly is a record set aside by a classifier, kept for audit. Trip is nil
// when the record could not be parsed; Record then holds its source fields.
type Anomaly struct {
	TripID     string    `json:"trip_id"`
	Trip       *Trip     `json:"trip,omitempty"`
	Record     Record    `json:"record,omitempty"`
	RunID      string    `json:"run_id"`
	Classifier string    `json:"classifier"`
	Reason     string    `json:"reason"`
	DetectedAt time.Time `json:"detected_at"`
}

// Exclusion records why a raw row never became a Trip
type Exclusion struct {
	Row    RawTrip
	Reason string
}

// Exclusion reasons
const (
	ReasonMissingField = "missing_field"
	ReasonMalformed    = "malformed"
	ReasonDuplicate    = "duplicate"
	ReasonOutOfArea    = "out_of_area"
	ReasonDuration     = "duration_out_of_range"
	ReasonPassengers   = "passengers_out_of_range"
	ReasonSpeedCeiling = "speed_above_ceiling"

	ReasonNonPositiveDuration = "non_positive_duration"
	ReasonNegativeDistance    = "negative_distance"
	ReasonPickupOutOfRange    = "pickup_hour_or_weekday_out_of_range"
)

// Unstorable returns the reason t cannot be stored as a trip row, or "" when
// it can. Stored trips have a positive duration, a non-negative distance and
// a pickup hour and weekday inside the clock and week.
func (t Trip) Unstorable() string {
	switch {
	case t.DurationSec <= 0:
		return ReasonNonPositiveDuration
	case t.DistanceKm < 0 || math.IsNaN(t.DistanceKm):
		return ReasonNegativeDistance
	case t.PickupHour < 0 || t.PickupHour > 23 || t.PickupWeekday < 0 || t.PickupWeekday > 6:
		return ReasonPickupOutOfRange
	}
	return ""
}
