package anomaly

import (
	"strconv"
	"strings"
)

// DefaultSpeedThreshold is the speed ceiling in km/h above which a trip is
// treated as anomalous.
const DefaultSpeedThreshold = 150.0

// Field names read by SpeedFilter.
const (
	FieldDistanceKm = "trip_distance_km"
	FieldDuration   = "trip_duration"
)

// Fields is a loosely typed trip record, as read from a CSV row or a query
// result. Only FieldDistanceKm and FieldDuration are inspected.
type Fields map[string]string

// SpeedFilter partitions records by their implied average speed.
type SpeedFilter struct {
	threshold float64
}

// NewSpeedFilter creates a filter with the given speed ceiling in km/h
func NewSpeedFilter(threshold float64) *SpeedFilter {
	return &SpeedFilter{threshold: threshold}
}

// Threshold returns the speed ceiling in km/h.
func (f *SpeedFilter) Threshold() float64 {
	return f.threshold
}

// Partition splits records into valid and anomalous ones, keeping the input
// order within each output. A record whose distance or duration is missing or
// not numeric, or whose duration is exactly zero, is anomalous. Negative
// values are not rejected; they go through the threshold comparison as is.
func (f *SpeedFilter) Partition(records []Fields) (valid, anomalies []Fields) {
	valid = []Fields{}
	anomalies = []Fields{}

	for _, rec := range records {
		if f.isAnomaly(rec) {
			anomalies = append(anomalies, rec)
		} else {
			valid = append(valid, rec)
		}
	}
	return valid, anomalies
}

func (f *SpeedFilter) isAnomaly(rec Fields) bool {
	distance, ok := parseField(rec, FieldDistanceKm)
	if !ok {
		return true
	}
	seconds, ok := parseField(rec, FieldDuration)
	if !ok {
		return true
	}

	hours := seconds / 3600
	if hours == 0 {
		return true
	}

	return distance/hours > f.threshold
}

func parseField(rec Fields, name string) (float64, bool) {
	raw, ok := rec[name]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
