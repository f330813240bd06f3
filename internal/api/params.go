package api

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/smukkama/mobility-server/internal/database"
	"github.com/smukkama/mobility-server/internal/trip"
)

// parseTripFilter reads the trip listing query parameters. Absent
// parameters leave the filter unset.
func parseTripFilter(q url.Values) (database.TripFilter, error) {
	var f database.TripFilter
	var err error

	if f.Limit, err = parseLimit(q); err != nil {
		return f, err
	}

	if f.PickupHour, err = intParam(q, "pickup_hour", 0, 23); err != nil {
		return f, err
	}
	if f.PickupWeekday, err = intParam(q, "pickup_weekday", 0, 6); err != nil {
		return f, err
	}

	if v := strings.TrimSpace(q.Get("time_of_day")); v != "" {
		tod := trip.TimeOfDay(strings.ToLower(v))
		if !tod.Valid() {
			return f, fmt.Errorf("time_of_day must be one of night, morning, afternoon, evening")
		}
		s := string(tod)
		f.TimeOfDay = &s
	}

	if f.MinDuration, err = intParam(q, "min_duration", 0, -1); err != nil {
		return f, err
	}
	if f.MaxDuration, err = intParam(q, "max_duration", 0, -1); err != nil {
		return f, err
	}
	if f.MinSpeed, err = floatParam(q, "min_speed"); err != nil {
		return f, err
	}
	if f.MaxSpeed, err = floatParam(q, "max_speed"); err != nil {
		return f, err
	}
	if f.MinDistance, err = floatParam(q, "min_distance"); err != nil {
		return f, err
	}
	if f.MaxDistance, err = floatParam(q, "max_distance"); err != nil {
		return f, err
	}

	return f, nil
}

// parseLimit returns the requested limit, or zero when absent
func parseLimit(q url.Values) (int, error) {
	limit, err := intParam(q, "limit", 1, database.MaxTripLimit)
	if err != nil || limit == nil {
		return 0, err
	}
	return *limit, nil
}

// intParam parses an integer parameter within [min, max]. A negative max
// means no upper bound.
func intParam(q url.Values, name string, min, max int) (*int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", name)
	}
	if v < min || (max >= 0 && v > max) {
		if max >= 0 {
			return nil, fmt.Errorf("%s must be between %d and %d", name, min, max)
		}
		return nil, fmt.Errorf("%s must be >= %d", name, min)
	}
	return &v, nil
}

// floatParam parses a non-negative float parameter
func floatParam(q url.Values, name string) (*float64, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%s must be a number", name)
	}
	if v < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &v, nil
}
