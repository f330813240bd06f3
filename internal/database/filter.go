package database

import (
	"fmt"
	"strings"
)

// Limits on the number of trips a single query may return
const (
	DefaultTripLimit = 100
	MaxTripLimit     = 1000
)

// TripFilter narrows a trip listing. Nil fields are not applied.
type TripFilter struct {
	Limit         int
	PickupHour    *int
	PickupWeekday *int
	TimeOfDay     *string
	MinDuration   *int
	MaxDuration   *int
	MinSpeed      *float64
	MaxSpeed      *float64
	MinDistance   *float64
	MaxDistance   *float64
}

// Where builds the WHERE clause and its positional arguments. The clause is
// empty when no filter is set.
func (f TripFilter) Where() (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(expr string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}

	if f.PickupHour != nil {
		add("pickup_hour = $%d", *f.PickupHour)
	}
	if f.PickupWeekday != nil {
		add("pickup_weekday = $%d", *f.PickupWeekday)
	}
	if f.TimeOfDay != nil && *f.TimeOfDay != "" {
		add("time_of_day = $%d", *f.TimeOfDay)
	}
	if f.MinDuration != nil {
		add("trip_duration >= $%d", *f.MinDuration)
	}
	if f.MaxDuration != nil {
		add("trip_duration <= $%d", *f.MaxDuration)
	}
	if f.MinSpeed != nil {
		add("trip_speed_kmh >= $%d", *f.MinSpeed)
	}
	if f.MaxSpeed != nil {
		add("trip_speed_kmh <= $%d", *f.MaxSpeed)
	}
	if f.MinDistance != nil {
		add("trip_distance_km >= $%d", *f.MinDistance)
	}
	if f.MaxDistance != nil {
		add("trip_distance_km <= $%d", *f.MaxDistance)
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// EffectiveLimit clamps the limit to [1, MaxTripLimit], using the default
// when unset.
func (f TripFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultTripLimit
	case f.Limit > MaxTripLimit:
		return MaxTripLimit
	default:
		return f.Limit
	}
}
