package trip

import (
	"math"
	"time"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points given in
// decimal degrees.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// SpeedKmh converts a distance and a duration in seconds into km/h. A zero
// duration yields +Inf, or NaN for a zero distance.
func SpeedKmh(distanceKm float64, durationSec float64) float64 {
	return distanceKm / (durationSec / 3600)
}

// TimeOfDayFor buckets an hour of the day:
// [0,6) night, [6,12) morning, [12,17) afternoon, [17,24) evening.
func TimeOfDayFor(hour int) TimeOfDay {
	hour = ((hour % 24) + 24) % 24
	switch {
	case hour < 6:
		return Night
	case hour < 12:
		return Morning
	case hour < 17:
		return Afternoon
	default:
		return Evening
	}
}

// Weekday returns the day of the week with Monday as 0 and Sunday as 6.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Derive fills the derived fields of t from its timestamps, coordinates and
// duration.
func Derive(t *Trip) {
	t.PickupHour = t.PickupAt.Hour()
	t.PickupWeekday = Weekday(t.PickupAt)
	t.DistanceKm = HaversineKm(t.PickupLat, t.PickupLon, t.DropoffLat, t.DropoffLon)
	t.SpeedKmh = SpeedKmh(t.DistanceKm, float64(t.DurationSec))
	t.TimeOfDay = TimeOfDayFor(t.PickupHour)
}

// Speeds extracts the speed of every trip, in order.
func Speeds(trips []Trip) []float64 {
	out := make([]float64, len(trips))
	for i := range trips {
		out[i] = trips[i].SpeedKmh
	}
	return out
}
