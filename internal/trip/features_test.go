package trip

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHaversineKm(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
	}{
		{"same point", 40.75, -73.98, 40.75, -73.98, 0},
		{"one degree of latitude", 40, -74, 41, -74, EarthRadiusKm * math.Pi / 180},
		{"quarter of the equator", 0, 0, 0, 90, EarthRadiusKm * math.Pi / 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, HaversineKm(tt.lat1, tt.lon1, tt.lat2, tt.lon2), 1e-6)
		})
	}
}

func TestHaversineKm_Symmetric(t *testing.T) {
	a := HaversineKm(40.767937, -73.982154, 40.765602, -73.964630)
	b := HaversineKm(40.765602, -73.964630, 40.767937, -73.982154)

	assert.InDelta(t, a, b, 1e-12)
	assert.Greater(t, a, 1.4)
	assert.Less(t, a, 1.6)
}

func TestSpeedKmh(t *testing.T) {
	assert.InDelta(t, 20.0, SpeedKmh(10, 1800), 1e-12)
	assert.InDelta(t, 150.0, SpeedKmh(150, 3600), 1e-12)
	assert.True(t, math.IsInf(SpeedKmh(1, 0), 1))
	assert.True(t, math.IsNaN(SpeedKmh(0, 0)))
}

func TestTimeOfDayFor(t *testing.T) {
	tests := map[int]TimeOfDay{
		0:  Night,
		5:  Night,
		6:  Morning,
		11: Morning,
		12: Afternoon,
		16: Afternoon,
		17: Evening,
		23: Evening,
		24: Night,
		-1: Evening,
	}

	for hour, want := range tests {
		assert.Equal(t, want, TimeOfDayFor(hour), "hour %d", hour)
	}
}

func TestTimeOfDayFor_Total(t *testing.T) {
	for hour := 0; hour < 24; hour++ {
		assert.True(t, TimeOfDayFor(hour).Valid(), "hour %d", hour)
	}
}

func TestWeekday(t *testing.T) {
	monday := time.Date(2016, 3, 14, 17, 24, 55, 0, time.UTC)
	sunday := time.Date(2016, 3, 20, 1, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, Weekday(monday))
	assert.Equal(t, 6, Weekday(sunday))
}

func TestDerive(t *testing.T) {
	tr := Trip{
		PickupAt:    time.Date(2016, 3, 14, 17, 24, 55, 0, time.UTC),
		PickupLat:   40,
		PickupLon:   -74,
		DropoffLat:  41,
		DropoffLon:  -74,
		DurationSec: 3600,
	}

	Derive(&tr)

	assert.Equal(t, 17, tr.PickupHour)
	assert.Equal(t, 0, tr.PickupWeekday)
	assert.Equal(t, Evening, tr.TimeOfDay)
	assert.InDelta(t, EarthRadiusKm*math.Pi/180, tr.DistanceKm, 1e-6)
	assert.InDelta(t, tr.DistanceKm, tr.SpeedKmh, 1e-9)
	assert.Equal(t, SpeedKmh(tr.DistanceKm, float64(tr.DurationSec)), tr.SpeedKmh)
}
