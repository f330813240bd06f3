package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func rec(id, distance, duration string) Fields {
	return Fields{"id": id, FieldDistanceKm: distance, FieldDuration: duration}
}

func TestSpeedFilter_Partition(t *testing.T) {
	f := NewSpeedFilter(DefaultSpeedThreshold)

	records := []Fields{
		rec("a", "10", "3600"),   // 10 km/h
		rec("b", "200", "3600"),  // 200 km/h
		rec("c", "5", "600"),     // 30 km/h
		rec("d", "3", "0"),       // zero duration
		rec("e", "abc", "600"),   // unparsable
		rec("f", "150", "3600"),  // exactly the threshold
		rec("g", "0.5", "1"),     // 1800 km/h
		rec("h", " 4.2 ", "900"), // surrounding whitespace
	}

	valid, anomalies := f.Partition(records)

	assert.Equal(t, []string{"a", "c", "f", "h"}, ids(valid))
	assert.Equal(t, []string{"b", "d", "e", "g"}, ids(anomalies))
}

func TestSpeedFilter_ZeroDurationAlwaysAnomalous(t *testing.T) {
	f := NewSpeedFilter(DefaultSpeedThreshold)

	for _, distance := range []string{"0", "1", "-5", "1000"} {
		valid, anomalies := f.Partition([]Fields{rec("z", distance, "0")})
		assert.Empty(t, valid, "distance %s", distance)
		assert.Len(t, anomalies, 1, "distance %s", distance)
	}
}

func TestSpeedFilter_MissingFields(t *testing.T) {
	f := NewSpeedFilter(DefaultSpeedThreshold)

	records := []Fields{
		{"id": "no-distance", FieldDuration: "600"},
		{"id": "no-duration", FieldDistanceKm: "2"},
		{"id": "empty"},
		{"id": "blank", FieldDistanceKm: "", FieldDuration: "600"},
	}

	valid, anomalies := f.Partition(records)
	assert.Empty(t, valid)
	assert.Len(t, anomalies, 4)
}

func TestSpeedFilter_NegativeValuesFallThrough(t *testing.T) {
	f := NewSpeedFilter(DefaultSpeedThreshold)

	records := []Fields{
		rec("neg-duration", "10", "-3600"), // -10 km/h
		rec("neg-distance", "-10", "60"),   // -600 km/h
		rec("neg-both", "-300", "-3600"),   // 300 km/h
	}

	valid, anomalies := f.Partition(records)
	assert.Equal(t, []string{"neg-duration", "neg-distance"}, ids(valid))
	assert.Equal(t, []string{"neg-both"}, ids(anomalies))
}

func TestSpeedFilter_CustomThreshold(t *testing.T) {
	f := NewSpeedFilter(20)

	valid, anomalies := f.Partition([]Fields{
		rec("slow", "5", "3600"),
		rec("fast", "21", "3600"),
	})
	assert.Equal(t, []string{"slow"}, ids(valid))
	assert.Equal(t, []string{"fast"}, ids(anomalies))
}

func TestSpeedFilter_Empty(t *testing.T) {
	valid, anomalies := NewSpeedFilter(DefaultSpeedThreshold).Partition(nil)
	assert.Empty(t, valid)
	assert.Empty(t, anomalies)
}

func ids(records []Fields) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r["id"])
	}
	return out
}
