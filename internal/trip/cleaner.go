package trip

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidBounds is returned when a bounds range is inverted
var ErrInvalidBounds = errors.New("invalid bounds")

// Range is an inclusive numeric interval
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies in [Min, Max]
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Bounds holds the validation limits applied while cleaning. It is passed by
// value and never modified.
type Bounds struct {
	Latitude    Range
	Longitude   Range
	DurationSec Range
	Passengers  Range
	MaxSpeedKmh float64
}

// DefaultBounds returns the limits for New York City yellow cab data
func DefaultBounds() Bounds {
	return Bounds{
		Latitude:    Range{Min: 40.5, Max: 41.0},
		Longitude:   Range{Min: -74.3, Max: -73.7},
		DurationSec: Range{Min: 60, Max: 10800},
		Passengers:  Range{Min: 1, Max: 6},
		MaxSpeedKmh: 100,
	}
}

// Validate checks that every range is well ordered
func (b Bounds) Validate() error {
	ranges := map[string]Range{
		"latitude":   b.Latitude,
		"longitude":  b.Longitude,
		"duration":   b.DurationSec,
		"passengers": b.Passengers,
	}
	for name, r := range ranges {
		if r.Min > r.Max {
			return fmt.Errorf("%w: %s min %.4f > max %.4f", ErrInvalidBounds, name, r.Min, r.Max)
		}
	}
	if b.MaxSpeedKmh <= 0 {
		return fmt.Errorf("%w: max speed must be positive", ErrInvalidBounds)
	}
	return nil
}

// TimestampLayout is the layout of pickup and dropoff times in trip files
const TimestampLayout = "2006-01-02 15:04:05"

// Cleaner validates raw rows and turns them into trips with derived features
type Cleaner struct {
	bounds Bounds
}

// NewCleaner creates a cleaner for the given bounds
func NewCleaner(bounds Bounds) *Cleaner {
	return &Cleaner{bounds: bounds}
}

// Bounds returns the limits the cleaner applies
func (c *Cleaner) Bounds() Bounds {
	return c.bounds
}

// Clean drops incomplete, malformed, duplicate and out-of-range rows, derives
// features for the rest and drops trips above the speed ceiling. Kept trips
// are returned in input order; every dropped row is reported once with the
// first check it failed.
func (c *Cleaner) Clean(rows []RawTrip) (kept []Trip, excluded []Exclusion) {
	kept = make([]Trip, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))

	for _, row := range rows {
		if hasMissingField(row) {
			excluded = append(excluded, Exclusion{Row: row, Reason: ReasonMissingField})
			continue
		}

		t, err := ParseRaw(row)
		if err != nil {
			excluded = append(excluded, Exclusion{Row: row, Reason: ReasonMalformed})
			continue
		}

		key := dedupeKey(t)
		if _, dup := seen[key]; dup {
			excluded = append(excluded, Exclusion{Row: row, Reason: ReasonDuplicate})
			continue
		}
		seen[key] = struct{}{}

		if reason := c.check(t); reason != "" {
			excluded = append(excluded, Exclusion{Row: row, Reason: reason})
			continue
		}

		Derive(&t)
		if reason := t.Unstorable(); reason != "" {
			excluded = append(excluded, Exclusion{Row: row, Reason: reason})
			continue
		}
		if t.SpeedKmh > c.bounds.MaxSpeedKmh {
			excluded = append(excluded, Exclusion{Row: row, Reason: ReasonSpeedCeiling})
			continue
		}

		kept = append(kept, t)
	}

	return kept, excluded
}

func (c *Cleaner) check(t Trip) string {
	b := c.bounds
	if !b.Latitude.Contains(t.PickupLat) || !b.Latitude.Contains(t.DropoffLat) ||
		!b.Longitude.Contains(t.PickupLon) || !b.Longitude.Contains(t.DropoffLon) {
		return ReasonOutOfArea
	}
	if !b.DurationSec.Contains(float64(t.DurationSec)) {
		return ReasonDuration
	}
	if !b.Passengers.Contains(float64(t.PassengerCount)) {
		return ReasonPassengers
	}
	return ""
}

// ParseRaw converts a raw row into a Trip without derived fields
func ParseRaw(row RawTrip) (Trip, error) {
	var t Trip
	var err error

	t.ID = strings.TrimSpace(row.ID)
	t.StoreAndFwdFlag = strings.TrimSpace(row.StoreAndFwdFlag)

	if t.VendorID, err = strconv.Atoi(strings.TrimSpace(row.VendorID)); err != nil {
		return Trip{}, fmt.Errorf("invalid vendor_id %q: %w", row.VendorID, err)
	}
	if t.PassengerCount, err = strconv.Atoi(strings.TrimSpace(row.PassengerCount)); err != nil {
		return Trip{}, fmt.Errorf("invalid passenger_count %q: %w", row.PassengerCount, err)
	}
	if t.DurationSec, err = strconv.Atoi(strings.TrimSpace(row.TripDuration)); err != nil {
		return Trip{}, fmt.Errorf("invalid trip_duration %q: %w", row.TripDuration, err)
	}
	if t.PickupAt, err = ParseTimestamp(row.PickupDatetime); err != nil {
		return Trip{}, err
	}
	if t.DropoffAt, err = ParseTimestamp(row.DropoffDatetime); err != nil {
		return Trip{}, err
	}

	coords := []struct {
		raw string
		dst *float64
	}{
		{row.PickupLon, &t.PickupLon},
		{row.PickupLat, &t.PickupLat},
		{row.DropoffLon, &t.DropoffLon},
		{row.DropoffLat, &t.DropoffLat},
	}
	for _, c := range coords {
		v, err := strconv.ParseFloat(strings.TrimSpace(c.raw), 64)
		if err != nil {
			return Trip{}, fmt.Errorf("invalid coordinate %q: %w", c.raw, err)
		}
		*c.dst = v
	}

	return t, nil
}

// ParseTimestamp accepts the trip file layout and RFC 3339
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(TimestampLayout, s); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp format: %s", s)
}

func (r RawTrip) values() []string {
	return []string{
		r.ID, r.VendorID, r.PickupDatetime, r.DropoffDatetime, r.PassengerCount,
		r.PickupLon, r.PickupLat, r.DropoffLon, r.DropoffLat,
		r.StoreAndFwdFlag, r.TripDuration,
	}
}

func hasMissingField(r RawTrip) bool {
	for _, v := range r.values() {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

// dedupeKey identifies a parsed trip by every source column except its id,
// so rows differing only in number or spacing format collide
func dedupeKey(t Trip) string {
	return strings.Join([]string{
		strconv.Itoa(t.VendorID),
		t.PickupAt.Format(time.RFC3339Nano),
		t.DropoffAt.Format(time.RFC3339Nano),
		strconv.Itoa(t.PassengerCount),
		strconv.FormatFloat(t.PickupLon, 'g', -1, 64),
		strconv.FormatFloat(t.PickupLat, 'g', -1, 64),
		strconv.FormatFloat(t.DropoffLon, 'g', -1, 64),
		strconv.FormatFloat(t.DropoffLat, 'g', -1, 64),
		t.StoreAndFwdFlag,
		strconv.Itoa(t.DurationSec),
	}, "\x1f")
}
