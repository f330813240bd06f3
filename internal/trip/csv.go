package trip

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Column names shared by the raw and the cleaned trip files
const (
	ColID              = "id"
	ColVendorID        = "vendor_id"
	ColPickupDatetime  = "pickup_datetime"
	ColDropoffDatetime = "dropoff_datetime"
	ColPassengerCount  = "passenger_count"
	ColPickupLon       = "pickup_longitude"
	ColPickupLat       = "pickup_latitude"
	ColDropoffLon      = "dropoff_longitude"
	ColDropoffLat      = "dropoff_latitude"
	ColStoreAndFwdFlag = "store_and_fwd_flag"
	ColTripDuration    = "trip_duration"
	ColPickupHour      = "pickup_hour"
	ColPickupWeekday   = "pickup_weekday"
	ColDistanceKm      = "trip_distance_km"
	ColSpeedKmh        = "trip_speed_kmh"
	ColTimeOfDay       = "time_of_day"
	ColReason          = "exclusion_reason"
)

// RawColumns is the header of the source trip file
var RawColumns = []string{
	ColID, ColVendorID, ColPickupDatetime, ColDropoffDatetime, ColPassengerCount,
	ColPickupLon, ColPickupLat, ColDropoffLon, ColDropoffLat,
	ColStoreAndFwdFlag, ColTripDuration,
}

// CleanedColumns is the header of the cleaned trip file
var CleanedColumns = append(append([]string{}, RawColumns...),
	ColPickupHour, ColPickupWeekday, ColDistanceKm, ColSpeedKmh, ColTimeOfDay,
)

// Record is one CSV row keyed by column name
type Record map[string]string

// Raw returns the source columns of the record
func (rec Record) Raw() RawTrip {
	return RawTrip{
		ID:              rec[ColID],
		VendorID:        rec[ColVendorID],
		PickupDatetime:  rec[ColPickupDatetime],
		DropoffDatetime: rec[ColDropoffDatetime],
		PassengerCount:  rec[ColPassengerCount],
		PickupLon:       rec[ColPickupLon],
		PickupLat:       rec[ColPickupLat],
		DropoffLon:      rec[ColDropoffLon],
		DropoffLat:      rec[ColDropoffLat],
		StoreAndFwdFlag: rec[ColStoreAndFwdFlag],
		TripDuration:    rec[ColTripDuration],
	}
}

// ReadResult summarises a file read
type ReadResult struct {
	Total   int
	Skipped int
	Errors  []string
}

// ReadRaw reads the source trip file. Rows that cannot be read as CSV are
// skipped; empty cells are kept so that cleaning can report them.
func ReadRaw(r io.Reader) ([]RawTrip, *ReadResult, error) {
	records, result, err := ReadRecords(r, RawColumns)
	if err != nil {
		return nil, nil, err
	}

	rows := make([]RawTrip, 0, len(records))
	for _, rec := range records {
		rows = append(rows, RawTrip{
			ID:              rec[ColID],
			VendorID:        rec[ColVendorID],
			PickupDatetime:  rec[ColPickupDatetime],
			DropoffDatetime: rec[ColDropoffDatetime],
			PassengerCount:  rec[ColPassengerCount],
			PickupLon:       rec[ColPickupLon],
			PickupLat:       rec[ColPickupLat],
			DropoffLon:      rec[ColDropoffLon],
			DropoffLat:      rec[ColDropoffLat],
			StoreAndFwdFlag: rec[ColStoreAndFwdFlag],
			TripDuration:    rec[ColTripDuration],
		})
	}
	return rows, result, nil
}

// ReadCleaned reads a file in the cleaned layout
func ReadCleaned(r io.Reader) ([]Record, *ReadResult, error) {
	return ReadRecords(r, CleanedColumns)
}

// ReadRecords reads a CSV stream with a header row into records keyed by the
// lower-cased header names. The header must contain every required column.
// Rows whose cell count differs from the header are skipped.
func ReadRecords(r io.Reader, required []string) ([]Record, *ReadResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	result := &ReadResult{}

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, result, nil
		}
		return nil, nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	names := make([]string, len(headers))
	present := make(map[string]bool, len(headers))
	for i, h := range headers {
		names[i] = strings.ToLower(strings.TrimSpace(h))
		present[names[i]] = true
	}
	for _, col := range required {
		if !present[col] {
			return nil, nil, fmt.Errorf("missing required csv header: %s", col)
		}
	}

	var records []Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		result.Total++
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", result.Total+1, err))
			continue
		}
		if len(row) != len(names) {
			result.Skipped++
			result.Errors = append(result.Errors,
				fmt.Sprintf("line %d: expected %d fields, got %d", result.Total+1, len(names), len(row)))
			continue
		}

		rec := make(Record, len(names))
		for i, name := range names {
			rec[name] = row[i]
		}
		records = append(records, rec)
	}

	return records, result, nil
}

// ParseRecord converts a row of the cleaned trip file into a Trip. Derived
// fields are taken as stored, not recomputed.
func ParseRecord(rec Record) (Trip, error) {
	t, err := ParseRaw(rec.Raw())
	if err != nil {
		return Trip{}, err
	}

	if t.PickupHour, err = strconv.Atoi(strings.TrimSpace(rec[ColPickupHour])); err != nil {
		return Trip{}, fmt.Errorf("invalid pickup_hour %q: %w", rec[ColPickupHour], err)
	}
	if t.PickupWeekday, err = strconv.Atoi(strings.TrimSpace(rec[ColPickupWeekday])); err != nil {
		return Trip{}, fmt.Errorf("invalid pickup_weekday %q: %w", rec[ColPickupWeekday], err)
	}
	if t.DistanceKm, err = strconv.ParseFloat(strings.TrimSpace(rec[ColDistanceKm]), 64); err != nil {
		return Trip{}, fmt.Errorf("invalid trip_distance_km %q: %w", rec[ColDistanceKm], err)
	}
	if t.SpeedKmh, err = strconv.ParseFloat(strings.TrimSpace(rec[ColSpeedKmh]), 64); err != nil {
		return Trip{}, fmt.Errorf("invalid trip_speed_kmh %q: %w", rec[ColSpeedKmh], err)
	}
	t.TimeOfDay = TimeOfDay(strings.TrimSpace(rec[ColTimeOfDay]))

	return t, nil
}

// WriteCleaned writes trips in the cleaned file layout
func WriteCleaned(w io.Writer, trips []Trip) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CleanedColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, t := range trips {
		if err := cw.Write(cleanedRow(t)); err != nil {
			return fmt.Errorf("failed to write trip %s: %w", t.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteExcluded writes dropped rows as they were read, with the reason
func WriteExcluded(w io.Writer, excluded []Exclusion) error {
	cw := csv.NewWriter(w)
	header := append(append([]string{}, RawColumns...), ColReason)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, e := range excluded {
		row := append(e.Row.values(), e.Reason)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write excluded row %s: %w", e.Row.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func cleanedRow(t Trip) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		t.ID,
		strconv.Itoa(t.VendorID),
		t.PickupAt.Format(TimestampLayout),
		t.DropoffAt.Format(TimestampLayout),
		strconv.Itoa(t.PassengerCount),
		f(t.PickupLon),
		f(t.PickupLat),
		f(t.DropoffLon),
		f(t.DropoffLat),
		t.StoreAndFwdFlag,
		strconv.Itoa(t.DurationSec),
		strconv.Itoa(t.PickupHour),
		strconv.Itoa(t.PickupWeekday),
		f(t.DistanceKm),
		f(t.SpeedKmh),
		string(t.TimeOfDay),
	}
}
