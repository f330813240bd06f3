package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/smukkama/mobility-server/internal/trip"
)

// Message kinds
const (
	KindTrip    = "TRIP"
	KindAnomaly = "ANOMALY"
)

var ErrInvalidMessage = errors.New("invalid message")

// TripMessage is the Kafka message format for one classified record.
// Exactly one of Trip and Anomaly is set, matching Kind.
type TripMessage struct {
	Kind        string        `json:"kind"`
	Trip        *trip.Trip    `json:"trip,omitempty"`
	Anomaly     *trip.Anomaly `json:"anomaly,omitempty"`
	PublishedAt time.Time     `json:"published_at"`
}

// NewTripMessage wraps a clean trip
func NewTripMessage(t trip.Trip, now time.Time) *TripMessage {
	t = t.Encodable()
	return &TripMessage{Kind: KindTrip, Trip: &t, PublishedAt: now}
}

// NewAnomalyMessage wraps an anomaly
func NewAnomalyMessage(a trip.Anomaly, now time.Time) *TripMessage {
	if a.Trip != nil {
		t := a.Trip.Encodable()
		a.Trip = &t
	}
	return &TripMessage{Kind: KindAnomaly, Anomaly: &a, PublishedAt: now}
}

// Key returns the partition key, the trip id
func (m *TripMessage) Key() string {
	switch {
	case m.Trip != nil:
		return m.Trip.ID
	case m.Anomaly != nil:
		return m.Anomaly.TripID
	}
	return ""
}

// Validate checks that the payload matches the kind
func (m *TripMessage) Validate() error {
	switch m.Kind {
	case KindTrip:
		if m.Trip == nil || m.Trip.ID == "" {
			return fmt.Errorf("%w: trip message without trip", ErrInvalidMessage)
		}
	case KindAnomaly:
		if m.Anomaly == nil || m.Anomaly.TripID == "" {
			return fmt.Errorf("%w: anomaly message without anomaly", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}

// EncodeTripMessage encodes a TripMessage to JSON
func EncodeTripMessage(msg *TripMessage) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// DecodeTripMessage decodes and validates JSON into a TripMessage
func DecodeTripMessage(data []byte) (*TripMessage, error) {
	var msg TripMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
