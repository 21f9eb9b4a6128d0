package models

import "time"

// Harsh event types.
const (
	EventAcceleration = "acceleration"
	EventBraking      = "braking"
)

// Severity levels for driving events.
const (
	SeverityMild     = "mild"
	SeverityModerate = "moderate"
	SeveritySevere   = "severe"
)

// Trip is one driving session from start to (optional) end.
type Trip struct {
	ID                      int64      `json:"id"`
	StartTime               time.Time  `json:"start_time"`
	EndTime                 *time.Time `json:"end_time"`
	StartLatitude           float64    `json:"start_latitude"`
	StartLongitude          float64    `json:"start_longitude"`
	EndLatitude             *float64   `json:"end_latitude"`
	EndLongitude            *float64   `json:"end_longitude"`
	AverageSpeedKmh         float64    `json:"average_speed_kmh"`
	TotalDistanceKm         float64    `json:"total_distance_km"`
	HarshBrakingCount       int        `json:"harsh_braking_count"`
	HarshAccelerationCount  int        `json:"harsh_acceleration_count"`
	CrashDetected           bool       `json:"crash_detected"`
	CrashLatitude           *float64   `json:"crash_latitude"`
	CrashLongitude          *float64   `json:"crash_longitude"`
	SpeedingDurationSeconds int        `json:"speeding_duration_seconds"` // total seconds above the limit
	SpeedingViolationsCount int        `json:"speeding_violations_count"`
	MaxSpeedOverLimit       float64    `json:"max_speed_over_limit"` // km/h
	SafetyScore             *float64   `json:"safety_score"`         // 0..100, nil until first computed
}

// Clone returns a deep copy so callers cannot alias stored pointer fields.
func (t Trip) Clone() Trip {
	c := t
	c.EndTime = cloneTime(t.EndTime)
	c.EndLatitude = cloneFloat(t.EndLatitude)
	c.EndLongitude = cloneFloat(t.EndLongitude)
	c.CrashLatitude = cloneFloat(t.CrashLatitude)
	c.CrashLongitude = cloneFloat(t.CrashLongitude)
	c.SafetyScore = cloneFloat(t.SafetyScore)
	return c
}

// Ended reports whether the trip has been completed.
func (t Trip) Ended() bool { return t.EndTime != nil }

// LocationPoint is one GPS sample recorded during a trip.
type LocationPoint struct {
	ID        int64     `json:"id"`
	TripID    int64     `json:"trip"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	SpeedKmh  float64   `json:"speed_kmh"`
	Accuracy  *float64  `json:"accuracy"`
}

// DrivingEvent is a sudden acceleration or braking during a trip.
type DrivingEvent struct {
	ID              int64     `json:"id"`
	TripID          int64     `json:"trip"`
	EventType       string    `json:"event_type"`
	Timestamp       time.Time `json:"timestamp"`
	Latitude        *float64  `json:"latitude"`
	Longitude       *float64  `json:"longitude"`
	Severity        string    `json:"severity"`
	SpeedKmhAtEvent float64   `json:"speed_kmh_at_event"`
}

func ValidEventType(s string) bool {
	return s == EventAcceleration || s == EventBraking
}

func ValidSeverity(s string) bool {
	switch s {
	case SeverityMild, SeverityModerate, SeveritySevere:
		return true
	}
	return false
}

// Trip event kinds published to live subscribers and the event stream.
const (
	KindTripStarted      = "trip_started"
	KindTripUpdated      = "trip_updated"
	KindTripDeleted      = "trip_deleted"
	KindLocationRecorded = "location_recorded"
	KindEventRecorded    = "driving_event_recorded"
)

// TripEvent describes one committed change to a trip.
type TripEvent struct {
	Kind     string         `json:"kind"`
	TripID   int64          `json:"trip_id"`
	At       time.Time      `json:"at"`
	Trip     *Trip          `json:"trip,omitempty"`
	Location *LocationPoint `json:"location,omitempty"`
	Events   []DrivingEvent `json:"events,omitempty"`

	// TripEnded marks location and driving event samples recorded after the
	// trip's end_time.
	TripEnded bool `json:"trip_ended,omitempty"`
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
