package trips

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/example/trip-recorder/internal/models"
	"github.com/example/trip-recorder/internal/scoring"
)

// Optional is a patch slot; Value is applied only when Set is true.
type Optional[T any] struct {
	Set   bool
	Value T
}

func (o Optional[T]) applyTo(dst *T) {
	if o.Set {
		*dst = o.Value
	}
}

// Patch is a partial trip update. Every slot is applied only if the key was
// present in the payload; values replace the stored ones, they are not deltas.
type Patch struct {
	EndLatitude             Optional[*float64]
	EndLongitude            Optional[*float64]
	EndTime                 Optional[*time.Time]
	AverageSpeedKmh         Optional[float64]
	TotalDistanceKm         Optional[float64]
	HarshBrakingCount       Optional[int]
	HarshAccelerationCount  Optional[int]
	CrashDetected           Optional[bool]
	CrashLatitude           Optional[*float64]
	CrashLongitude          Optional[*float64]
	SpeedingDurationSeconds Optional[int]
	SpeedingViolationsCount Optional[int]
	MaxSpeedOverLimit       Optional[float64]

	// HarshEvents are appended to the trip as new driving events.
	HarshEvents []HarshEvent
}

// HarshEvent is one record of the harsh_events batch.
type HarshEvent struct {
	Type      string
	Timestamp time.Time
	Latitude  float64
	Longitude float64
	SpeedKmh  float64
}

var readOnlyFields = map[string]bool{
	"id":              true,
	"start_time":      true,
	"start_latitude":  true,
	"start_longitude": true,
	"safety_score":    true,
}

// ParsePatch decodes a JSON update payload. It rejects unknown and read-only
// keys, wrongly typed values, negative counts and malformed harsh_events
// records, reporting the offending field in a *ValidationError.
func ParsePatch(body []byte) (*Patch, error) {
	p := &Patch{}
	if len(bytes.TrimSpace(body)) == 0 {
		return p, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return nil, invalid("body", "must be a JSON object")
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := raw[k]
		var err error
		switch k {
		case "end_latitude":
			p.EndLatitude, err = decodeNullable[float64](k, v, "a number")
		case "end_longitude":
			p.EndLongitude, err = decodeNullable[float64](k, v, "a number")
		case "end_time":
			p.EndTime, err = decodeNullable[time.Time](k, v, "an RFC 3339 timestamp")
			if err == nil && p.EndTime.Value == nil {
				// a completed trip cannot be reopened
				err = invalid(k, "cannot be cleared")
			}
		case "average_speed_kmh":
			p.AverageSpeedKmh, err = decodeSet[float64](k, v, "a number")
		case "total_distance_km":
			p.TotalDistanceKm, err = decodeSet[float64](k, v, "a number")
		case "harsh_braking_count":
			p.HarshBrakingCount, err = decodeCount(k, v)
		case "harsh_acceleration_count":
			p.HarshAccelerationCount, err = decodeCount(k, v)
		case "crash_detected":
			p.CrashDetected, err = decodeSet[bool](k, v, "a boolean")
		case "crash_latitude":
			p.CrashLatitude, err = decodeNullable[float64](k, v, "a number")
		case "crash_longitude":
			p.CrashLongitude, err = decodeNullable[float64](k, v, "a number")
		case "speeding_duration_seconds":
			p.SpeedingDurationSeconds, err = decodeCount(k, v)
		case "speeding_violations_count":
			p.SpeedingViolationsCount, err = decodeCount(k, v)
		case "max_speed_over_limit":
			p.MaxSpeedOverLimit, err = decodeSet[float64](k, v, "a number")
		case "harsh_events":
			p.HarshEvents, err = decodeHarshEvents(v)
		default:
			if readOnlyFields[k] {
				err = invalid(k, "field is read-only")
			} else {
				err = invalid(k, "unknown field")
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Apply merges the patch into t and returns the driving events it creates.
// Batch events are always recorded with moderate severity.
func (p *Patch) Apply(t *models.Trip) []models.DrivingEvent {
	p.EndLatitude.applyTo(&t.EndLatitude)
	p.EndLongitude.applyTo(&t.EndLongitude)
	p.EndTime.applyTo(&t.EndTime)
	p.AverageSpeedKmh.applyTo(&t.AverageSpeedKmh)
	p.TotalDistanceKm.applyTo(&t.TotalDistanceKm)
	p.HarshBrakingCount.applyTo(&t.HarshBrakingCount)
	p.HarshAccelerationCount.applyTo(&t.HarshAccelerationCount)
	p.CrashDetected.applyTo(&t.CrashDetected)
	p.CrashLatitude.applyTo(&t.CrashLatitude)
	p.CrashLongitude.applyTo(&t.CrashLongitude)
	p.SpeedingDurationSeconds.applyTo(&t.SpeedingDurationSeconds)
	p.SpeedingViolationsCount.applyTo(&t.SpeedingViolationsCount)
	p.MaxSpeedOverLimit.applyTo(&t.MaxSpeedOverLimit)

	events := make([]models.DrivingEvent, 0, len(p.HarshEvents))
	for _, he := range p.HarshEvents {
		lat, lon := he.Latitude, he.Longitude
		events = append(events, models.DrivingEvent{
			TripID:          t.ID,
			EventType:       he.Type,
			Timestamp:       he.Timestamp.UTC(),
			Latitude:        &lat,
			Longitude:       &lon,
			Severity:        models.SeverityModerate,
			SpeedKmhAtEvent: he.SpeedKmh,
		})
	}
	return events
}

// Process applies p to t and recomputes the safety score from the merged
// aggregates. The score is refreshed even when p is empty. Crash coordinates
// are only valid on a trip with crash_detected set.
func Process(t *models.Trip, p *Patch) ([]models.DrivingEvent, error) {
	events := p.Apply(t)
	if err := p.checkCrash(t); err != nil {
		return nil, err
	}
	score := scoring.Compute(scoring.FromTrip(*t))
	t.SafetyScore = &score
	return events, nil
}

func (p *Patch) checkCrash(t *models.Trip) error {
	if !p.CrashDetected.Set && !p.CrashLatitude.Set && !p.CrashLongitude.Set {
		return nil
	}
	if t.CrashDetected || (t.CrashLatitude == nil && t.CrashLongitude == nil) {
		return nil
	}
	switch {
	case p.CrashLatitude.Set && p.CrashLatitude.Value != nil:
		return invalid("crash_latitude", "requires crash_detected")
	case p.CrashLongitude.Set && p.CrashLongitude.Value != nil:
		return invalid("crash_longitude", "requires crash_detected")
	default:
		return invalid("crash_detected", "crash coordinates must be cleared")
	}
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func decode[T any](field string, v json.RawMessage, want string) (T, error) {
	var out T
	if isNull(v) {
		return out, invalid(field, "may not be null")
	}
	if err := json.Unmarshal(v, &out); err != nil {
		return out, invalid(field, "must be "+want)
	}
	return out, nil
}

func decodeSet[T any](field string, v json.RawMessage, want string) (Optional[T], error) {
	val, err := decode[T](field, v, want)
	if err != nil {
		return Optional[T]{}, err
	}
	return Optional[T]{Set: true, Value: val}, nil
}

// decodeNullable accepts JSON null, which clears the field.
func decodeNullable[T any](field string, v json.RawMessage, want string) (Optional[*T], error) {
	if isNull(v) {
		return Optional[*T]{Set: true}, nil
	}
	val, err := decode[T](field, v, want)
	if err != nil {
		return Optional[*T]{}, err
	}
	return Optional[*T]{Set: true, Value: &val}, nil
}

func decodeCount(field string, v json.RawMessage) (Optional[int], error) {
	n, err := decodeSet[int](field, v, "an integer")
	if err != nil {
		return n, err
	}
	if n.Value < 0 {
		return Optional[int]{}, invalid(field, "must be non-negative")
	}
	if n.Value > math.MaxInt32 {
		return Optional[int]{}, invalid(field, "is too large")
	}
	return n, nil
}

var requiredEventKeys = []string{"type", "timestamp", "latitude", "longitude"}

func decodeHarshEvents(v json.RawMessage) ([]HarshEvent, error) {
	var records []map[string]json.RawMessage
	if isNull(v) {
		return nil, invalid("harsh_events", "may not be null")
	}
	if err := json.Unmarshal(v, &records); err != nil {
		return nil, invalid("harsh_events", "must be an array of objects")
	}

	out := make([]HarshEvent, 0, len(records))
	for i, rec := range records {
		field := func(name string) string { return fmt.Sprintf("harsh_events[%d].%s", i, name) }
		if rec == nil {
			return nil, invalid(fmt.Sprintf("harsh_events[%d]", i), "must be an object")
		}
		for _, k := range requiredEventKeys {
			if raw, ok := rec[k]; !ok || isNull(raw) {
				return nil, invalid(field(k), "is required")
			}
		}

		var (
			ev  HarshEvent
			err error
		)
		if ev.Type, err = decode[string](field("type"), rec["type"], "a string"); err != nil {
			return nil, err
		}
		if !models.ValidEventType(ev.Type) {
			return nil, invalid(field("type"), `must be "acceleration" or "braking"`)
		}
		if ev.Timestamp, err = decode[time.Time](field("timestamp"), rec["timestamp"], "an RFC 3339 timestamp"); err != nil {
			return nil, err
		}
		if ev.Latitude, err = decode[float64](field("latitude"), rec["latitude"], "a number"); err != nil {
			return nil, err
		}
		if ev.Longitude, err = decode[float64](field("longitude"), rec["longitude"], "a number"); err != nil {
			return nil, err
		}
		if raw, ok := rec["speed"]; ok && !isNull(raw) {
			if ev.SpeedKmh, err = decode[float64](field("speed"), raw, "a number"); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, nil
}
