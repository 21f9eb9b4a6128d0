// Package trips implements trip recording: starting trips, partial updates
// with harsh-event batches and safety scoring, GPS samples and driving events.
package trips

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/trip-recorder/internal/geo"
	"github.com/example/trip-recorder/internal/models"
	"github.com/example/trip-recorder/internal/observability"
	"github.com/example/trip-recorder/internal/storage"
)

// DefaultListLimit is how many recent trips ListTrips returns.
const DefaultListLimit = 20

// Notifier receives committed trip changes. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, ev models.TripEvent) error
}

type Service struct {
	Store     storage.TripStore
	Notifiers []Notifier
	Logger    *slog.Logger
	ListLimit int
	Now       func() time.Time
}

func NewService(store storage.TripStore, logger *slog.Logger, notifiers ...Notifier) *Service {
	return &Service{
		Store:     store,
		Notifiers: notifiers,
		Logger:    logger,
		ListLimit: DefaultListLimit,
		Now:       time.Now,
	}
}

type CreateTripInput struct {
	StartLatitude  *float64 `json:"start_latitude"`
	StartLongitude *float64 `json:"start_longitude"`
}

type LocationInput struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	SpeedKmh  *float64 `json:"speed_kmh"`
	Accuracy  *float64 `json:"accuracy"`
}

type EventInput struct {
	EventType       string     `json:"event_type"`
	Timestamp       *time.Time `json:"timestamp"`
	Latitude        *float64   `json:"latitude"`
	Longitude       *float64   `json:"longitude"`
	Severity        string     `json:"severity"`
	SpeedKmhAtEvent *float64   `json:"speed_kmh_at_event"`
}

// Track is a trip's GPS trace with the distance it covers.
type Track struct {
	TripID     int64                  `json:"trip_id"`
	Points     []models.LocationPoint `json:"points"`
	DistanceKm float64                `json:"distance_km"`
}

// CreateTrip starts a trip at the given position; start_time is assigned here.
func (s *Service) CreateTrip(ctx context.Context, in CreateTripInput) (*models.Trip, error) {
	if err := requireCoord("start_latitude", "start_longitude", in.StartLatitude, in.StartLongitude); err != nil {
		return nil, err
	}
	t := &models.Trip{
		StartTime:      s.now(),
		StartLatitude:  *in.StartLatitude,
		StartLongitude: *in.StartLongitude,
	}
	if err := s.Store.CreateTrip(ctx, t); err != nil {
		return nil, fmt.Errorf("create trip: %w", err)
	}
	observability.TripsCreatedTotal.Inc()
	s.logger().Info("trip started", "trip_id", t.ID)
	s.notify(ctx, models.TripEvent{Kind: models.KindTripStarted, TripID: t.ID, Trip: t})
	return t, nil
}

func (s *Service) GetTrip(ctx context.Context, id int64) (*models.Trip, error) {
	return s.Store.GetTrip(ctx, id)
}

// ListTrips returns the most recent trips, newest first.
func (s *Service) ListTrips(ctx context.Context) ([]models.Trip, error) {
	limit := s.ListLimit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.Store.ListTrips(ctx, limit)
}

// UpdateTrip parses a JSON partial update and applies it with ApplyPatch.
func (s *Service) UpdateTrip(ctx context.Context, id int64, payload []byte) (*models.Trip, error) {
	patch, err := ParsePatch(payload)
	if err != nil {
		observability.TripUpdatesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	return s.ApplyPatch(ctx, id, patch)
}

// ApplyPatch merges patch into the stored trip, appends its harsh events and
// recomputes the safety score, all in one storage transaction.
func (s *Service) ApplyPatch(ctx context.Context, id int64, patch *Patch) (*models.Trip, error) {
	trip, events, err := s.Store.UpdateTrip(ctx, id, func(t *models.Trip) ([]models.DrivingEvent, error) {
		return Process(t, patch)
	})
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		observability.TripUpdatesTotal.WithLabelValues("invalid").Inc()
		return nil, ve
	case errors.Is(err, storage.ErrNotFound):
		observability.TripUpdatesTotal.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	case err != nil:
		observability.TripUpdatesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("update trip %d: %w", id, err)
	}

	observability.TripUpdatesTotal.WithLabelValues("ok").Inc()
	if trip.SafetyScore != nil {
		observability.SafetyScore.Observe(*trip.SafetyScore)
	}
	for _, e := range events {
		observability.DrivingEventsTotal.WithLabelValues("batch", e.EventType).Inc()
	}
	s.logger().Info("trip updated", "trip_id", id, "events_added", len(events), "safety_score", *trip.SafetyScore)
	s.notify(ctx, models.TripEvent{Kind: models.KindTripUpdated, TripID: id, Trip: trip, Events: events})
	return trip, nil
}

func (s *Service) DeleteTrip(ctx context.Context, id int64) error {
	if err := s.Store.DeleteTrip(ctx, id); err != nil {
		return err
	}
	s.logger().Info("trip deleted", "trip_id", id)
	s.notify(ctx, models.TripEvent{Kind: models.KindTripDeleted, TripID: id})
	return nil
}

// AddLocationPoint records a GPS sample; its timestamp is assigned here.
func (s *Service) AddLocationPoint(ctx context.Context, tripID int64, in LocationInput) (*models.LocationPoint, error) {
	if err := requireCoord("latitude", "longitude", in.Latitude, in.Longitude); err != nil {
		return nil, err
	}
	p := &models.LocationPoint{
		TripID:    tripID,
		Latitude:  *in.Latitude,
		Longitude: *in.Longitude,
		Timestamp: s.now(),
		SpeedKmh:  valueOr(in.SpeedKmh, 0),
		Accuracy:  in.Accuracy,
	}
	if err := s.Store.AddLocationPoint(ctx, p); err != nil {
		return nil, err
	}
	observability.LocationPointsTotal.Inc()
	s.notify(ctx, models.TripEvent{Kind: models.KindLocationRecorded, TripID: tripID, Location: p, TripEnded: s.tripEnded(ctx, tripID)})
	return p, nil
}

func (s *Service) ListLocationPoints(ctx context.Context, tripID int64) ([]models.LocationPoint, error) {
	return s.Store.ListLocationPoints(ctx, tripID)
}

// AddDrivingEvent records a single driving event. Severity defaults to mild.
func (s *Service) AddDrivingEvent(ctx context.Context, tripID int64, in EventInput) (*models.DrivingEvent, error) {
	if !models.ValidEventType(in.EventType) {
		return nil, invalid("event_type", `must be "acceleration" or "braking"`)
	}
	if in.Timestamp == nil {
		return nil, invalid("timestamp", "is required")
	}
	severity := in.Severity
	if severity == "" {
		severity = models.SeverityMild
	}
	if !models.ValidSeverity(severity) {
		return nil, invalid("severity", `must be "mild", "moderate" or "severe"`)
	}
	e := &models.DrivingEvent{
		TripID:          tripID,
		EventType:       in.EventType,
		Timestamp:       in.Timestamp.UTC(),
		Latitude:        in.Latitude,
		Longitude:       in.Longitude,
		Severity:        severity,
		SpeedKmhAtEvent: valueOr(in.SpeedKmhAtEvent, 0),
	}
	if err := s.Store.AddDrivingEvent(ctx, e); err != nil {
		return nil, err
	}
	observability.DrivingEventsTotal.WithLabelValues("direct", e.EventType).Inc()
	s.notify(ctx, models.TripEvent{Kind: models.KindEventRecorded, TripID: tripID, Events: []models.DrivingEvent{*e}, TripEnded: s.tripEnded(ctx, tripID)})
	return e, nil
}

func (s *Service) ListDrivingEvents(ctx context.Context, tripID int64) ([]models.DrivingEvent, error) {
	return s.Store.ListDrivingEvents(ctx, tripID)
}

// Track returns the trip's GPS trace and its path length.
func (s *Service) Track(ctx context.Context, tripID int64) (*Track, error) {
	pts, err := s.Store.ListLocationPoints(ctx, tripID)
	if err != nil {
		return nil, err
	}
	return &Track{TripID: tripID, Points: pts, DistanceKm: geo.PathLengthKm(pts)}, nil
}

// tripEnded reports whether the trip has an end_time. Samples may still arrive
// after a trip ends and must not bring it back into the live index.
func (s *Service) tripEnded(ctx context.Context, tripID int64) bool {
	if len(s.Notifiers) == 0 {
		return false
	}
	t, err := s.Store.GetTrip(ctx, tripID)
	if err != nil {
		s.logger().Debug("trip state lookup failed", "trip_id", tripID, "error", err)
		return false
	}
	return t.Ended()
}

func (s *Service) notify(ctx context.Context, ev models.TripEvent) {
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	for _, n := range s.Notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			s.logger().Warn("trip notification failed", "kind", ev.Kind, "trip_id", ev.TripID, "error", err)
		}
	}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func requireCoord(latField, lonField string, lat, lon *float64) error {
	if lat == nil {
		return invalid(latField, "is required")
	}
	if lon == nil {
		return invalid(lonField, "is required")
	}
	if *lat < -90 || *lat > 90 {
		return invalid(latField, "must be between -90 and 90")
	}
	if *lon < -180 || *lon > 180 {
		return invalid(lonField, "must be between -180 and 180")
	}
	return nil
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
