package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/example/trip-recorder/internal/models"
)

// ErrNotFound is returned when a referenced trip does not exist.
var ErrNotFound = errors.New("trip not found")

// UpdateFunc mutates t in place and returns driving events to append to it.
// Returning an error aborts the update and nothing is persisted.
type UpdateFunc func(t *models.Trip) ([]models.DrivingEvent, error)

// TripStore defines persistence operations for trips and their children.
// UpdateTrip must serialize concurrent updates to the same trip and apply the
// trip changes and new events atomically.
type TripStore interface {
	CreateTrip(ctx context.Context, t *models.Trip) error
	GetTrip(ctx context.Context, id int64) (*models.Trip, error)
	// ListTrips returns trips newest first; limit <= 0 means all.
	ListTrips(ctx context.Context, limit int) ([]models.Trip, error)
	UpdateTrip(ctx context.Context, id int64, fn UpdateFunc) (*models.Trip, []models.DrivingEvent, error)
	DeleteTrip(ctx context.Context, id int64) error

	AddLocationPoint(ctx context.Context, p *models.LocationPoint) error
	ListLocationPoints(ctx context.Context, tripID int64) ([]models.LocationPoint, error)
	AddDrivingEvent(ctx context.Context, e *models.DrivingEvent) error
	ListDrivingEvents(ctx context.Context, tripID int64) ([]models.DrivingEvent, error)

	Close() error
}

type MemoryStore struct {
	mu     sync.Mutex
	trips  map[int64]*models.Trip
	points map[int64][]models.LocationPoint
	events map[int64][]models.DrivingEvent

	nextTrip, nextPoint, nextEvent int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:  make(map[int64]*models.Trip),
		points: make(map[int64][]models.LocationPoint),
		events: make(map[int64][]models.DrivingEvent),
	}
}

func (m *MemoryStore) CreateTrip(_ context.Context, t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTrip++
	t.ID = m.nextTrip
	c := t.Clone()
	m.trips[t.ID] = &c
	return nil
}

func (m *MemoryStore) GetTrip(_ context.Context, id int64) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := t.Clone()
	return &c, nil
}

func (m *MemoryStore) ListTrips(_ context.Context, limit int) ([]models.Trip, error) {
	m.mu.Lock()
	out := make([]models.Trip, 0, len(m.trips))
	for _, t := range m.trips {
		out = append(out, t.Clone())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateTrip holds the store lock across read, mutate and write, so updates
// to one trip never interleave.
func (m *MemoryStore) UpdateTrip(_ context.Context, id int64, fn UpdateFunc) (*models.Trip, []models.DrivingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.trips[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	work := cur.Clone()
	events, err := fn(&work)
	if err != nil {
		return nil, nil, err
	}
	work.ID = id
	for i := range events {
		m.nextEvent++
		events[i].ID = m.nextEvent
		events[i].TripID = id
	}
	m.events[id] = sortEvents(append(m.events[id], events...))
	stored := work.Clone()
	m.trips[id] = &stored
	return &work, events, nil
}

func (m *MemoryStore) DeleteTrip(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[id]; !ok {
		return ErrNotFound
	}
	delete(m.trips, id)
	delete(m.points, id)
	delete(m.events, id)
	return nil
}

func (m *MemoryStore) AddLocationPoint(_ context.Context, p *models.LocationPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[p.TripID]; !ok {
		return ErrNotFound
	}
	m.nextPoint++
	p.ID = m.nextPoint
	pts := append(m.points[p.TripID], *p)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Timestamp.Before(pts[j].Timestamp) })
	m.points[p.TripID] = pts
	return nil
}

func (m *MemoryStore) ListLocationPoints(_ context.Context, tripID int64) ([]models.LocationPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[tripID]; !ok {
		return nil, ErrNotFound
	}
	return append([]models.LocationPoint(nil), m.points[tripID]...), nil
}

func (m *MemoryStore) AddDrivingEvent(_ context.Context, e *models.DrivingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[e.TripID]; !ok {
		return ErrNotFound
	}
	m.nextEvent++
	e.ID = m.nextEvent
	m.events[e.TripID] = sortEvents(append(m.events[e.TripID], *e))
	return nil
}

func (m *MemoryStore) ListDrivingEvents(_ context.Context, tripID int64) ([]models.DrivingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[tripID]; !ok {
		return nil, ErrNotFound
	}
	return append([]models.DrivingEvent(nil), m.events[tripID]...), nil
}

func (m *MemoryStore) Close() error { return nil }

func sortEvents(evs []models.DrivingEvent) []models.DrivingEvent {
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].Timestamp.Before(evs[j].Timestamp) })
	return evs
}
