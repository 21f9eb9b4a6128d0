package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/trip-recorder/internal/models"
)

// runStoreSuite exercises the TripStore contract against any backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) TripStore) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		trip := &models.Trip{StartTime: base, StartLatitude: 52.52, StartLongitude: 13.405}
		if err := s.CreateTrip(ctx, trip); err != nil {
			t.Fatalf("create: %v", err)
		}
		if trip.ID == 0 {
			t.Fatalf("expected id to be assigned")
		}
		got, err := s.GetTrip(ctx, trip.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !got.StartTime.Equal(base) || got.StartLatitude != 52.52 || got.StartLongitude != 13.405 {
			t.Fatalf("unexpected trip: %+v", got)
		}
		if got.EndTime != nil || got.EndLatitude != nil || got.SafetyScore != nil || got.CrashLatitude != nil {
			t.Fatalf("expected nullable fields to be nil: %+v", got)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.GetTrip(ctx, 999); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("list newest first with limit", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 3; i++ {
			trip := &models.Trip{StartTime: base.Add(time.Duration(i) * time.Hour)}
			if err := s.CreateTrip(ctx, trip); err != nil {
				t.Fatalf("create: %v", err)
			}
		}
		all, err := s.ListTrips(ctx, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) != 3 || !all[0].StartTime.After(all[1].StartTime) || !all[1].StartTime.After(all[2].StartTime) {
			t.Fatalf("unexpected order: %+v", all)
		}
		two, err := s.ListTrips(ctx, 2)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(two) != 2 || two[0].ID != all[0].ID {
			t.Fatalf("unexpected limited list: %+v", two)
		}
	})

	t.Run("update writes trip and events", func(t *testing.T) {
		s := newStore(t)
		trip := &models.Trip{StartTime: base}
		if err := s.CreateTrip(ctx, trip); err != nil {
			t.Fatalf("create: %v", err)
		}
		end := base.Add(30 * time.Minute)
		lat, score := 48.1, 91.5
		updated, evs, err := s.UpdateTrip(ctx, trip.ID, func(cur *models.Trip) ([]models.DrivingEvent, error) {
			cur.EndTime = &end
			cur.EndLatitude = &lat
			cur.HarshBrakingCount = 2
			cur.CrashDetected = true
			cur.SafetyScore = &score
			return []models.DrivingEvent{
				{EventType: models.EventBraking, Timestamp: base.Add(2 * time.Minute), Severity: models.SeverityModerate},
				{EventType: models.EventAcceleration, Timestamp: base.Add(time.Minute), Severity: models.SeverityModerate, Latitude: &lat},
			}, nil
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if updated.HarshBrakingCount != 2 || len(evs) != 2 || evs[0].ID == 0 || evs[1].TripID != trip.ID {
			t.Fatalf("unexpected update result: %+v %+v", updated, evs)
		}
		got, err := s.GetTrip(ctx, trip.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.EndTime == nil || !got.EndTime.Equal(end) || *got.EndLatitude != lat || !got.CrashDetected || *got.SafetyScore != score {
			t.Fatalf("update not persisted: %+v", got)
		}
		listed, err := s.ListDrivingEvents(ctx, trip.ID)
		if err != nil {
			t.Fatalf("list events: %v", err)
		}
		if len(listed) != 2 || listed[0].EventType != models.EventAcceleration || listed[0].Latitude == nil {
			t.Fatalf("events not ordered by timestamp: %+v", listed)
		}
	})

	t.Run("update error persists nothing", func(t *testing.T) {
		s := newStore(t)
		trip := &models.Trip{StartTime: base}
		if err := s.CreateTrip(ctx, trip); err != nil {
			t.Fatalf("create: %v", err)
		}
		boom := errors.New("boom")
		_, _, err := s.UpdateTrip(ctx, trip.ID, func(cur *models.Trip) ([]models.DrivingEvent, error) {
			cur.HarshBrakingCount = 9
			return nil, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		got, _ := s.GetTrip(ctx, trip.ID)
		if got.HarshBrakingCount != 0 {
			t.Fatalf("expected no change, got %+v", got)
		}
	})

	t.Run("update missing", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.UpdateTrip(ctx, 42, func(*models.Trip) ([]models.DrivingEvent, error) { return nil, nil })
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("concurrent updates do not lose writes", func(t *testing.T) {
		s := newStore(t)
		trip := &models.Trip{StartTime: base}
		if err := s.CreateTrip(ctx, trip); err != nil {
			t.Fatalf("create: %v", err)
		}
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := s.UpdateTrip(ctx, trip.ID, func(cur *models.Trip) ([]models.DrivingEvent, error) {
					cur.SpeedingViolationsCount++
					return nil, nil
				})
				if err != nil {
					t.Errorf("update: %v", err)
				}
			}()
		}
		wg.Wait()
		got, _ := s.GetTrip(ctx, trip.ID)
		if got.SpeedingViolationsCount != 10 {
			t.Fatalf("expected 10, got %d", got.SpeedingViolationsCount)
		}
	})

	t.Run("location points", func(t *testing.T) {
		s := newStore(t)
		trip := &models.Trip{StartTime: base}
		if err := s.CreateTrip(ctx, trip); err != nil {
			t.Fatalf("create: %v", err)
		}
		acc := 4.5
		second := &models.LocationPoint{TripID: trip.ID, Latitude: 1, Longitude: 2, Timestamp: base.Add(time.Minute), SpeedKmh: 30, Accuracy: &acc}
		first := &models.LocationPoint{TripID: trip.ID, Latitude: 1.1, Longitude: 2.1, Timestamp: base}
		for _, p := range []*models.LocationPoint{second, first} {
			if err := s.AddLocationPoint(ctx, p); err != nil {
				t.Fatalf("add point: %v", err)
			}
		}
		pts, err := s.ListLocationPoints(ctx, trip.ID)
		if err != nil {
			t.Fatalf("list points: %v", err)
		}
		if len(pts) != 2 || pts[0].ID != first.ID || pts[1].Accuracy == nil || *pts[1].Accuracy != acc || pts[0].Accuracy != nil {
			t.Fatalf("unexpected points: %+v", pts)
		}
		if err := s.AddLocationPoint(ctx, &models.LocationPoint{TripID: 777, Timestamp: base}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("delete cascades", func(t *testing.T) {
		s := newStore(t)
		trip := &models.Trip{StartTime: base}
		if err := s.CreateTrip(ctx, trip); err != nil {
			t.Fatalf("create: %v", err)
		}
		_ = s.AddLocationPoint(ctx, &models.LocationPoint{TripID: trip.ID, Timestamp: base})
		_ = s.AddDrivingEvent(ctx, &models.DrivingEvent{TripID: trip.ID, EventType: models.EventBraking, Timestamp: base, Severity: models.SeverityMild})
		if err := s.DeleteTrip(ctx, trip.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := s.ListLocationPoints(ctx, trip.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
		if err := s.DeleteTrip(ctx, trip.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound on second delete, got %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) TripStore { return NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) TripStore {
		s, err := Open(context.Background(), Options{Driver: DriverSQLite, SQLitePath: ":memory:"})
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestRebindPostgres(t *testing.T) {
	s := &SQLStore{dialect: DialectPostgres}
	got := s.rebind(`SELECT a FROM t WHERE x = ? AND y = ?`)
	if got != `SELECT a FROM t WHERE x = $1 AND y = $2` {
		t.Fatalf("unexpected rebind: %s", got)
	}
	lite := &SQLStore{dialect: DialectSQLite}
	if q := lite.rebind(`x = ?`); q != `x = ?` {
		t.Fatalf("sqlite query should be unchanged: %s", q)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "cassandra"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(context.Background(), Options{Driver: DriverPostgres}); err == nil {
		t.Fatalf("expected error for postgres without dsn")
	}
}
