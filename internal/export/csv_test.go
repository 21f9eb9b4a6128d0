package export

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/trip-recorder/internal/models"
	"github.com/example/trip-recorder/internal/storage"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestRunWritesAllTables(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	first := &models.Trip{StartTime: start, StartLatitude: 52.5, StartLongitude: 13.4}
	second := &models.Trip{StartTime: start.Add(time.Hour), StartLatitude: 48.1, StartLongitude: 11.6}
	for _, tr := range []*models.Trip{first, second} {
		if err := store.CreateTrip(ctx, tr); err != nil {
			t.Fatal(err)
		}
	}
	score := 87.5
	if _, _, err := store.UpdateTrip(ctx, first.ID, func(tr *models.Trip) ([]models.DrivingEvent, error) {
		end := start.Add(30 * time.Minute)
		tr.EndTime = &end
		tr.SafetyScore = &score
		return []models.DrivingEvent{{EventType: models.EventBraking, Severity: models.SeverityModerate, Timestamp: start.Add(time.Minute), SpeedKmhAtEvent: 42}}, nil
	}); err != nil {
		t.Fatal(err)
	}
	acc := 4.0
	if err := store.AddLocationPoint(ctx, &models.LocationPoint{TripID: first.ID, Latitude: 52.51, Longitude: 13.41, Timestamp: start, SpeedKmh: 30, Accuracy: &acc}); err != nil {
		t.Fatal(err)
	}
	if err := store.AddLocationPoint(ctx, &models.LocationPoint{TripID: second.ID, Latitude: 48.1, Longitude: 11.6, Timestamp: start}); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(t.TempDir(), "exports")
	sum, err := Run(ctx, store, dir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Trips != 2 || sum.Points != 2 || sum.Events != 1 || len(sum.Files) != 3 {
		t.Fatalf("unexpected summary %+v", sum)
	}

	trips := readCSV(t, filepath.Join(dir, TripsFile))
	if len(trips) != 3 || trips[0][0] != "id" || trips[0][8] != "safety_score" {
		t.Fatalf("unexpected trips csv %v", trips)
	}
	want := []string{"1", "2024-05-01T09:00:00Z", "2024-05-01T09:30:00Z", "52.5", "13.4", "", "", "0", "87.5"}
	for i, v := range want {
		if trips[1][i] != v {
			t.Fatalf("trips row 1 col %d: got %q want %q", i, trips[1][i], v)
		}
	}
	if trips[2][0] != "2" || trips[2][2] != "" || trips[2][8] != "" {
		t.Fatalf("nulls must be empty cells, got %v", trips[2])
	}

	points := readCSV(t, filepath.Join(dir, LocationPointsFile))
	if len(points) != 3 || points[1][1] != "1" || points[1][6] != "4" || points[2][6] != "" {
		t.Fatalf("unexpected points csv %v", points)
	}

	events := readCSV(t, filepath.Join(dir, DrivingEventsFile))
	if len(events) != 2 || events[1][2] != "braking" || events[1][3] != "moderate" || events[1][5] != "42" {
		t.Fatalf("unexpected events csv %v", events)
	}
}

func TestRunEmptyStore(t *testing.T) {
	dir := t.TempDir()
	sum, err := Run(context.Background(), storage.NewMemoryStore(), dir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Trips != 0 {
		t.Fatalf("expected no trips")
	}
	if rows := readCSV(t, filepath.Join(dir, DrivingEventsFile)); len(rows) != 1 {
		t.Fatalf("expected header only, got %v", rows)
	}
}
