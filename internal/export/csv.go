// Package export dumps trips, location points and driving events to CSV.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/example/trip-recorder/internal/storage"
)

const (
	TripsFile          = "trips.csv"
	LocationPointsFile = "location_points.csv"
	DrivingEventsFile  = "driving_events.csv"
)

var (
	tripHeader  = []string{"id", "start_time", "end_time", "start_latitude", "start_longitude", "end_latitude", "end_longitude", "average_speed_kmh", "safety_score"}
	pointHeader = []string{"id", "trip_id", "latitude", "longitude", "timestamp", "speed_kmh", "accuracy"}
	eventHeader = []string{"id", "trip_id", "event_type", "severity", "timestamp", "speed_kmh_at_event"}
)

// Summary reports what an export wrote.
type Summary struct {
	Dir    string
	Files  []string
	Trips  int
	Points int
	Events int
}

// Run writes the three CSV files into dir, creating it if needed. Trips are
// ordered by id, children by trip then timestamp. Nulls become empty cells.
func Run(ctx context.Context, store storage.TripStore, dir string) (*Summary, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	trips, err := store.ListTrips(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	sort.Slice(trips, func(i, j int) bool { return trips[i].ID < trips[j].ID })

	sum := &Summary{Dir: dir}

	tripRows := make([][]string, 0, len(trips))
	var pointRows, eventRows [][]string
	for _, t := range trips {
		tripRows = append(tripRows, []string{
			id(t.ID), ts(t.StartTime), optTime(t.EndTime),
			num(t.StartLatitude), num(t.StartLongitude),
			optNum(t.EndLatitude), optNum(t.EndLongitude),
			num(t.AverageSpeedKmh), optNum(t.SafetyScore),
		})

		pts, err := store.ListLocationPoints(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("list points of trip %d: %w", t.ID, err)
		}
		for _, p := range pts {
			pointRows = append(pointRows, []string{
				id(p.ID), id(p.TripID), num(p.Latitude), num(p.Longitude),
				ts(p.Timestamp), num(p.SpeedKmh), optNum(p.Accuracy),
			})
		}

		evs, err := store.ListDrivingEvents(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("list events of trip %d: %w", t.ID, err)
		}
		for _, e := range evs {
			eventRows = append(eventRows, []string{
				id(e.ID), id(e.TripID), e.EventType, e.Severity,
				ts(e.Timestamp), num(e.SpeedKmhAtEvent),
			})
		}
	}

	for _, f := range []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{TripsFile, tripHeader, tripRows},
		{LocationPointsFile, pointHeader, pointRows},
		{DrivingEventsFile, eventHeader, eventRows},
	} {
		path := filepath.Join(dir, f.name)
		if err := writeCSV(path, f.header, f.rows); err != nil {
			return nil, err
		}
		sum.Files = append(sum.Files, path)
	}
	sum.Trips, sum.Points, sum.Events = len(tripRows), len(pointRows), len(eventRows)
	return sum, nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func optNum(v *float64) string {
	if v == nil {
		return ""
	}
	return num(*v)
}

func optTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return ts(*t)
}
