package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/example/trip-recorder/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Dialect selects the SQL flavour; its value is also the database/sql driver name.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore implements TripStore on Postgres (lib/pq) or SQLite (modernc).
// Queries are written with '?' placeholders and rebound per dialect.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open(string(DialectPostgres), dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &SQLStore{db: db, dialect: DialectPostgres}, nil
}

// NewSQLiteStore opens a SQLite database at path (":memory:" works for tests).
// A single connection serializes writers and keeps in-memory databases alive.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open(string(DialectSQLite), path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}
	return &SQLStore{db: db, dialect: DialectSQLite}, nil
}

// Migrate creates the schema if it does not exist yet.
func (s *SQLStore) Migrate(ctx context.Context) error {
	b, err := migrations.ReadFile("migrations/" + string(s.dialect) + ".sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("migrate %s: %w", s.dialect, err)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error { return s.db.Close() }

const tripColumns = `id, start_time, end_time, start_latitude, start_longitude,
	end_latitude, end_longitude, average_speed_kmh, total_distance_km,
	harsh_braking_count, harsh_acceleration_count, crash_detected,
	crash_latitude, crash_longitude, speeding_duration_seconds,
	speeding_violations_count, max_speed_over_limit, safety_score`

const insertTripSQL = `INSERT INTO trips (start_time, end_time, start_latitude, start_longitude,
	end_latitude, end_longitude, average_speed_kmh, total_distance_km,
	harsh_braking_count, harsh_acceleration_count, crash_detected,
	crash_latitude, crash_longitude, speeding_duration_seconds,
	speeding_violations_count, max_speed_over_limit, safety_score)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`

const updateTripSQL = `UPDATE trips SET start_time = ?, end_time = ?, start_latitude = ?,
	start_longitude = ?, end_latitude = ?, end_longitude = ?, average_speed_kmh = ?,
	total_distance_km = ?, harsh_braking_count = ?, harsh_acceleration_count = ?,
	crash_detected = ?, crash_latitude = ?, crash_longitude = ?,
	speeding_duration_seconds = ?, speeding_violations_count = ?,
	max_speed_over_limit = ?, safety_score = ?
	WHERE id = ?`

const pointColumns = `id, trip_id, latitude, longitude, "timestamp", speed_kmh, accuracy`

const eventColumns = `id, trip_id, event_type, "timestamp", latitude, longitude, severity, speed_kmh_at_event`

func (s *SQLStore) CreateTrip(ctx context.Context, t *models.Trip) error {
	if err := s.db.QueryRowContext(ctx, s.rebind(insertTripSQL), tripArgs(t)...).Scan(&t.ID); err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

func (s *SQLStore) GetTrip(ctx context.Context, id int64) (*models.Trip, error) {
	return scanTrip(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+tripColumns+` FROM trips WHERE id = ?`), id))
}

func (s *SQLStore) ListTrips(ctx context.Context, limit int) ([]models.Trip, error) {
	q := `SELECT ` + tripColumns + ` FROM trips ORDER BY start_time DESC, id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, int64(limit))
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	out := []models.Trip{}
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTrip locks the row (FOR UPDATE on Postgres; SQLite has a single
// writer connection) and writes the trip and new events in one transaction.
func (s *SQLStore) UpdateTrip(ctx context.Context, id int64, fn UpdateFunc) (*models.Trip, []models.DrivingEvent, error) {
	var (
		updated *models.Trip
		created []models.DrivingEvent
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		q := `SELECT ` + tripColumns + ` FROM trips WHERE id = ?`
		if s.dialect == DialectPostgres {
			q += ` FOR UPDATE`
		}
		cur, err := scanTrip(tx.QueryRowContext(ctx, s.rebind(q), id))
		if err != nil {
			return err
		}
		events, err := fn(cur)
		if err != nil {
			return err
		}
		cur.ID = id
		if _, err := tx.ExecContext(ctx, s.rebind(updateTripSQL), append(tripArgs(cur), id)...); err != nil {
			return fmt.Errorf("update trip: %w", err)
		}
		for i := range events {
			events[i].TripID = id
			if err := s.insertEvent(ctx, tx, &events[i]); err != nil {
				return err
			}
		}
		updated, created = cur, events
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, created, nil
}

func (s *SQLStore) DeleteTrip(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM location_points WHERE trip_id = ?`,
			`DELETE FROM driving_events WHERE trip_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, s.rebind(q), id); err != nil {
				return fmt.Errorf("delete trip children: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM trips WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete trip: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLStore) AddLocationPoint(ctx context.Context, p *models.LocationPoint) error {
	if err := s.tripExists(ctx, p.TripID); err != nil {
		return err
	}
	q := `INSERT INTO location_points (trip_id, latitude, longitude, "timestamp", speed_kmh, accuracy)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`
	err := s.db.QueryRowContext(ctx, s.rebind(q),
		p.TripID, p.Latitude, p.Longitude, p.Timestamp.UTC(), p.SpeedKmh, nullable(p.Accuracy),
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert location point: %w", err)
	}
	return nil
}

func (s *SQLStore) ListLocationPoints(ctx context.Context, tripID int64) ([]models.LocationPoint, error) {
	if err := s.tripExists(ctx, tripID); err != nil {
		return nil, err
	}
	q := `SELECT ` + pointColumns + ` FROM location_points WHERE trip_id = ? ORDER BY "timestamp", id`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), tripID)
	if err != nil {
		return nil, fmt.Errorf("query location points: %w", err)
	}
	defer rows.Close()

	out := []models.LocationPoint{}
	for rows.Next() {
		var (
			p        models.LocationPoint
			accuracy sql.NullFloat64
		)
		if err := rows.Scan(&p.ID, &p.TripID, &p.Latitude, &p.Longitude, &p.Timestamp, &p.SpeedKmh, &accuracy); err != nil {
			return nil, fmt.Errorf("scan location point: %w", err)
		}
		p.Timestamp = p.Timestamp.UTC()
		p.Accuracy = nullFloat(accuracy)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) AddDrivingEvent(ctx context.Context, e *models.DrivingEvent) error {
	if err := s.tripExists(ctx, e.TripID); err != nil {
		return err
	}
	return s.insertEvent(ctx, s.db, e)
}

func (s *SQLStore) ListDrivingEvents(ctx context.Context, tripID int64) ([]models.DrivingEvent, error) {
	if err := s.tripExists(ctx, tripID); err != nil {
		return nil, err
	}
	q := `SELECT ` + eventColumns + ` FROM driving_events WHERE trip_id = ? ORDER BY "timestamp", id`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), tripID)
	if err != nil {
		return nil, fmt.Errorf("query driving events: %w", err)
	}
	defer rows.Close()

	out := []models.DrivingEvent{}
	for rows.Next() {
		var (
			e        models.DrivingEvent
			lat, lon sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.TripID, &e.EventType, &e.Timestamp, &lat, &lon, &e.Severity, &e.SpeedKmhAtEvent); err != nil {
			return nil, fmt.Errorf("scan driving event: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		e.Latitude, e.Longitude = nullFloat(lat), nullFloat(lon)
		out = append(out, e)
	}
	return out, rows.Err()
}

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) insertEvent(ctx context.Context, q execQuerier, e *models.DrivingEvent) error {
	stmt := `INSERT INTO driving_events (trip_id, event_type, "timestamp", latitude, longitude, severity, speed_kmh_at_event)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`
	err := q.QueryRowContext(ctx, s.rebind(stmt),
		e.TripID, e.EventType, e.Timestamp.UTC(), nullable(e.Latitude), nullable(e.Longitude), e.Severity, e.SpeedKmhAtEvent,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert driving event: %w", err)
	}
	return nil
}

func (s *SQLStore) tripExists(ctx context.Context, id int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM trips WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// withTx runs fn in a transaction, rolling back on error or panic.
func (s *SQLStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// rebind turns '?' placeholders into $n for Postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*models.Trip, error) {
	var t models.Trip
	var endTime sql.NullTime
	var endLat, endLon, crashLat, crashLon, score sql.NullFloat64
	err := row.Scan(
		&t.ID, &t.StartTime, &endTime, &t.StartLatitude, &t.StartLongitude,
		&endLat, &endLon, &t.AverageSpeedKmh, &t.TotalDistanceKm,
		&t.HarshBrakingCount, &t.HarshAccelerationCount, &t.CrashDetected,
		&crashLat, &crashLon, &t.SpeedingDurationSeconds,
		&t.SpeedingViolationsCount, &t.MaxSpeedOverLimit, &score,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.StartTime = t.StartTime.UTC()
	if endTime.Valid {
		et := endTime.Time.UTC()
		t.EndTime = &et
	}
	t.EndLatitude, t.EndLongitude = nullFloat(endLat), nullFloat(endLon)
	t.CrashLatitude, t.CrashLongitude = nullFloat(crashLat), nullFloat(crashLon)
	t.SafetyScore = nullFloat(score)
	return &t, nil
}

func tripArgs(t *models.Trip) []any {
	return []any{
		t.StartTime.UTC(), nullableTime(t.EndTime), t.StartLatitude, t.StartLongitude,
		nullable(t.EndLatitude), nullable(t.EndLongitude), t.AverageSpeedKmh, t.TotalDistanceKm,
		int64(t.HarshBrakingCount), int64(t.HarshAccelerationCount), t.CrashDetected,
		nullable(t.CrashLatitude), nullable(t.CrashLongitude), int64(t.SpeedingDurationSeconds),
		int64(t.SpeedingViolationsCount), t.MaxSpeedOverLimit, nullable(t.SafetyScore),
	}
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// nullable unwraps optional columns into plain driver values or NULL.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
