package storage

import (
	"context"
	"fmt"
	"strings"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Options selects and configures a TripStore backend.
type Options struct {
	Driver      string
	PostgresDSN string
	SQLitePath  string
	// Migrate applies the embedded schema on open. SQLite is always migrated.
	Migrate bool
}

// Open builds the store named by opts.Driver.
func Open(ctx context.Context, opts Options) (TripStore, error) {
	switch strings.ToLower(opts.Driver) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverPostgres:
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires PG_DSN")
		}
		s, err := NewPostgresStore(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if opts.Migrate {
			if err := s.Migrate(ctx); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
		return s, nil
	case DriverSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = "trips.db"
		}
		s, err := NewSQLiteStore(ctx, path)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}
