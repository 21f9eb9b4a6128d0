package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/example/trip-recorder/internal/config"
	"github.com/example/trip-recorder/internal/export"
	"github.com/example/trip-recorder/internal/logging"
	"github.com/example/trip-recorder/internal/storage"
)

func main() {
	var outDir string
	flag.StringVar(&outDir, "output-dir", "exports", "directory to write CSV files to")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("trip-recorder-export", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, outDir, logger); err != nil {
		logger.Error("export failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, outDir string, logger *slog.Logger) error {
	store, err := storage.Open(ctx, storage.Options{
		Driver:      cfg.StorageDriver,
		PostgresDSN: cfg.PGDSN,
		SQLitePath:  cfg.SQLitePath,
		Migrate:     cfg.RunMigrations,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	sum, err := export.Run(ctx, store, outDir)
	if err != nil {
		return err
	}
	for _, f := range sum.Files {
		logger.Info("wrote file", "path", f)
	}
	abs, _ := filepath.Abs(sum.Dir)
	logger.Info("export done", "dir", abs, "trips", sum.Trips, "location_points", sum.Points, "driving_events", sum.Events)
	return nil
}
