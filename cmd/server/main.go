package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/trip-recorder/internal/config"
	"github.com/example/trip-recorder/internal/geo"
	httpapi "github.com/example/trip-recorder/internal/http"
	"github.com/example/trip-recorder/internal/ingest"
	"github.com/example/trip-recorder/internal/live"
	"github.com/example/trip-recorder/internal/logging"
	"github.com/example/trip-recorder/internal/speedlimit"
	"github.com/example/trip-recorder/internal/storage"
	"github.com/example/trip-recorder/internal/trips"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("trip-recorder", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
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
	logger.Info("storage ready", "driver", cfg.StorageDriver)

	ready := map[string]httpapi.ReadyCheck{}
	if p, ok := store.(interface{ Ping(context.Context) error }); ok {
		ready["storage"] = p.Ping
	}

	hub := live.NewHub(logger)
	notifiers := []trips.Notifier{hub}

	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		notifiers = append(notifiers, kp)
		logger.Info("publishing trip events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	var (
		nearby httpapi.NearbyFinder
		cache  speedlimit.Cache = speedlimit.NewMemoryCache()
	)
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		idx := geo.NewLiveIndex(rc, cfg.RedisGeoKey)
		nearby = idx
		cache = speedlimit.NewRedisCache(rc)
		ready["redis"] = idx.Ping
	}

	svc := trips.NewService(store, logger, notifiers...)
	svc.ListLimit = cfg.TripListLimit

	deps := httpapi.Deps{
		Trips:  svc,
		Nearby: nearby,
		Live:   hub,
		Ready:  ready,
		Logger: logger,
	}
	if cfg.SpeedLimitEndpoint != "" {
		sl := speedlimit.NewClient(cfg.SpeedLimitEndpoint, cfg.SpeedLimitAPIKey, cfg.SpeedLimitTimeout, cache, cfg.SpeedLimitCacheTTL)
		sl.Logger = logger
		deps.SpeedLimit = sl
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(deps),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("trip-recorder listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
