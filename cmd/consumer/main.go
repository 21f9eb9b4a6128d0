package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/trip-recorder/internal/config"
	"github.com/example/trip-recorder/internal/geo"
	"github.com/example/trip-recorder/internal/ingest"
	"github.com/example/trip-recorder/internal/logging"
	"github.com/example/trip-recorder/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total trip event messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful live index updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total live index update failures after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	logger := logging.NewLogger("trip-recorder-consumer", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	index := geo.NewLiveIndex(rc, cfg.RedisGeoKey)

	// metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := index.Ping(r.Context()); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	consume(ctx, r, index, logger)
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func consume(ctx context.Context, r messageReader, store LiveStore, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff.String())
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		ev, err := ingest.DecodeEvent(m)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}

		if err := applyEventWithRetry(ctx, store, ev, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			logger.Error("live index update failed", "trip_id", ev.TripID, "kind", ev.Kind, "error", err)
			continue
		}
		redisUpdates.Inc()
	}
}

// LiveStore is the subset of the live index the consumer writes to.
type LiveStore interface {
	Upsert(ctx context.Context, tripID int64, lat, lon float64) error
	SetMeta(ctx context.Context, tripID int64, values map[string]any) error
	Remove(ctx context.Context, tripID int64) error
}

// applyEvent projects one trip event onto the live index. Ended and deleted
// trips leave the index.
func applyEvent(ctx context.Context, store LiveStore, ev models.TripEvent) error {
	switch ev.Kind {
	case models.KindTripDeleted:
		return store.Remove(ctx, ev.TripID)

	case models.KindTripStarted:
		if ev.Trip == nil {
			return nil
		}
		if err := store.Upsert(ctx, ev.TripID, ev.Trip.StartLatitude, ev.Trip.StartLongitude); err != nil {
			return err
		}
		return store.SetMeta(ctx, ev.TripID, map[string]any{"updated_at": ev.At.Format(time.RFC3339)})

	case models.KindTripUpdated:
		if ev.Trip == nil {
			return nil
		}
		if ev.Trip.Ended() {
			return store.Remove(ctx, ev.TripID)
		}
		meta := map[string]any{"updated_at": ev.At.Format(time.RFC3339)}
		if ev.Trip.SafetyScore != nil {
			meta["safety_score"] = *ev.Trip.SafetyScore
		}
		return store.SetMeta(ctx, ev.TripID, meta)

	case models.KindLocationRecorded:
		p := ev.Location
		if p == nil || ev.TripEnded {
			return nil
		}
		if err := store.Upsert(ctx, ev.TripID, p.Latitude, p.Longitude); err != nil {
			return err
		}
		return store.SetMeta(ctx, ev.TripID, map[string]any{
			"speed_kmh":  p.SpeedKmh,
			"updated_at": p.Timestamp.Format(time.RFC3339),
		})

	case models.KindEventRecorded:
		if len(ev.Events) == 0 || ev.TripEnded {
			return nil
		}
		last := ev.Events[len(ev.Events)-1]
		return store.SetMeta(ctx, ev.TripID, map[string]any{"last_event": last.EventType})
	}
	return nil
}

// applyEventWithRetry retries applyEvent with exponential backoff.
func applyEventWithRetry(ctx context.Context, store LiveStore, ev models.TripEvent, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = applyEvent(ctx, store, ev); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}
