package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values come from environment variables (optionally seeded from a .env file)
// with defaults that let the binary run locally on the in-memory store.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	StorageDriver string
	PGDSN         string
	SQLitePath    string
	RunMigrations bool

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	SpeedLimitEndpoint string
	SpeedLimitAPIKey   string
	SpeedLimitTimeout  time.Duration
	SpeedLimitCacheTTL time.Duration

	TripListLimit int

	LogLevel string
}

// ConsumerConfig is the subset used by the trip event consumer.
type ConsumerConfig struct {
	MetricsAddr string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		StorageDriver:      "memory",
		SQLitePath:         "trips.db",
		RedisGeoKey:        "trips_geo",
		KafkaTopic:         "trip-events",
		SpeedLimitTimeout:  5 * time.Second,
		SpeedLimitCacheTTL: 10 * time.Minute,
		TripListLimit:      20,
		LogLevel:           "info",
	}
}

// LoadDotEnv seeds the environment from a .env file if one exists. Variables
// already set win over the file.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error
	if err := LoadDotEnv(); err != nil {
		errs = append(errs, fmt.Errorf("load .env: %w", err))
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.StorageDriver, "STORAGE_DRIVER")
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	cfg.PGDSN = os.Getenv("PG_DSN")
	setStringFromEnv(&cfg.SQLitePath, "SQLITE_PATH")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.SpeedLimitEndpoint = strings.TrimSpace(os.Getenv("SPEED_LIMIT_ENDPOINT"))
	cfg.SpeedLimitAPIKey = os.Getenv("SPEED_LIMIT_API_KEY")
	setDurationFromEnv(&cfg.SpeedLimitTimeout, "SPEED_LIMIT_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.SpeedLimitCacheTTL, "SPEED_LIMIT_CACHE_TTL", &errs)

	setIntFromEnv(&cfg.TripListLimit, "TRIP_LIST_LIMIT", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	switch cfg.StorageDriver {
	case "memory", "sqlite":
	case "postgres":
		if cfg.PGDSN == "" {
			errs = append(errs, fmt.Errorf("PG_DSN is required when STORAGE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be memory, postgres or sqlite, got %q", cfg.StorageDriver))
	}
	if cfg.TripListLimit <= 0 {
		errs = append(errs, fmt.Errorf("TRIP_LIST_LIMIT must be > 0"))
	}
	if cfg.SpeedLimitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SPEED_LIMIT_TIMEOUT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "trip-events",
		KafkaGroup:   "trip-recorder-consumer",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "trips_geo",
		LogLevel:     "info",
	}
	var errs []error
	if err := LoadDotEnv(); err != nil {
		errs = append(errs, fmt.Errorf("load .env: %w", err))
	}

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must list at least one broker"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
