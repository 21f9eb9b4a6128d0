package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trip_recorder"

var (
	TripsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "trips_created_total", Help: "Total number of trips started"})
	TripUpdatesTotal  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trip_updates_total", Help: "Trip updates by result"},
		[]string{"result"},
	)
	SafetyScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "safety_score",
		Help:      "Distribution of computed trip safety scores",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})
	DrivingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "driving_events_total", Help: "Driving events recorded by source and type"},
		[]string{"source", "event_type"},
	)
	LocationPointsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "location_points_total", Help: "GPS samples recorded"})
	SpeedLimitLookups   = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "speed_limit_lookups_total", Help: "Speed limit proxy lookups by result"},
		[]string{"result"},
	)
	LiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "live_subscribers", Help: "Open websocket trip subscriptions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
