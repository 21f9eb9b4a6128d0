package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/trip-recorder/internal/geo"
	"github.com/example/trip-recorder/internal/live"
	"github.com/example/trip-recorder/internal/speedlimit"
	"github.com/example/trip-recorder/internal/trips"
)

// SpeedLimiter looks up road speed limits for a coordinate.
type SpeedLimiter interface {
	Lookup(ctx context.Context, lat, lon float64) (*speedlimit.Result, error)
}

// NearbyFinder queries the live index of open trips.
type NearbyFinder interface {
	Nearby(ctx context.Context, lat, lon, radiusM float64, limit int) ([]geo.LiveTrip, error)
}

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// Deps are the collaborators the API is wired with. Only Trips is required.
type Deps struct {
	Trips      *trips.Service
	SpeedLimit SpeedLimiter
	Nearby     NearbyFinder
	Live       *live.Hub
	Ready      map[string]ReadyCheck
	Logger     *slog.Logger
}

type Server struct {
	trips  *trips.Service
	speed  SpeedLimiter
	nearby NearbyFinder
	hub    *live.Hub
	ready  map[string]ReadyCheck
	logger *slog.Logger

	upgrader websocket.Upgrader
	mux      *mux.Router
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		trips:    d.Trips,
		speed:    d.SpeedLimit,
		nearby:   d.Nearby,
		hub:      d.Live,
		ready:    d.Ready,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

const tripPath = "/api/trips/{trip_id:[0-9]+}"

func (s *Server) routes() {
	s.mux.HandleFunc("/api/trips/", s.handleCreateTrip).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/trips/", s.handleListTrips).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/trips/nearby/", s.handleNearby).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/speed-limit/", s.handleSpeedLimit).Methods(http.MethodGet)

	s.mux.HandleFunc(tripPath+"/", s.handleGetTrip).Methods(http.MethodGet)
	s.mux.HandleFunc(tripPath+"/", s.handleUpdateTrip).Methods(http.MethodPatch)
	s.mux.HandleFunc(tripPath+"/", s.handleDeleteTrip).Methods(http.MethodDelete)
	s.mux.HandleFunc(tripPath+"/locations/", s.handleAddLocation).Methods(http.MethodPost)
	s.mux.HandleFunc(tripPath+"/locations/", s.handleListLocations).Methods(http.MethodGet)
	s.mux.HandleFunc(tripPath+"/track/", s.handleTrack).Methods(http.MethodGet)
	s.mux.HandleFunc(tripPath+"/events/", s.handleAddEvent).Methods(http.MethodPost)
	s.mux.HandleFunc(tripPath+"/events/", s.handleListEvents).Methods(http.MethodGet)

	s.mux.HandleFunc("/ws/trips/{trip_id:[0-9]+}", s.handleWS).Methods(http.MethodGet)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())

	s.mux.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "not found"})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
