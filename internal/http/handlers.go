package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/example/trip-recorder/internal/speedlimit"
	"github.com/example/trip-recorder/internal/trips"
)

const (
	maxBodyBytes     = 1 << 20
	defaultRadiusM   = 1000.0
	maxRadiusM       = 50000.0
	defaultNearbyMax = 20
)

func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var in trips.CreateTripInput
	if !s.decode(w, r, &in) {
		return
	}
	t, err := s.trips.CreateTrip(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTrips(w http.ResponseWriter, r *http.Request) {
	list, err := s.trips.ListTrips(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.trips.GetTrip(r.Context(), tripID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTrip(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "could not read request body", Field: "body"})
		return
	}
	t, err := s.trips.UpdateTrip(r.Context(), tripID(r), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTrip(w http.ResponseWriter, r *http.Request) {
	if err := s.trips.DeleteTrip(r.Context(), tripID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddLocation(w http.ResponseWriter, r *http.Request) {
	var in trips.LocationInput
	if !s.decode(w, r, &in) {
		return
	}
	p, err := s.trips.AddLocationPoint(r.Context(), tripID(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	pts, err := s.trips.ListLocationPoints(r.Context(), tripID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pts)
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	tr, err := s.trips.Track(r.Context(), tripID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	var in trips.EventInput
	if !s.decode(w, r, &in) {
		return
	}
	e, err := s.trips.AddDrivingEvent(r.Context(), tripID(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := s.trips.ListDrivingEvents(r.Context(), tripID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	if s.nearby == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Detail: "live index not configured"})
		return
	}
	q := r.URL.Query()
	lat, ok := floatParam(w, q.Get("lat"), "lat", true, 0)
	if !ok {
		return
	}
	lon, ok := floatParam(w, q.Get("lon"), "lon", true, 0)
	if !ok {
		return
	}
	radius, ok := floatParam(w, q.Get("radius_m"), "radius_m", false, defaultRadiusM)
	if !ok {
		return
	}
	if radius <= 0 || radius > maxRadiusM {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "must be between 0 and 50000", Field: "radius_m"})
		return
	}
	limit := defaultNearbyMax
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Detail: "must be a positive integer", Field: "limit"})
			return
		}
		limit = n
	}

	res, err := s.nearby.Nearby(r.Context(), lat, lon, radius, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSpeedLimit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, ok := floatParam(w, q.Get("lat"), "lat", true, 0)
	if !ok {
		return
	}
	lon, ok := floatParam(w, q.Get("lon"), "lon", true, 0)
	if !ok {
		return
	}
	if s.speed == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Detail: speedlimit.ErrNotConfigured.Error()})
		return
	}

	res, err := s.speed.Lookup(r.Context(), lat, lon)
	var ue *speedlimit.UpstreamError
	switch {
	case err == nil:
	case errors.Is(err, speedlimit.ErrInvalidCoordinates):
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "coordinates out of range", Field: "lat"})
		return
	case errors.Is(err, speedlimit.ErrNotConfigured):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Detail: err.Error()})
		return
	case errors.As(err, &ue):
		s.logger.Warn("speed limit upstream failed", "status", ue.Status, "error", err, "request_id", requestIDFromContext(r.Context()))
		writeJSON(w, http.StatusBadGateway, errorBody{Detail: "speed limit provider unavailable"})
		return
	default:
		s.writeError(w, r, err)
		return
	}

	cache := "MISS"
	if res.Cached {
		cache = "HIT"
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", cache)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Detail: "live feed not configured"})
		return
	}
	id := tripID(r)
	if _, err := s.trips.GetTrip(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		return
	}
	unsubscribe := s.hub.Subscribe(id, conn)
	defer unsubscribe()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for name, check := range s.ready {
		if err := check(r.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type errorBody struct {
	Detail string `json:"detail"`
	Field  string `json:"field,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *trips.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: ve.Reason, Field: ve.Field})
	case errors.Is(err, trips.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "not found"})
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err, "request_id", requestIDFromContext(r.Context()))
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "internal error"})
	}
}

// decode reads a JSON request body into dst, replying 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "must be a valid JSON object", Field: "body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func tripID(r *http.Request) int64 {
	// the route pattern guarantees digits; overflow falls through as an unknown id
	id, _ := strconv.ParseInt(mux.Vars(r)["trip_id"], 10, 64)
	return id
}

func floatParam(w http.ResponseWriter, raw, name string, required bool, def float64) (float64, bool) {
	if raw == "" {
		if required {
			writeJSON(w, http.StatusBadRequest, errorBody{Detail: "is required", Field: name})
			return 0, false
		}
		return def, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "must be a number", Field: name})
		return 0, false
	}
	return f, true
}
