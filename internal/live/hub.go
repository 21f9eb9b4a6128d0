// Package live fans committed trip changes out to websocket subscribers.
package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/trip-recorder/internal/models"
	"github.com/example/trip-recorder/internal/observability"
)

const writeTimeout = 2 * time.Second

// session is one websocket subscriber; writes are serialized per connection.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) send(ev models.TripEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(ev)
}

// Hub holds websocket sessions per trip.
type Hub struct {
	mu       sync.RWMutex
	sessions map[int64]map[*session]struct{}
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{sessions: make(map[int64]map[*session]struct{}), logger: logger}
}

// Subscribe registers conn for events of tripID. The returned func removes
// the subscription and closes the connection; it is safe to call twice.
func (h *Hub) Subscribe(tripID int64, conn *websocket.Conn) func() {
	s := &session{conn: conn}
	h.mu.Lock()
	if h.sessions[tripID] == nil {
		h.sessions[tripID] = make(map[*session]struct{})
	}
	h.sessions[tripID][s] = struct{}{}
	h.mu.Unlock()
	observability.LiveSubscribers.Inc()

	var once sync.Once
	return func() { once.Do(func() { h.drop(tripID, s) }) }
}

// Notify implements trips.Notifier. Subscribers that fail a write are dropped.
func (h *Hub) Notify(_ context.Context, ev models.TripEvent) error {
	h.mu.RLock()
	targets := make([]*session, 0, len(h.sessions[ev.TripID]))
	for s := range h.sessions[ev.TripID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.send(ev); err != nil {
			h.logger.Debug("live subscriber dropped", "trip_id", ev.TripID, "error", err)
			h.drop(ev.TripID, s)
		}
	}
	if ev.Kind == models.KindTripDeleted {
		for _, s := range targets {
			h.drop(ev.TripID, s)
		}
	}
	return nil
}

// Subscribers returns the number of open sessions for tripID.
func (h *Hub) Subscribers(tripID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[tripID])
}

func (h *Hub) drop(tripID int64, s *session) {
	h.mu.Lock()
	set, ok := h.sessions[tripID]
	if ok {
		if _, ok = set[s]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.sessions, tripID)
			}
		}
	}
	h.mu.Unlock()
	if ok {
		observability.LiveSubscribers.Dec()
		_ = s.conn.Close()
	}
}
