// Package notify pushes short JSON notices to connected browsers over
// websockets: booking activity on your rides, status changes on your
// bookings, new direct messages.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/fareshare/internal/observability"
)

type Notice struct {
	Kind      string `json:"kind"`
	RideID    string `json:"ride_id,omitempty"`
	BookingID string `json:"booking_id,omitempty"`
	Message   string `json:"message,omitempty"`
	At        string `json:"at"`
}

type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) send(n Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(n)
}

// Hub keeps one session per user. A reconnect replaces the previous socket.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{sessions: make(map[string]*session), logger: logger}
}

func (h *Hub) Add(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	if old, ok := h.sessions[userID]; ok {
		_ = old.conn.Close()
	} else {
		observability.WSConnections.Inc()
	}
	h.sessions[userID] = &session{conn: conn}
	h.mu.Unlock()
}

func (h *Hub) Remove(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	if s, ok := h.sessions[userID]; ok && s.conn == conn {
		delete(h.sessions, userID)
		observability.WSConnections.Dec()
	}
	h.mu.Unlock()
	_ = conn.Close()
}

// Notify delivers best-effort: offline users simply miss the notice, the
// source of truth stays in the API responses.
func (h *Hub) Notify(userID string, n Notice) {
	h.mu.RLock()
	s, ok := h.sessions[userID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if n.At == "" {
		n.At = time.Now().UTC().Format(time.RFC3339)
	}
	if err := s.send(n); err != nil {
		h.logger.Warn("ws notify failed", "user_id", userID, "error", err)
		h.Remove(userID, s.conn)
	}
}
