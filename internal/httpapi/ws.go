package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/example/fareshare/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the browser client connects cross-origin during local development
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS authenticates via the token query parameter (browsers cannot set
// headers on websocket dials) and parks the connection in the hub. The read
// loop only drains control frames; all traffic is server to client.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		s.error(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	claims, err := s.tokens.Parse(token, auth.KindAccess)
	if err != nil {
		s.error(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	user, err := s.store.GetUser(r.Context(), claims.UserID)
	if err != nil || user.Status == "suspended" {
		s.error(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err, "user_id", user.ID)
		return
	}
	s.hub.Add(user.ID, conn)
	s.logger.Info("ws connected", "user_id", user.ID)

	go func() {
		defer s.hub.Remove(user.ID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
