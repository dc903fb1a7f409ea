package server

import (
	"net/http"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// newSocketAcceptor authenticates the connect request, upgrades it and hands
// the connection to a session. Presence is not registered here; that happens
// when the client emits its register event.
func (s *ApiServer) newSocketAcceptor() func(http.ResponseWriter, *http.Request) {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  s.config.GetSocket().ReadBufferSizeBytes,
		WriteBufferSize: s.config.GetSocket().WriteBufferSizeBytes,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		// Check authentication.
		var token string
		if auth := r.Header["Authorization"]; len(auth) >= 1 {
			// Attempt header based authentication.
			const prefix = "Bearer "
			if !strings.HasPrefix(auth[0], prefix) {
				http.Error(w, "Missing or invalid token", http.StatusUnauthorized)
				return
			}
			token = auth[0][len(prefix):]
		} else {
			// Attempt query parameter based authentication.
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			http.Error(w, "Missing or invalid token", http.StatusUnauthorized)
			return
		}

		userID, username, _, ok := parseToken([]byte(s.config.GetSession().EncryptionKey), token)
		if !ok {
			http.Error(w, "Missing or invalid token", http.StatusUnauthorized)
			return
		}

		// Upgrade to WebSocket.
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// http.Error is invoked automatically from within the Upgrade function.
			s.logger.Debug("Could not upgrade to websocket", zap.Error(err))
			return
		}

		clientIP, clientPort := extractClientAddressFromRequest(s.logger, r)
		sessionID := uuid.Must(uuid.NewV4())

		// Mark the start of the session.
		s.metrics.CountWebsocketOpened(1)

		// Wrap the connection for application handling.
		session := NewSessionWS(s.logger, s.config, sessionID, userID, username, clientIP, clientPort, conn, s.sessionRegistry, s.presenceRegistry, s.roomRegistry, s.router, s.metrics, s.pipeline)

		// Add to the session registry.
		s.sessionRegistry.Add(session)

		// Consume blocks until the connection ends, then cleans up.
		session.Consume()
	}
}
