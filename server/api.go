package server

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ApiServer hosts the websocket acceptor plus the process's HTTP surface:
// health, metrics and the debug endpoints.
type ApiServer struct {
	logger           *zap.Logger
	db               *sql.DB
	config           Config
	metrics          Metrics
	sessionRegistry  SessionRegistry
	presenceRegistry PresenceRegistry
	roomRegistry     RoomRegistry
	router           MessageRouter
	pipeline         *Pipeline

	server *http.Server
}

func StartApiServer(logger, startupLogger *zap.Logger, db *sql.DB, config Config, metrics Metrics, sessionRegistry SessionRegistry, presenceRegistry PresenceRegistry, roomRegistry RoomRegistry, router MessageRouter, pipeline *Pipeline) *ApiServer {
	s := &ApiServer{
		logger:           logger,
		db:               db,
		config:           config,
		metrics:          metrics,
		sessionRegistry:  sessionRegistry,
		presenceRegistry: presenceRegistry,
		roomRegistry:     roomRegistry,
		router:           router,
		pipeline:         pipeline,
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.newSocketAcceptor()).Methods(http.MethodGet)
	r.HandleFunc("/healthcheck", s.healthcheck).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/debug/users", s.debugUsers).Methods(http.MethodGet)
	r.HandleFunc("/api/debug/online-users", s.debugOnlineUsers).Methods(http.MethodGet)

	handler := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
		handlers.CORS(
			handlers.AllowedMethods([]string{http.MethodGet}),
			handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		)(r))

	addr := fmt.Sprintf("%v:%d", config.GetSocket().Address, config.GetSocket().Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: handler,
		// No read/write timeouts here, they would tear down long-lived
		// websocket connections. Per-frame deadlines live in the session.
	}

	startupLogger.Info("Starting API server", zap.String("addr", addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			startupLogger.Fatal("API server listener failed", zap.Error(err))
		}
	}()

	return s
}

// Stop shuts the listener down, then closes every live session so their
// cleanup broadcasts and registry removals run.
func (s *ApiServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("API server shutdown failed", zap.Error(err))
	}

	s.sessionRegistry.Range(func(session Session) bool {
		session.Close("server shutting down")
		return true
	})
}

func (s *ApiServer) healthcheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Warn("Healthcheck database ping failed", zap.Error(err))
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func extractClientAddressFromRequest(logger *zap.Logger, r *http.Request) (string, string) {
	clientIP, clientPort, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		logger.Debug("Could not extract client address from request", zap.Error(err))
		return r.RemoteAddr, ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		// First hop is the originating client.
		if idx := strings.IndexByte(forwarded, ','); idx >= 0 {
			forwarded = forwarded[:idx]
		}
		clientIP = strings.TrimSpace(forwarded)
	}
	return clientIP, clientPort
}
