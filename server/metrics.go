package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics records operational counters for the realtime coordinator.
type Metrics interface {
	CountWebsocketOpened(delta int64)
	CountWebsocketClosed(delta int64)
	Message(recvBytes int64, isErr bool)
	MessageBytesSent(sentBytes int64)
	CountDroppedEvents(delta int64)
	CountDBErrors(delta int64)
	GaugeSessions(value float64)

	Handler() http.Handler
}

type LocalMetrics struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	wsOpened      prometheus.Counter
	wsClosed      prometheus.Counter
	msgRecv       prometheus.Counter
	msgRecvBytes  prometheus.Counter
	msgRecvErr    prometheus.Counter
	msgSentBytes  prometheus.Counter
	droppedEvents prometheus.Counter
	dbErrors      prometheus.Counter
	sessions      prometheus.Gauge
}

func NewLocalMetrics(logger *zap.Logger, nodeName string) *LocalMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"node": nodeName}

	m := &LocalMetrics{
		logger:   logger,
		registry: registry,

		wsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trofify", Subsystem: "realtime", Name: "ws_opened_total",
			Help: "Websocket connections opened.", ConstLabels: constLabels,
		}),
		wsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trofify", Subsystem: "realtime", Name: "ws_closed_total",
			Help: "Websocket connections closed.", ConstLabels: constLabels,
		}),
		msgRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trofify", Subsystem: "realtime", Name: "messages_received_total",
			Help: "Inbound socket frames.", ConstLabels: constLabels,
		}),
		msgRecvBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trofify", Subsystem: "realtime", Name: "message_bytes_received_total",
			Help: "Inbound socket bytes.", ConstLabels: constLabels,
		}),
		msgRecvErr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trofify", Subsystem: "realtime", Name: "message_errors_total",
			Help: "Inbound frames that terminated a session.", ConstLabels: constLabels,
		}),
		msgSentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trofify", Subsystem: "realtime", Name: "message_bytes_sent_total",
			Help: "Outbound socket bytes.", ConstLabels: constLabels,
		}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trofify", Subsystem: "realtime", Name: "dropped_events_total",
			Help: "Inbound events dropped by validation or rate limiting.", ConstLabels: constLabels,
		}),
		dbErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trofify", Subsystem: "realtime", Name: "db_errors_total",
			Help: "Database operations that failed inside event handlers.", ConstLabels: constLabels,
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trofify", Subsystem: "realtime", Name: "sessions",
			Help: "Currently connected sessions.", ConstLabels: constLabels,
		}),
	}

	registry.MustRegister(m.wsOpened, m.wsClosed, m.msgRecv, m.msgRecvBytes,
		m.msgRecvErr, m.msgSentBytes, m.droppedEvents, m.dbErrors, m.sessions)

	return m
}

func (m *LocalMetrics) CountWebsocketOpened(delta int64) {
	m.wsOpened.Add(float64(delta))
}

func (m *LocalMetrics) CountWebsocketClosed(delta int64) {
	m.wsClosed.Add(float64(delta))
}

func (m *LocalMetrics) Message(recvBytes int64, isErr bool) {
	m.msgRecv.Inc()
	m.msgRecvBytes.Add(float64(recvBytes))
	if isErr {
		m.msgRecvErr.Inc()
	}
}

func (m *LocalMetrics) MessageBytesSent(sentBytes int64) {
	m.msgSentBytes.Add(float64(sentBytes))
}

func (m *LocalMetrics) CountDroppedEvents(delta int64) {
	m.droppedEvents.Add(float64(delta))
}

func (m *LocalMetrics) CountDBErrors(delta int64) {
	m.dbErrors.Add(float64(delta))
}

func (m *LocalMetrics) GaugeSessions(value float64) {
	m.sessions.Set(value)
}

func (m *LocalMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
