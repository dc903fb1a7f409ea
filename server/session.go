package server

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Session is a single realtime connection for one authenticated user.
type Session interface {
	Logger() *zap.Logger
	ID() uuid.UUID
	UserID() int64
	Username() string
	ClientIP() string
	ClientPort() string
	Context() context.Context

	Consume()
	Send(envelope *Envelope) error
	SendBytes(payload []byte) error
	Close(msg string)
}

// SessionRegistry tracks every live session on this node by session ID.
type SessionRegistry interface {
	Stop()
	Count() int
	Get(sessionID uuid.UUID) Session
	Add(session Session)
	Remove(sessionID uuid.UUID)
	Range(fn func(session Session) bool)
}

type LocalSessionRegistry struct {
	metrics Metrics

	sessions     *sync.Map
	sessionCount *atomic.Int32
}

func NewLocalSessionRegistry(metrics Metrics) SessionRegistry {
	return &LocalSessionRegistry{
		metrics: metrics,

		sessions:     &sync.Map{},
		sessionCount: atomic.NewInt32(0),
	}
}

func (r *LocalSessionRegistry) Stop() {}

func (r *LocalSessionRegistry) Count() int {
	return int(r.sessionCount.Load())
}

func (r *LocalSessionRegistry) Get(sessionID uuid.UUID) Session {
	session, ok := r.sessions.Load(sessionID)
	if !ok {
		return nil
	}
	return session.(Session)
}

func (r *LocalSessionRegistry) Add(session Session) {
	r.sessions.Store(session.ID(), session)
	count := r.sessionCount.Inc()
	r.metrics.GaugeSessions(float64(count))
}

func (r *LocalSessionRegistry) Remove(sessionID uuid.UUID) {
	if _, ok := r.sessions.LoadAndDelete(sessionID); !ok {
		return
	}
	count := r.sessionCount.Dec()
	r.metrics.GaugeSessions(float64(count))
}

func (r *LocalSessionRegistry) Range(fn func(Session) bool) {
	r.sessions.Range(func(_, value any) bool {
		return fn(value.(Session))
	})
}
