package server

import (
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// MessageRouter fans an envelope out to the sessions that should see it.
// Delivery is fire-and-forget: a session that cannot keep up is closed by its
// own queue handling, the router never blocks on a slow client.
type MessageRouter interface {
	SendToRoom(logger *zap.Logger, room string, envelope *Envelope, exclude ...uuid.UUID)
	SendToAll(logger *zap.Logger, envelope *Envelope, exclude ...uuid.UUID)
	SendToUser(logger *zap.Logger, userID int64, envelope *Envelope)
}

type LocalMessageRouter struct {
	sessionRegistry  SessionRegistry
	presenceRegistry PresenceRegistry
	roomRegistry     RoomRegistry
}

func NewLocalMessageRouter(sessionRegistry SessionRegistry, presenceRegistry PresenceRegistry, roomRegistry RoomRegistry) MessageRouter {
	return &LocalMessageRouter{
		sessionRegistry:  sessionRegistry,
		presenceRegistry: presenceRegistry,
		roomRegistry:     roomRegistry,
	}
}

func (r *LocalMessageRouter) SendToRoom(logger *zap.Logger, room string, envelope *Envelope, exclude ...uuid.UUID) {
	payload, err := envelope.Marshal()
	if err != nil {
		logger.Error("Could not marshal envelope", zap.String("event", envelope.Event), zap.Error(err))
		return
	}
	for _, sessionID := range r.roomRegistry.Sessions(room) {
		if excluded(sessionID, exclude) {
			continue
		}
		session := r.sessionRegistry.Get(sessionID)
		if session == nil {
			// Stale membership, the session is gone but its rooms have not
			// been cleaned up yet.
			continue
		}
		if err := session.SendBytes(payload); err != nil {
			logger.Debug("Failed to route message to room member",
				zap.String("room", room), zap.String("sid", sessionID.String()), zap.Error(err))
		}
	}
}

func (r *LocalMessageRouter) SendToAll(logger *zap.Logger, envelope *Envelope, exclude ...uuid.UUID) {
	payload, err := envelope.Marshal()
	if err != nil {
		logger.Error("Could not marshal envelope", zap.String("event", envelope.Event), zap.Error(err))
		return
	}
	r.sessionRegistry.Range(func(session Session) bool {
		if excluded(session.ID(), exclude) {
			return true
		}
		if err := session.SendBytes(payload); err != nil {
			logger.Debug("Failed to route broadcast message",
				zap.String("sid", session.ID().String()), zap.Error(err))
		}
		return true
	})
}

func (r *LocalMessageRouter) SendToUser(logger *zap.Logger, userID int64, envelope *Envelope) {
	sessionID, found := r.presenceRegistry.SessionID(userID)
	if !found {
		return
	}
	session := r.sessionRegistry.Get(sessionID)
	if session == nil {
		return
	}
	if err := session.Send(envelope); err != nil {
		logger.Debug("Failed to route message to user",
			zap.Int64("uid", userID), zap.String("sid", sessionID.String()), zap.Error(err))
	}
}

func excluded(sessionID uuid.UUID, exclude []uuid.UUID) bool {
	for _, id := range exclude {
		if id == sessionID {
			return true
		}
	}
	return false
}
