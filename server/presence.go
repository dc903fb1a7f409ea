package server

import (
	"sync"

	"github.com/gofrs/uuid/v5"
)

// PresenceRegistry maps a user to their one active realtime session. The last
// registration always wins; an overwritten session stays connected but no
// longer receives user-targeted sends.
//
// State is reset on process restart: every user is implicitly offline until
// their client reconnects and registers again.
type PresenceRegistry interface {
	// Register records sessionID as userID's active session. It returns the
	// session ID the registration displaced, if any, and whether the mapping
	// actually changed.
	Register(userID int64, sessionID uuid.UUID) (displaced uuid.UUID, changed bool)
	// Unregister removes the mapping only if it still points at sessionID, so
	// a slow disconnect cannot evict a newer registration for the same user.
	Unregister(userID int64, sessionID uuid.UUID) bool
	SessionID(userID int64) (uuid.UUID, bool)
	IsOnline(userID int64) bool
	// Snapshot returns the current user -> session mapping for debug surfaces.
	Snapshot() map[int64]uuid.UUID
	Stop()
}

type LocalPresenceRegistry struct {
	sync.RWMutex
	byUser map[int64]uuid.UUID
}

func NewLocalPresenceRegistry() PresenceRegistry {
	return &LocalPresenceRegistry{
		byUser: make(map[int64]uuid.UUID),
	}
}

func (r *LocalPresenceRegistry) Register(userID int64, sessionID uuid.UUID) (uuid.UUID, bool) {
	r.Lock()
	defer r.Unlock()
	previous, found := r.byUser[userID]
	if found && previous == sessionID {
		return uuid.Nil, false
	}
	r.byUser[userID] = sessionID
	if !found {
		return uuid.Nil, true
	}
	return previous, true
}

func (r *LocalPresenceRegistry) Unregister(userID int64, sessionID uuid.UUID) bool {
	r.Lock()
	defer r.Unlock()
	current, found := r.byUser[userID]
	if !found || current != sessionID {
		return false
	}
	delete(r.byUser, userID)
	return true
}

func (r *LocalPresenceRegistry) SessionID(userID int64) (uuid.UUID, bool) {
	r.RLock()
	defer r.RUnlock()
	sessionID, found := r.byUser[userID]
	return sessionID, found
}

func (r *LocalPresenceRegistry) IsOnline(userID int64) bool {
	r.RLock()
	defer r.RUnlock()
	_, found := r.byUser[userID]
	return found
}

func (r *LocalPresenceRegistry) Snapshot() map[int64]uuid.UUID {
	r.RLock()
	defer r.RUnlock()
	snapshot := make(map[int64]uuid.UUID, len(r.byUser))
	for userID, sessionID := range r.byUser {
		snapshot[userID] = sessionID
	}
	return snapshot
}

func (r *LocalPresenceRegistry) Stop() {}
