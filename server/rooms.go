package server

import (
	"fmt"
	"sync"

	"github.com/gofrs/uuid/v5"
)

// Room names are derived from domain identifiers so unrelated features can
// never collide on a broadcast group.
func ConversationRoom(conversationID int64) string {
	return fmt.Sprintf("conversation_%d", conversationID)
}

func NotificationsRoom(userID int64) string {
	return fmt.Sprintf("notifications_%d", userID)
}

// RoomRegistry tracks which sessions belong to which broadcast room.
// Membership is transient: it lasts until an explicit leave or disconnect.
type RoomRegistry interface {
	Join(sessionID uuid.UUID, room string)
	Leave(sessionID uuid.UUID, room string)
	// LeaveAll removes the session from every room it joined, invoked on
	// session close.
	LeaveAll(sessionID uuid.UUID)
	Sessions(room string) []uuid.UUID
	Count() int
	Stop()
}

type LocalRoomRegistry struct {
	sync.RWMutex
	byRoom    map[string]map[uuid.UUID]struct{}
	bySession map[uuid.UUID]map[string]struct{}
}

func NewLocalRoomRegistry() RoomRegistry {
	return &LocalRoomRegistry{
		byRoom:    make(map[string]map[uuid.UUID]struct{}),
		bySession: make(map[uuid.UUID]map[string]struct{}),
	}
}

func (r *LocalRoomRegistry) Join(sessionID uuid.UUID, room string) {
	r.Lock()
	defer r.Unlock()
	members, found := r.byRoom[room]
	if !found {
		members = make(map[uuid.UUID]struct{}, 1)
		r.byRoom[room] = members
	}
	members[sessionID] = struct{}{}

	rooms, found := r.bySession[sessionID]
	if !found {
		rooms = make(map[string]struct{}, 1)
		r.bySession[sessionID] = rooms
	}
	rooms[room] = struct{}{}
}

func (r *LocalRoomRegistry) Leave(sessionID uuid.UUID, room string) {
	r.Lock()
	defer r.Unlock()
	r.leaveLocked(sessionID, room)
}

func (r *LocalRoomRegistry) leaveLocked(sessionID uuid.UUID, room string) {
	if members, found := r.byRoom[room]; found {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.byRoom, room)
		}
	}
	if rooms, found := r.bySession[sessionID]; found {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.bySession, sessionID)
		}
	}
}

func (r *LocalRoomRegistry) LeaveAll(sessionID uuid.UUID) {
	r.Lock()
	defer r.Unlock()
	for room := range r.bySession[sessionID] {
		r.leaveLocked(sessionID, room)
	}
}

func (r *LocalRoomRegistry) Sessions(room string) []uuid.UUID {
	r.RLock()
	defer r.RUnlock()
	members, found := r.byRoom[room]
	if !found {
		return nil
	}
	sessionIDs := make([]uuid.UUID, 0, len(members))
	for sessionID := range members {
		sessionIDs = append(sessionIDs, sessionID)
	}
	return sessionIDs
}

func (r *LocalRoomRegistry) Count() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.byRoom)
}

func (r *LocalRoomRegistry) Stop() {}
