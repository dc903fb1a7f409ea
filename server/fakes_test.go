package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

type noopMetrics struct{}

func (noopMetrics) CountWebsocketOpened(int64) {}
func (noopMetrics) CountWebsocketClosed(int64) {}
func (noopMetrics) Message(int64, bool) {}
func (noopMetrics) MessageBytesSent(int64) {}
func (noopMetrics) CountDroppedEvents(int64) {}
func (noopMetrics) CountDBErrors(int64) {}
func (noopMetrics) GaugeSessions(float64) {}

func (noopMetrics) Handler() http.Handler { return http.NotFoundHandler() }

// fakeSession records everything routed to it instead of writing to a socket.
type fakeSession struct {
	mu     sync.Mutex
	id     uuid.UUID
	userID int64
	sent   []*Envelope
	closed bool
}

func newFakeSession(userID int64) *fakeSession {
	return &fakeSession{
		id:     uuid.Must(uuid.NewV4()),
		userID: userID,
	}
}

func (s *fakeSession) Logger() *zap.Logger { return zap.NewNop() }

func (s *fakeSession) ID() uuid.UUID { return s.id }

func (s *fakeSession) UserID() int64 { return s.userID }

func (s *fakeSession) Username() string { return "" }

func (s *fakeSession) ClientIP() string { return "127.0.0.1" }

func (s *fakeSession) ClientPort() string { return "0" }

func (s *fakeSession) Context() context.Context { return context.Background() }

func (s *fakeSession) Consume() {}

func (s *fakeSession) Send(envelope *Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, envelope)
	return nil
}

func (s *fakeSession) SendBytes(payload []byte) error {
	envelope := &Envelope{}
	if err := json.Unmarshal(payload, envelope); err != nil {
		return err
	}
	return s.Send(envelope)
}

func (s *fakeSession) Close(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSession) received(event string) []*Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*Envelope
	for _, envelope := range s.sent {
		if envelope.Event == event {
			matched = append(matched, envelope)
		}
	}
	return matched
}

type fakeMessage struct {
	conversationID int64
	receiverID     int64
	status         string
}

// fakeMessageStore mirrors the conditional-update semantics of the SQL store:
// transitions only fire when the receiver matches and the row is in an
// eligible state.
type fakeMessageStore struct {
	mu       sync.Mutex
	messages map[int64]*fakeMessage
	err      error
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: make(map[int64]*fakeMessage)}
}

func (s *fakeMessageStore) add(id, conversationID, receiverID int64, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[id] = &fakeMessage{conversationID: conversationID, receiverID: receiverID, status: status}
}

func (s *fakeMessageStore) status(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[id].status
}

func (s *fakeMessageStore) MarkDelivered(_ context.Context, messageID, receiverID int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, false, s.err
	}
	message, found := s.messages[messageID]
	if !found || message.receiverID != receiverID || message.status != "sent" {
		return 0, false, nil
	}
	message.status = "delivered"
	return message.conversationID, true, nil
}

func (s *fakeMessageStore) MarkRead(_ context.Context, messageID, receiverID int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, false, s.err
	}
	message, found := s.messages[messageID]
	if !found || message.receiverID != receiverID || message.status == "read" {
		return 0, false, nil
	}
	message.status = "read"
	return message.conversationID, true, nil
}

func (s *fakeMessageStore) PendingForReceiver(_ context.Context, receiverID int64) ([]*PendingMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var pending []*PendingMessage
	for id, message := range s.messages {
		if message.receiverID == receiverID && message.status == "sent" {
			pending = append(pending, &PendingMessage{ID: id, ConversationID: message.conversationID})
		}
	}
	return pending, nil
}

type fakeNotification struct {
	userID int64
	isRead bool
}

type fakeNotificationStore struct {
	mu            sync.Mutex
	notifications map[int64]*fakeNotification
	err           error
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{notifications: make(map[int64]*fakeNotification)}
}

func (s *fakeNotificationStore) add(id, userID int64, isRead bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[id] = &fakeNotification{userID: userID, isRead: isRead}
}

func (s *fakeNotificationStore) UnreadCount(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	var count int64
	for _, notification := range s.notifications {
		if notification.userID == userID && !notification.isRead {
			count++
		}
	}
	return count, nil
}

func (s *fakeNotificationStore) MarkRead(_ context.Context, notificationID int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, false, s.err
	}
	notification, found := s.notifications[notificationID]
	if !found || notification.isRead {
		return 0, false, nil
	}
	notification.isRead = true
	return notification.userID, true, nil
}

func (s *fakeNotificationStore) MarkAllRead(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, notification := range s.notifications {
		if notification.userID == userID {
			notification.isRead = true
		}
	}
	return nil
}

// testPipeline wires a pipeline over fakes and exposes the pieces tests poke.
type testPipeline struct {
	pipeline          *Pipeline
	sessionRegistry   SessionRegistry
	presenceRegistry  PresenceRegistry
	roomRegistry      RoomRegistry
	messageStore      *fakeMessageStore
	notificationStore *fakeNotificationStore
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()
	sessionRegistry := NewLocalSessionRegistry(noopMetrics{})
	presenceRegistry := NewLocalPresenceRegistry()
	roomRegistry := NewLocalRoomRegistry()
	router := NewLocalMessageRouter(sessionRegistry, presenceRegistry, roomRegistry)
	messageStore := newFakeMessageStore()
	notificationStore := newFakeNotificationStore()

	pipeline := NewPipeline(context.Background(), zap.NewNop(), sessionRegistry, presenceRegistry, roomRegistry, router, messageStore, notificationStore, noopMetrics{})

	return &testPipeline{
		pipeline:          pipeline,
		sessionRegistry:   sessionRegistry,
		presenceRegistry:  presenceRegistry,
		roomRegistry:      roomRegistry,
		messageStore:      messageStore,
		notificationStore: notificationStore,
	}
}

func (tp *testPipeline) connect(t *testing.T, userID int64) *fakeSession {
	t.Helper()
	session := newFakeSession(userID)
	tp.sessionRegistry.Add(session)
	return session
}

func (tp *testPipeline) process(t *testing.T, session Session, event string, payload any) {
	t.Helper()
	envelope, err := NewEnvelope(event, payload)
	if err != nil {
		t.Fatalf("could not build %q envelope: %v", event, err)
	}
	tp.pipeline.ProcessRequest(zap.NewNop(), session, envelope)
}
