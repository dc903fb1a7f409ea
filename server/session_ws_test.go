package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// wsTestServer accepts websocket connections the way the socket endpoint
// does, minus token auth: the user ID comes from a query parameter.
type wsTestServer struct {
	server           *httptest.Server
	sessionRegistry  SessionRegistry
	presenceRegistry PresenceRegistry
	roomRegistry     RoomRegistry
	messageStore     *fakeMessageStore
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()

	config := NewConfig()
	logger := zap.NewNop()
	sessionRegistry := NewLocalSessionRegistry(noopMetrics{})
	presenceRegistry := NewLocalPresenceRegistry()
	roomRegistry := NewLocalRoomRegistry()
	router := NewLocalMessageRouter(sessionRegistry, presenceRegistry, roomRegistry)
	messageStore := newFakeMessageStore()
	pipeline := NewPipeline(context.Background(), logger, sessionRegistry, presenceRegistry, roomRegistry, router, messageStore, newFakeNotificationStore(), noopMetrics{})

	upgrader := &websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.URL.Query().Get("uid"), 10, 64)
		if err != nil {
			http.Error(w, "invalid uid", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sessionID := uuid.Must(uuid.NewV4())
		session := NewSessionWS(logger, config, sessionID, userID, "", "127.0.0.1", "0", conn, sessionRegistry, presenceRegistry, roomRegistry, router, noopMetrics{}, pipeline)
		sessionRegistry.Add(session)
		session.Consume()
	}))
	t.Cleanup(server.Close)

	return &wsTestServer{
		server:           server,
		sessionRegistry:  sessionRegistry,
		presenceRegistry: presenceRegistry,
		roomRegistry:     roomRegistry,
		messageStore:     messageStore,
	}
}

func (s *wsTestServer) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "?uid=" + strconv.FormatInt(userID, 10)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	envelope, err := NewEnvelope(event, payload)
	require.NoError(t, err)
	data, err := envelope.Marshal()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readEvent(t *testing.T, conn *websocket.Conn) *Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	envelope := &Envelope{}
	require.NoError(t, json.Unmarshal(data, envelope))
	return envelope
}

func TestSessionWS_PresenceLifecycle(t *testing.T) {
	ts := newWSTestServer(t)

	observer := ts.dial(t, 1)
	sendEvent(t, observer, EventRegister, &registerRequest{UserID: 1})

	require.Eventually(t, func() bool {
		return ts.presenceRegistry.IsOnline(1)
	}, 5*time.Second, 10*time.Millisecond)

	target := ts.dial(t, 2)
	sendEvent(t, target, EventRegister, &registerRequest{UserID: 2})

	// The observer sees user 2 come online.
	envelope := readEvent(t, observer)
	require.Equal(t, EventUserStatus, envelope.Event)
	var status userStatusEvent
	require.NoError(t, json.Unmarshal(envelope.Payload, &status))
	assert.Equal(t, int64(2), status.UserID)
	assert.Equal(t, StatusOnline, status.Status)

	// User 2 drops the connection without any close handshake.
	require.NoError(t, target.Close())

	envelope = readEvent(t, observer)
	require.Equal(t, EventUserStatus, envelope.Event)
	require.NoError(t, json.Unmarshal(envelope.Payload, &status))
	assert.Equal(t, int64(2), status.UserID)
	assert.Equal(t, StatusOffline, status.Status)

	// Disconnect cleans up every registry entry for the session.
	require.Eventually(t, func() bool {
		return !ts.presenceRegistry.IsOnline(2) && ts.sessionRegistry.Count() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSessionWS_DeliveryReceiptReachesConversationRoom(t *testing.T) {
	ts := newWSTestServer(t)
	ts.messageStore.add(100, 10, 2, "sent")

	sender := ts.dial(t, 1)
	sendEvent(t, sender, EventJoinConversation, &conversationRequest{ConversationID: 10, UserID: 1})

	require.Eventually(t, func() bool {
		return len(ts.roomRegistry.Sessions(ConversationRoom(10))) == 1
	}, 5*time.Second, 10*time.Millisecond)

	receiver := ts.dial(t, 2)
	sendEvent(t, receiver, EventMessageDelivered, &deliveryRequest{MessageID: 100, ReceiverID: 2})

	envelope := readEvent(t, sender)
	require.Equal(t, EventMessageDelivered, envelope.Event)
	var receipt deliveryReceiptEvent
	require.NoError(t, json.Unmarshal(envelope.Payload, &receipt))
	assert.Equal(t, int64(100), receipt.MessageID)
	assert.Equal(t, int64(10), receipt.ConversationID)
	assert.Equal(t, "delivered", ts.messageStore.status(100))
}

func TestSessionWS_MalformedFrameKeepsSessionOpen(t *testing.T) {
	ts := newWSTestServer(t)

	conn := ts.dial(t, 1)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	// The frame is dropped, the session still processes later events.
	sendEvent(t, conn, EventRegister, &registerRequest{UserID: 1})

	require.Eventually(t, func() bool {
		return ts.presenceRegistry.IsOnline(1)
	}, 5*time.Second, 10*time.Millisecond)
}
