package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDebugOnlineUsers(t *testing.T) {
	presenceRegistry := NewLocalPresenceRegistry()
	sessionTwo := uuid.Must(uuid.NewV4())
	presenceRegistry.Register(2, sessionTwo)
	presenceRegistry.Register(1, uuid.Must(uuid.NewV4()))

	s := &ApiServer{
		logger:           zap.NewNop(),
		presenceRegistry: presenceRegistry,
	}

	recorder := httptest.NewRecorder()
	s.debugOnlineUsers(recorder, httptest.NewRequest(http.MethodGet, "/api/debug/online-users", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var body struct {
		Count  int                `json:"count"`
		Online []*debugOnlineUser `json:"online"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	require.Len(t, body.Online, 2)

	// Sorted by user ID for stable output.
	assert.Equal(t, int64(1), body.Online[0].UserID)
	assert.Equal(t, int64(2), body.Online[1].UserID)
	assert.Equal(t, sessionTwo.String(), body.Online[1].SessionID)
}

func TestDebugOnlineUsersEmpty(t *testing.T) {
	s := &ApiServer{
		logger:           zap.NewNop(),
		presenceRegistry: NewLocalPresenceRegistry(),
	}

	recorder := httptest.NewRecorder()
	s.debugOnlineUsers(recorder, httptest.NewRequest(http.MethodGet, "/api/debug/online-users", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"count":0,"online":[]}`, recorder.Body.String())
}

func TestExtractClientAddressFromRequest(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name         string
		remoteAddr   string
		forwardedFor string
		expectedIP   string
		expectedPort string
	}{
		{
			name:         "direct connection",
			remoteAddr:   "10.0.0.5:51234",
			expectedIP:   "10.0.0.5",
			expectedPort: "51234",
		},
		{
			name:         "behind proxy",
			remoteAddr:   "10.0.0.1:80",
			forwardedFor: "203.0.113.9, 10.0.0.1",
			expectedIP:   "203.0.113.9",
			expectedPort: "80",
		},
		{
			name:         "malformed remote addr",
			remoteAddr:   "garbage",
			expectedIP:   "garbage",
			expectedPort: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwardedFor != "" {
				r.Header.Set("X-Forwarded-For", tt.forwardedFor)
			}

			ip, port := extractClientAddressFromRequest(logger, r)
			assert.Equal(t, tt.expectedIP, ip)
			assert.Equal(t, tt.expectedPort, port)
		})
	}
}
