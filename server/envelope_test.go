package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRegister(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected int64
		ok       bool
	}{
		{name: "object form", payload: `{"userId": 7}`, expected: 7, ok: true},
		{name: "bare number", payload: `7`, expected: 7, ok: true},
		{name: "bare number with whitespace", payload: ` 7 `, expected: 7, ok: true},
		{name: "zero user id", payload: `{"userId": 0}`, ok: false},
		{name: "missing user id", payload: `{"other": 1}`, ok: false},
		{name: "empty payload", payload: ``, ok: false},
		{name: "string payload", payload: `"seven"`, ok: false},
		{name: "malformed object", payload: `{"userId":`, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, ok := parseRegister(json.RawMessage(tt.payload))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, userID)
			}
		})
	}
}

func TestEnvelope_Marshal(t *testing.T) {
	envelope, err := NewEnvelope(EventUserStatus, &userStatusEvent{UserID: 1, Status: StatusOnline})
	require.NoError(t, err)

	data, err := envelope.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"user_status","payload":{"userId":1,"status":"online"}}`, string(data))
}

func TestEnvelope_ReceiptPayloadKeys(t *testing.T) {
	// Receipt events keep snake_case keys, matching what the client consumes.
	envelope, err := NewEnvelope(EventMessageRead, &deliveryReceiptEvent{MessageID: 5, ConversationID: 9})
	require.NoError(t, err)

	data, err := envelope.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"message_read","payload":{"message_id":5,"conversation_id":9}}`, string(data))
}
