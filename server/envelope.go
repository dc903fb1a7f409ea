package server

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Client -> server event names.
const (
	EventRegister                 = "register"
	EventJoinNotifications        = "join_notifications"
	EventJoinConversation         = "join_conversation"
	EventLeaveConversation        = "leave_conversation"
	EventTypingStatus             = "typing_status"
	EventMessageDelivered         = "message_delivered"
	EventMessageRead              = "message_read"
	EventGetUserStatus            = "get_user_status"
	EventGetUnreadCount           = "get_unread_count"
	EventMarkNotificationRead     = "mark_notification_read"
	EventMarkAllNotificationsRead = "mark_all_notifications_read"
)

// Server -> client event names. Delivery receipts and typing relays reuse the
// inbound names, status and counter pushes have their own.
const (
	EventUserStatus        = "user_status"
	EventUnreadCountUpdate = "unread_count_update"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Envelope is the wire framing for every realtime event, in either direction.
// Payload stays raw until the pipeline knows which event it is handling.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(event string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("could not marshal %q payload: %w", event, err)
	}
	return &Envelope{Event: event, Payload: raw}, nil
}

func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Inbound payloads. Field names follow the client event contract.

type registerRequest struct {
	UserID int64 `json:"userId"`
}

// parseRegister accepts both the object form {"userId": 1} and a bare numeric
// payload, which older clients still send.
func parseRegister(payload json.RawMessage) (int64, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return 0, false
	}
	if trimmed[0] == '{' {
		var req registerRequest
		if err := json.Unmarshal(trimmed, &req); err != nil || req.UserID == 0 {
			return 0, false
		}
		return req.UserID, true
	}
	var userID int64
	if err := json.Unmarshal(trimmed, &userID); err != nil || userID == 0 {
		return 0, false
	}
	return userID, true
}

type joinNotificationsRequest struct {
	UserID int64 `json:"userId"`
}

type conversationRequest struct {
	ConversationID int64 `json:"conversationId"`
	UserID         int64 `json:"userId"`
}

type typingStatusRequest struct {
	ConversationID int64 `json:"conversationId"`
	UserID         int64 `json:"userId"`
	IsTyping       bool  `json:"isTyping"`
}

type deliveryRequest struct {
	MessageID  int64 `json:"messageId"`
	ReceiverID int64 `json:"receiverId"`
}

type userStatusRequest struct {
	UserID int64 `json:"userId"`
}

type unreadCountRequest struct {
	UserID int64 `json:"userId"`
}

type markNotificationReadRequest struct {
	NotificationID int64 `json:"notificationId"`
}

type markAllNotificationsReadRequest struct {
	UserID int64 `json:"userId"`
}

// Outbound payloads. Receipt events use snake_case keys, presence and counter
// events use camelCase; both match what the web client already consumes.

type userStatusEvent struct {
	UserID int64  `json:"userId"`
	Status string `json:"status"`
}

type deliveryReceiptEvent struct {
	MessageID      int64 `json:"message_id"`
	ConversationID int64 `json:"conversation_id"`
}

type typingStatusEvent struct {
	ConversationID int64 `json:"conversationId"`
	UserID         int64 `json:"userId"`
	IsTyping       bool  `json:"isTyping"`
}

type unreadCountEvent struct {
	UserID int64 `json:"userId"`
	Count  int64 `json:"count"`
}
