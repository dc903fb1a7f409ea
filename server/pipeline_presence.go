package server

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

func (p *Pipeline) handleRegister(logger *zap.Logger, session Session, in *Envelope) {
	userID, ok := parseRegister(in.Payload)
	if !ok {
		p.dropEvent(logger, in.Event)
		return
	}
	if userID != session.UserID() {
		// A session can only claim the identity its token was issued for.
		logger.Debug("Register event for another user, dropping",
			zap.Int64("claimed_uid", userID))
		p.metrics.CountDroppedEvents(1)
		return
	}

	p.registerPresence(logger, session)
}

// registerPresence records the session as its user's active connection,
// announces the user online and flushes their undelivered messages. It is
// idempotent for a session that is already registered.
func (p *Pipeline) registerPresence(logger *zap.Logger, session Session) {
	displaced, changed := p.presenceRegistry.Register(session.UserID(), session.ID())
	if !changed {
		return
	}
	if !displaced.IsNil() {
		logger.Debug("Presence registration displaced an older session",
			zap.String("displaced_sid", displaced.String()))
	}

	statusEvent, err := NewEnvelope(EventUserStatus, &userStatusEvent{
		UserID: session.UserID(),
		Status: StatusOnline,
	})
	if err != nil {
		logger.Error("Could not build user status event", zap.Error(err))
	} else {
		p.router.SendToAll(logger, statusEvent, session.ID())
	}

	p.flushPendingMessages(logger, session.UserID())
}

// flushPendingMessages transitions every "sent" message addressed to the user
// to "delivered", broadcasting one receipt per message to its conversation
// room. Each row moves through the same conditional update as an explicit
// delivery event, so a concurrent receipt for the same message is harmless.
func (p *Pipeline) flushPendingMessages(logger *zap.Logger, receiverID int64) {
	ctx, cancel := context.WithTimeout(p.ctx, pipelineDBTimeout)
	defer cancel()

	pending, err := p.messageStore.PendingForReceiver(ctx, receiverID)
	if err != nil {
		p.dbError(logger, EventRegister, err)
		return
	}

	for _, message := range pending {
		conversationID, updated, err := p.messageStore.MarkDelivered(ctx, message.ID, receiverID)
		if err != nil {
			p.dbError(logger, EventRegister, err)
			continue
		}
		if !updated {
			continue
		}
		receipt, err := NewEnvelope(EventMessageDelivered, &deliveryReceiptEvent{
			MessageID:      message.ID,
			ConversationID: conversationID,
		})
		if err != nil {
			logger.Error("Could not build delivery receipt", zap.Error(err))
			continue
		}
		p.router.SendToRoom(logger, ConversationRoom(conversationID), receipt)
	}
}

func (p *Pipeline) handleJoinNotifications(logger *zap.Logger, session Session, in *Envelope) {
	var req joinNotificationsRequest
	if err := json.Unmarshal(in.Payload, &req); err != nil || req.UserID == 0 {
		p.dropEvent(logger, in.Event)
		return
	}
	if req.UserID != session.UserID() {
		logger.Debug("Join notifications event for another user, dropping",
			zap.Int64("claimed_uid", req.UserID))
		p.metrics.CountDroppedEvents(1)
		return
	}

	p.roomRegistry.Join(session.ID(), NotificationsRoom(req.UserID))
}

func (p *Pipeline) handleJoinConversation(logger *zap.Logger, session Session, in *Envelope) {
	var req conversationRequest
	if err := json.Unmarshal(in.Payload, &req); err != nil || req.ConversationID == 0 {
		p.dropEvent(logger, in.Event)
		return
	}

	p.roomRegistry.Join(session.ID(), ConversationRoom(req.ConversationID))

	// Joining a conversation doubles as presence registration, the web client
	// can open a conversation before emitting an explicit register.
	if req.UserID == session.UserID() {
		p.registerPresence(logger, session)
	}
}

func (p *Pipeline) handleLeaveConversation(logger *zap.Logger, session Session, in *Envelope) {
	var req conversationRequest
	if err := json.Unmarshal(in.Payload, &req); err != nil || req.ConversationID == 0 {
		p.dropEvent(logger, in.Event)
		return
	}

	p.roomRegistry.Leave(session.ID(), ConversationRoom(req.ConversationID))
}

// handleTypingStatus relays the indicator to the conversation room and
// forgets it. There is no timeout-based auto-clear, the receiving client owns
// clearing a stale indicator.
func (p *Pipeline) handleTypingStatus(logger *zap.Logger, session Session, in *Envelope) {
	var req typingStatusRequest
	if err := json.Unmarshal(in.Payload, &req); err != nil || req.ConversationID == 0 || req.UserID == 0 {
		p.dropEvent(logger, in.Event)
		return
	}

	event, err := NewEnvelope(EventTypingStatus, &typingStatusEvent{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		IsTyping:       req.IsTyping,
	})
	if err != nil {
		logger.Error("Could not build typing status event", zap.Error(err))
		return
	}
	p.router.SendToRoom(logger, ConversationRoom(req.ConversationID), event, session.ID())
}

func (p *Pipeline) handleGetUserStatus(logger *zap.Logger, session Session, in *Envelope) {
	var req userStatusRequest
	if err := json.Unmarshal(in.Payload, &req); err != nil || req.UserID == 0 {
		p.dropEvent(logger, in.Event)
		return
	}

	status := StatusOffline
	if p.presenceRegistry.IsOnline(req.UserID) {
		status = StatusOnline
	}
	event, err := NewEnvelope(EventUserStatus, &userStatusEvent{UserID: req.UserID, Status: status})
	if err != nil {
		logger.Error("Could not build user status event", zap.Error(err))
		return
	}
	if err := session.Send(event); err != nil {
		logger.Debug("Failed to send user status", zap.Error(err))
	}
}
