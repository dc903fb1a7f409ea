package server

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

func (p *Pipeline) handleGetUnreadCount(logger *zap.Logger, session Session, in *Envelope) {
	var req unreadCountRequest
	if err := json.Unmarshal(in.Payload, &req); err != nil || req.UserID == 0 {
		p.dropEvent(logger, in.Event)
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, pipelineDBTimeout)
	defer cancel()

	count, err := p.notificationStore.UnreadCount(ctx, req.UserID)
	if err != nil {
		p.dbError(logger, in.Event, err)
		return
	}

	event, err := NewEnvelope(EventUnreadCountUpdate, &unreadCountEvent{UserID: req.UserID, Count: count})
	if err != nil {
		logger.Error("Could not build unread count event", zap.Error(err))
		return
	}
	if err := session.Send(event); err != nil {
		logger.Debug("Failed to send unread count", zap.Error(err))
	}
}

func (p *Pipeline) handleMarkNotificationRead(logger *zap.Logger, session Session, in *Envelope) {
	var req markNotificationReadRequest
	if err := json.Unmarshal(in.Payload, &req); err != nil || req.NotificationID == 0 {
		p.dropEvent(logger, in.Event)
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, pipelineDBTimeout)
	defer cancel()

	userID, updated, err := p.notificationStore.MarkRead(ctx, req.NotificationID)
	if err != nil {
		p.dbError(logger, in.Event, err)
		return
	}
	if !updated {
		// Unknown or already-read notification, nothing to announce.
		return
	}

	p.broadcastUnreadCount(logger, ctx, userID)
}

func (p *Pipeline) handleMarkAllNotificationsRead(logger *zap.Logger, session Session, in *Envelope) {
	var req markAllNotificationsReadRequest
	if err := json.Unmarshal(in.Payload, &req); err != nil || req.UserID == 0 {
		p.dropEvent(logger, in.Event)
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, pipelineDBTimeout)
	defer cancel()

	if err := p.notificationStore.MarkAllRead(ctx, req.UserID); err != nil {
		p.dbError(logger, in.Event, err)
		return
	}

	// Recompute rather than assuming zero: a notification created between the
	// bulk update and this broadcast must not be masked by a stale count.
	p.broadcastUnreadCount(logger, ctx, req.UserID)
}

// broadcastUnreadCount recomputes the user's unread total from the table and
// pushes it to their notifications room.
func (p *Pipeline) broadcastUnreadCount(logger *zap.Logger, ctx context.Context, userID int64) {
	count, err := p.notificationStore.UnreadCount(ctx, userID)
	if err != nil {
		p.dbError(logger, EventUnreadCountUpdate, err)
		return
	}

	event, err := NewEnvelope(EventUnreadCountUpdate, &unreadCountEvent{UserID: userID, Count: count})
	if err != nil {
		logger.Error("Could not build unread count event", zap.Error(err))
		return
	}
	p.router.SendToRoom(logger, NotificationsRoom(userID), event)
}
