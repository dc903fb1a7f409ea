package server

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Database calls run on a pipeline-owned context rather than the session's:
// a disconnecting client must not abort writes its earlier events triggered.
const pipelineDBTimeout = 10 * time.Second

// Pipeline routes inbound realtime events to their handlers. Handlers are
// stateless apart from the registries; events for the same entity arriving on
// different connections are not ordered against each other, the conditional
// store updates keep that safe.
type Pipeline struct {
	ctx               context.Context
	logger            *zap.Logger
	sessionRegistry   SessionRegistry
	presenceRegistry  PresenceRegistry
	roomRegistry      RoomRegistry
	router            MessageRouter
	messageStore      MessageStore
	notificationStore NotificationStore
	metrics           Metrics
}

func NewPipeline(ctx context.Context, logger *zap.Logger, sessionRegistry SessionRegistry, presenceRegistry PresenceRegistry, roomRegistry RoomRegistry, router MessageRouter, messageStore MessageStore, notificationStore NotificationStore, metrics Metrics) *Pipeline {
	return &Pipeline{
		ctx:               ctx,
		logger:            logger,
		sessionRegistry:   sessionRegistry,
		presenceRegistry:  presenceRegistry,
		roomRegistry:      roomRegistry,
		router:            router,
		messageStore:      messageStore,
		notificationStore: notificationStore,
		metrics:           metrics,
	}
}

// ProcessRequest dispatches one inbound envelope. The return value reports
// whether the session should stay open; invalid events never close it, they
// are dropped with a debug log and no feedback to the sender.
func (p *Pipeline) ProcessRequest(logger *zap.Logger, session Session, in *Envelope) bool {
	if logger.Core().Enabled(zap.DebugLevel) {
		logger.Debug("Received event", zap.String("event", in.Event))
	}

	switch in.Event {
	case EventRegister:
		p.handleRegister(logger, session, in)
	case EventJoinNotifications:
		p.handleJoinNotifications(logger, session, in)
	case EventJoinConversation:
		p.handleJoinConversation(logger, session, in)
	case EventLeaveConversation:
		p.handleLeaveConversation(logger, session, in)
	case EventTypingStatus:
		p.handleTypingStatus(logger, session, in)
	case EventMessageDelivered:
		p.handleMessageDelivered(logger, session, in)
	case EventMessageRead:
		p.handleMessageRead(logger, session, in)
	case EventGetUserStatus:
		p.handleGetUserStatus(logger, session, in)
	case EventGetUnreadCount:
		p.handleGetUnreadCount(logger, session, in)
	case EventMarkNotificationRead:
		p.handleMarkNotificationRead(logger, session, in)
	case EventMarkAllNotificationsRead:
		p.handleMarkAllNotificationsRead(logger, session, in)
	default:
		logger.Debug("Received unrecognized event", zap.String("event", in.Event))
		p.metrics.CountDroppedEvents(1)
	}

	return true
}

// dropEvent records an event discarded by payload validation.
func (p *Pipeline) dropEvent(logger *zap.Logger, event string) {
	logger.Debug("Dropping event with invalid payload", zap.String("event", event))
	p.metrics.CountDroppedEvents(1)
}

// dbError records a database failure inside a handler. The event is dropped,
// nothing is retried or surfaced to the client.
func (p *Pipeline) dbError(logger *zap.Logger, event string, err error) {
	if isDBConnectionError(err) {
		logger.Error("Database unavailable while handling event", zap.String("event", event), zap.Error(err))
	} else {
		logger.Warn("Database operation failed while handling event", zap.String("event", event), zap.Error(err))
	}
	p.metrics.CountDBErrors(1)
}
