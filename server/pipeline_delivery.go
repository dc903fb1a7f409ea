package server

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// handleMessageDelivered moves one message to the delivered state. The update
// is conditional on the claimed receiver owning the message and on the row
// still being in "sent"; a mismatch updates zero rows and broadcasts nothing.
func (p *Pipeline) handleMessageDelivered(logger *zap.Logger, session Session, in *Envelope) {
	var req deliveryRequest
	if err := json.Unmarshal(in.Payload, &req); err != nil || req.MessageID == 0 || req.ReceiverID == 0 {
		p.dropEvent(logger, in.Event)
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, pipelineDBTimeout)
	defer cancel()

	conversationID, updated, err := p.messageStore.MarkDelivered(ctx, req.MessageID, req.ReceiverID)
	if err != nil {
		p.dbError(logger, in.Event, err)
		return
	}
	if !updated {
		return
	}

	receipt, err := NewEnvelope(EventMessageDelivered, &deliveryReceiptEvent{
		MessageID:      req.MessageID,
		ConversationID: conversationID,
	})
	if err != nil {
		logger.Error("Could not build delivery receipt", zap.Error(err))
		return
	}
	p.router.SendToRoom(logger, ConversationRoom(conversationID), receipt)
}

// handleMessageRead moves one message to its terminal read state. The SQL
// predicate excludes rows already read, so replays and reordered
// delivered/read pairs cannot regress the status.
func (p *Pipeline) handleMessageRead(logger *zap.Logger, session Session, in *Envelope) {
	var req deliveryRequest
	if err := json.Unmarshal(in.Payload, &req); err != nil || req.MessageID == 0 || req.ReceiverID == 0 {
		p.dropEvent(logger, in.Event)
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, pipelineDBTimeout)
	defer cancel()

	conversationID, updated, err := p.messageStore.MarkRead(ctx, req.MessageID, req.ReceiverID)
	if err != nil {
		p.dbError(logger, in.Event, err)
		return
	}
	if !updated {
		return
	}

	receipt, err := NewEnvelope(EventMessageRead, &deliveryReceiptEvent{
		MessageID:      req.MessageID,
		ConversationID: conversationID,
	})
	if err != nil {
		logger.Error("Could not build read receipt", zap.Error(err))
		return
	}
	p.router.SendToRoom(logger, ConversationRoom(conversationID), receipt)
}
