package server

import (
	"context"
	"database/sql"
	"errors"
)

// PendingMessage is a message still in the "sent" state awaiting delivery to
// a reconnecting receiver.
type PendingMessage struct {
	ID             int64
	ConversationID int64
}

// MessageStore mutates the delivery lifecycle of direct messages. The status
// column moves sent -> delivered -> read and never backwards; that invariant
// lives in the SQL predicates, so concurrent or out-of-order events fall
// through as zero-row updates instead of regressions. The coordinator never
// creates or deletes message rows.
type MessageStore interface {
	// MarkDelivered conditionally moves one message from sent to delivered.
	// updated is false when the receiver does not match or the message has
	// already advanced.
	MarkDelivered(ctx context.Context, messageID, receiverID int64) (conversationID int64, updated bool, err error)
	// MarkRead moves a message to its terminal read state and sets is_read.
	MarkRead(ctx context.Context, messageID, receiverID int64) (conversationID int64, updated bool, err error)
	// PendingForReceiver lists this receiver's undelivered messages, oldest
	// first, for the flush that runs when they come online.
	PendingForReceiver(ctx context.Context, receiverID int64) ([]*PendingMessage, error)
}

type postgresMessageStore struct {
	db *sql.DB
}

func NewPostgresMessageStore(db *sql.DB) MessageStore {
	return &postgresMessageStore{db: db}
}

func (s *postgresMessageStore) MarkDelivered(ctx context.Context, messageID, receiverID int64) (int64, bool, error) {
	var conversationID int64
	err := s.db.QueryRowContext(ctx, `
UPDATE messages
SET delivery_status = 'delivered'
WHERE id = $1 AND receiver_id = $2 AND delivery_status = 'sent'
RETURNING conversation_id`, messageID, receiverID).Scan(&conversationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return conversationID, true, nil
}

func (s *postgresMessageStore) MarkRead(ctx context.Context, messageID, receiverID int64) (int64, bool, error) {
	var conversationID int64
	err := s.db.QueryRowContext(ctx, `
UPDATE messages
SET delivery_status = 'read', is_read = TRUE
WHERE id = $1 AND receiver_id = $2 AND delivery_status <> 'read'
RETURNING conversation_id`, messageID, receiverID).Scan(&conversationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return conversationID, true, nil
}

func (s *postgresMessageStore) PendingForReceiver(ctx context.Context, receiverID int64) ([]*PendingMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, conversation_id
FROM messages
WHERE receiver_id = $1 AND delivery_status = 'sent'
ORDER BY created_at ASC`, receiverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []*PendingMessage
	for rows.Next() {
		message := &PendingMessage{}
		if err := rows.Scan(&message.ID, &message.ConversationID); err != nil {
			return nil, err
		}
		pending = append(pending, message)
	}
	return pending, rows.Err()
}
