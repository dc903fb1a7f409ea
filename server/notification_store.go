package server

import (
	"context"
	"database/sql"
	"errors"
)

// NotificationStore mutates notification read state. Unread counts are always
// recomputed from the table, never cached or trusted from a previous value.
// Creation and deletion of notifications belong to the REST layer.
type NotificationStore interface {
	UnreadCount(ctx context.Context, userID int64) (int64, error)
	// MarkRead marks one notification read and reports its owner. updated is
	// false when the notification does not exist or was already read.
	MarkRead(ctx context.Context, notificationID int64) (userID int64, updated bool, err error)
	MarkAllRead(ctx context.Context, userID int64) error
}

type postgresNotificationStore struct {
	db *sql.DB
}

func NewPostgresNotificationStore(db *sql.DB) NotificationStore {
	return &postgresNotificationStore{db: db}
}

func (s *postgresNotificationStore) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`, userID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *postgresNotificationStore) MarkRead(ctx context.Context, notificationID int64) (int64, bool, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx, `
UPDATE notifications
SET is_read = TRUE
WHERE id = $1 AND is_read = FALSE
RETURNING user_id`, notificationID).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return userID, true, nil
}

func (s *postgresNotificationStore) MarkAllRead(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE`, userID)
	return err
}
