package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jredh-dev/goodwill/pkg/models"
)

const notificationColumns = `id, user_id, type, title, message, link, is_read, created_at, published_at`

// CreateNotification inserts a new, unread, unpublished notification.
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	const q = `INSERT INTO notifications (` + notificationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.q.ExecContext(ctx, q,
		n.ID, n.UserID, n.Type, n.Title, n.Message, n.Link, n.Read, n.CreatedAt, n.PublishedAt,
	)
	return err
}

// ListNotifications returns a user's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	notifications := []models.Notification{}
	err := s.q.SelectContext(ctx, &notifications,
		`SELECT `+notificationColumns+` FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		userID, limit)
	return notifications, err
}

// ListAllNotifications returns every notification in insertion order.
func (s *Store) ListAllNotifications(ctx context.Context) ([]models.Notification, error) {
	notifications := []models.Notification{}
	err := s.q.SelectContext(ctx, &notifications,
		`SELECT `+notificationColumns+` FROM notifications ORDER BY rowid`)
	return notifications, err
}

// MarkNotificationRead flags a notification as read. Only the owner can do
// so; returns false if the notification does not exist or is someone else's.
func (s *Store) MarkNotificationRead(ctx context.Context, id, userID string) (bool, error) {
	n, err := s.exec(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountUnreadNotifications counts a user's unread notifications.
func (s *Store) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.q.GetContext(ctx, &n, `SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, userID)
	return n, err
}

// --- Outbox operations ---

// ListUnpublishedNotifications returns up to limit notifications the relay
// has not yet handed off, oldest first.
func (s *Store) ListUnpublishedNotifications(ctx context.Context, limit int) ([]models.Notification, error) {
	notifications := []models.Notification{}
	err := s.q.SelectContext(ctx, &notifications,
		`SELECT `+notificationColumns+` FROM notifications WHERE published_at IS NULL ORDER BY rowid LIMIT ?`,
		limit)
	return notifications, err
}

// MarkNotificationsPublished stamps the given notifications as handed off.
func (s *Store) MarkNotificationsPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In(`UPDATE notifications SET published_at = ? WHERE id IN (?) AND published_at IS NULL`, at, ids)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, q, args...)
	return err
}
