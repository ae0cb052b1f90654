package repo

import (
	"context"
	"database/sql"

	"swapline/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id, user_id, message, kind, is_read, created_at) VALUES (?,?,?,?,?,?)`,
		n.ID, n.UserID, n.Message, n.Kind, boolToInt(n.IsRead), n.CreatedAt)
	return err
}

func (r Repo) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, user_id, message, kind, is_read, created_at FROM notifications WHERE id=?`, id)
	return scanNotification(row.Scan)
}

// ListNotifications returns the user's notifications newest first.
func (r Repo) ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, user_id, message, kind, is_read, created_at FROM notifications WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var notifications []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead flips is_read for the owner's notification. Returns
// ErrNotFound when the id does not exist or belongs to another user.
func (r Repo) MarkNotificationRead(ctx context.Context, id, userID string) (domain.Notification, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return domain.Notification{}, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return domain.Notification{}, ErrNotFound
	}
	return r.GetNotification(ctx, id)
}

func scanNotification(scan func(dest ...any) error) (domain.Notification, error) {
	var n domain.Notification
	var isRead int
	err := scan(&n.ID, &n.UserID, &n.Message, &n.Kind, &isRead, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	n.IsRead = isRead != 0
	return n, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
