package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"swapline/internal/domain"
	"swapline/internal/repo"
)

// Dispatcher stores notifications addressed to users. Delivery is
// best-effort: a failed write is logged and never propagated, so the
// workflow that triggered it cannot be rolled back by a notification
// problem.
type Dispatcher struct {
	Repo   repo.Repo
	Logger *slog.Logger
	Now    func() time.Time
}

func New(r repo.Repo, logger *slog.Logger) Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return Dispatcher{Repo: r, Logger: logger, Now: time.Now}
}

func (d Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Send persists a notification for the user. Errors are swallowed.
func (d Dispatcher) Send(ctx context.Context, userID, message string, kind domain.NotificationKind) {
	if kind == "" {
		kind = domain.NotifySystem
	}
	n := domain.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Message:   message,
		Kind:      kind,
		CreatedAt: d.now().UTC().Format(time.RFC3339Nano),
	}
	if err := d.Repo.InsertNotification(ctx, n); err != nil {
		d.Logger.Error("notification dispatch failed", "user_id", userID, "kind", kind, "error", err)
	}
}

// ListForUser returns the user's notifications, newest first.
func (d Dispatcher) ListForUser(ctx context.Context, userID string) ([]domain.Notification, error) {
	return d.Repo.ListNotifications(ctx, userID)
}

// ErrNotOwner signals a notification that belongs to a different user.
var ErrNotOwner = errors.New("notification belongs to another user")

// MarkRead idempotently flips is_read for the caller's notification.
func (d Dispatcher) MarkRead(ctx context.Context, id, userID string) (domain.Notification, error) {
	n, err := d.Repo.GetNotification(ctx, id)
	if err != nil {
		return domain.Notification{}, err
	}
	if n.UserID != userID {
		return domain.Notification{}, ErrNotOwner
	}
	return d.Repo.MarkNotificationRead(ctx, id, userID)
}
