package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"swapline/internal/domain"
	"swapline/internal/events"
	"swapline/internal/repo"
)

// SessionScheduleOptions are parameters for promoting an accepted request
// into a time-bound session.
type SessionScheduleOptions struct {
	RequestID       string
	ActorID         string
	Date            time.Time
	DurationMinutes int
}

// ScheduleSession creates the session for an accepted request, flips the
// request to scheduled and notifies both parties. Only the request's
// receiver may schedule.
func (e Engine) ScheduleSession(ctx context.Context, opts SessionScheduleOptions) (domain.Session, error) {
	if strings.TrimSpace(opts.RequestID) == "" {
		return domain.Session{}, invalidInputf("request id is required")
	}
	if opts.Date.IsZero() {
		return domain.Session{}, invalidInputf("date is required")
	}
	req, err := e.Repo.GetRequest(ctx, opts.RequestID)
	if err != nil {
		return domain.Session{}, err
	}
	if opts.ActorID != req.ReceiverID {
		return domain.Session{}, forbiddenf("only the receiver of the request can schedule this session")
	}
	if req.Status != domain.RequestAccepted {
		return domain.Session{}, preconditionf("request is not accepted yet")
	}
	now := e.now().UTC()
	if opts.Date.Before(now) {
		return domain.Session{}, invalidInputf("date must not be in the past")
	}
	if _, err := e.Repo.GetSessionByRequest(ctx, opts.RequestID); err == nil {
		return domain.Session{}, conflictf("a session already exists for this request")
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Session{}, err
	}
	duration := opts.DurationMinutes
	if duration <= 0 {
		duration = e.Config.Exchange.DefaultSessionMinutes
	}

	s := domain.Session{
		ID:              uuid.NewString(),
		RequestID:       req.ID,
		RequesterID:     req.SenderID,
		ProviderID:      req.ReceiverID,
		Date:            opts.Date.UTC().Format(time.RFC3339),
		DurationMinutes: duration,
		Status:          domain.SessionScheduled,
		CreatedAt:       now.Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSession(ctx, tx, s); err != nil {
		return domain.Session{}, fmt.Errorf("insert session: %w", err)
	}
	if err := e.Repo.UpdateRequestStatus(ctx, tx, req.ID, domain.RequestScheduled, now.Format(time.RFC3339)); err != nil {
		return domain.Session{}, err
	}
	if err := e.Events.Append(ctx, tx, "session.scheduled", "session", s.ID, opts.ActorID, events.EventPayload{
		"request_id": req.ID,
		"date":       s.Date,
	}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}

	providerName := e.displayName(ctx, s.ProviderID)
	e.notify(ctx, s.RequesterID, fmt.Sprintf("Your session has been scheduled with %s.", providerName), domain.NotifySchedule)
	e.notify(ctx, s.ProviderID, fmt.Sprintf("You have scheduled a session with %s.", e.displayName(ctx, s.RequesterID)), domain.NotifySchedule)
	return s, nil
}

// CompleteSession transitions a session to completed and propagates the
// linked request. Completing an already completed session is a no-op, so a
// user call and the reconciliation sweep can race harmlessly.
func (e Engine) CompleteSession(ctx context.Context, sessionID, actorID string) (domain.Session, error) {
	s, err := e.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if actorID != s.RequesterID && actorID != s.ProviderID && actorID != SystemActor {
		return domain.Session{}, forbiddenf("not a participant of this session")
	}
	if s.Status == domain.SessionCompleted {
		return s, nil
	}
	if !s.Status.CanTransition(domain.SessionCompleted) {
		return domain.Session{}, preconditionf("session is %s and cannot be completed", s.Status)
	}

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()
	// Re-read under the transaction; a user call racing the reconciliation
	// sweep must not credit the swap twice.
	if s, err = e.Repo.GetSessionTx(ctx, tx, sessionID); err != nil {
		return domain.Session{}, err
	}
	if s.Status == domain.SessionCompleted {
		return s, nil
	}
	if err := e.Repo.UpdateSessionStatus(ctx, tx, s.ID, domain.SessionCompleted, &now); err != nil {
		return domain.Session{}, err
	}
	s.Status = domain.SessionCompleted
	s.CompletedAt = &now
	req, err := e.Repo.GetRequestTx(ctx, tx, s.RequestID)
	if err != nil {
		return domain.Session{}, err
	}
	if req.Status != domain.RequestCompleted {
		if !req.Status.CanTransition(domain.RequestCompleted) {
			return domain.Session{}, invalidInputf("linked request is %s and cannot be completed", req.Status)
		}
		if err := e.completeRequestTx(ctx, tx, &req, actorID); err != nil {
			return domain.Session{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "session.completed", "session", s.ID, actorID, events.EventPayload{
		"request_id": s.RequestID,
		"auto":       actorID == SystemActor,
	}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}

	msg := "Your session is completed. Please leave a review."
	if actorID == SystemActor {
		msg = "Your session has been auto-completed. Leave a review."
	}
	e.notify(ctx, s.RequesterID, msg, domain.NotifyReview)
	e.notify(ctx, s.ProviderID, msg, domain.NotifyReview)
	return s, nil
}

// SessionBuckets partitions a user's sessions by status, each bucket
// ordered by date ascending.
type SessionBuckets struct {
	Scheduled []domain.SessionView `json:"scheduled"`
	Completed []domain.SessionView `json:"completed"`
	Cancelled []domain.SessionView `json:"cancelled"`
	Total     int                  `json:"total"`
}

// ListUserSessions returns sessions where the user is requester or
// provider, joined with the originating request's skill payload.
func (e Engine) ListUserSessions(ctx context.Context, userID string) (SessionBuckets, error) {
	views, err := e.Repo.ListUserSessions(ctx, userID)
	if err != nil {
		return SessionBuckets{}, err
	}
	buckets := SessionBuckets{
		Scheduled: []domain.SessionView{},
		Completed: []domain.SessionView{},
		Cancelled: []domain.SessionView{},
		Total:     len(views),
	}
	for _, v := range views {
		switch v.Status {
		case domain.SessionScheduled:
			buckets.Scheduled = append(buckets.Scheduled, v)
		case domain.SessionCompleted:
			buckets.Completed = append(buckets.Completed, v)
		case domain.SessionCancelled:
			buckets.Cancelled = append(buckets.Cancelled, v)
		}
	}
	return buckets, nil
}

func (e Engine) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return e.Repo.GetSession(ctx, id)
}
