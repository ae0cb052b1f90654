package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"swapline/internal/domain"
	"swapline/internal/engine"
)

// Sweeper reconciles time-dependent session state: it reminds participants
// of upcoming sessions and auto-completes sessions whose date has passed.
// Both passes are idempotent; a failure on one session is logged and the
// sweep moves on, retrying naturally on its next run.
type Sweeper struct {
	Engine engine.Engine
	Logger *slog.Logger
	Now    func() time.Time
}

func New(e engine.Engine, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{Engine: e, Logger: logger, Now: time.Now}
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// RunOnce executes the reminder pass and the auto-completion pass.
func (s *Sweeper) RunOnce(ctx context.Context) {
	s.remindUpcoming(ctx)
	s.completeOverdue(ctx)
}

// remindUpcoming notifies both participants of sessions starting within
// the lead window. Each session is reminded at most once: the reminded_at
// marker is written before the sweep moves on, so the next tick skips it.
func (s *Sweeper) remindUpcoming(ctx context.Context) {
	now := s.now().UTC()
	until := now.Add(s.Engine.Config.LeadTime())
	sessions, err := s.Engine.Repo.ListSessionsDueForReminder(ctx,
		now.Format(time.RFC3339), until.Format(time.RFC3339))
	if err != nil {
		s.Logger.Error("reminder pass query failed", "error", err)
		return
	}
	for _, session := range sessions {
		if err := s.remind(ctx, session, now); err != nil {
			s.Logger.Error("reminder failed", "session_id", session.ID, "error", err)
			continue
		}
	}
}

func (s *Sweeper) remind(ctx context.Context, session domain.Session, now time.Time) error {
	if err := s.Engine.Repo.MarkSessionReminded(ctx, session.ID, now.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("mark reminded: %w", err)
	}
	msg := fmt.Sprintf("Reminder: Your session starts in %d minutes", s.Engine.Config.Reminders.LeadTimeMinutes)
	s.Engine.Notify.Send(ctx, session.RequesterID, msg, domain.NotifySchedule)
	s.Engine.Notify.Send(ctx, session.ProviderID, msg, domain.NotifySchedule)
	s.Logger.Info("session reminder sent", "session_id", session.ID, "date", session.Date)
	return nil
}

// completeOverdue drives past-due scheduled sessions through the same
// completion path a participant would use, keeping the linked request
// consistent.
func (s *Sweeper) completeOverdue(ctx context.Context) {
	now := s.now().UTC().Format(time.RFC3339)
	sessions, err := s.Engine.Repo.ListOverdueSessions(ctx, now)
	if err != nil {
		s.Logger.Error("auto-completion pass query failed", "error", err)
		return
	}
	for _, session := range sessions {
		if _, err := s.Engine.CompleteSession(ctx, session.ID, engine.SystemActor); err != nil {
			s.Logger.Error("auto-completion failed", "session_id", session.ID, "error", err)
			continue
		}
		s.Logger.Info("session auto-completed", "session_id", session.ID, "request_id", session.RequestID)
	}
}
