package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"swapline/internal/config"
	"swapline/internal/db"
	"swapline/internal/domain"
	"swapline/internal/engine"
	"swapline/internal/migrate"
	"swapline/internal/repo"
)

type sentNote struct {
	UserID  string
	Message string
	Kind    domain.NotificationKind
}

type noteRecorder struct {
	mu    sync.Mutex
	notes []sentNote
}

func (r *noteRecorder) Send(_ context.Context, userID, message string, kind domain.NotificationKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, sentNote{UserID: userID, Message: message, Kind: kind})
}

func (r *noteRecorder) forUser(userID string) []sentNote {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentNote
	for _, n := range r.notes {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

type testEnv struct {
	Engine engine.Engine
	Notes  *noteRecorder
	Ctx    context.Context
	clock  *time.Time
}

func (env testEnv) advance(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	notes := &noteRecorder{}
	eng := engine.New(conn, config.Default(), notes)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }
	ctx := context.Background()
	for _, u := range []domain.User{
		{ID: "ana", DisplayName: "Ana", SkillsOffered: []string{"go"}, SkillsWanted: []string{"piano"}},
		{ID: "ben", DisplayName: "Ben", SkillsOffered: []string{"piano"}, SkillsWanted: []string{"go"}},
		{ID: "cara", DisplayName: "Cara", SkillsOffered: []string{"piano", "chess"}},
	} {
		if err := eng.EnsureUser(ctx, u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	return testEnv{Engine: eng, Notes: notes, Ctx: ctx, clock: &now}
}

func mustCreateRequest(t *testing.T, env testEnv, sender, receiver string) domain.Request {
	t.Helper()
	req, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{
		SenderID:        sender,
		ReceiverID:      receiver,
		OfferedSkills:   []string{"go"},
		RequestedSkills: []string{"piano"},
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func TestRequestLifecycle(t *testing.T) {
	env := newTestEnv(t)
	req := mustCreateRequest(t, env, "ana", "ben")
	if req.Status != domain.RequestPending {
		t.Fatalf("new request status = %s", req.Status)
	}

	// a second pending request to the same user is rejected
	_, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{
		SenderID: "ana", ReceiverID: "ben",
		OfferedSkills: []string{"go"}, RequestedSkills: []string{"piano"},
	})
	var conflict engine.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("duplicate pending request: got %v, want conflict", err)
	}

	req, err = env.Engine.UpdateRequestStatus(env.Ctx, req.ID, "ben", domain.RequestAccepted)
	if err != nil || req.Status != domain.RequestAccepted {
		t.Fatalf("accept: %v (status %s)", err, req.Status)
	}
	req, err = env.Engine.UpdateRequestStatus(env.Ctx, req.ID, "ben", domain.RequestCompleted)
	if err != nil || req.Status != domain.RequestCompleted {
		t.Fatalf("complete: %v (status %s)", err, req.Status)
	}
	for _, id := range []string{"ana", "ben"} {
		u, err := env.Engine.GetUser(env.Ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if u.CompletedSwaps != 1 {
			t.Fatalf("%s completed swaps = %d, want 1", id, u.CompletedSwaps)
		}
	}

	// completing twice is a no-op, not an error
	if _, err := env.Engine.UpdateRequestStatus(env.Ctx, req.ID, "ana", domain.RequestCompleted); err != nil {
		t.Fatalf("re-complete: %v", err)
	}
	u, _ := env.Engine.GetUser(env.Ctx, "ana")
	if u.CompletedSwaps != 1 {
		t.Fatalf("re-complete incremented counter to %d", u.CompletedSwaps)
	}
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t)

	var invalid engine.InvalidInputError
	_, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{
		SenderID: "ana", ReceiverID: "ana",
		OfferedSkills: []string{"go"}, RequestedSkills: []string{"go"},
	})
	if !errors.As(err, &invalid) {
		t.Fatalf("self request: got %v", err)
	}
	_, err = env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{
		SenderID: "ana", ReceiverID: "ben", RequestedSkills: []string{"piano"},
	})
	if !errors.As(err, &invalid) {
		t.Fatalf("empty offered skills: got %v", err)
	}
	_, err = env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{
		SenderID: "ana", ReceiverID: "nobody",
		OfferedSkills: []string{"go"}, RequestedSkills: []string{"piano"},
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown receiver: got %v", err)
	}

	req := mustCreateRequest(t, env, "ana", "ben")
	var forbidden engine.ForbiddenError
	if _, err := env.Engine.UpdateRequestStatus(env.Ctx, req.ID, "ana", domain.RequestAccepted); !errors.As(err, &forbidden) {
		t.Fatalf("sender accepting own request: got %v", err)
	}
	req, err = env.Engine.UpdateRequestStatus(env.Ctx, req.ID, "ben", domain.RequestDeclined)
	if err != nil || req.Status != domain.RequestDeclined {
		t.Fatalf("decline: %v", err)
	}
	// declined is terminal
	if _, err := env.Engine.UpdateRequestStatus(env.Ctx, req.ID, "ben", domain.RequestAccepted); !errors.As(err, &invalid) {
		t.Fatalf("declined -> accepted: got %v", err)
	}
	// scheduled is owned by the session scheduler
	if _, err := env.Engine.UpdateRequestStatus(env.Ctx, req.ID, "ben", domain.RequestScheduled); !errors.As(err, &invalid) {
		t.Fatalf("direct scheduled transition: got %v", err)
	}
	// completing a request that was never accepted skips the negotiation
	fresh := mustCreateRequest(t, env, "ana", "cara")
	if _, err := env.Engine.UpdateRequestStatus(env.Ctx, fresh.ID, "ana", domain.RequestCompleted); !errors.As(err, &invalid) {
		t.Fatalf("pending -> completed: got %v", err)
	}
}

func TestPendingPairUniqueBackstop(t *testing.T) {
	env := newTestEnv(t)
	first := mustCreateRequest(t, env, "ana", "ben")

	// a direct insert that bypasses the pre-check hits the partial index
	now := env.clock.UTC().Format(time.RFC3339)
	err := env.Engine.Repo.InsertRequest(env.Ctx, nil, domain.Request{
		ID: "dup", SenderID: "ana", ReceiverID: "ben",
		OfferedSkills: []string{"go"}, RequestedSkills: []string{"piano"},
		Status: domain.RequestPending, CreatedAt: now, UpdatedAt: now,
	})
	if !repo.IsUniqueViolation(err) {
		t.Fatalf("duplicate pending insert: got %v, want unique violation", err)
	}

	// once the pending request resolves, a new one for the pair is allowed
	if _, err := env.Engine.UpdateRequestStatus(env.Ctx, first.ID, "ben", domain.RequestDeclined); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if _, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{
		SenderID: "ana", ReceiverID: "ben",
		OfferedSkills: []string{"go"}, RequestedSkills: []string{"piano"},
	}); err != nil {
		t.Fatalf("new request after decline: %v", err)
	}
}

func TestEnsureUserRejectsReservedID(t *testing.T) {
	env := newTestEnv(t)
	var invalid engine.InvalidInputError
	err := env.Engine.EnsureUser(env.Ctx, domain.User{ID: "system", DisplayName: "Impostor"})
	if !errors.As(err, &invalid) {
		t.Fatalf("reserved id: got %v", err)
	}
	if _, err := env.Engine.GetUser(env.Ctx, "system"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("reserved user was persisted: %v", err)
	}
}

func TestScheduleSessionRules(t *testing.T) {
	env := newTestEnv(t)
	req := mustCreateRequest(t, env, "ana", "ben")
	future := env.Engine.Now().Add(2 * time.Hour)

	var precondition engine.PreconditionError
	_, err := env.Engine.ScheduleSession(env.Ctx, engine.SessionScheduleOptions{RequestID: req.ID, ActorID: "ben", Date: future})
	if !errors.As(err, &precondition) {
		t.Fatalf("schedule before accept: got %v", err)
	}

	if _, err := env.Engine.UpdateRequestStatus(env.Ctx, req.ID, "ben", domain.RequestAccepted); err != nil {
		t.Fatal(err)
	}

	var forbidden engine.ForbiddenError
	_, err = env.Engine.ScheduleSession(env.Ctx, engine.SessionScheduleOptions{RequestID: req.ID, ActorID: "ana", Date: future})
	if !errors.As(err, &forbidden) {
		t.Fatalf("sender scheduling: got %v", err)
	}

	var invalid engine.InvalidInputError
	_, err = env.Engine.ScheduleSession(env.Ctx, engine.SessionScheduleOptions{RequestID: req.ID, ActorID: "ben", Date: env.Engine.Now().Add(-time.Hour)})
	if !errors.As(err, &invalid) {
		t.Fatalf("past date: got %v", err)
	}

	s, err := env.Engine.ScheduleSession(env.Ctx, engine.SessionScheduleOptions{RequestID: req.ID, ActorID: "ben", Date: future})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if s.DurationMinutes != 60 {
		t.Fatalf("default duration = %d, want 60", s.DurationMinutes)
	}
	if s.RequesterID != "ana" || s.ProviderID != "ben" {
		t.Fatalf("participants = %s/%s", s.RequesterID, s.ProviderID)
	}
	req, err = env.Engine.Repo.GetRequest(env.Ctx, req.ID)
	if err != nil || req.Status != domain.RequestScheduled {
		t.Fatalf("request after scheduling: %v (status %s)", err, req.Status)
	}

	var conflict engine.ConflictError
	_, err = env.Engine.ScheduleSession(env.Ctx, engine.SessionScheduleOptions{RequestID: req.ID, ActorID: "ben", Date: future})
	if !errors.As(err, &conflict) {
		t.Fatalf("second session for request: got %v", err)
	}
}

func TestCompleteSessionPropagatesRequest(t *testing.T) {
	env := newTestEnv(t)
	req := mustCreateRequest(t, env, "ana", "ben")
	if _, err := env.Engine.UpdateRequestStatus(env.Ctx, req.ID, "ben", domain.RequestAccepted); err != nil {
		t.Fatal(err)
	}
	s, err := env.Engine.ScheduleSession(env.Ctx, engine.SessionScheduleOptions{
		RequestID: req.ID, ActorID: "ben", Date: env.Engine.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	var forbidden engine.ForbiddenError
	if _, err := env.Engine.CompleteSession(env.Ctx, s.ID, "cara"); !errors.As(err, &forbidden) {
		t.Fatalf("outsider completing session: got %v", err)
	}

	s, err = env.Engine.CompleteSession(env.Ctx, s.ID, "ana")
	if err != nil || s.Status != domain.SessionCompleted {
		t.Fatalf("complete session: %v (status %s)", err, s.Status)
	}
	if s.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	req, err = env.Engine.Repo.GetRequest(env.Ctx, req.ID)
	if err != nil || req.Status != domain.RequestCompleted {
		t.Fatalf("request after session completion: %v (status %s)", err, req.Status)
	}
	u, _ := env.Engine.GetUser(env.Ctx, "ben")
	if u.CompletedSwaps != 1 {
		t.Fatalf("completed swaps = %d, want 1", u.CompletedSwaps)
	}

	// second completion is a harmless no-op
	if _, err := env.Engine.CompleteSession(env.Ctx, s.ID, engine.SystemActor); err != nil {
		t.Fatalf("re-complete: %v", err)
	}
	u, _ = env.Engine.GetUser(env.Ctx, "ben")
	if u.CompletedSwaps != 1 {
		t.Fatalf("re-complete incremented counter to %d", u.CompletedSwaps)
	}

	buckets, err := env.Engine.ListUserSessions(env.Ctx, "ana")
	if err != nil {
		t.Fatal(err)
	}
	if buckets.Total != 1 || len(buckets.Completed) != 1 || len(buckets.Scheduled) != 0 {
		t.Fatalf("buckets = %+v", buckets)
	}
}

func completedRequest(t *testing.T, env testEnv, sender, receiver string) domain.Request {
	t.Helper()
	req := mustCreateRequest(t, env, sender, receiver)
	if _, err := env.Engine.UpdateRequestStatus(env.Ctx, req.ID, receiver, domain.RequestAccepted); err != nil {
		t.Fatal(err)
	}
	req, err := env.Engine.UpdateRequestStatus(env.Ctx, req.ID, receiver, domain.RequestCompleted)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestReviewGatingAndAggregate(t *testing.T) {
	env := newTestEnv(t)
	pending := mustCreateRequest(t, env, "ana", "cara")

	var precondition engine.PreconditionError
	_, err := env.Engine.AddReview(env.Ctx, engine.ReviewCreateOptions{
		ReviewerID: "ana", ReviewedUserID: "cara", RequestID: pending.ID, Rating: 5,
	})
	if !errors.As(err, &precondition) {
		t.Fatalf("review before completion: got %v", err)
	}

	first := completedRequest(t, env, "ana", "ben")
	rv, err := env.Engine.AddReview(env.Ctx, engine.ReviewCreateOptions{
		ReviewerID: "ana", ReviewedUserID: "ben", RequestID: first.ID, Rating: 4, Comment: "great teacher",
	})
	if err != nil {
		t.Fatalf("add review: %v", err)
	}
	u, _ := env.Engine.GetUser(env.Ctx, "ben")
	if u.AverageRating != 4 || u.TotalReviews != 1 {
		t.Fatalf("aggregate after first review = %.2f/%d", u.AverageRating, u.TotalReviews)
	}

	var conflict engine.ConflictError
	_, err = env.Engine.AddReview(env.Ctx, engine.ReviewCreateOptions{
		ReviewerID: "ana", ReviewedUserID: "ben", RequestID: first.ID, Rating: 5,
	})
	if !errors.As(err, &conflict) {
		t.Fatalf("duplicate review: got %v", err)
	}

	// reviewing via a swap the reviewed user was not part of is rejected
	other := completedRequest(t, env, "ana", "cara")
	_, err = env.Engine.AddReview(env.Ctx, engine.ReviewCreateOptions{
		ReviewerID: "ana", ReviewedUserID: "ben", RequestID: other.ID, Rating: 5,
	})
	if !errors.As(err, &precondition) {
		t.Fatalf("review outside the swap pair: got %v", err)
	}

	second := completedRequest(t, env, "ben", "ana")
	if _, err := env.Engine.AddReview(env.Ctx, engine.ReviewCreateOptions{
		ReviewerID: "ana", ReviewedUserID: "ben", RequestID: second.ID, Rating: 2,
	}); err != nil {
		t.Fatalf("second review: %v", err)
	}
	u, _ = env.Engine.GetUser(env.Ctx, "ben")
	if u.AverageRating != 3 || u.TotalReviews != 2 {
		t.Fatalf("aggregate after two reviews = %.2f/%d, want 3.00/2", u.AverageRating, u.TotalReviews)
	}

	summary, err := env.Engine.ListReviewsForUser(env.Ctx, "ben")
	if err != nil {
		t.Fatal(err)
	}
	if summary.TotalReviews != 2 || summary.AverageRating != 3 {
		t.Fatalf("summary = %.2f/%d", summary.AverageRating, summary.TotalReviews)
	}
	if summary.Reviews[0].ReviewerName != "Ana" {
		t.Fatalf("reviewer name = %q", summary.Reviews[0].ReviewerName)
	}

	if _, err := env.Engine.UpdateReview(env.Ctx, rv.ID, "ana", engine.ReviewUpdateOptions{Rating: intPtr(5)}); err != nil {
		t.Fatalf("update review: %v", err)
	}
	u, _ = env.Engine.GetUser(env.Ctx, "ben")
	if u.AverageRating != 3.5 {
		t.Fatalf("aggregate after update = %.2f, want 3.50", u.AverageRating)
	}

	if err := env.Engine.DeleteReview(env.Ctx, rv.ID, "ana"); err != nil {
		t.Fatalf("delete review: %v", err)
	}
	u, _ = env.Engine.GetUser(env.Ctx, "ben")
	if u.AverageRating != 2 || u.TotalReviews != 1 {
		t.Fatalf("aggregate after delete = %.2f/%d", u.AverageRating, u.TotalReviews)
	}
}

func TestDeleteSoleReviewResetsAggregate(t *testing.T) {
	env := newTestEnv(t)
	req := completedRequest(t, env, "ana", "ben")
	rv, err := env.Engine.AddReview(env.Ctx, engine.ReviewCreateOptions{
		ReviewerID: "ana", ReviewedUserID: "ben", RequestID: req.ID, Rating: 5,
	})
	if err != nil {
		t.Fatalf("add review: %v", err)
	}
	u, _ := env.Engine.GetUser(env.Ctx, "ben")
	if u.AverageRating != 5 || u.TotalReviews != 1 {
		t.Fatalf("aggregate = %.2f/%d, want 5.00/1", u.AverageRating, u.TotalReviews)
	}

	if err := env.Engine.DeleteReview(env.Ctx, rv.ID, "ana"); err != nil {
		t.Fatalf("delete review: %v", err)
	}
	u, _ = env.Engine.GetUser(env.Ctx, "ben")
	if u.AverageRating != 0 || u.TotalReviews != 0 {
		t.Fatalf("aggregate after deleting only review = %.2f/%d, want 0.00/0", u.AverageRating, u.TotalReviews)
	}
	summary, err := env.Engine.ListReviewsForUser(env.Ctx, "ben")
	if err != nil {
		t.Fatal(err)
	}
	if summary.TotalReviews != 0 || summary.AverageRating != 0 || len(summary.Reviews) != 0 {
		t.Fatalf("summary after deleting only review = %.2f/%d (%d reviews)",
			summary.AverageRating, summary.TotalReviews, len(summary.Reviews))
	}
}

func TestReviewAuthorization(t *testing.T) {
	env := newTestEnv(t)
	req := completedRequest(t, env, "ana", "ben")

	var invalid engine.InvalidInputError
	_, err := env.Engine.AddReview(env.Ctx, engine.ReviewCreateOptions{
		ReviewerID: "ana", ReviewedUserID: "ana", RequestID: req.ID, Rating: 5,
	})
	if !errors.As(err, &invalid) {
		t.Fatalf("self review: got %v", err)
	}
	for _, rating := range []int{0, 6} {
		_, err := env.Engine.AddReview(env.Ctx, engine.ReviewCreateOptions{
			ReviewerID: "ana", ReviewedUserID: "ben", RequestID: req.ID, Rating: rating,
		})
		if !errors.As(err, &invalid) {
			t.Fatalf("rating %d: got %v", rating, err)
		}
	}
	_, err = env.Engine.AddReview(env.Ctx, engine.ReviewCreateOptions{
		ReviewerID: "ana", ReviewedUserID: "ben", RequestID: req.ID, Rating: 5,
		Comment: strings.Repeat("x", 1001),
	})
	if !errors.As(err, &invalid) {
		t.Fatalf("oversized comment: got %v", err)
	}

	rv, err := env.Engine.AddReview(env.Ctx, engine.ReviewCreateOptions{
		ReviewerID: "ana", ReviewedUserID: "ben", RequestID: req.ID, Rating: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	var forbidden engine.ForbiddenError
	if _, err := env.Engine.UpdateReview(env.Ctx, rv.ID, "ben", engine.ReviewUpdateOptions{Rating: intPtr(1)}); !errors.As(err, &forbidden) {
		t.Fatalf("non-author update: got %v", err)
	}
	if err := env.Engine.DeleteReview(env.Ctx, rv.ID, "ben"); !errors.As(err, &forbidden) {
		t.Fatalf("non-author delete: got %v", err)
	}
}

func TestTransitionsNotifyAffectedUsers(t *testing.T) {
	env := newTestEnv(t)
	req := mustCreateRequest(t, env, "ana", "ben")

	got := env.Notes.forUser("ben")
	if len(got) != 1 || got[0].Message != "You have a new skill swap request from Ana." || got[0].Kind != domain.NotifyRequest {
		t.Fatalf("receiver notification = %+v", got)
	}

	if _, err := env.Engine.UpdateRequestStatus(env.Ctx, req.ID, "ben", domain.RequestAccepted); err != nil {
		t.Fatal(err)
	}
	got = env.Notes.forUser("ana")
	if len(got) != 1 || got[0].Message != "Ben accepted your skill swap request!" {
		t.Fatalf("sender notification = %+v", got)
	}

	s, err := env.Engine.ScheduleSession(env.Ctx, engine.SessionScheduleOptions{
		RequestID: req.ID, ActorID: "ben", Date: env.Engine.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got = env.Notes.forUser("ana"); got[len(got)-1].Kind != domain.NotifySchedule {
		t.Fatalf("schedule notification kind = %s", got[len(got)-1].Kind)
	}

	if _, err := env.Engine.CompleteSession(env.Ctx, s.ID, engine.SystemActor); err != nil {
		t.Fatal(err)
	}
	got = env.Notes.forUser("ben")
	last := got[len(got)-1]
	if last.Message != "Your session has been auto-completed. Leave a review." || last.Kind != domain.NotifyReview {
		t.Fatalf("auto-completion notification = %+v", last)
	}
}

func TestFindPartners(t *testing.T) {
	env := newTestEnv(t)
	users, err := env.Engine.FindPartners(env.Ctx, "piano", "ana")
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("partners = %d, want 2", len(users))
	}

	// a pending request hides that receiver from further matches
	mustCreateRequest(t, env, "ana", "ben")
	users, err = env.Engine.FindPartners(env.Ctx, "piano", "ana")
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].ID != "cara" {
		t.Fatalf("partners after pending request = %+v", users)
	}

	// the caller never matches themselves
	users, err = env.Engine.FindPartners(env.Ctx, "piano", "ben")
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range users {
		if u.ID == "ben" {
			t.Fatal("caller included in partner results")
		}
	}

	if _, err := env.Engine.FindPartners(env.Ctx, "  ", "ana"); err == nil {
		t.Fatal("blank skill accepted")
	}
}

func intPtr(v int) *int { return &v }
