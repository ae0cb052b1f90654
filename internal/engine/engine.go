package engine

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"swapline/internal/config"
	"swapline/internal/domain"
	"swapline/internal/events"
	"swapline/internal/repo"
)

// SystemActor is the acting-user id the reconciliation sweep operates under.
const SystemActor = "system"

// Notifier records an event addressed to a user. Implementations are
// best-effort and must not fail the calling workflow.
type Notifier interface {
	Send(ctx context.Context, userID, message string, kind domain.NotificationKind)
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Notify Notifier
	Config *config.Config
	Now    func() time.Time

	ratingMu *keyedMutex
}

func New(db *sql.DB, cfg *config.Config, notifier Notifier) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Notify:   notifier,
		Config:   cfg,
		Now:      time.Now,
		ratingMu: newKeyedMutex(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) notify(ctx context.Context, userID, message string, kind domain.NotificationKind) {
	if e.Notify == nil {
		return
	}
	e.Notify.Send(ctx, userID, message, kind)
}

// EnsureUser upserts the identity fields of a user record. Aggregate fields
// are owned by the rating recompute and left alone.
func (e Engine) EnsureUser(ctx context.Context, u domain.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return invalidInputf("user id is required")
	}
	if u.ID == SystemActor {
		return invalidInputf("user id %q is reserved", SystemActor)
	}
	if u.CreatedAt == "" {
		u.CreatedAt = e.now().UTC().Format(time.RFC3339)
	}
	return e.Repo.EnsureUser(ctx, u)
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	return e.Repo.GetUser(ctx, id)
}

// FindPartners returns users offering the skill, excluding the caller and
// anyone the caller already has a pending request with.
func (e Engine) FindPartners(ctx context.Context, skill, callerID string) ([]domain.User, error) {
	skill = strings.TrimSpace(skill)
	if skill == "" {
		return nil, invalidInputf("skill is required")
	}
	return e.Repo.ListUsersBySkill(ctx, skill, callerID)
}

// displayName resolves a user's display name for notification copy,
// falling back to the raw id.
func (e Engine) displayName(ctx context.Context, userID string) string {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil || u.DisplayName == "" {
		return userID
	}
	return u.DisplayName
}

// keyedMutex serializes rating recomputation per reviewed user. Entries are
// kept for the process lifetime; the key space is the set of reviewed users.
type keyedMutex struct {
	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{keys: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.keys[key]
	if !ok {
		m = &sync.Mutex{}
		k.keys[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
