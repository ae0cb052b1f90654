package repo

import (
	"context"
	"database/sql"

	"swapline/internal/domain"
)

const sessionColumns = `id, request_id, requester_id, provider_id, date, duration_minutes, status, reminded_at, completed_at, created_at`

func scanSession(scan func(dest ...any) error) (domain.Session, error) {
	var s domain.Session
	var reminded, completed sql.NullString
	err := scan(&s.ID, &s.RequestID, &s.RequesterID, &s.ProviderID, &s.Date, &s.DurationMinutes, &s.Status, &reminded, &completed, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if reminded.Valid {
		s.RemindedAt = &reminded.String
	}
	if completed.Valid {
		s.CompletedAt = &completed.String
	}
	return s, nil
}

func (r Repo) InsertSession(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO sessions(id, request_id, requester_id, provider_id, date, duration_minutes, status, created_at) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.RequestID, s.RequesterID, s.ProviderID, s.Date, s.DurationMinutes, s.Status, s.CreatedAt)
	return err
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id)
	return scanSession(row.Scan)
}

func (r Repo) GetSessionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Session, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id)
	return scanSession(row.Scan)
}

func (r Repo) GetSessionByRequest(ctx context.Context, requestID string) (domain.Session, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE request_id=?`, requestID)
	return scanSession(row.Scan)
}

func (r Repo) UpdateSessionStatus(ctx context.Context, tx *sql.Tx, id string, status domain.SessionStatus, completedAt *string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE sessions SET status=?, completed_at=? WHERE id=?`, status, nullableptr(completedAt), id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSessionReminded records that the upcoming-session reminder went out.
func (r Repo) MarkSessionReminded(ctx context.Context, id, remindedAt string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE sessions SET reminded_at=? WHERE id=? AND reminded_at IS NULL`, remindedAt, id)
	return err
}

// ListSessionsDueForReminder returns scheduled sessions starting within
// (now, until] that have not been reminded yet.
func (r Repo) ListSessionsDueForReminder(ctx context.Context, now, until string) ([]domain.Session, error) {
	return r.listSessions(ctx, `SELECT `+sessionColumns+` FROM sessions
WHERE status=? AND reminded_at IS NULL AND date>=? AND date<=? ORDER BY date`, domain.SessionScheduled, now, until)
}

// ListOverdueSessions returns scheduled sessions whose date is strictly past.
func (r Repo) ListOverdueSessions(ctx context.Context, now string) ([]domain.Session, error) {
	return r.listSessions(ctx, `SELECT `+sessionColumns+` FROM sessions
WHERE status=? AND date<? ORDER BY date`, domain.SessionScheduled, now)
}

func (r Repo) listSessions(ctx context.Context, query string, args ...any) ([]domain.Session, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ListUserSessions returns sessions where the user is requester or provider,
// joined with the originating request's skill payload, date ascending.
func (r Repo) ListUserSessions(ctx context.Context, userID string) ([]domain.SessionView, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT s.id, s.request_id, s.requester_id, s.provider_id, s.date, s.duration_minutes, s.status, s.reminded_at, s.completed_at, s.created_at, r.offered_skills, r.requested_skills
FROM sessions s JOIN requests r ON r.id=s.request_id
WHERE s.requester_id=? OR s.provider_id=?
ORDER BY s.date, s.id`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var views []domain.SessionView
	for rows.Next() {
		var v domain.SessionView
		var reminded, completed sql.NullString
		var offered, requested string
		if err := rows.Scan(&v.ID, &v.RequestID, &v.RequesterID, &v.ProviderID, &v.Date, &v.DurationMinutes, &v.Status, &reminded, &completed, &v.CreatedAt, &offered, &requested); err != nil {
			return nil, err
		}
		if reminded.Valid {
			v.RemindedAt = &reminded.String
		}
		if completed.Valid {
			v.CompletedAt = &completed.String
		}
		if v.OfferedSkills, err = unmarshalStrings(offered); err != nil {
			return nil, err
		}
		if v.RequestedSkills, err = unmarshalStrings(requested); err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

func nullableptr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
