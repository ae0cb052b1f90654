package repo

import (
	"context"
	"database/sql"

	"swapline/internal/domain"
)

const requestColumns = `id, sender_id, receiver_id, offered_skills, requested_skills, status, created_at, updated_at`

func scanRequest(scan func(dest ...any) error) (domain.Request, error) {
	var req domain.Request
	var offered, requested string
	err := scan(&req.ID, &req.SenderID, &req.ReceiverID, &offered, &requested, &req.Status, &req.CreatedAt, &req.UpdatedAt)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	if err != nil {
		return req, err
	}
	if req.OfferedSkills, err = unmarshalStrings(offered); err != nil {
		return req, err
	}
	if req.RequestedSkills, err = unmarshalStrings(requested); err != nil {
		return req, err
	}
	return req, nil
}

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, req domain.Request) error {
	offered, err := marshalStrings(req.OfferedSkills)
	if err != nil {
		return err
	}
	requested, err := marshalStrings(req.RequestedSkills)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO requests(`+requestColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		req.ID, req.SenderID, req.ReceiverID, offered, requested, req.Status, req.CreatedAt, req.UpdatedAt)
	return err
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id)
	return scanRequest(row.Scan)
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.Request, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id)
	return scanRequest(row.Scan)
}

// HasPendingRequest reports whether a pending request exists for the ordered
// (sender, receiver) pair.
func (r Repo) HasPendingRequest(ctx context.Context, senderID, receiverID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM requests WHERE sender_id=? AND receiver_id=? AND status=? LIMIT 1`,
		senderID, receiverID, domain.RequestPending)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r Repo) UpdateRequestStatus(ctx context.Context, tx *sql.Tx, id string, status domain.RequestStatus, updatedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE requests SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) listRequests(ctx context.Context, query string, args ...any) ([]domain.Request, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var requests []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func (r Repo) ListSentRequests(ctx context.Context, senderID string) ([]domain.Request, error) {
	return r.listRequests(ctx, `SELECT `+requestColumns+` FROM requests WHERE sender_id=? ORDER BY created_at DESC, id DESC`, senderID)
}

func (r Repo) ListReceivedRequests(ctx context.Context, receiverID string) ([]domain.Request, error) {
	return r.listRequests(ctx, `SELECT `+requestColumns+` FROM requests WHERE receiver_id=? ORDER BY created_at DESC, id DESC`, receiverID)
}

// ListRequestsForUser returns requests where the user is a party, optionally
// filtered by status.
func (r Repo) ListRequestsForUser(ctx context.Context, userID string, status domain.RequestStatus) ([]domain.Request, error) {
	if status == "" {
		return r.listRequests(ctx, `SELECT `+requestColumns+` FROM requests WHERE sender_id=? OR receiver_id=? ORDER BY created_at DESC, id DESC`, userID, userID)
	}
	return r.listRequests(ctx, `SELECT `+requestColumns+` FROM requests WHERE (sender_id=? OR receiver_id=?) AND status=? ORDER BY created_at DESC, id DESC`, userID, userID, status)
}
