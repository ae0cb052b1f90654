package repo

import (
	"context"
	"database/sql"

	"swapline/internal/domain"
)

const reviewColumns = `id, reviewer_id, reviewed_user_id, request_id, rating, COALESCE(comment,''), created_at, updated_at`

func scanReview(scan func(dest ...any) error) (domain.Review, error) {
	var rv domain.Review
	err := scan(&rv.ID, &rv.ReviewerID, &rv.ReviewedUserID, &rv.RequestID, &rv.Rating, &rv.Comment, &rv.CreatedAt, &rv.UpdatedAt)
	if err == sql.ErrNoRows {
		return rv, ErrNotFound
	}
	return rv, err
}

func (r Repo) InsertReview(ctx context.Context, tx *sql.Tx, rv domain.Review) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO reviews(id, reviewer_id, reviewed_user_id, request_id, rating, comment, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		rv.ID, rv.ReviewerID, rv.ReviewedUserID, rv.RequestID, rv.Rating, nullable(rv.Comment), rv.CreatedAt, rv.UpdatedAt)
	return err
}

func (r Repo) GetReview(ctx context.Context, id string) (domain.Review, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id=?`, id)
	return scanReview(row.Scan)
}

// HasReview reports whether the (reviewer, reviewed user, request) triple
// already carries a review.
func (r Repo) HasReview(ctx context.Context, reviewerID, reviewedUserID, requestID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM reviews WHERE reviewer_id=? AND reviewed_user_id=? AND request_id=? LIMIT 1`,
		reviewerID, reviewedUserID, requestID)
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

func (r Repo) UpdateReview(ctx context.Context, tx *sql.Tx, rv domain.Review) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE reviews SET rating=?, comment=?, updated_at=? WHERE id=?`,
		rv.Rating, nullable(rv.Comment), rv.UpdatedAt, rv.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteReview(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM reviews WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// RatingsForUser returns every current rating for the user. The caller is
// expected to run this inside the transaction that writes the aggregate.
func (r Repo) RatingsForUser(ctx context.Context, tx *sql.Tx, userID string) ([]int, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT rating FROM reviews WHERE reviewed_user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ratings []int
	for rows.Next() {
		var rating int
		if err := rows.Scan(&rating); err != nil {
			return nil, err
		}
		ratings = append(ratings, rating)
	}
	return ratings, rows.Err()
}

// ListReviewsForUser returns the user's reviews with reviewer names attached,
// newest first.
func (r Repo) ListReviewsForUser(ctx context.Context, userID string) ([]domain.ReviewView, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT rv.id, rv.reviewer_id, rv.reviewed_user_id, rv.request_id, rv.rating, COALESCE(rv.comment,''), rv.created_at, rv.updated_at, COALESCE(u.display_name, rv.reviewer_id)
FROM reviews rv LEFT JOIN users u ON u.id=rv.reviewer_id
WHERE rv.reviewed_user_id=?
ORDER BY rv.created_at DESC, rv.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var views []domain.ReviewView
	for rows.Next() {
		var v domain.ReviewView
		if err := rows.Scan(&v.ID, &v.ReviewerID, &v.ReviewedUserID, &v.RequestID, &v.Rating, &v.Comment, &v.CreatedAt, &v.UpdatedAt, &v.ReviewerName); err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}
