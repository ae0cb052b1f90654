package repo

import (
	"context"
	"database/sql"

	"swapline/internal/domain"
)

const userColumns = `id, display_name, role, skills_offered, skills_wanted, average_rating, total_reviews, completed_swaps, created_at`

func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	var offered, wanted string
	err := scan(&u.ID, &u.DisplayName, &u.Role, &offered, &wanted, &u.AverageRating, &u.TotalReviews, &u.CompletedSwaps, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if u.SkillsOffered, err = unmarshalStrings(offered); err != nil {
		return u, err
	}
	if u.SkillsWanted, err = unmarshalStrings(wanted); err != nil {
		return u, err
	}
	return u, nil
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	return scanUser(row.Scan)
}

// EnsureUser inserts the user if absent and refreshes identity fields on
// conflict. Aggregate fields are never touched here.
func (r Repo) EnsureUser(ctx context.Context, u domain.User) error {
	offered, err := marshalStrings(u.SkillsOffered)
	if err != nil {
		return err
	}
	wanted, err := marshalStrings(u.SkillsWanted)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO users(id, display_name, role, skills_offered, skills_wanted, created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  display_name=CASE WHEN excluded.display_name<>'' THEN excluded.display_name ELSE users.display_name END,
  role=CASE WHEN excluded.role<>'' THEN excluded.role ELSE users.role END,
  skills_offered=CASE WHEN excluded.skills_offered<>'[]' THEN excluded.skills_offered ELSE users.skills_offered END,
  skills_wanted=CASE WHEN excluded.skills_wanted<>'[]' THEN excluded.skills_wanted ELSE users.skills_wanted END`,
		u.ID, u.DisplayName, u.Role, offered, wanted, u.CreatedAt)
	return err
}

func (r Repo) IncrementCompletedSwaps(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE users SET completed_swaps=completed_swaps+1 WHERE id=?`, userID)
	return err
}

func (r Repo) UpdateUserRating(ctx context.Context, tx *sql.Tx, userID string, average float64, total int) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE users SET average_rating=?, total_reviews=? WHERE id=?`, average, total, userID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsersBySkill returns users offering the skill, excluding the caller and
// any user the caller already has a pending request with.
func (r Repo) ListUsersBySkill(ctx context.Context, skill, excludeUserID string) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users u
WHERE u.id<>?
  AND EXISTS (SELECT 1 FROM json_each(u.skills_offered) WHERE json_each.value=?)
  AND NOT EXISTS (SELECT 1 FROM requests p WHERE p.sender_id=? AND p.receiver_id=u.id AND p.status='pending')
ORDER BY u.display_name, u.id`, excludeUserID, skill, excludeUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
