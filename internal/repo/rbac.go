package repo

import (
	"context"
	"database/sql"
	"errors"

	"taskdesk/internal/domain"
)

// UserRole returns the role of an active user. Unknown or inactive users
// yield ErrNotFound.
func (r Repo) UserRole(ctx context.Context, tx *sql.Tx, userID string) (domain.UserRole, error) {
	var role string
	err := r.q(tx).QueryRowContext(ctx, `SELECT role FROM users WHERE id=? AND active=1`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return domain.UserRole(role), err
}

// CountActiveAdmins counts active admins other than exceptID.
func (r Repo) CountActiveAdmins(ctx context.Context, tx *sql.Tx, exceptID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT count(*) FROM users WHERE role=? AND active=1 AND id<>?`, domain.RoleAdmin, exceptID).Scan(&n)
	return n, err
}
