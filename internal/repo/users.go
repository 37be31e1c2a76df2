package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"taskdesk/internal/domain"
)

const userColumns = `id, name, email, phone, cpf, birth_date, role, active, created_at, updated_at`

// UserFilter selects a page of users. Page is 1-based.
type UserFilter struct {
	Search   string
	Role     string
	Active   *bool
	Page     int
	PageSize int
}

type UserPage struct {
	Data       []domain.User `json:"data"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	TotalPages int           `json:"total_pages"`
}

var ErrEmailTaken = errors.New("email already registered")

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var phone, cpf, birth sql.NullString
	var active int
	err := row.Scan(&u.ID, &u.Name, &u.Email, &phone, &cpf, &birth, &u.Role, &active, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.Phone = phone.String
	u.CPF = cpf.String
	u.BirthDate = birth.String
	u.Active = active != 0
	return u, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r Repo) InsertUserTx(ctx context.Context, tx *sql.Tx, u domain.User) error {
	if taken, err := r.emailTaken(ctx, tx, u.Email, ""); err != nil {
		return err
	} else if taken {
		return ErrEmailTaken
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Name, u.Email, nullable(u.Phone), nullable(u.CPF), nullable(u.BirthDate), u.Role, boolInt(u.Active), u.CreatedAt, u.UpdatedAt)
	return err
}

func (r Repo) UpdateUserTx(ctx context.Context, tx *sql.Tx, u domain.User) error {
	if taken, err := r.emailTaken(ctx, tx, u.Email, u.ID); err != nil {
		return err
	} else if taken {
		return ErrEmailTaken
	}
	res, err := tx.ExecContext(ctx, `UPDATE users SET name=?, email=?, phone=?, cpf=?, birth_date=?, role=?, active=?, updated_at=? WHERE id=?`,
		u.Name, u.Email, nullable(u.Phone), nullable(u.CPF), nullable(u.BirthDate), u.Role, boolInt(u.Active), u.UpdatedAt, u.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteUserTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) emailTaken(ctx context.Context, tx *sql.Tx, email, exceptID string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT count(*) FROM users WHERE lower(email)=lower(?) AND id<>?`, email, exceptID).Scan(&n)
	return n > 0, err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return r.GetUserTx(ctx, nil, id)
}

// GetUserTx reads a user; tx may be nil.
func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	u, err := scanUser(r.q(tx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
	if errors.Is(err, ErrNotFound) {
		return u, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, err
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email)=lower(?)`, email))
}

// FetchUsers returns one page of users ordered by name.
func (r Repo) FetchUsers(ctx context.Context, f UserFilter) (UserPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 10
	}
	clauses := []string{"1=1"}
	var args []any
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		clauses = append(clauses, "(lower(name) LIKE ? OR lower(email) LIKE ?)")
		args = append(args, like, like)
	}
	if f.Role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, f.Role)
	}
	if f.Active != nil {
		clauses = append(clauses, "active=?")
		args = append(args, boolInt(*f.Active))
	}
	where := strings.Join(clauses, " AND ")

	page := UserPage{Data: []domain.User{}, Page: f.Page}
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM users WHERE `+where, args...).Scan(&page.Total); err != nil {
		return page, err
	}
	page.TotalPages = (page.Total + f.PageSize - 1) / f.PageSize

	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+` ORDER BY name ASC, id ASC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return page, err
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return page, err
		}
		page.Data = append(page.Data, u)
	}
	return page, rows.Err()
}
