package repo

import (
	"context"
	"database/sql"

	"taskdesk/internal/domain"
)

func (r Repo) InsertCommentTx(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_comments(id, task_id, author_id, text, created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.TaskID, c.AuthorID, c.Text, c.CreatedAt)
	return err
}

func (r Repo) ListComments(ctx context.Context, taskID string) ([]domain.Comment, error) {
	return r.listComments(ctx, r.DB, taskID)
}

func (r Repo) listComments(ctx context.Context, q querier, taskID string) ([]domain.Comment, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, task_id, author_id, text, created_at
FROM task_comments WHERE task_id=? ORDER BY created_at ASC, rowid ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Comment{}
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Text, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
