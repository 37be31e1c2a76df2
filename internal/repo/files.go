package repo

import (
	"context"
	"database/sql"

	"taskdesk/internal/domain"
)

func (r Repo) InsertProjectFile(ctx context.Context, f domain.ProjectFile) error {
	var size any
	if f.Size != nil {
		size = *f.Size
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO project_files(id, project_id, task_id, action_id, name, path, url, type, size, uploaded_by, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		f.ID, f.ProjectID, f.TaskID, f.ActionID, f.Name, f.Path, f.URL, f.Type, size, f.UploadedBy, f.CreatedAt)
	return err
}

// ListProjectFiles returns archived files of a project, optionally narrowed to one task.
func (r Repo) ListProjectFiles(ctx context.Context, projectID, taskID string) ([]domain.ProjectFile, error) {
	query := `SELECT id, project_id, task_id, action_id, name, path, url, type, size, uploaded_by, created_at
FROM project_files WHERE project_id=?`
	args := []any{projectID}
	if taskID != "" {
		query += ` AND task_id=?`
		args = append(args, taskID)
	}
	query += ` ORDER BY created_at ASC, name ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ProjectFile{}
	for rows.Next() {
		var f domain.ProjectFile
		var size sql.NullInt64
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.TaskID, &f.ActionID, &f.Name, &f.Path, &f.URL, &f.Type, &size, &f.UploadedBy, &f.CreatedAt); err != nil {
			return nil, err
		}
		if size.Valid {
			n := size.Int64
			f.Size = &n
		}
		res = append(res, f)
	}
	return res, rows.Err()
}
