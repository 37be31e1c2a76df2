package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"taskdesk/internal/domain"
)

const messageColumns = `id, project_id, sender_id, type, text, task_id, submitted_by, submitted_at, approval_json, created_at`

func scanMessage(row rowScanner) (domain.ChatMessage, error) {
	var m domain.ChatMessage
	var taskID, submittedBy, submittedAt, approval sql.NullString
	err := row.Scan(&m.ID, &m.ProjectID, &m.SenderID, &m.Type, &m.Text, &taskID, &submittedBy, &submittedAt, &approval, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.TaskID = stringPtr(taskID)
	m.SubmittedBy = stringPtr(submittedBy)
	m.SubmittedAt = stringPtr(submittedAt)
	if approval.Valid && approval.String != "" {
		var a domain.ApprovalAnnotation
		if err := json.Unmarshal([]byte(approval.String), &a); err != nil {
			return m, fmt.Errorf("decode approval of message %s: %w", m.ID, err)
		}
		m.Approval = &a
	}
	return m, nil
}

func (r Repo) InsertMessage(ctx context.Context, m domain.ChatMessage) error {
	var approval any
	if m.Approval != nil {
		data, err := json.Marshal(m.Approval)
		if err != nil {
			return err
		}
		approval = string(data)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO chat_messages(`+messageColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.ProjectID, m.SenderID, m.Type, m.Text, nullableStringPtr(m.TaskID), nullableStringPtr(m.SubmittedBy),
		nullableStringPtr(m.SubmittedAt), approval, m.CreatedAt)
	return err
}

// FindSubmission returns the latest task_submission message posted for a task.
func (r Repo) FindSubmission(ctx context.Context, projectID, taskID string) (domain.ChatMessage, error) {
	return scanMessage(r.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM chat_messages
WHERE project_id=? AND type=? AND task_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		projectID, domain.MessageTaskSubmission, taskID))
}

func (r Repo) SetMessageApproval(ctx context.Context, id string, a domain.ApprovalAnnotation) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE chat_messages SET approval_json=? WHERE id=?`, string(data), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMessages returns the newest messages of a project in chronological order.
func (r Repo) ListMessages(ctx context.Context, projectID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+messageColumns+` FROM (
SELECT *, rowid AS seq FROM chat_messages WHERE project_id=? ORDER BY created_at DESC, rowid DESC LIMIT ?
) ORDER BY created_at ASC, seq ASC`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ChatMessage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
