package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"taskdesk/internal/domain"
)

const taskColumns = `id,project_id,title,description,status,assigned_to,created_by,priority,complexity,start_date,due_date,
difficulty_level,coins_reward,actions_json,submitted_by,submitted_at,approved_by,approved_at,created_at,updated_at,completed_at`

type TaskFilters struct {
	ProjectID  string
	Status     string
	AssignedTo string
	CreatedBy  string
	Limit      int
	Cursor     string
}

// TaskPatch holds the columns a partial update may touch. Nil fields are
// left unchanged; an empty AssignedTo, StartDate or DueDate clears the column.
type TaskPatch struct {
	Title           *string
	Description     *string
	Status          *domain.TaskStatus
	AssignedTo      *string
	Priority        *domain.Priority
	Complexity      *domain.Complexity
	StartDate       *string
	DueDate         *string
	DifficultyLevel *int
	CoinsReward     *int
	UpdatedAt       string
}

func encodeActions(actions []domain.Action) (string, error) {
	if actions == nil {
		actions = []domain.Action{}
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return "", fmt.Errorf("encode actions: %w", err)
	}
	return string(data), nil
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var description, assignedTo, startDate, dueDate sql.NullString
	var submittedBy, submittedAt, approvedBy, approvedAt, completedAt sql.NullString
	var actionsJSON string
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &description, &t.Status, &assignedTo, &t.CreatedBy, &t.Priority, &t.Complexity,
		&startDate, &dueDate, &t.DifficultyLevel, &t.CoinsReward, &actionsJSON,
		&submittedBy, &submittedAt, &approvedBy, &approvedAt, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Description = description.String
	t.AssignedTo = stringPtr(assignedTo)
	t.StartDate = stringPtr(startDate)
	t.DueDate = stringPtr(dueDate)
	t.SubmittedBy = stringPtr(submittedBy)
	t.SubmittedAt = stringPtr(submittedAt)
	t.ApprovedBy = stringPtr(approvedBy)
	t.ApprovedAt = stringPtr(approvedAt)
	t.CompletedAt = stringPtr(completedAt)
	if err := json.Unmarshal([]byte(actionsJSON), &t.Actions); err != nil {
		return t, fmt.Errorf("decode actions of task %s: %w", t.ID, err)
	}
	if t.Actions == nil {
		t.Actions = []domain.Action{}
	}
	return t, nil
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	actions, err := encodeActions(t.Actions)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Title, nullable(t.Description), t.Status, nullableStringPtr(t.AssignedTo), t.CreatedBy, t.Priority, t.Complexity,
		nullableStringPtr(t.StartDate), nullableStringPtr(t.DueDate), t.DifficultyLevel, t.CoinsReward, actions,
		nullableStringPtr(t.SubmittedBy), nullableStringPtr(t.SubmittedAt), nullableStringPtr(t.ApprovedBy), nullableStringPtr(t.ApprovedAt),
		t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

// UpdateTaskTx rewrites every mutable column of the task, including its
// serialized actions.
func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	actions, err := encodeActions(t.Actions)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, assigned_to=?, priority=?, complexity=?,
start_date=?, due_date=?, difficulty_level=?, coins_reward=?, actions_json=?, submitted_by=?, submitted_at=?, approved_by=?, approved_at=?,
updated_at=?, completed_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Status, nullableStringPtr(t.AssignedTo), t.Priority, t.Complexity,
		nullableStringPtr(t.StartDate), nullableStringPtr(t.DueDate), t.DifficultyLevel, t.CoinsReward, actions,
		nullableStringPtr(t.SubmittedBy), nullableStringPtr(t.SubmittedAt), nullableStringPtr(t.ApprovedBy), nullableStringPtr(t.ApprovedAt),
		t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) PatchTaskTx(ctx context.Context, tx *sql.Tx, id string, p TaskPatch) error {
	var (
		fields []string
		args   []any
	)
	set := func(col string, v any) {
		fields = append(fields, col+"=?")
		args = append(args, v)
	}
	if p.Title != nil {
		set("title", *p.Title)
	}
	if p.Description != nil {
		set("description", nullable(*p.Description))
	}
	if p.Status != nil {
		set("status", *p.Status)
	}
	if p.AssignedTo != nil {
		set("assigned_to", nullable(*p.AssignedTo))
	}
	if p.Priority != nil {
		set("priority", *p.Priority)
	}
	if p.Complexity != nil {
		set("complexity", *p.Complexity)
	}
	if p.StartDate != nil {
		set("start_date", nullable(*p.StartDate))
	}
	if p.DueDate != nil {
		set("due_date", nullable(*p.DueDate))
	}
	if p.DifficultyLevel != nil {
		set("difficulty_level", *p.DifficultyLevel)
	}
	if p.CoinsReward != nil {
		set("coins_reward", *p.CoinsReward)
	}
	if len(fields) == 0 {
		return nil
	}
	set("updated_at", p.UpdatedAt)
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ", ")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTask loads a task with its comments.
func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.getTask(ctx, nil, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return r.getTask(ctx, tx, id)
}

func (r Repo) getTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	q := r.q(tx)
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if errors.Is(err, ErrNotFound) {
		return t, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return t, err
	}
	t.Comments, err = r.listComments(ctx, q, id)
	return t, err
}

// ListTasks pages tasks newest first. The cursor is "created_at|id" of the
// last row of the previous page.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.Cursor != "" {
		createdAt, id, ok := strings.Cut(f.Cursor, "|")
		if !ok {
			return nil, fmt.Errorf("invalid cursor")
		}
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, createdAt, createdAt, id)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM tasks WHERE %s ORDER BY created_at DESC, id DESC LIMIT ?`,
		taskColumns, strings.Join(clauses, " AND ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		t.Comments = []domain.Comment{}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TaskCursor builds the ListTasks cursor that resumes after t.
func TaskCursor(t domain.Task) string {
	return t.CreatedAt + "|" + t.ID
}
