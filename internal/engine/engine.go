package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskdesk/internal/blob"
	"taskdesk/internal/config"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine/auth"
	"taskdesk/internal/engine/steps"
	"taskdesk/internal/engine/workflow"
	"taskdesk/internal/events"
	"taskdesk/internal/messaging"
	"taskdesk/internal/repo"
	"taskdesk/internal/validation"
)

// ErrValidation marks user-correctable input errors.
var ErrValidation = errors.New("validation failed")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Blobs    blob.Store
	Messages messaging.Poster
	Auth     auth.Service
	Logger   *log.Logger
	Now      func() time.Time
	NewID    func() string
}

func New(db *sql.DB, cfg *config.Config, blobs blob.Store) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:       db,
		Repo:     r,
		Events:   events.Writer{},
		Config:   cfg,
		Blobs:    blobs,
		Messages: messaging.RepoChannel{Repo: r},
		Auth:     auth.Service{Repo: r, Config: cfg},
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) emit(ctx context.Context, tx *sql.Tx, evtType, projectID, kind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, evtType, projectID, kind, entityID, actorID, payload)
}

// InitProject creates a project and stores its config.
func (e Engine) InitProject(ctx context.Context, projectID, name, description, actorID string) (domain.Project, error) {
	if strings.TrimSpace(projectID) == "" {
		return domain.Project{}, invalid("project id is required")
	}
	if name == "" {
		name = projectID
	}
	cfg := e.Config
	if cfg == nil || cfg.Project.ID != projectID {
		cfg = config.Default(projectID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:          projectID,
		Name:        validation.SanitizeInput(name),
		Status:      "active",
		Description: validation.SanitizeInput(description),
		CreatedAt:   e.stamp(),
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, cfg); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.emit(ctx, tx, events.ProjectInit, p.ID, "project", p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID              string
	ProjectID       string
	Title           string
	Description     string
	AssignedTo      string
	Priority        domain.Priority
	Complexity      domain.Complexity
	StartDate       string
	DueDate         string
	DifficultyLevel int
	Actions         []domain.Action
	ActorID         string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if e.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	title := validation.SanitizeInput(opts.Title)
	if title == "" {
		return domain.Task{}, invalid("title is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, invalid("project is required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !opts.Priority.Valid() {
		return domain.Task{}, invalid("unknown priority %q", opts.Priority)
	}
	if opts.Complexity == "" {
		opts.Complexity = domain.ComplexitySimple
	}
	if !opts.Complexity.Valid() {
		return domain.Task{}, invalid("unknown complexity %q", opts.Complexity)
	}
	if opts.DifficultyLevel == 0 {
		opts.DifficultyLevel = domain.MinDifficulty
	}
	if err := checkDifficulty(opts.DifficultyLevel); err != nil {
		return domain.Task{}, err
	}
	if err := checkDates(opts.StartDate, opts.DueDate); err != nil {
		return domain.Task{}, err
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}
	fresh := make([]domain.Action, len(opts.Actions))
	for i, a := range opts.Actions {
		fresh[i] = a.Clone()
		fresh[i].MarkIncomplete()
	}
	actions, err := e.prepareActions(fresh)
	if err != nil {
		return domain.Task{}, err
	}

	id := opts.ID
	if id == "" {
		id = e.newID()
	}
	now := e.stamp()
	t := domain.Task{
		ID:              id,
		ProjectID:       opts.ProjectID,
		Title:           title,
		Description:     validation.SanitizeInput(opts.Description),
		Status:          domain.StatusPending,
		AssignedTo:      optionalString(opts.AssignedTo),
		CreatedBy:       opts.ActorID,
		Priority:        opts.Priority,
		Complexity:      opts.Complexity,
		StartDate:       optionalString(opts.StartDate),
		DueDate:         optionalString(opts.DueDate),
		DifficultyLevel: opts.DifficultyLevel,
		CoinsReward:     e.Config.Coins(opts.DifficultyLevel, opts.Complexity),
		Actions:         actions,
		Comments:        []domain.Comment{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.emit(ctx, tx, events.TaskCreated, t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{
		"title":        t.Title,
		"actions":      len(t.Actions),
		"steps":        steps.Count(t.Actions),
		"coins_reward": t.CoinsReward,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// prepareActions assigns missing ids, sanitizes texts, checks structure and
// compacts step numbers.
func (e Engine) prepareActions(in []domain.Action) ([]domain.Action, error) {
	seen := map[string]bool{}
	out := make([]domain.Action, 0, len(in))
	for _, a := range in {
		a = a.Clone()
		if a.ID == "" {
			a.ID = e.newID()
		}
		if seen[a.ID] {
			return nil, invalid("duplicate action id %s", a.ID)
		}
		seen[a.ID] = true
		a.Title = validation.SanitizeInput(a.Title)
		a.Description = validation.SanitizeInput(a.Description)
		if a.Title == "" {
			return nil, invalid("action %s: title is required", a.ID)
		}
		if a.Data == nil {
			d, err := domain.NewActionData(a.Type)
			if err != nil {
				return nil, invalid("action %s: %v", a.ID, err)
			}
			a.Data = d
		}
		if err := a.Validate(); err != nil {
			return nil, invalid("%v", err)
		}
		out = append(out, a)
	}
	normalized := steps.Normalize(out)
	if normalized == nil {
		normalized = []domain.Action{}
	}
	return normalized, nil
}

// TaskUpdateOptions holds a partial update. Nil fields are left unchanged.
type TaskUpdateOptions struct {
	ID              string
	Title           *string
	Description     *string
	AssignedTo      *string
	Priority        *domain.Priority
	Complexity      *domain.Complexity
	StartDate       *string
	DueDate         *string
	DifficultyLevel *int
	ActorID         string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	if e.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.ID)
	if err != nil {
		return t, err
	}
	if t.Status == domain.StatusCompleted {
		return t, invalid("completed tasks cannot be edited")
	}
	patch := repo.TaskPatch{UpdatedAt: e.stamp()}
	changed := []string{}
	if opts.Title != nil {
		title := validation.SanitizeInput(*opts.Title)
		if title == "" {
			return t, invalid("title is required")
		}
		patch.Title = &title
		changed = append(changed, "title")
	}
	if opts.Description != nil {
		desc := validation.SanitizeInput(*opts.Description)
		patch.Description = &desc
		changed = append(changed, "description")
	}
	if opts.AssignedTo != nil {
		patch.AssignedTo = opts.AssignedTo
		changed = append(changed, "assigned_to")
	}
	if opts.Priority != nil {
		if !opts.Priority.Valid() {
			return t, invalid("unknown priority %q", *opts.Priority)
		}
		patch.Priority = opts.Priority
		changed = append(changed, "priority")
	}
	start, due := derefOr(opts.StartDate, t.StartDate), derefOr(opts.DueDate, t.DueDate)
	if opts.StartDate != nil || opts.DueDate != nil {
		if err := checkDates(start, due); err != nil {
			return t, err
		}
	}
	if opts.StartDate != nil {
		patch.StartDate = opts.StartDate
		changed = append(changed, "start_date")
	}
	if opts.DueDate != nil {
		patch.DueDate = opts.DueDate
		changed = append(changed, "due_date")
	}
	difficulty, cx := t.DifficultyLevel, t.Complexity
	if opts.Complexity != nil {
		if !opts.Complexity.Valid() {
			return t, invalid("unknown complexity %q", *opts.Complexity)
		}
		cx = *opts.Complexity
		patch.Complexity = opts.Complexity
		changed = append(changed, "complexity")
	}
	if opts.DifficultyLevel != nil {
		if err := checkDifficulty(*opts.DifficultyLevel); err != nil {
			return t, err
		}
		difficulty = *opts.DifficultyLevel
		patch.DifficultyLevel = opts.DifficultyLevel
		changed = append(changed, "difficulty_level")
	}
	if opts.Complexity != nil || opts.DifficultyLevel != nil {
		coins := e.Config.Coins(difficulty, cx)
		patch.CoinsReward = &coins
	}
	if len(changed) == 0 {
		return t, nil
	}
	if err := e.Repo.PatchTaskTx(ctx, tx, t.ID, patch); err != nil {
		return t, err
	}
	if err := e.emit(ctx, tx, events.TaskUpdated, t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{"fields": changed}); err != nil {
		return t, err
	}
	updated, err := e.Repo.GetTaskTx(ctx, tx, t.ID)
	if err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return updated, nil
}

// SetStatus applies an authoring transition. Entering waiting_approval or
// completed goes through SubmitForApproval and Approve instead.
func (e Engine) SetStatus(ctx context.Context, taskID string, status domain.TaskStatus, actorID string) (domain.Task, error) {
	if !status.Valid() {
		return domain.Task{}, invalid("unknown status %q", status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	if t.Status == status {
		return t, nil
	}
	if status == domain.StatusWaitingApproval || status == domain.StatusCompleted {
		return t, fmt.Errorf("%w: use submit or approve", &workflow.TransitionError{From: t.Status, To: status})
	}
	if t.Status == domain.StatusWaitingApproval {
		return t, fmt.Errorf("%w: use reject", &workflow.TransitionError{From: t.Status, To: status})
	}
	if err := workflow.Transition(t.Status, status); err != nil {
		return t, err
	}
	from := t.Status
	t.Status = status
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.emit(ctx, tx, events.TaskStatus, t.ProjectID, "task", t.ID, actorID, events.EventPayload{
		"from_status": from,
		"to_status":   t.Status,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// AddComment appends a comment to a task.
func (e Engine) AddComment(ctx context.Context, taskID, actorID, text string) (domain.Comment, error) {
	body := validation.SanitizeInput(text)
	if body == "" {
		return domain.Comment{}, invalid("comment text is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{
		ID:        e.newID(),
		TaskID:    t.ID,
		AuthorID:  actorID,
		Text:      body,
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertCommentTx(ctx, tx, c); err != nil {
		return domain.Comment{}, err
	}
	if err := e.emit(ctx, tx, events.CommentAdded, t.ProjectID, "task", t.ID, actorID, events.EventPayload{"comment_id": c.ID}); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

func checkDifficulty(level int) error {
	if level < domain.MinDifficulty || level > domain.MaxDifficulty {
		return invalid("difficulty level must be between %d and %d", domain.MinDifficulty, domain.MaxDifficulty)
	}
	return nil
}

func checkDates(start, due string) error {
	if start != "" && !validation.IsValidDate(start) {
		return invalid("start date must be YYYY-MM-DD")
	}
	if due != "" && !validation.IsValidDate(due) {
		return invalid("due date must be YYYY-MM-DD")
	}
	if start != "" && due != "" && due < start {
		return invalid("due date is before start date")
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefOr(v *string, fallback *string) string {
	if v != nil {
		return *v
	}
	if fallback != nil {
		return *fallback
	}
	return ""
}
