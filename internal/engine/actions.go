package engine

import (
	"context"
	"fmt"

	"taskdesk/internal/blob"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine/completion"
	"taskdesk/internal/engine/steps"
	"taskdesk/internal/engine/workflow"
	"taskdesk/internal/events"
	"taskdesk/internal/repo"
)

// Steps returns the task's actions grouped by step.
func (e Engine) Steps(ctx context.Context, taskID string) (steps.Map, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return steps.Organize(t.Actions), nil
}

// SaveSteps replaces the task's actions with the editor's grouping,
// flattened in step order. Completion state and attachments always come
// from the stored task: an action keeps them when its id and type are
// unchanged, and starts incomplete otherwise. A completed action also keeps
// its stored data.
func (e Engine) SaveSteps(ctx context.Context, taskID string, m steps.Map, actorID string) (domain.Task, error) {
	actions, err := e.prepareActions(steps.Flatten(m, steps.Order(m)))
	if err != nil {
		return domain.Task{}, err
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
	if workflow.Locked(t.Status) {
		return t, invalid("steps of a %s task cannot be edited", t.Status)
	}
	t.Actions = carryCompletion(t.Actions, actions)
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.emit(ctx, tx, events.TaskStepsSaved, t.ProjectID, "task", t.ID, actorID, events.EventPayload{
		"actions": len(t.Actions),
		"steps":   steps.Count(t.Actions),
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// carryCompletion copies completion fields from stored onto edited, matching
// by id. Edited actions never bring their own completion.
func carryCompletion(stored, edited []domain.Action) []domain.Action {
	byID := make(map[string]domain.Action, len(stored))
	for _, a := range stored {
		byID[a.ID] = a
	}
	out := make([]domain.Action, 0, len(edited))
	for _, a := range edited {
		prev, ok := byID[a.ID]
		if !ok || prev.Type != a.Type {
			a.MarkIncomplete()
			a.Attachments = nil
			out = append(out, a)
			continue
		}
		kept := prev.Clone()
		a.Completed = kept.Completed
		a.CompletedAt = kept.CompletedAt
		a.CompletedBy = kept.CompletedBy
		a.Attachments = kept.Attachments
		if kept.Completed {
			a.Data = kept.Data
		}
		out = append(out, a)
	}
	return out
}

// CompleteActionOptions describe one completion. Data, when set, replaces
// the action's payload and must match its type.
type CompleteActionOptions struct {
	TaskID   string
	ActionID string
	Data     domain.ActionData
	Files    []completion.PendingFile
	ActorID  string
}

func (e Engine) completionFlow() completion.Flow {
	f := completion.Flow{
		Store:  e.Blobs,
		NewID:  e.newID,
		Logger: e.logger(),
	}
	if e.Blobs.FS == nil {
		f.Store = nil
	}
	if e.Config != nil {
		f.Limits = completion.Limits{MaxSizeMB: e.Config.Uploads.MaxSizeMB, AllowedTypes: e.Config.Uploads.AllowedTypes}
	}
	return f
}

// CompleteAction validates the action, uploads its files and marks it
// completed by the actor. Uploads run before the task row is rewritten;
// if the rewrite fails they are deleted again.
func (e Engine) CompleteAction(ctx context.Context, opts CompleteActionOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.TaskID)
	if err != nil {
		return t, err
	}
	if workflow.Locked(t.Status) {
		return t, invalid("actions of a %s task cannot change", t.Status)
	}
	idx := domain.ActionIndex(t.Actions, opts.ActionID)
	if idx < 0 {
		return t, fmt.Errorf("action %s: %w", opts.ActionID, repo.ErrNotFound)
	}
	a := t.Actions[idx].Clone()
	if opts.Data != nil {
		if opts.Data.ActionType() != a.Type {
			return t, invalid("action %s: %s data on %s action", a.ID, opts.Data.ActionType(), a.Type)
		}
		a.Data = opts.Data
	}
	prepared, err := e.completionFlow().Prepare(ctx, t.ID, a, opts.Files)
	if err != nil {
		return t, err
	}
	added := prepared.Attachments[len(a.Attachments):]

	updated, err := e.commitCompletion(ctx, opts, prepared)
	if err != nil {
		e.discardAttachments(ctx, added)
		return t, err
	}
	return updated, nil
}

func (e Engine) commitCompletion(ctx context.Context, opts CompleteActionOptions, prepared domain.Action) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return t, err
	}
	if workflow.Locked(t.Status) {
		return t, invalid("actions of a %s task cannot change", t.Status)
	}
	idx := domain.ActionIndex(t.Actions, opts.ActionID)
	if idx < 0 {
		return t, fmt.Errorf("action %s: %w", opts.ActionID, repo.ErrNotFound)
	}
	current := t.Actions[idx]
	if current.Completed {
		prepared.Completed = true
		prepared.CompletedAt = current.CompletedAt
		prepared.CompletedBy = current.CompletedBy
	} else {
		prepared.MarkCompleted(opts.ActorID, e.stamp())
	}
	prepared.StepNumber = current.StepNumber
	t.Actions[idx] = prepared
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	done, total := workflow.Progress(t)
	if err := e.emit(ctx, tx, events.ActionCompleted, t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{
		"action_id":   prepared.ID,
		"attachments": len(opts.Files),
		"done":        done,
		"total":       total,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// UncompleteAction clears the completion fields of one action.
func (e Engine) UncompleteAction(ctx context.Context, taskID, actionID, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	if workflow.Locked(t.Status) {
		return t, invalid("actions of a %s task cannot change", t.Status)
	}
	idx := domain.ActionIndex(t.Actions, actionID)
	if idx < 0 {
		return t, fmt.Errorf("action %s: %w", actionID, repo.ErrNotFound)
	}
	if !t.Actions[idx].Completed {
		return t, nil
	}
	t.Actions[idx].MarkIncomplete()
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.emit(ctx, tx, events.ActionUncompleted, t.ProjectID, "task", t.ID, actorID, events.EventPayload{"action_id": actionID}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

func (e Engine) discardAttachments(ctx context.Context, atts []domain.Attachment) {
	ctx = context.WithoutCancel(ctx)
	for _, att := range atts {
		h, ok := e.Blobs.HandleFromURL(att.URL)
		if !ok {
			continue
		}
		if err := e.Blobs.Delete(ctx, h); err != nil {
			e.logger().Printf("WARNING: orphaned upload %s: %v", h, err)
		}
	}
}

var _ completion.Storage = blob.Store{}
