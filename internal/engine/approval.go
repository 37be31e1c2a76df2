package engine

import (
	"context"
	"errors"
	"fmt"
	"path"

	"taskdesk/internal/blob"
	"taskdesk/internal/config"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine/workflow"
	"taskdesk/internal/events"
	"taskdesk/internal/messaging"
	"taskdesk/internal/validation"
)

// ErrFileTransfer is returned by Approve when the task was approved but some
// of its files could not be copied into project storage.
var ErrFileTransfer = errors.New("file transfer failed")

// SubmitForApproval moves a task whose actions are all completed to
// waiting_approval and announces it in the project channel.
func (e Engine) SubmitForApproval(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	from := t.Status
	t, err = workflow.Submit(t, actorID, e.stamp())
	if err != nil {
		return t, err
	}
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.emit(ctx, tx, events.TaskSubmitted, t.ProjectID, "task", t.ID, actorID, events.EventPayload{
		"from_status": from,
		"to_status":   t.Status,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}

	if e.Messages != nil {
		taskID := t.ID
		msg := domain.ChatMessage{
			ID:          e.newID(),
			Type:        domain.MessageTaskSubmission,
			Text:        messaging.SubmissionText(t, actorID),
			TaskID:      &taskID,
			SubmittedBy: t.SubmittedBy,
			SubmittedAt: t.SubmittedAt,
			CreatedAt:   *t.SubmittedAt,
		}
		if err := e.Messages.PostSystemMessage(ctx, t.ProjectID, msg); err != nil {
			e.logger().Printf("WARNING: submission message for task %s not posted: %v", t.ID, err)
		}
	}
	return t, nil
}

// Approve completes a task awaiting approval. The status change is committed
// first; annotating the submission message and archiving files follow. A
// failed archive is reported with ErrFileTransfer alongside the approved task.
func (e Engine) Approve(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.Require(ctx, tx, actorID, config.PermTaskApprove); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	t, err = workflow.Approve(t, actorID, e.stamp())
	if err != nil {
		return t, err
	}
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.emit(ctx, tx, events.TaskApproved, t.ProjectID, "task", t.ID, actorID, events.EventPayload{
		"coins_reward": t.CoinsReward,
		"submitted_by": derefOr(t.SubmittedBy, nil),
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}

	e.annotateSubmission(ctx, t)
	if err := e.archiveFiles(ctx, t, actorID); err != nil {
		return t, err
	}
	return t, nil
}

func (e Engine) annotateSubmission(ctx context.Context, t domain.Task) {
	if e.Messages == nil {
		return
	}
	msg, err := e.Messages.FindSubmission(ctx, t.ProjectID, t.ID)
	if err != nil {
		e.logger().Printf("WARNING: approval of task %s not annotated: %v", t.ID, err)
		return
	}
	a := domain.ApprovalAnnotation{
		SubmittedBy: derefOr(msg.SubmittedBy, t.SubmittedBy),
		SubmittedAt: derefOr(msg.SubmittedAt, t.SubmittedAt),
		ApprovedBy:  derefOr(t.ApprovedBy, nil),
		ApprovedAt:  derefOr(t.ApprovedAt, nil),
	}
	if err := e.Messages.Annotate(ctx, msg.ID, a); err != nil {
		e.logger().Printf("WARNING: approval of task %s not annotated: %v", t.ID, err)
	}
}

// taskFile is one file referenced by a task action.
type taskFile struct {
	action domain.Action
	name   string
	url    string
	typ    string
	size   *int64
}

func collectFiles(t domain.Task) []taskFile {
	var files []taskFile
	for _, a := range t.Actions {
		for _, att := range a.Attachments {
			files = append(files, taskFile{action: a, name: att.Name, url: att.URL, typ: att.Type, size: att.Size})
		}
		for _, u := range a.Info().FileURLs {
			files = append(files, taskFile{action: a, name: path.Base(u), url: u, typ: "application"})
		}
	}
	return files
}

// archiveFiles copies every stored task file to the project area and records
// it. Files hosted elsewhere are skipped.
func (e Engine) archiveFiles(ctx context.Context, t domain.Task, actorID string) error {
	files := collectFiles(t)
	if len(files) == 0 || e.Blobs.FS == nil {
		return nil
	}
	var errs []error
	archived := 0
	for _, f := range files {
		src, ok := e.Blobs.HandleFromURL(f.url)
		if !ok {
			e.logger().Printf("skipping external file %s of task %s", f.url, t.ID)
			continue
		}
		dst, err := e.Blobs.Copy(ctx, src, blob.ProjectPath(t.ProjectID, t.ID, path.Base(src.Path())))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		u, err := e.Blobs.DownloadURL(ctx, dst)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		uploadedBy := derefOr(f.action.CompletedBy, nil)
		if uploadedBy == "" {
			uploadedBy = actorID
		}
		pf := domain.ProjectFile{
			ID:         e.newID(),
			ProjectID:  t.ProjectID,
			TaskID:     t.ID,
			ActionID:   f.action.ID,
			Name:       f.name,
			Path:       dst.Path(),
			URL:        u,
			Type:       f.typ,
			Size:       f.size,
			UploadedBy: uploadedBy,
			CreatedAt:  e.stamp(),
		}
		if err := e.Repo.InsertProjectFile(ctx, pf); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		archived++
	}
	if archived > 0 {
		if err := e.recordArchive(ctx, t, actorID, archived); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w for task %s: %w", ErrFileTransfer, t.ID, errors.Join(errs...))
	}
	return nil
}

func (e Engine) recordArchive(ctx context.Context, t domain.Task, actorID string, n int) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.emit(ctx, tx, events.TaskFilesArchived, t.ProjectID, "task", t.ID, actorID, events.EventPayload{"files": n}); err != nil {
		return err
	}
	return tx.Commit()
}

// Reject returns a task awaiting approval to pending. A non-empty reason is
// kept as a comment.
func (e Engine) Reject(ctx context.Context, taskID, actorID, reason string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.Require(ctx, tx, actorID, config.PermTaskApprove); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	now := e.stamp()
	t, err = workflow.Reject(t, now)
	if err != nil {
		return t, err
	}
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	payload := events.EventPayload{"to_status": t.Status}
	if body := validation.SanitizeInput(reason); body != "" {
		c := domain.Comment{ID: e.newID(), TaskID: t.ID, AuthorID: actorID, Text: body, CreatedAt: now}
		if err := e.Repo.InsertCommentTx(ctx, tx, c); err != nil {
			return t, err
		}
		t.Comments = append(t.Comments, c)
		payload["comment_id"] = c.ID
	}
	if err := e.emit(ctx, tx, events.TaskRejected, t.ProjectID, "task", t.ID, actorID, payload); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}
