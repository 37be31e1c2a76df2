// Package messaging posts system messages to a project's chat channel.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskdesk/internal/domain"
	"taskdesk/internal/repo"
)

type Poster interface {
	PostSystemMessage(ctx context.Context, projectID string, msg domain.ChatMessage) error
	FindSubmission(ctx context.Context, projectID, taskID string) (domain.ChatMessage, error)
	Annotate(ctx context.Context, messageID string, a domain.ApprovalAnnotation) error
}

// RepoChannel keeps the chat in the chat_messages table.
type RepoChannel struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (c RepoChannel) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c RepoChannel) PostSystemMessage(ctx context.Context, projectID string, msg domain.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SenderID == "" {
		msg.SenderID = "system"
	}
	if msg.Type == "" {
		msg.Type = domain.MessageText
	}
	if msg.CreatedAt == "" {
		msg.CreatedAt = c.now().UTC().Format(time.RFC3339)
	}
	msg.ProjectID = projectID
	if err := c.Repo.InsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}

func (c RepoChannel) FindSubmission(ctx context.Context, projectID, taskID string) (domain.ChatMessage, error) {
	m, err := c.Repo.FindSubmission(ctx, projectID, taskID)
	if err != nil {
		return m, fmt.Errorf("submission message for task %s: %w", taskID, err)
	}
	return m, nil
}

func (c RepoChannel) Annotate(ctx context.Context, messageID string, a domain.ApprovalAnnotation) error {
	return c.Repo.SetMessageApproval(ctx, messageID, a)
}

// SubmissionText is the body of the message posted when a task is submitted.
func SubmissionText(t domain.Task, submitter string) string {
	return fmt.Sprintf("%s submitted task %q for approval", submitter, t.Title)
}
