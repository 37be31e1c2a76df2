// Package workflow is the task status state machine.
package workflow

import (
	"errors"
	"fmt"

	"taskdesk/internal/domain"
)

var (
	ErrInvalidTransition = errors.New("invalid task status transition")
	ErrActionsIncomplete = errors.New("all actions must be completed before submitting")
)

// TransitionError reports a refused status change.
type TransitionError struct {
	From domain.TaskStatus
	To   domain.TaskStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid task status transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Transition reports whether a task may move from one status to another.
func Transition(from, to domain.TaskStatus) error {
	switch from {
	case domain.StatusPending:
		if to == domain.StatusInProgress || to == domain.StatusWaitingApproval || to == domain.StatusBlocked {
			return nil
		}
	case domain.StatusInProgress:
		if to == domain.StatusPending || to == domain.StatusWaitingApproval || to == domain.StatusBlocked {
			return nil
		}
	case domain.StatusBlocked:
		if to == domain.StatusPending || to == domain.StatusInProgress {
			return nil
		}
	case domain.StatusWaitingApproval:
		if to == domain.StatusCompleted || to == domain.StatusPending {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}

// CanSubmit is true when the task has actions and every one is completed.
func CanSubmit(t domain.Task) bool {
	if len(t.Actions) == 0 {
		return false
	}
	for _, a := range t.Actions {
		if !a.Completed {
			return false
		}
	}
	return true
}

// Progress counts completed actions.
func Progress(t domain.Task) (done, total int) {
	for _, a := range t.Actions {
		if a.Completed {
			done++
		}
	}
	return done, len(t.Actions)
}

// Submit moves the task to waiting_approval.
func Submit(t domain.Task, by, at string) (domain.Task, error) {
	if err := Transition(t.Status, domain.StatusWaitingApproval); err != nil {
		return t, err
	}
	if !CanSubmit(t) {
		done, total := Progress(t)
		return t, fmt.Errorf("%w (%d of %d done)", ErrActionsIncomplete, done, total)
	}
	t.Status = domain.StatusWaitingApproval
	t.SubmittedBy = &by
	t.SubmittedAt = &at
	t.UpdatedAt = at
	return t, nil
}

// Approve completes a task awaiting approval. Role checks belong to the caller.
func Approve(t domain.Task, by, at string) (domain.Task, error) {
	if t.Status != domain.StatusWaitingApproval {
		return t, &TransitionError{From: t.Status, To: domain.StatusCompleted}
	}
	t.Status = domain.StatusCompleted
	t.ApprovedBy = &by
	t.ApprovedAt = &at
	t.CompletedAt = &at
	t.UpdatedAt = at
	return t, nil
}

// Reject sends a task awaiting approval back to pending.
func Reject(t domain.Task, at string) (domain.Task, error) {
	if t.Status != domain.StatusWaitingApproval {
		return t, &TransitionError{From: t.Status, To: domain.StatusPending}
	}
	t.Status = domain.StatusPending
	t.SubmittedBy = nil
	t.SubmittedAt = nil
	t.UpdatedAt = at
	return t, nil
}

// Locked reports whether action completion state is frozen.
func Locked(s domain.TaskStatus) bool {
	return s == domain.StatusWaitingApproval || s == domain.StatusCompleted
}
