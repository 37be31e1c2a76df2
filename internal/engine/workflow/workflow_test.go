package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdesk/internal/domain"
)

const ts = "2024-01-01T00:00:00Z"

func taskWith(status domain.TaskStatus, completed ...bool) domain.Task {
	t := domain.Task{ID: "t1", Status: status}
	for i, c := range completed {
		a := domain.Action{ID: string(rune('a' + i)), Type: domain.ActionText}
		if c {
			a.MarkCompleted("u1", ts)
		}
		t.Actions = append(t.Actions, a)
	}
	return t
}

func TestTransitionTable(t *testing.T) {
	allowed := map[domain.TaskStatus][]domain.TaskStatus{
		domain.StatusPending:         {domain.StatusInProgress, domain.StatusWaitingApproval, domain.StatusBlocked},
		domain.StatusInProgress:      {domain.StatusPending, domain.StatusWaitingApproval, domain.StatusBlocked},
		domain.StatusBlocked:         {domain.StatusPending, domain.StatusInProgress},
		domain.StatusWaitingApproval: {domain.StatusCompleted, domain.StatusPending},
		domain.StatusCompleted:       nil,
	}
	all := []domain.TaskStatus{
		domain.StatusPending, domain.StatusInProgress, domain.StatusWaitingApproval, domain.StatusCompleted, domain.StatusBlocked,
	}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			err := Transition(from, to)
			if want {
				assert.NoError(t, err, "%s -> %s", from, to)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", from, to)
			}
		}
	}
}

func TestSubmitRequiresAllActionsCompleted(t *testing.T) {
	task := taskWith(domain.StatusPending, true, false)
	assert.False(t, CanSubmit(task))
	_, err := Submit(task, "u1", ts)
	require.ErrorIs(t, err, ErrActionsIncomplete)

	task.Actions[1].MarkCompleted("u1", ts)
	assert.True(t, CanSubmit(task))
	out, err := Submit(task, "u1", ts)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingApproval, out.Status)
	require.NotNil(t, out.SubmittedBy)
	assert.Equal(t, "u1", *out.SubmittedBy)
	assert.Equal(t, domain.StatusPending, task.Status, "input task must not change")
}

func TestSubmitWithoutActionsIsRefused(t *testing.T) {
	_, err := Submit(taskWith(domain.StatusPending), "u1", ts)
	assert.ErrorIs(t, err, ErrActionsIncomplete)
}

func TestSubmitFromBlockedIsRefused(t *testing.T) {
	_, err := Submit(taskWith(domain.StatusBlocked, true), "u1", ts)
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, domain.StatusBlocked, te.From)
}

func TestApproveAndReject(t *testing.T) {
	waiting, err := Submit(taskWith(domain.StatusInProgress, true), "u1", ts)
	require.NoError(t, err)

	done, err := Approve(waiting, "boss", "2024-01-02T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, "2024-01-02T00:00:00Z", *done.CompletedAt)

	back, err := Reject(waiting, ts)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, back.Status)
	assert.Nil(t, back.SubmittedAt)

	_, err = Approve(back, "boss", ts)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = Reject(done, ts)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestProgressAndLocked(t *testing.T) {
	done, total := Progress(taskWith(domain.StatusPending, true, false, true))
	assert.Equal(t, 2, done)
	assert.Equal(t, 3, total)
	assert.True(t, Locked(domain.StatusWaitingApproval))
	assert.True(t, Locked(domain.StatusCompleted))
	assert.False(t, Locked(domain.StatusInProgress))
}
