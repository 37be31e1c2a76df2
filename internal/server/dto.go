package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"taskdesk/internal/domain"
	"taskdesk/internal/engine/completion"
	"taskdesk/internal/engine/steps"
	"taskdesk/internal/engine/workflow"
)

// Request payloads

// ActionRequest is an action as clients send it. Data carries the
// type-specific fields, including step_number.
type ActionRequest struct {
	ID          string         `json:"id,omitempty"`
	Type        string         `json:"type" enum:"info,text,long_text,date,file_upload,document"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

type CreateTaskRequest struct {
	ID              *string         `json:"id,omitempty"`
	Title           string          `json:"title"`
	Description     *string         `json:"description,omitempty"`
	AssignedTo      *string         `json:"assigned_to,omitempty"`
	Priority        *string         `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Complexity      *string         `json:"complexity,omitempty" enum:"simple,moderate,complex"`
	StartDate       *string         `json:"start_date,omitempty"`
	DueDate         *string         `json:"due_date,omitempty"`
	DifficultyLevel *int            `json:"difficulty_level,omitempty"`
	Actions         []ActionRequest `json:"actions,omitempty"`
}

type UpdateTaskRequest struct {
	Title           *string `json:"title,omitempty"`
	Description     *string `json:"description,omitempty"`
	AssignedTo      *string `json:"assigned_to,omitempty"`
	Priority        *string `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Complexity      *string `json:"complexity,omitempty" enum:"simple,moderate,complex"`
	StartDate       *string `json:"start_date,omitempty"`
	DueDate         *string `json:"due_date,omitempty"`
	DifficultyLevel *int    `json:"difficulty_level,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status" enum:"pending,in_progress,waiting_approval,completed,blocked"`
}

type StepRequest struct {
	Step    int             `json:"step" minimum:"1"`
	Actions []ActionRequest `json:"actions"`
}

type SaveStepsRequest struct {
	Steps []StepRequest `json:"steps"`
}

// FileRequest is one file attached to a completion, content base64 encoded.
type FileRequest struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content_base64"`
}

type CompleteActionRequest struct {
	Data  map[string]any `json:"data,omitempty"`
	Files []FileRequest  `json:"files,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CommentRequest struct {
	Text string `json:"text"`
}

type CreateUserRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	CPF       string `json:"cpf,omitempty"`
	BirthDate string `json:"birth_date,omitempty"`
	Role      string `json:"role,omitempty" enum:"admin,approver,member"`
	Active    *bool  `json:"active,omitempty"`
}

type UpdateUserRequest struct {
	Name      *string `json:"name,omitempty"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	CPF       *string `json:"cpf,omitempty"`
	BirthDate *string `json:"birth_date,omitempty"`
	Role      *string `json:"role,omitempty" enum:"admin,approver,member"`
	Active    *bool   `json:"active,omitempty"`
}

// Response payloads

type ProgressResponse struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

type TaskResponse struct {
	domain.Task
	Progress  ProgressResponse `json:"progress"`
	CanSubmit bool             `json:"can_submit"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type StepResponse struct {
	Step    int             `json:"step"`
	Actions []domain.Action `json:"actions"`
}

type StepsResponse struct {
	TaskID string         `json:"task_id"`
	Steps  []StepResponse `json:"steps"`
}

type ProjectStatusResponse struct {
	ProjectID  string         `json:"project_id"`
	Status     string         `json:"status"`
	TaskCounts map[string]int `json:"task_counts"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type messageList struct {
	Items []domain.ChatMessage `json:"items"`
}

// ApproveResponse carries the approved task. Warnings lists files that
// could not be archived; the approval itself stands.
type ApproveResponse struct {
	TaskResponse
	Warnings []string `json:"warnings,omitempty"`
}

func taskResponse(t domain.Task) TaskResponse {
	if t.Actions == nil {
		t.Actions = []domain.Action{}
	}
	if t.Comments == nil {
		t.Comments = []domain.Comment{}
	}
	done, total := workflow.Progress(t)
	return TaskResponse{
		Task:      t,
		Progress:  ProgressResponse{Done: done, Total: total},
		CanSubmit: t.Status != domain.StatusWaitingApproval && t.Status != domain.StatusCompleted && workflow.CanSubmit(t),
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func stepsResponse(taskID string, m steps.Map) StepsResponse {
	resp := StepsResponse{TaskID: taskID, Steps: []StepResponse{}}
	for _, k := range steps.Order(m) {
		resp.Steps = append(resp.Steps, StepResponse{Step: k, Actions: m[k]})
	}
	return resp
}

// toAction routes the request through the domain decoder so data fields
// land in the typed payload for the action type.
func (r ActionRequest) toAction() (domain.Action, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return domain.Action{}, err
	}
	var a domain.Action
	if err := json.Unmarshal(raw, &a); err != nil {
		return domain.Action{}, err
	}
	return a, nil
}

func toActions(items []ActionRequest) ([]domain.Action, error) {
	out := make([]domain.Action, 0, len(items))
	for i, item := range items {
		a, err := item.toAction()
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func toStepMap(items []StepRequest) (steps.Map, error) {
	m := steps.Map{}
	for _, s := range items {
		actions, err := toActions(s.Actions)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", s.Step, err)
		}
		for _, a := range actions {
			a.StepNumber = s.Step
			m[s.Step] = append(m[s.Step], a)
		}
		if _, ok := m[s.Step]; !ok {
			m[s.Step] = []domain.Action{}
		}
	}
	return m, nil
}

// actionData decodes a completion payload for an action of type t.
func actionData(t domain.ActionType, data map[string]any) (domain.ActionData, error) {
	if data == nil {
		return nil, nil
	}
	a, err := ActionRequest{Type: string(t), Data: data}.toAction()
	if err != nil {
		return nil, err
	}
	return a.Data, nil
}

func pendingFiles(items []FileRequest) ([]completion.PendingFile, error) {
	out := make([]completion.PendingFile, 0, len(items))
	for i, f := range items {
		data, err := base64.StdEncoding.DecodeString(f.Content)
		if err != nil {
			return nil, fmt.Errorf("files[%d]: invalid base64 content", i)
		}
		out = append(out, completion.PendingFile{Name: f.Name, Type: f.Type, Data: data})
	}
	return out, nil
}
