package domain

import "math"

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type TaskStatus string

const (
	StatusPending         TaskStatus = "pending"
	StatusInProgress      TaskStatus = "in_progress"
	StatusWaitingApproval TaskStatus = "waiting_approval"
	StatusCompleted       TaskStatus = "completed"
	StatusBlocked         TaskStatus = "blocked"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusWaitingApproval, StatusCompleted, StatusBlocked:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

func (c Complexity) Valid() bool {
	switch c {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return true
	}
	return false
}

const (
	MinDifficulty = 2
	MaxDifficulty = 9
)

type Task struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Status          TaskStatus `json:"status" enum:"pending,in_progress,waiting_approval,completed,blocked"`
	AssignedTo      *string    `json:"assigned_to,omitempty"`
	CreatedBy       string     `json:"created_by"`
	Priority        Priority   `json:"priority" enum:"low,medium,high,urgent"`
	Complexity      Complexity `json:"complexity" enum:"simple,moderate,complex"`
	StartDate       *string    `json:"start_date,omitempty" format:"date"`
	DueDate         *string    `json:"due_date,omitempty" format:"date"`
	DifficultyLevel int        `json:"difficulty_level" minimum:"2" maximum:"9"`
	CoinsReward     int        `json:"coins_reward"`
	Actions         []Action   `json:"actions"`
	Comments        []Comment  `json:"comments"`
	SubmittedBy     *string    `json:"submitted_by,omitempty"`
	SubmittedAt     *string    `json:"submitted_at,omitempty" format:"date-time"`
	ApprovedBy      *string    `json:"approved_by,omitempty"`
	ApprovedAt      *string    `json:"approved_at,omitempty" format:"date-time"`
	CreatedAt       string     `json:"created_at" format:"date-time"`
	UpdatedAt       string     `json:"updated_at" format:"date-time"`
	CompletedAt     *string    `json:"completed_at,omitempty" format:"date-time"`
}

// ActionIndex returns the index of the action with the given id, or -1.
// Task carries no methods so API types can embed it.
func ActionIndex(actions []Action, id string) int {
	for i, a := range actions {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// CoinsReward is round(difficulty × base × multiplier).
func CoinsReward(difficulty int, base, multiplier float64) int {
	return int(math.Round(float64(difficulty) * base * multiplier))
}

type Comment struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	AuthorID  string `json:"author_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type UserRole string

const (
	RoleAdmin    UserRole = "admin"
	RoleApprover UserRole = "approver"
	RoleMember   UserRole = "member"
)

type User struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone,omitempty"`
	CPF       string   `json:"cpf,omitempty"`
	BirthDate string   `json:"birth_date,omitempty" format:"date"`
	Role      UserRole `json:"role" enum:"admin,approver,member"`
	Active    bool     `json:"active"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	UpdatedAt string   `json:"updated_at" format:"date-time"`
}

type MessageType string

const (
	MessageText           MessageType = "text"
	MessageTaskSubmission MessageType = "task_submission"
)

type ChatMessage struct {
	ID          string              `json:"id"`
	ProjectID   string              `json:"project_id"`
	SenderID    string              `json:"sender_id"`
	Type        MessageType         `json:"type" enum:"text,task_submission"`
	Text        string              `json:"text"`
	TaskID      *string             `json:"task_id,omitempty"`
	SubmittedBy *string             `json:"submitted_by,omitempty"`
	SubmittedAt *string             `json:"submitted_at,omitempty" format:"date-time"`
	Approval    *ApprovalAnnotation `json:"approval,omitempty"`
	CreatedAt   string              `json:"created_at" format:"date-time"`
}

// ApprovalAnnotation is appended to a submission message once the task is approved.
type ApprovalAnnotation struct {
	SubmittedBy string `json:"submitted_by"`
	SubmittedAt string `json:"submitted_at" format:"date-time"`
	ApprovedBy  string `json:"approved_by"`
	ApprovedAt  string `json:"approved_at" format:"date-time"`
}

type ProjectFile struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	TaskID     string `json:"task_id"`
	ActionID   string `json:"action_id"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	URL        string `json:"url"`
	Type       string `json:"type"`
	Size       *int64 `json:"size,omitempty"`
	UploadedBy string `json:"uploaded_by"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
