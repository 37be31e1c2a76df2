package taskdesksdk

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal TaskDesk HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	ProjectID   string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no token is set. Servers accept it
	// only in dev mode.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		BasePath:  "v1",
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Action is a task action as returned by the API. Data keeps the raw
// type-specific payload.
type Action struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Completed   bool           `json:"completed"`
	CompletedAt string         `json:"completed_at,omitempty"`
	CompletedBy string         `json:"completed_by,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
}

type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

type Comment struct {
	ID        string `json:"id"`
	AuthorID  string `json:"author_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Task represents the API task model (partial).
type Task struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	Title           string    `json:"title"`
	Status          string    `json:"status"`
	AssignedTo      string    `json:"assigned_to,omitempty"`
	Priority        string    `json:"priority"`
	Complexity      string    `json:"complexity"`
	DifficultyLevel int       `json:"difficulty_level"`
	CoinsReward     int       `json:"coins_reward"`
	Actions         []Action  `json:"actions"`
	Comments        []Comment `json:"comments"`
	ApprovedBy      string    `json:"approved_by,omitempty"`
	Progress        Progress  `json:"progress"`
	CanSubmit       bool      `json:"can_submit"`
	// Warnings is only set by Approve, listing files that were not archived.
	Warnings []string `json:"warnings,omitempty"`
}

type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

// UserPage is one page of the user listing.
type UserPage struct {
	Data       []User `json:"data"`
	Total      int    `json:"total"`
	Page       int    `json:"page"`
	TotalPages int    `json:"total_pages"`
}

// File is a file attached to an action completion.
type File struct {
	Name    string
	Type    string
	Content []byte
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task in the client's project.
func (c *Client) CreateTask(ctx context.Context, title string, actions []Action) (Task, error) {
	if actions == nil {
		actions = []Action{}
	}
	body := map[string]any{
		"title":   title,
		"actions": actions,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.taskPath(id, ""), nil, &resp)
	return resp, err
}

// CompleteAction completes an action with the given data and files.
func (c *Client) CompleteAction(ctx context.Context, taskID, actionID string, data map[string]any, files []File) (Task, error) {
	if data == nil {
		data = map[string]any{}
	}
	body := map[string]any{"data": data}
	if len(files) > 0 {
		enc := make([]map[string]string, 0, len(files))
		for _, f := range files {
			enc = append(enc, map[string]string{
				"name":           f.Name,
				"type":           f.Type,
				"content_base64": base64.StdEncoding.EncodeToString(f.Content),
			})
		}
		body["files"] = enc
	}
	var resp Task
	endpoint := c.taskPath(taskID, fmt.Sprintf("actions/%s/complete", url.PathEscape(actionID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Submit sends a task for approval.
func (c *Client) Submit(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "submit"), map[string]any{}, &resp)
	return resp, err
}

// Approve approves a submitted task.
func (c *Client) Approve(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "approve"), map[string]any{}, &resp)
	return resp, err
}

// Reject sends a submitted task back to pending.
func (c *Client) Reject(ctx context.Context, taskID, reason string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "reject"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// ListUsers returns one page of users matching search.
func (c *Client) ListUsers(ctx context.Context, search string, page int) (UserPage, error) {
	q := url.Values{}
	if search != "" {
		q.Set("search", search)
	}
	if page > 0 {
		q.Set("page", fmt.Sprint(page))
	}
	endpoint := "users"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp UserPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	return fmt.Sprintf("projects/%s/%s", url.PathEscape(c.ProjectID), strings.TrimLeft(p, "/"))
}

func (c *Client) taskPath(taskID, p string) string {
	endpoint := "tasks/" + url.PathEscape(taskID)
	if p != "" {
		endpoint += "/" + p
	}
	return endpoint
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if bp := strings.Trim(c.BasePath, "/"); bp != "" {
		base += "/" + bp
	}
	return base
}
