package taskdesksdk

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCompleteActionEncodesFiles(t *testing.T) {
	var got struct {
		Data  map[string]any      `json:"data"`
		Files []map[string]string `json:"files"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/tasks/t1/actions/a%201/complete" && r.URL.Path != "/v1/tasks/t1/actions/a 1/complete" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"t1","status":"in_progress","progress":{"done":1,"total":2}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "taskdesk")
	c.BearerToken = "tok"
	task, err := c.CompleteAction(context.Background(), "t1", "a 1", nil, []File{{Name: "shot.png", Type: "image/png", Content: []byte("png")}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.Progress.Done != 1 || task.Progress.Total != 2 {
		t.Fatalf("unexpected progress %+v", task.Progress)
	}
	if got.Data == nil {
		t.Fatalf("expected empty data object")
	}
	if len(got.Files) != 1 || got.Files[0]["content_base64"] != base64.StdEncoding.EncodeToString([]byte("png")) {
		t.Fatalf("unexpected files %+v", got.Files)
	}
}

func TestListUsersQueryAndActorHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/users" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("search") != "ana" || r.URL.Query().Get("page") != "2" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("X-Actor-Id") != "tester" {
			t.Errorf("missing actor header")
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"u1","name":"Ana Souza","role":"approver","active":true}],"total":11,"page":2,"total_pages":2}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "taskdesk")
	c.ActorID = "tester"
	page, err := c.ListUsers(context.Background(), "ana", 2)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if page.Total != 11 || len(page.Data) != 1 || page.Data[0].Role != "approver" {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestAPIErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tasks/t1/approve" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"forbidden"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "taskdesk").Approve(context.Background(), "t1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 APIError, got %v", err)
	}
}
