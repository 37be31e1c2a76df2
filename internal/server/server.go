package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"taskdesk/internal/blob"
	"taskdesk/internal/config"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/engine/auth"
	"taskdesk/internal/engine/completion"
	"taskdesk/internal/engine/steps"
	"taskdesk/internal/engine/workflow"
	"taskdesk/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid task status transition pending -> completed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"value\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the TaskDesk API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine.DB == nil {
		return nil, errors.New("engine database required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("TaskDesk API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerFiles(router, cfg.Engine)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerSteps(group, cfg.Engine)
	registerActions(group, cfg.Engine)
	registerApproval(group, cfg.Engine)
	registerComments(group, cfg.Engine)
	registerMessages(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var ve *completion.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", ve.Message, map[string]any{"field": ve.Field})
	}
	var te *workflow.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": te.From, "to": te.To})
	}
	msg := err.Error()
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, blob.ErrNotFound), errors.Is(err, steps.ErrActionNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, repo.ErrEmailTaken):
		return newAPIError(http.StatusConflict, "email_taken", msg, nil)
	case errors.Is(err, workflow.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case errors.Is(err, workflow.ErrActionsIncomplete):
		return newAPIError(http.StatusUnprocessableEntity, "actions_incomplete", msg, nil)
	case errors.Is(err, steps.ErrLastStep), errors.Is(err, steps.ErrStepOutOfRange):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, engine.ErrValidation):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", strings.TrimPrefix(msg, engine.ErrValidation.Error()+": "), nil)
	case errors.Is(err, engine.ErrFileTransfer):
		return newAPIError(http.StatusBadGateway, "file_transfer_failed", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// requirePermission passes when the token grants perm or the caller's role
// in the users table does.
func requirePermission(ctx context.Context, e engine.Engine, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	if auth.Grants(principal.Permissions, perm) {
		return nil
	}
	return e.Auth.Require(ctx, nil, principal.ActorID, perm)
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func operations(item *huma.PathItem) []*huma.Operation {
	var ops []*huma.Operation
	for _, op := range []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	} {
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>TaskDesk API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

// registerFiles serves stored blobs at the URLs the store hands out.
func registerFiles(r chi.Router, e engine.Engine) {
	r.Get("/files/*", func(w http.ResponseWriter, r *http.Request) {
		if e.Blobs.FS == nil {
			respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "file storage disabled", nil))
			return
		}
		p := chi.URLParam(r, "*")
		f, err := e.Blobs.Open(r.Context(), p)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		defer f.Close()
		if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		modTime := time.Time{}
		if st, err := f.Stat(); err == nil {
			modTime = st.ModTime()
		}
		http.ServeContent(w, r, path.Base(p), modTime, f)
	})
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	type projectPath struct {
		ProjectID string `path:"project_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, config.PermTaskRead); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status",
		Summary:     "Task counts by status",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectStatusResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, config.PermTaskRead); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountTasksByStatus(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectStatusResponse `json:"body"`
		}{Body: ProjectStatusResponse{ProjectID: p.ID, Status: p.Status, TaskCounts: counts}}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Search   string `query:"search"`
		Role     string `query:"role"`
		Active   string `query:"active" enum:"true,false"`
		Page     int    `query:"page" default:"1"`
		PageSize int    `query:"page_size"`
	}) (*struct {
		Body repo.UserPage `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, config.PermUserRead); err != nil {
			return nil, handleError(err)
		}
		f := repo.UserFilter{Search: input.Search, Role: input.Role, Page: input.Page, PageSize: input.PageSize}
		if input.Active != "" {
			active := input.Active == "true"
			f.Active = &active
		}
		page, err := e.FetchUsers(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body repo.UserPage `json:"body"`
		}{Body: page}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, config.PermUserManage); err != nil {
			return nil, handleError(err)
		}
		u, err := e.CreateUser(ctx, engine.UserInput{
			Name:      input.Body.Name,
			Email:     input.Body.Email,
			Phone:     input.Body.Phone,
			CPF:       input.Body.CPF,
			BirthDate: input.Body.BirthDate,
			Role:      domain.UserRole(input.Body.Role),
			Active:    input.Body.Active,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user",
		Method:      http.MethodPatch,
		Path:        "/users/{user_id}",
		Summary:     "Update user",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		UserID string            `path:"user_id"`
		Body   UpdateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, config.PermUserManage); err != nil {
			return nil, handleError(err)
		}
		patch := engine.UserPatch{
			Name:      input.Body.Name,
			Email:     input.Body.Email,
			Phone:     input.Body.Phone,
			CPF:       input.Body.CPF,
			BirthDate: input.Body.BirthDate,
			Active:    input.Body.Active,
		}
		if input.Body.Role != nil {
			role := domain.UserRole(*input.Body.Role)
			patch.Role = &role
		}
		u, err := e.UpdateUser(ctx, input.UserID, patch, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-user",
		Method:        http.MethodDelete,
		Path:          "/users/{user_id}",
		Summary:       "Delete user",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, config.PermUserManage); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteUser(ctx, input.UserID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if isNullRaw(rawBodyMap(ctx)["actions"]) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actions must be array", map[string]any{"field": "actions", "reason": "must be array"})
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, config.PermTaskCreate); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		actions, err := toActions(input.Body.Actions)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "actions"})
		}
		opts := engine.TaskCreateOptions{
			ProjectID:   input.ProjectID,
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			AssignedTo:  stringOrEmpty(input.Body.AssignedTo),
			Priority:    domain.Priority(stringOrEmpty(input.Body.Priority)),
			Complexity:  domain.Complexity(stringOrEmpty(input.Body.Complexity)),
			StartDate:   stringOrEmpty(input.Body.StartDate),
			DueDate:     stringOrEmpty(input.Body.DueDate),
			Actions:     actions,
			ActorID:     actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.DifficultyLevel != nil {
			opts.DifficultyLevel = *input.Body.DifficultyLevel
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Status     string `query:"status" enum:"pending,in_progress,waiting_approval,completed,blocked"`
		AssignedTo string `query:"assigned_to"`
		CreatedBy  string `query:"created_by"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, config.PermTaskRead); err != nil {
			return nil, handleError(err)
		}
		if input.Cursor != "" && !strings.Contains(input.Cursor, "|") {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			ProjectID:  input.ProjectID,
			Status:     input.Status,
			AssignedTo: input.AssignedTo,
			CreatedBy:  input.CreatedBy,
			Limit:      limit + 1,
			Cursor:     input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedTasks{}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = repo.TaskCursor(items[limit-1])
		}
		resp.Items = mapTasks(items)
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, config.PermTaskRead); err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task fields",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, config.PermTaskUpdate); err != nil {
			return nil, handleError(err)
		}
		opts := engine.TaskUpdateOptions{
			ID:              input.TaskID,
			Title:           input.Body.Title,
			Description:     input.Body.Description,
			AssignedTo:      input.Body.AssignedTo,
			StartDate:       input.Body.StartDate,
			DueDate:         input.Body.DueDate,
			DifficultyLevel: input.Body.DifficultyLevel,
			ActorID:         actorID,
		}
		if input.Body.Priority != nil {
			p := domain.Priority(*input.Body.Priority)
			opts.Priority = &p
		}
		if input.Body.Complexity != nil {
			c := domain.Complexity(*input.Body.Complexity)
			opts.Complexity = &c
		}
		t, err := e.UpdateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Set task status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string           `path:"task_id"`
		Body   SetStatusRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, config.PermTaskUpdate); err != nil {
			return nil, handleError(err)
		}
		t, err := e.SetStatus(ctx, input.TaskID, domain.TaskStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}

func registerSteps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-steps",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/steps",
		Summary:     "Task actions grouped by step",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body StepsResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, config.PermTaskRead); err != nil {
			return nil, handleError(err)
		}
		m, err := e.Steps(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StepsResponse `json:"body"`
		}{Body: stepsResponse(input.TaskID, m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-steps",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/steps",
		Summary:     "Replace task actions from a step grouping",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string           `path:"task_id"`
		Body   SaveStepsRequest `json:"body"`
	}) (*struct {
		Body StepsResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, config.PermTaskUpdate); err != nil {
			return nil, handleError(err)
		}
		m, err := toStepMap(input.Body.Steps)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "steps"})
		}
		t, err := e.SaveSteps(ctx, input.TaskID, m, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StepsResponse `json:"body"`
		}{Body: stepsResponse(t.ID, steps.Organize(t.Actions))}, nil
	})
}

func registerActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "complete-action",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/actions/{action_id}/complete",
		Summary:     "Complete an action",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskID   string                `path:"task_id"`
		ActionID string                `path:"action_id"`
		Body     CompleteActionRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, config.PermActionComplete); err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		idx := domain.ActionIndex(t.Actions, input.ActionID)
		if idx < 0 {
			return nil, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("action %s not found", input.ActionID), nil)
		}
		data, err := actionData(t.Actions[idx].Type, input.Body.Data)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "data"})
		}
		files, err := pendingFiles(input.Body.Files)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "files"})
		}
		updated, err := e.CompleteAction(ctx, engine.CompleteActionOptions{
			TaskID:   input.TaskID,
			ActionID: input.ActionID,
			Data:     data,
			Files:    files,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(updated)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "uncomplete-action",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/actions/{action_id}/uncomplete",
		Summary:     "Reopen a completed action",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID   string `path:"task_id"`
		ActionID string `path:"action_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, config.PermActionComplete); err != nil {
			return nil, handleError(err)
		}
		t, err := e.UncompleteAction(ctx, input.TaskID, input.ActionID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}

func registerApproval(api huma.API, e engine.Engine) {
	type taskPath struct {
		TaskID string `path:"task_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "submit-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/submit",
		Summary:     "Submit a task for approval",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, config.PermTaskSubmit); err != nil {
			return nil, handleError(err)
		}
		t, err := e.SubmitForApproval(ctx, input.TaskID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/approve",
		Summary:     "Approve a submitted task",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body ApproveResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Approve(ctx, input.TaskID, actorID)
		resp := ApproveResponse{TaskResponse: taskResponse(t)}
		switch {
		case errors.Is(err, engine.ErrFileTransfer):
			resp.Warnings = []string{err.Error()}
		case err != nil:
			return nil, handleError(err)
		}
		return &struct {
			Body ApproveResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/reject",
		Summary:     "Send a submitted task back",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string         `path:"task_id"`
		Body   *RejectRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reason := ""
		if input.Body != nil {
			reason = input.Body.Reason
		}
		t, err := e.Reject(ctx, input.TaskID, actorID, reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/comments",
		Summary:       "Comment on a task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string         `path:"task_id"`
		Body   CommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, config.PermCommentAdd); err != nil {
			return nil, handleError(err)
		}
		c, err := e.AddComment(ctx, input.TaskID, actorID, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})
}

func registerMessages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/messages",
		Summary:     "Project chat, oldest first",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body messageList `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, config.PermTaskRead); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListMessages(ctx, input.ProjectID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ChatMessage{}
		}
		return &struct {
			Body messageList `json:"body"`
		}{Body: messageList{Items: items}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"project,task,user"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, config.PermTaskRead); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilter{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp := WhoAmIResponse{ActorID: principal.ActorID, Permissions: principal.Permissions, Source: principal.Source}
		role, err := e.Auth.RoleOf(ctx, nil, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp.Role = string(role)
		if len(resp.Permissions) == 0 {
			if resp.Permissions, err = e.Auth.Permissions(ctx, nil, principal.ActorID); err != nil {
				return nil, handleError(err)
			}
		}
		if resp.Permissions == nil {
			resp.Permissions = []string{}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: resp}, nil
	})
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Permissions []string `json:"permissions,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, actor, nil, input.Body.Permissions, 12*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	return outer
}

func isNullRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && bytes.Equal(trimmed, []byte("null"))
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
