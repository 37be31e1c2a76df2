package engine_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"taskdesk/internal/blob"
	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/engine/auth"
	"taskdesk/internal/engine/completion"
	"taskdesk/internal/engine/steps"
	"taskdesk/internal/engine/workflow"
	"taskdesk/internal/migrate"
	"taskdesk/internal/repo"
)

const fixedNow = "2024-01-01T00:00:00Z"

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Approver domain.User
	Member   domain.User
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg, blob.NewMemory("http://files.test"))
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "proj-1", "Project One", "test", "admin"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	if _, err := eng.EnsureAdmin(ctx, "admin", ""); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	approver, err := eng.CreateUser(ctx, engine.UserInput{Name: "Ana Souza", Email: "ana@example.com", Role: domain.RoleApprover}, "admin")
	if err != nil {
		t.Fatalf("create approver: %v", err)
	}
	member, err := eng.CreateUser(ctx, engine.UserInput{Name: "Bruno Lima", Email: "bruno@example.com", Role: domain.RoleMember}, "admin")
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Approver: approver, Member: member}
}

func (env testEnv) newTask(t *testing.T, actions ...domain.Action) domain.Task {
	t.Helper()
	if len(actions) == 0 {
		actions = []domain.Action{
			{Type: domain.ActionText, Title: "Write summary", Description: "One paragraph", StepNumber: 1, Data: domain.TextData{}},
			{Type: domain.ActionInfo, Title: "Read guide", StepNumber: 2, Data: domain.InfoData{InfoTitle: "Guide", InfoDescription: "Read it"}},
		}
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:       "proj-1",
		Title:           "Onboarding",
		DifficultyLevel: 5,
		Complexity:      domain.ComplexityModerate,
		Actions:         actions,
		ActorID:         "admin",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (env testEnv) completeAll(t *testing.T, task domain.Task) domain.Task {
	t.Helper()
	for _, a := range task.Actions {
		var err error
		task, err = env.Engine.CompleteAction(env.Ctx, engine.CompleteActionOptions{TaskID: task.ID, ActionID: a.ID, ActorID: env.Member.ID})
		if err != nil {
			t.Fatalf("complete %s: %v", a.Title, err)
		}
	}
	return task
}

func TestCreateTaskComputesCoinsAndSteps(t *testing.T) {
	env := newTestEnv(t)
	task := env.newTask(t)
	if task.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", task.Status)
	}
	if task.CoinsReward != 75 {
		t.Fatalf("expected 75 coins, got %d", task.CoinsReward)
	}
	if len(task.Actions) != 2 || task.Actions[0].ID == "" || task.Actions[1].StepNumber != 2 {
		t.Fatalf("unexpected actions: %+v", task.Actions)
	}
	stored, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if stored.Actions[1].Info().InfoTitle != "Guide" {
		t.Fatalf("info payload not persisted: %+v", stored.Actions[1])
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]engine.TaskCreateOptions{
		"blank title":      {ProjectID: "proj-1", Title: "  "},
		"difficulty high":  {ProjectID: "proj-1", Title: "x", DifficultyLevel: 10},
		"difficulty low":   {ProjectID: "proj-1", Title: "x", DifficultyLevel: 1},
		"bad due date":     {ProjectID: "proj-1", Title: "x", DueDate: "2024-02-30"},
		"due before start": {ProjectID: "proj-1", Title: "x", StartDate: "2024-03-01", DueDate: "2024-02-01"},
		"bad priority":     {ProjectID: "proj-1", Title: "x", Priority: "whenever"},
		"untitled action":  {ProjectID: "proj-1", Title: "x", Actions: []domain.Action{{Type: domain.ActionText}}},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.Engine.CreateTask(env.Ctx, opts)
			if !errors.Is(err, engine.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "missing", Title: "x"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateTaskRecomputesCoins(t *testing.T) {
	env := newTestEnv(t)
	task := env.newTask(t)
	level := 9
	cx := domain.ComplexityComplex
	title := "Onboarding v2"
	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, DifficultyLevel: &level, Complexity: &cx, Title: &title, ActorID: "admin",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.CoinsReward != 180 || updated.Title != title {
		t.Fatalf("unexpected task: coins=%d title=%s", updated.CoinsReward, updated.Title)
	}
	if updated.Status != task.Status || len(updated.Actions) != 2 {
		t.Fatalf("update touched unrelated fields")
	}
}

func TestSetStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	task := env.newTask(t)
	task, err := env.Engine.SetStatus(env.Ctx, task.ID, domain.StatusInProgress, "admin")
	if err != nil || task.Status != domain.StatusInProgress {
		t.Fatalf("to in_progress: %v", err)
	}
	task, err = env.Engine.SetStatus(env.Ctx, task.ID, domain.StatusBlocked, "admin")
	if err != nil || task.Status != domain.StatusBlocked {
		t.Fatalf("to blocked: %v", err)
	}
	_, err = env.Engine.SetStatus(env.Ctx, task.ID, domain.StatusCompleted, "admin")
	if !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("expected transition error, got %v", err)
	}
	_, err = env.Engine.SetStatus(env.Ctx, task.ID, domain.StatusWaitingApproval, "admin")
	if !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("expected submit to be required, got %v", err)
	}
}

func TestSubmitRequiresCompletedActions(t *testing.T) {
	env := newTestEnv(t)
	task := env.newTask(t)
	_, err := env.Engine.SubmitForApproval(env.Ctx, task.ID, env.Member.ID)
	if !errors.Is(err, workflow.ErrActionsIncomplete) {
		t.Fatalf("expected incomplete error, got %v", err)
	}
	env.completeAll(t, task)
	task, err = env.Engine.SubmitForApproval(env.Ctx, task.ID, env.Member.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if task.Status != domain.StatusWaitingApproval || task.SubmittedBy == nil || *task.SubmittedBy != env.Member.ID {
		t.Fatalf("unexpected task after submit: %+v", task)
	}
	msg, err := env.Engine.Repo.FindSubmission(env.Ctx, "proj-1", task.ID)
	if err != nil {
		t.Fatalf("find submission: %v", err)
	}
	if msg.Type != domain.MessageTaskSubmission || msg.SubmittedAt == nil || *msg.SubmittedAt != fixedNow {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestCompleteActionStampsCompletion(t *testing.T) {
	env := newTestEnv(t)
	task := env.newTask(t)
	task, err := env.Engine.CompleteAction(env.Ctx, engine.CompleteActionOptions{
		TaskID:   task.ID,
		ActionID: task.Actions[0].ID,
		Data:     domain.TextData{Value: "done"},
		ActorID:  env.Member.ID,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	a := task.Actions[0]
	if !a.Completed || a.CompletedAt == nil || *a.CompletedAt != fixedNow || a.CompletedBy == nil || *a.CompletedBy != env.Member.ID {
		t.Fatalf("completion fields not stamped: %+v", a)
	}
	if a.Data.(domain.TextData).Value != "done" {
		t.Fatalf("data not merged")
	}

	task, err = env.Engine.UncompleteAction(env.Ctx, task.ID, a.ID, env.Member.ID)
	if err != nil {
		t.Fatalf("uncomplete: %v", err)
	}
	a = task.Actions[0]
	if a.Completed || a.CompletedAt != nil || a.CompletedBy != nil {
		t.Fatalf("completion fields not cleared: %+v", a)
	}
}

func TestCompleteActionValidationFailure(t *testing.T) {
	env := newTestEnv(t)
	task := env.newTask(t, domain.Action{Type: domain.ActionText, Title: "No description", Data: domain.TextData{}})
	_, err := env.Engine.CompleteAction(env.Ctx, engine.CompleteActionOptions{TaskID: task.ID, ActionID: task.Actions[0].ID, ActorID: env.Member.ID})
	var ve *completion.ValidationError
	if !errors.As(err, &ve) || ve.Field != "description" {
		t.Fatalf("expected description error, got %v", err)
	}
	stored, _ := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if stored.Actions[0].Completed {
		t.Fatalf("action must stay incomplete")
	}
	_, err = env.Engine.CompleteAction(env.Ctx, engine.CompleteActionOptions{TaskID: task.ID, ActionID: "nope", ActorID: env.Member.ID})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompleteActionUploadsFiles(t *testing.T) {
	env := newTestEnv(t)
	task := env.newTask(t, domain.Action{Type: domain.ActionFileUpload, Title: "Upload contract", Description: "Signed PDF", Data: domain.FileUploadData{}})
	task, err := env.Engine.CompleteAction(env.Ctx, engine.CompleteActionOptions{
		TaskID:   task.ID,
		ActionID: task.Actions[0].ID,
		Files:    []completion.PendingFile{{Name: "contract.pdf", Type: "application/pdf", Data: []byte("%PDF-1.4")}},
		ActorID:  env.Member.ID,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	atts := task.Actions[0].Attachments
	if len(atts) != 1 || atts[0].Name != "contract.pdf" || atts[0].Type != "application" {
		t.Fatalf("unexpected attachments: %+v", atts)
	}
	h, ok := env.Engine.Blobs.HandleFromURL(atts[0].URL)
	if !ok || !strings.HasPrefix(h.Path(), "tasks/"+task.ID+"/actions/") {
		t.Fatalf("unexpected url %s", atts[0].URL)
	}
	if exists, _ := afero.Exists(env.Engine.Blobs.FS, h.Path()); !exists {
		t.Fatalf("blob %s not written", h)
	}

	_, err = env.Engine.CompleteAction(env.Ctx, engine.CompleteActionOptions{
		TaskID:   task.ID,
		ActionID: task.Actions[0].ID,
		Files:    []completion.PendingFile{{Name: "run.exe", Type: "application/x-msdownload", Data: []byte("MZ")}},
		ActorID:  env.Member.ID,
	})
	var ve *completion.ValidationError
	if !errors.As(err, &ve) || ve.Field != "files" {
		t.Fatalf("expected file type rejection, got %v", err)
	}
}

func TestLockedTaskRefusesActionChanges(t *testing.T) {
	env := newTestEnv(t)
	task := env.completeAll(t, env.newTask(t))
	if _, err := env.Engine.SubmitForApproval(env.Ctx, task.ID, env.Member.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err := env.Engine.UncompleteAction(env.Ctx, task.ID, task.Actions[0].ID, env.Member.ID)
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("expected locked error, got %v", err)
	}
	_, err = env.Engine.SaveSteps(env.Ctx, task.ID, steps.Organize(task.Actions), "admin")
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("expected locked steps, got %v", err)
	}
}

func TestApproveRequiresPermissionAndArchivesFiles(t *testing.T) {
	env := newTestEnv(t)
	task := env.newTask(t, domain.Action{Type: domain.ActionFileUpload, Title: "Upload photo", Description: "Site photo", Data: domain.FileUploadData{}})
	task, err := env.Engine.CompleteAction(env.Ctx, engine.CompleteActionOptions{
		TaskID:   task.ID,
		ActionID: task.Actions[0].ID,
		Files:    []completion.PendingFile{{Name: "site.png", Type: "image/png", Data: []byte("png")}},
		ActorID:  env.Member.ID,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := env.Engine.SubmitForApproval(env.Ctx, task.ID, env.Member.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = env.Engine.Approve(env.Ctx, task.ID, env.Member.ID)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) || fe.Permission != config.PermTaskApprove {
		t.Fatalf("expected forbidden, got %v", err)
	}

	task, err = env.Engine.Approve(env.Ctx, task.ID, env.Approver.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if task.Status != domain.StatusCompleted || task.ApprovedBy == nil || *task.ApprovedBy != env.Approver.ID || task.CompletedAt == nil {
		t.Fatalf("unexpected approved task: %+v", task)
	}
	msg, err := env.Engine.Repo.FindSubmission(env.Ctx, "proj-1", task.ID)
	if err != nil {
		t.Fatalf("find submission: %v", err)
	}
	if msg.Approval == nil || msg.Approval.ApprovedBy != env.Approver.ID || msg.Approval.SubmittedBy != env.Member.ID {
		t.Fatalf("submission not annotated: %+v", msg.Approval)
	}
	files, err := env.Engine.Repo.ListProjectFiles(env.Ctx, "proj-1", task.ID)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 1 || !strings.HasPrefix(files[0].Path, "projects/proj-1/tasks/"+task.ID+"/") || files[0].UploadedBy != env.Member.ID {
		t.Fatalf("unexpected project files: %+v", files)
	}
	if exists, _ := afero.Exists(env.Engine.Blobs.FS, files[0].Path); !exists {
		t.Fatalf("archived blob missing")
	}

	_, err = env.Engine.Approve(env.Ctx, task.ID, env.Approver.ID)
	if !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("expected second approve to fail, got %v", err)
	}
}

func TestRejectReturnsToPending(t *testing.T) {
	env := newTestEnv(t)
	task := env.completeAll(t, env.newTask(t))
	if _, err := env.Engine.SubmitForApproval(env.Ctx, task.ID, env.Member.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	task, err := env.Engine.Reject(env.Ctx, task.ID, env.Approver.ID, "Missing details")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if task.Status != domain.StatusPending || task.SubmittedBy != nil {
		t.Fatalf("unexpected task after reject: %+v", task)
	}
	if len(task.Comments) != 1 || task.Comments[0].Text != "Missing details" {
		t.Fatalf("reason not kept: %+v", task.Comments)
	}
	if _, err := env.Engine.Reject(env.Ctx, task.ID, env.Approver.ID, ""); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("expected reject of pending task to fail, got %v", err)
	}
}

func TestSaveStepsRenumbers(t *testing.T) {
	env := newTestEnv(t)
	task := env.newTask(t)
	ed, err := steps.NewEditor(task.Actions).RemoveStep(1)
	if err != nil {
		t.Fatalf("remove step: %v", err)
	}
	ed = ed.AddStep()
	ed, err = ed.AddAction(2, domain.Action{Type: domain.ActionDate, Title: "Pick date", Data: domain.DateData{}})
	if err != nil {
		t.Fatalf("add action: %v", err)
	}
	saved, err := env.Engine.SaveSteps(env.Ctx, task.ID, ed.Steps, "admin")
	if err != nil {
		t.Fatalf("save steps: %v", err)
	}
	if len(saved.Actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(saved.Actions))
	}
	if saved.Actions[0].Title != "Read guide" || saved.Actions[0].StepNumber != 1 {
		t.Fatalf("unexpected first action: %+v", saved.Actions[0])
	}
	if saved.Actions[1].ID == "" || saved.Actions[1].StepNumber != 2 {
		t.Fatalf("new action not placed in step 2: %+v", saved.Actions[1])
	}
}

func TestSaveStepsKeepsStoredCompletion(t *testing.T) {
	env := newTestEnv(t)
	task := env.newTask(t)
	textID, infoID := task.Actions[0].ID, task.Actions[1].ID
	task, err := env.Engine.CompleteAction(env.Ctx, engine.CompleteActionOptions{
		TaskID:   task.ID,
		ActionID: textID,
		Data:     domain.TextData{Value: "Done"},
		ActorID:  env.Member.ID,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Merge both actions into one step, drop the text value and forge a
	// completion on the info action.
	edited := make([]domain.Action, 0, len(task.Actions))
	for _, a := range task.Actions {
		a = a.Clone()
		a.StepNumber = 1
		a.Attachments = nil
		if a.ID == textID {
			a.MarkIncomplete()
			a.Data = domain.TextData{}
		} else {
			a.MarkCompleted("intruder", fixedNow)
		}
		edited = append(edited, a)
	}
	extra := domain.Action{ID: "new-one", Type: domain.ActionText, Title: "Extra", Data: domain.TextData{Value: "forged"}}
	extra.MarkCompleted("intruder", fixedNow)
	edited = append(edited, extra)
	saved, err := env.Engine.SaveSteps(env.Ctx, task.ID, steps.Organize(edited), "admin")
	if err != nil {
		t.Fatalf("save steps: %v", err)
	}
	if steps.Count(saved.Actions) != 1 {
		t.Fatalf("expected a single step, got %d", steps.Count(saved.Actions))
	}
	text := saved.Actions[domain.ActionIndex(saved.Actions, textID)]
	if !text.Completed || text.CompletedBy == nil || *text.CompletedBy != env.Member.ID {
		t.Fatalf("completion lost on re-step: %+v", text)
	}
	if text.Data.(domain.TextData).Value != "Done" {
		t.Fatalf("completed value lost: %+v", text.Data)
	}
	info := saved.Actions[domain.ActionIndex(saved.Actions, infoID)]
	if info.Completed || info.CompletedAt != nil || info.CompletedBy != nil {
		t.Fatalf("forged completion accepted: %+v", info)
	}
	extra = saved.Actions[domain.ActionIndex(saved.Actions, "new-one")]
	if extra.Completed || extra.CompletedBy != nil {
		t.Fatalf("new action must start incomplete: %+v", extra)
	}
}

func TestAddComment(t *testing.T) {
	env := newTestEnv(t)
	task := env.newTask(t)
	c, err := env.Engine.AddComment(env.Ctx, task.ID, env.Member.ID, " <b>ok</b> ")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if c.Text != "&lt;b&gt;ok&lt;&#x2F;b&gt;" {
		t.Fatalf("comment not sanitized: %q", c.Text)
	}
	if _, err := env.Engine.AddComment(env.Ctx, task.ID, env.Member.ID, "   "); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("expected empty comment rejection, got %v", err)
	}
	stored, _ := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if len(stored.Comments) != 1 {
		t.Fatalf("expected stored comment")
	}
}

func TestUserLifecycle(t *testing.T) {
	env := newTestEnv(t)
	bad := map[string]engine.UserInput{
		"single name":   {Name: "Carla", Email: "carla@example.com"},
		"bad email":     {Name: "Carla Dias", Email: "carla@"},
		"underage":      {Name: "Carla Dias", Email: "carla@example.com", BirthDate: "2010-05-01"},
		"bad cpf":       {Name: "Carla Dias", Email: "carla@example.com", CPF: "111.111.111-11"},
		"unknown role":  {Name: "Carla Dias", Email: "carla@example.com", Role: "owner"},
		"bad birthdate": {Name: "Carla Dias", Email: "carla@example.com", BirthDate: "1990-13-01"},
	}
	for name, in := range bad {
		t.Run(name, func(t *testing.T) {
			if _, err := env.Engine.CreateUser(env.Ctx, in, "admin"); !errors.Is(err, engine.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	u, err := env.Engine.CreateUser(env.Ctx, engine.UserInput{
		Name: "Carla  Dias", Email: "Carla@Example.com", CPF: "111.444.777-35", BirthDate: "1990-05-01",
	}, "admin")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Name != "Carla Dias" || u.Email != "carla@example.com" || u.Role != domain.RoleMember || !u.Active {
		t.Fatalf("unexpected user: %+v", u)
	}
	if _, err := env.Engine.CreateUser(env.Ctx, engine.UserInput{Name: "Carla Outra", Email: "carla@example.com"}, "admin"); !errors.Is(err, repo.ErrEmailTaken) {
		t.Fatalf("expected duplicate email, got %v", err)
	}

	page, err := env.Engine.FetchUsers(env.Ctx, repo.UserFilter{Search: "carla"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if page.Total != 1 || page.TotalPages != 1 || page.Data[0].ID != u.ID {
		t.Fatalf("unexpected page: %+v", page)
	}
	page, err = env.Engine.FetchUsers(env.Ctx, repo.UserFilter{PageSize: 2, Page: 2})
	if err != nil {
		t.Fatalf("fetch page 2: %v", err)
	}
	if page.Total != 4 || page.TotalPages != 2 || len(page.Data) != 2 {
		t.Fatalf("unexpected paging: total=%d pages=%d len=%d", page.Total, page.TotalPages, len(page.Data))
	}

	role := domain.RoleApprover
	u, err = env.Engine.UpdateUser(env.Ctx, u.ID, engine.UserPatch{Role: &role}, "admin")
	if err != nil || u.Role != domain.RoleApprover {
		t.Fatalf("update: %v", err)
	}
	if err := env.Engine.DeleteUser(env.Ctx, u.ID, "admin"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetUser(env.Ctx, u.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected deleted user to be gone, got %v", err)
	}
	if err := env.Engine.DeleteUser(env.Ctx, "admin", "admin"); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("expected last admin protection, got %v", err)
	}
}

type failingPoster struct{}

func (failingPoster) PostSystemMessage(context.Context, string, domain.ChatMessage) error {
	return errors.New("channel down")
}

func (failingPoster) FindSubmission(context.Context, string, string) (domain.ChatMessage, error) {
	return domain.ChatMessage{}, errors.New("channel down")
}

func (failingPoster) Annotate(context.Context, string, domain.ApprovalAnnotation) error {
	return errors.New("channel down")
}

func TestMessagingFailureDoesNotBlockWorkflow(t *testing.T) {
	env := newTestEnv(t)
	var buf bytes.Buffer
	env.Engine.Messages = failingPoster{}
	env.Engine.Logger = log.New(&buf, "", 0)
	task := env.completeAll(t, env.newTask(t))
	task, err := env.Engine.SubmitForApproval(env.Ctx, task.ID, env.Member.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	task, err = env.Engine.Approve(env.Ctx, task.ID, env.Approver.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if task.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", task.Status)
	}
	if strings.Count(buf.String(), "WARNING") != 2 {
		t.Fatalf("expected two warnings, got %q", buf.String())
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	task := env.completeAll(t, env.newTask(t))
	if _, err := env.Engine.SubmitForApproval(env.Ctx, task.ID, env.Member.ID); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilter{EntityID: task.ID, Limit: 10})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var types []string
	for _, e := range evts {
		types = append(types, e.Type)
	}
	want := "task.submitted,action.completed,action.completed,task.created"
	if strings.Join(types, ",") != want {
		t.Fatalf("unexpected events %v", types)
	}
	userEvents, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilter{EntityKind: "user"})
	if err != nil {
		t.Fatalf("user events: %v", err)
	}
	if len(userEvents) != 3 || userEvents[0].ProjectID != "" {
		t.Fatalf("unexpected user events: %+v", userEvents)
	}
}
