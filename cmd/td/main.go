package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskdesk/internal/app"
	"taskdesk/internal/blob"
	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/engine/completion"
	"taskdesk/internal/engine/steps"
	"taskdesk/internal/engine/workflow"
	"taskdesk/internal/migrate"
	"taskdesk/internal/repo"
	"taskdesk/internal/server"
	"taskdesk/internal/validation"
)

const envProjectKey = "TASKDESK_PROJECT"

var rootCmd = &cobra.Command{
	Use:   "td",
	Short: "TaskDesk CLI",
	Long: `TaskDesk tracks tasks made of typed actions grouped into steps.
- Project: owns tasks, the chat channel and the archived files; its rules live in taskdesk.yml.
- Task: pending -> in_progress -> waiting_approval -> completed, with blocked as a side state.
- Actions: info, text, long_text, date, file_upload and document; each is completed on its own.
- Approval: a task with every action completed is submitted; an approver approves or rejects it.
- Coins: difficulty x base x complexity multiplier, granted on approval.
- Event log: every change, view with 'td log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	// Values from the workspace .env never override the real environment.
	envPath := filepath.Join(viper.GetString("workspace"), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARNING: read %s: %v", envPath, err)
	}
	viper.SetEnvPrefix("TASKDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides taskdesk.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, name, desc string
	var writeConfig bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetProject(ctx, id); err == nil {
					return fmt.Errorf("project %s already exists", id)
				}
				cfg := config.Default(id)
				if name != "" {
					cfg.Project.Name = name
				}
				e, err := app.NewEngine(r.DB, workspace, cfg)
				if err != nil {
					return err
				}
				actorID := viper.GetString("actor-id")
				p, err := e.InitProject(ctx, id, cfg.Project.Name, desc, actorID)
				if err != nil {
					return err
				}
				if _, err := e.EnsureAdmin(ctx, actorID, ""); err != nil {
					return err
				}
				if writeConfig {
					path := config.Path(workspace)
					if _, err := os.Stat(path); err == nil {
						return fmt.Errorf("%s already exists", path)
					}
					if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
						return err
					}
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().BoolVar(&writeConfig, "write-config", false, "write a default taskdesk.yml to the workspace")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active project with task counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountTasksByStatus(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": p, "task_counts": counts})
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Pending", "In progress", "Waiting", "Completed", "Blocked"})
				tw.AppendRow(table.Row{p.ID, p.Name, p.Status,
					counts[string(domain.StatusPending)], counts[string(domain.StatusInProgress)],
					counts[string(domain.StatusWaitingApproval)], counts[string(domain.StatusCompleted)],
					counts[string(domain.StatusBlocked)]})
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			path := filepath.Join(viper.GetString("workspace"), ".env")
			if err := setEnvValue(path, envProjectKey, projectID); err != nil {
				return err
			}
			fmt.Printf("Set %s=%s in %s\n", envProjectKey, projectID, path)
			return nil
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	u.AddCommand(userListCmd())
	u.AddCommand(userCreateCmd())
	u.AddCommand(userUpdateCmd())
	u.AddCommand(userDeleteCmd())
	return u
}

func userListCmd() *cobra.Command {
	var f repo.UserFilter
	var active string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch active {
			case "":
			case "true", "false":
				v := active == "true"
				f.Active = &v
			default:
				return fmt.Errorf("--active must be true or false")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				page, err := e.FetchUsers(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Role", "Active"})
				for _, u := range page.Data {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.Role, u.Active})
				}
				tw.AppendFooter(table.Row{"", "", "", fmt.Sprintf("page %d/%d", page.Page, page.TotalPages), page.Total})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Search, "search", "", "match name or email")
	cmd.Flags().StringVar(&f.Role, "role", "", "role filter")
	cmd.Flags().StringVar(&active, "active", "", "true or false")
	cmd.Flags().IntVar(&f.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&f.PageSize, "page-size", 0, "page size (config default when 0)")
	return cmd
}

func userCreateCmd() *cobra.Command {
	var in engine.UserInput
	var role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Role = domain.UserRole(role)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.CreateUser(ctx, in, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "full name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email")
	cmd.Flags().StringVar(&in.Phone, "phone", "", "phone")
	cmd.Flags().StringVar(&in.CPF, "cpf", "", "CPF")
	cmd.Flags().StringVar(&in.BirthDate, "birth-date", "", "birth date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&role, "role", "", "admin, approver or member")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userUpdateCmd() *cobra.Command {
	var name, email, phone, cpf, birthDate, role string
	var active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p engine.UserPatch
			flags := cmd.Flags()
			if flags.Changed("name") {
				p.Name = &name
			}
			if flags.Changed("email") {
				p.Email = &email
			}
			if flags.Changed("phone") {
				p.Phone = &phone
			}
			if flags.Changed("cpf") {
				p.CPF = &cpf
			}
			if flags.Changed("birth-date") {
				p.BirthDate = &birthDate
			}
			if flags.Changed("role") {
				r := domain.UserRole(role)
				p.Role = &r
			}
			if flags.Changed("active") {
				p.Active = &active
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.UpdateUser(ctx, args[0], p, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&phone, "phone", "", "phone")
	cmd.Flags().StringVar(&cpf, "cpf", "", "CPF")
	cmd.Flags().StringVar(&birthDate, "birth-date", "", "birth date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&role, "role", "", "admin, approver or member")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	return cmd
}

func userDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteUser(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks hold ordered actions grouped in steps. Once every action is completed the task is submitted, then approved or rejected.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskStepsCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskSubmitCmd())
	task.AddCommand(taskApproveCmd())
	task.AddCommand(taskRejectCmd())
	task.AddCommand(taskCommentCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var priority, complexity, actionsFile string
	var quick []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		Long: `Create a task. Actions come from --actions-file (a JSON array of actions)
and from repeated --action type:title[:description] flags, which land in step 1.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.Priority = domain.Priority(priority)
			opts.Complexity = domain.Complexity(complexity)
			if actionsFile != "" {
				data, err := os.ReadFile(actionsFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &opts.Actions); err != nil {
					return fmt.Errorf("parse %s: %w", actionsFile, err)
				}
			}
			for _, raw := range quick {
				a, err := parseQuickAction(raw)
				if err != nil {
					return err
				}
				opts.Actions = append(opts.Actions, a)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ProjectID = e.Config.Project.ID
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (generated when omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.AssignedTo, "assigned-to", "", "assignee user id")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium, high or urgent")
	cmd.Flags().StringVar(&complexity, "complexity", "", "simple, moderate or complex")
	cmd.Flags().StringVar(&opts.StartDate, "start-date", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.DueDate, "due-date", "", "due date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&opts.DifficultyLevel, "difficulty", 0, "difficulty 2-9")
	cmd.Flags().StringVar(&actionsFile, "actions-file", "", "JSON file with the task actions")
	cmd.Flags().StringArrayVar(&quick, "action", nil, "type:title[:description] (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func parseQuickAction(raw string) (domain.Action, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) < 2 {
		return domain.Action{}, fmt.Errorf("--action %q: want type:title[:description]", raw)
	}
	a := domain.Action{Type: domain.ActionType(parts[0]), Title: parts[1], StepNumber: 1}
	if len(parts) == 3 {
		a.Description = parts[2]
	}
	if !a.Type.Valid() {
		return domain.Action{}, fmt.Errorf("--action %q: unknown type %s", raw, parts[0])
	}
	return a, nil
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.ProjectID = e.Config.Project.ID
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Priority", "Progress", "Coins"})
				for _, t := range tasks {
					done, total := workflow.Progress(t)
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, stringOrEmpty(t.AssignedTo), t.Priority, fmt.Sprintf("%d/%d", done, total), t.CoinsReward})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssignedTo, "assigned-to", "", "assignee filter")
	cmd.Flags().StringVar(&f.CreatedBy, "created-by", "", "creator filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	return cmd
}

func taskStepsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steps <id>",
		Short: "Show task actions grouped by step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Steps(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(m)
				}
				printSteps(m)
				return nil
			})
		},
	}
	return cmd
}

func taskStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move a task to pending, in_progress or blocked",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SetStatus(ctx, args[0], domain.TaskStatus(args[1]), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	return cmd
}

func taskSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit a task for approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SubmitForApproval(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	return cmd
}

func taskApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a submitted task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Approve(ctx, args[0], viper.GetString("actor-id"))
				if errors.Is(err, engine.ErrFileTransfer) {
					fmt.Fprintln(os.Stderr, "WARNING:", err)
					err = nil
				}
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	return cmd
}

func taskRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Send a submitted task back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Reject(ctx, args[0], viper.GetString("actor-id"), reason)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the task is rejected (kept as a comment)")
	return cmd
}

func taskCommentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comment <id> <text>",
		Short: "Comment on a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComment(ctx, args[0], viper.GetString("actor-id"), args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func actionCmd() *cobra.Command {
	a := &cobra.Command{Use: "action", Short: "Complete task actions"}
	a.AddCommand(actionCompleteCmd())
	a.AddCommand(actionUncompleteCmd())
	return a
}

func actionCompleteCmd() *cobra.Command {
	var value, dataJSON string
	var files []string
	cmd := &cobra.Command{
		Use:   "complete <task-id> <action-id>",
		Short: "Complete an action, uploading files when given",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if value != "" && dataJSON != "" {
				return fmt.Errorf("--value and --data are exclusive")
			}
			if value != "" {
				b, _ := json.Marshal(map[string]string{"value": value})
				dataJSON = string(b)
			}
			pending := make([]completion.PendingFile, 0, len(files))
			for _, path := range files {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				pending = append(pending, completion.PendingFile{Name: filepath.Base(path), Data: data})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.CompleteActionOptions{
					TaskID:   args[0],
					ActionID: args[1],
					Files:    pending,
					ActorID:  viper.GetString("actor-id"),
				}
				if dataJSON != "" {
					t, err := e.Repo.GetTask(ctx, args[0])
					if err != nil {
						return err
					}
					idx := domain.ActionIndex(t.Actions, args[1])
					if idx < 0 {
						return fmt.Errorf("action %s: %w", args[1], repo.ErrNotFound)
					}
					if opts.Data, err = decodeActionData(t.Actions[idx].Type, dataJSON); err != nil {
						return err
					}
				}
				t, err := e.CompleteAction(ctx, opts)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "value for text, long_text and date actions")
	cmd.Flags().StringVar(&dataJSON, "data", "", "action data as a JSON object")
	cmd.Flags().StringArrayVar(&files, "file", nil, "file to upload (repeatable)")
	return cmd
}

func actionUncompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uncomplete <task-id> <action-id>",
		Short: "Reopen a completed action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UncompleteAction(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	return cmd
}

func decodeActionData(t domain.ActionType, raw string) (domain.ActionData, error) {
	wire, err := json.Marshal(map[string]any{"type": t, "data": json.RawMessage(raw)})
	if err != nil {
		return nil, fmt.Errorf("--data: %w", err)
	}
	var a domain.Action
	if err := json.Unmarshal(wire, &a); err != nil {
		return nil, fmt.Errorf("--data: %w", err)
	}
	return a.Data, nil
}

var validators = map[string]func(string) bool{
	"email":    validation.IsValidEmail,
	"name":     validation.IsValidName,
	"cpf":      validation.IsValidCPF,
	"cnpj":     validation.IsValidCNPJ,
	"phone":    validation.IsValidPhoneNumber,
	"url":      validation.IsValidURL,
	"date":     validation.IsValidDate,
	"password": validation.IsStrongPassword,
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "validate <kind> <value>",
		Short:     "Check a value with the input validators",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"email", "name", "cpf", "cnpj", "phone", "url", "date", "password"},
		RunE: func(cmd *cobra.Command, args []string) error {
			check, ok := validators[args[0]]
			if !ok {
				return fmt.Errorf("unknown kind %s", args[0])
			}
			valid := check(args[1])
			if viper.GetBool("json") {
				return printJSON(map[string]any{"kind": args[0], "value": args[1], "valid": valid})
			}
			if !valid {
				return fmt.Errorf("%s is not a valid %s", args[1], args[0])
			}
			fmt.Println("ok")
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every change to projects, tasks and users, newest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.ProjectID = e.Config.Project.ID
				events, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devAuth bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{
					JWTSecret:              viper.GetString("jwt-secret"),
					AllowLegacyActorHeader: devAuth,
					DevLogin:               devAuth,
				}
				if authCfg.JWTSecret == "" && !devAuth {
					return fmt.Errorf("TASKDESK_JWT_SECRET is required for bearer auth (or pass --dev-auth)")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving TaskDesk API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devAuth, "dev-auth", false, "accept X-Actor-Id and expose /auth/dev/login (local only)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		boot := engine.New(r.DB, nil, blob.Store{})
		_, cfg, err := app.ResolveProjectAndConfig(ctx, workspace, viper.GetString("project"), viper.GetString("actor-id"), boot)
		if err != nil {
			return err
		}
		e, err := app.NewEngine(r.DB, workspace, cfg)
		if err != nil {
			return err
		}
		return fn(ctx, e)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printTask(t domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	done, total := workflow.Progress(t)
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"ID", t.ID},
		{"Title", t.Title},
		{"Status", t.Status},
		{"Assignee", stringOrEmpty(t.AssignedTo)},
		{"Priority", t.Priority},
		{"Complexity", t.Complexity},
		{"Difficulty", t.DifficultyLevel},
		{"Coins", t.CoinsReward},
		{"Progress", fmt.Sprintf("%d/%d", done, total)},
	})
	if t.DueDate != nil {
		tw.AppendRow(table.Row{"Due", *t.DueDate})
	}
	if t.ApprovedBy != nil {
		tw.AppendRow(table.Row{"Approved by", *t.ApprovedBy})
	}
	tw.Render()
	printSteps(steps.Organize(t.Actions))
	for _, c := range t.Comments {
		fmt.Printf("%s  %s: %s\n", c.CreatedAt, c.AuthorID, c.Text)
	}
	return nil
}

func printSteps(m steps.Map) {
	if len(m) == 0 {
		return
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Step", "Action", "Type", "Title", "Done", "Files"})
	for _, k := range steps.Order(m) {
		for _, a := range m[k] {
			done := ""
			if a.Completed {
				done = "yes"
			}
			tw.AppendRow(table.Row{k, a.ID, a.Type, a.Title, done, len(a.Attachments)})
		}
		tw.AppendSeparator()
	}
	tw.Render()
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// setEnvValue writes key=value into the dotenv file at path, keeping the
// other entries.
func setEnvValue(path, key, value string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		env = map[string]string{}
	}
	env[key] = value
	return godotenv.Write(env, path)
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
