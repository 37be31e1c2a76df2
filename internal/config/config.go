package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"taskdesk/internal/domain"
)

// Config models taskdesk.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name" json:"name"`
	} `yaml:"project" json:"project"`
	Rewards struct {
		Base       float64            `yaml:"base" json:"base"`
		Complexity map[string]float64 `yaml:"complexity" json:"complexity"`
	} `yaml:"rewards" json:"rewards"`
	Uploads struct {
		MaxSizeMB    float64  `yaml:"max_size_mb" json:"max_size_mb"`
		AllowedTypes []string `yaml:"allowed_types" json:"allowed_types"`
	} `yaml:"uploads" json:"uploads"`
	Storage struct {
		Dir           string `yaml:"dir" json:"dir"`
		PublicBaseURL string `yaml:"public_base_url" json:"public_base_url"`
	} `yaml:"storage" json:"storage"`
	Users struct {
		MinimumAge int `yaml:"minimum_age" json:"minimum_age"`
		PageSize   int `yaml:"page_size" json:"page_size"`
	} `yaml:"users" json:"users"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles" json:"roles"`
	} `yaml:"rbac" json:"rbac"`
}

type RBACRole struct {
	Description string   `yaml:"description" json:"description"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

// Permissions understood by the engine.
const (
	PermTaskCreate     = "task.create"
	PermTaskUpdate     = "task.update"
	PermTaskRead       = "task.read"
	PermActionComplete = "action.complete"
	PermTaskSubmit     = "task.submit"
	PermTaskApprove    = "task.approve"
	PermCommentAdd     = "comment.add"
	PermUserRead       = "user.read"
	PermUserManage     = "user.manage"
	PermAll            = "*"
)

// Multiplier returns the coin multiplier for a complexity, defaulting to 1.
func (c *Config) Multiplier(cx domain.Complexity) float64 {
	if m, ok := c.Rewards.Complexity[string(cx)]; ok && m > 0 {
		return m
	}
	return 1
}

// Coins computes the reward for a task with the configured base.
func (c *Config) Coins(difficulty int, cx domain.Complexity) int {
	return domain.CoinsReward(difficulty, c.Rewards.Base, c.Multiplier(cx))
}

// RolePermissions lists the permissions granted to a role.
func (c *Config) RolePermissions(role string) []string {
	if r, ok := c.RBAC.Roles[role]; ok {
		return r.Permissions
	}
	return nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Rewards.Base <= 0 {
		return fmt.Errorf("config.rewards.base must be positive")
	}
	for cx, m := range c.Rewards.Complexity {
		if !domain.Complexity(cx).Valid() {
			return fmt.Errorf("config.rewards.complexity has unknown level %s", cx)
		}
		if m <= 0 {
			return fmt.Errorf("config.rewards.complexity.%s must be positive", cx)
		}
	}
	if c.Uploads.MaxSizeMB < 0 {
		return fmt.Errorf("config.uploads.max_size_mb must not be negative")
	}
	if c.Users.MinimumAge < 0 {
		return fmt.Errorf("config.users.minimum_age must not be negative")
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles[string(domain.RoleAdmin)]; !ok {
			return fmt.Errorf("config.rbac.roles must include admin")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskdesk.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Sections left
// out of the document keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	var head struct {
		Project struct {
			ID string `yaml:"id"`
		} `yaml:"project"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg := Default(head.Project.ID)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  name: %s

rewards:
  base: 10
  complexity:
    simple: 1.0
    moderate: 1.5
    complex: 2.0

uploads:
  max_size_mb: 10
  allowed_types:
    - image/*
    - application/pdf
    - text/plain
    - application/msword
    - application/vnd.openxmlformats-officedocument.wordprocessingml.document
    - application/vnd.ms-excel
    - application/vnd.openxmlformats-officedocument.spreadsheetml.sheet

storage:
  dir: blobs
  public_base_url: http://127.0.0.1:8080

users:
  minimum_age: 18
  page_size: 10

rbac:
  roles:
    admin:
      description: "Full access"
      permissions: ["*"]
    approver:
      description: "Reviews submitted tasks"
      permissions:
        - task.read
        - task.approve
        - comment.add
        - user.read
    member:
      description: "Works on assigned tasks"
      permissions:
        - task.read
        - action.complete
        - task.submit
        - comment.add
`
