package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taskdesk/internal/blob"
	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/engine"
	"taskdesk/internal/repo"
)

// ResolveProjectAndConfig picks the active project and makes sure it exists
// with a stored config, creating both on first use. The project comes from
// the override, then taskdesk.yml, then the only project in the database.
// A taskdesk.yml for the resolved project replaces the stored config. When
// the workspace has no users yet, actorID is seeded as admin.
func ResolveProjectAndConfig(ctx context.Context, workspace, projectOverride, actorID string, eng engine.Engine) (string, *config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	projectID := projectOverride
	if projectID == "" && fileCfg != nil {
		projectID = fileCfg.Project.ID
	}
	if projectID == "" {
		p, err := eng.Repo.SingleProject(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("project not specified; use --project")
		}
		projectID = p.ID
	}
	seedCfg := config.Default(projectID)
	if fileCfg != nil && fileCfg.Project.ID == projectID {
		seedCfg = fileCfg
	}

	if _, err := eng.Repo.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		eng.Config = seedCfg
		if _, err := eng.InitProject(ctx, projectID, seedCfg.Project.Name, "", actorOrDefault(actorID)); err != nil {
			return "", nil, err
		}
	}
	cfg, err := eng.Repo.GetProjectConfig(ctx, projectID)
	switch {
	case errors.Is(err, repo.ErrNotFound) || (err == nil && seedCfg == fileCfg):
		if err := eng.Repo.UpsertProjectConfig(ctx, projectID, seedCfg); err != nil {
			return "", nil, fmt.Errorf("seed project config: %w", err)
		}
		cfg = seedCfg
	case err != nil:
		return "", nil, err
	}
	cfg.Project.ID = projectID
	if _, err := eng.EnsureAdmin(ctx, actorOrDefault(actorID), ""); err != nil {
		return "", nil, fmt.Errorf("seed admin: %w", err)
	}
	return projectID, cfg, nil
}

func actorOrDefault(actorID string) string {
	if actorID == "" {
		return "local-user"
	}
	return actorID
}

// BlobStore opens the file store configured for the workspace.
func BlobStore(workspace string, cfg *config.Config) (blob.Store, error) {
	return blob.NewOS(db.BlobDir(workspace, cfg.Storage.Dir), cfg.Storage.PublicBaseURL)
}

// NewEngine wires an engine for the project config, storing files under
// the workspace.
func NewEngine(conn *sql.DB, workspace string, cfg *config.Config) (engine.Engine, error) {
	store, err := BlobStore(workspace, cfg)
	if err != nil {
		return engine.Engine{}, err
	}
	return engine.New(conn, cfg, store), nil
}
