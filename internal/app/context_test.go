package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/migrate"
)

func newEngine(t *testing.T, workspace string) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	eng, err := NewEngine(conn, workspace, config.Default("seed"))
	require.NoError(t, err)
	return eng
}

func TestResolveCreatesProjectAndAdmin(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	eng := newEngine(t, ws)

	_, _, err := ResolveProjectAndConfig(ctx, ws, "", "root", eng)
	require.Error(t, err, "no project anywhere")

	id, cfg, err := ResolveProjectAndConfig(ctx, ws, "alpha", "root", eng)
	require.NoError(t, err)
	assert.Equal(t, "alpha", id)
	assert.Equal(t, "alpha", cfg.Project.ID)

	u, err := eng.Repo.GetUser(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, u.Role)

	id, _, err = ResolveProjectAndConfig(ctx, ws, "", "someone-else", eng)
	require.NoError(t, err)
	assert.Equal(t, "alpha", id, "single project is picked")
	_, err = eng.Repo.GetUser(ctx, "someone-else")
	assert.Error(t, err, "admin is seeded only once")
}

func TestResolveAppliesWorkspaceConfig(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	eng := newEngine(t, ws)
	doc := "project:\n  id: beta\n  name: Beta\nrewards:\n  base: 3\n"
	require.NoError(t, os.WriteFile(config.Path(ws), []byte(doc), 0o644))

	id, cfg, err := ResolveProjectAndConfig(ctx, ws, "", "root", eng)
	require.NoError(t, err)
	assert.Equal(t, "beta", id)
	assert.Equal(t, 3.0, cfg.Rewards.Base)

	p, err := eng.Repo.GetProject(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, "Beta", p.Name)

	stored, err := eng.Repo.GetProjectConfig(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, 3.0, stored.Rewards.Base)
}
