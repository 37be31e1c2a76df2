package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	dirName       = ".taskdesk"
	defaultDBName = "taskdesk.db"
)

type Config struct {
	Workspace string
}

// Dir returns the hidden state directory of a workspace.
func Dir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, dirName)
}

// EnsureWorkspace creates the state directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := Dir(workspace)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database with foreign keys on.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", Path(cfg.Workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return filepath.Join(Dir(workspace), defaultDBName)
}

// BlobDir resolves the blob directory; relative paths live under the state dir.
func BlobDir(workspace, dir string) string {
	if dir == "" {
		dir = "blobs"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(Dir(workspace), dir)
}
