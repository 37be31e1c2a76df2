// Package blob stores uploaded files on an afero filesystem and hands out
// download URLs served by the HTTP API.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

var ErrNotFound = errors.New("blob not found")

// Handle identifies a stored blob. It is the cleaned storage path.
type Handle string

func (h Handle) Path() string { return string(h) }

type Store struct {
	FS            afero.Fs
	PublicBaseURL string
}

// NewOS roots the store at dir on the local disk.
func NewOS(dir, publicBaseURL string) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Store{}, err
	}
	return Store{FS: afero.NewBasePathFs(afero.NewOsFs(), dir), PublicBaseURL: publicBaseURL}, nil
}

// NewMemory is an in-memory store, used by tests and dry runs.
func NewMemory(publicBaseURL string) Store {
	return Store{FS: afero.NewMemMapFs(), PublicBaseURL: publicBaseURL}
}

// CleanPath normalizes p to a relative slash path with no parent references.
func CleanPath(p string) (string, error) {
	cleaned := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(p, "\\", "/")), "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("invalid blob path %q", p)
	}
	return cleaned, nil
}

// SafeName makes a user supplied file name usable as one path segment.
func SafeName(name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(strings.TrimSpace(name))
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "file"
	}
	return name
}

// ActionPath is where files attached to an action are uploaded.
func ActionPath(taskID, actionID, fileID, name string) string {
	return path.Join("tasks", SafeName(taskID), "actions", SafeName(actionID), fileID+"-"+SafeName(name))
}

// ProjectPath is the permanent location of a file once its task is approved.
func ProjectPath(projectID, taskID, name string) string {
	return path.Join("projects", SafeName(projectID), "tasks", SafeName(taskID), SafeName(name))
}

func (s Store) Upload(ctx context.Context, p string, data []byte) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleaned, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	if err := s.FS.MkdirAll(path.Dir(cleaned), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := afero.WriteFile(s.FS, cleaned, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob %s: %w", cleaned, err)
	}
	return Handle(cleaned), nil
}

func (s Store) DownloadURL(ctx context.Context, h Handle) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ok, err := afero.Exists(s.FS, h.Path())
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	segments := strings.Split(h.Path(), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.TrimRight(s.PublicBaseURL, "/") + "/files/" + strings.Join(segments, "/"), nil
}

func (s Store) Delete(ctx context.Context, h Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.FS.Remove(h.Path()); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, h)
		}
		return err
	}
	return nil
}

// Copy duplicates src at dst, leaving src in place.
func (s Store) Copy(ctx context.Context, src Handle, dst string) (Handle, error) {
	f, err := s.Open(ctx, src.Path())
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return s.Upload(ctx, dst, data)
}

// Open returns the blob at p for reading.
func (s Store) Open(ctx context.Context, p string) (afero.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleaned, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	f, err := s.FS.Open(cleaned)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, cleaned)
		}
		return nil, err
	}
	if st, err := f.Stat(); err == nil && st.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cleaned)
	}
	return f, nil
}

// HandleFromURL recovers the handle behind a URL issued by DownloadURL.
func (s Store) HandleFromURL(u string) (Handle, bool) {
	prefix := strings.TrimRight(s.PublicBaseURL, "/") + "/files/"
	rest, ok := strings.CutPrefix(u, prefix)
	if !ok {
		return "", false
	}
	segments := strings.Split(rest, "/")
	for i, seg := range segments {
		unescaped, err := url.PathUnescape(seg)
		if err != nil {
			return "", false
		}
		segments[i] = unescaped
	}
	cleaned, err := CleanPath(strings.Join(segments, "/"))
	if err != nil {
		return "", false
	}
	return Handle(cleaned), true
}
