// Package completion validates an action's payload and uploads its files
// before the engine marks it completed.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"taskdesk/internal/blob"
	"taskdesk/internal/domain"
	"taskdesk/internal/validation"
)

// ErrInvalid is wrapped by every ValidationError.
var ErrInvalid = errors.New("validation failed")

// ValidationError names the first field that failed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Unwrap() error { return ErrInvalid }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// Storage is the object store the flow uploads into.
type Storage interface {
	Upload(ctx context.Context, path string, data []byte) (blob.Handle, error)
	DownloadURL(ctx context.Context, h blob.Handle) (string, error)
	Delete(ctx context.Context, h blob.Handle) error
}

// PendingFile is a file picked by the user but not uploaded yet.
type PendingFile struct {
	Name string
	Type string
	Data []byte
}

// ContentType is the declared MIME type, falling back to the extension and
// then to content sniffing.
func (p PendingFile) ContentType() string {
	if t := strings.TrimSpace(p.Type); t != "" {
		return t
	}
	if t := mime.TypeByExtension(path.Ext(p.Name)); t != "" {
		return t
	}
	return http.DetectContentType(p.Data)
}

func (p PendingFile) Meta() validation.FileMeta {
	return validation.FileMeta{Name: p.Name, Type: p.ContentType(), Size: int64(len(p.Data))}
}

// Limits bound what may be uploaded. Zero values disable a check.
type Limits struct {
	MaxSizeMB    float64
	AllowedTypes []string
}

// For narrows l with the limits a file_upload action declares itself.
func (l Limits) For(a domain.Action) Limits {
	out := l
	if d, ok := a.Data.(domain.FileUploadData); ok {
		if d.MaxSizeMB > 0 {
			out.MaxSizeMB = d.MaxSizeMB
		}
		if len(d.AllowedTypes) > 0 {
			out.AllowedTypes = d.AllowedTypes
		}
	}
	return out
}

// Validate checks a against the completion rules. The first failure wins:
// title, then the info texts or the description, then info attachments.
// Type specific checks and file limits come after.
func Validate(a domain.Action, pending []PendingFile, limits Limits) error {
	if validation.IsBlank(a.Title) {
		return invalid("title", "title is required")
	}
	info, isInfo := a.Data.(domain.InfoData)
	if a.Type == domain.ActionInfo {
		if validation.IsBlank(info.InfoTitle) {
			return invalid("info_title", "info title is required")
		}
		if validation.IsBlank(info.InfoDescription) {
			return invalid("info_description", "info description is required")
		}
	} else if validation.IsBlank(a.Description) {
		return invalid("description", "description is required")
	}
	if isInfo && info.HasAttachments && len(a.Attachments)+len(info.FileURLs)+len(pending) == 0 {
		return invalid("attachments", "at least one attachment is required")
	}
	switch d := a.Data.(type) {
	case domain.DateData:
		if !validation.IsValidDate(d.Value) {
			return invalid("value", "date must be YYYY-MM-DD")
		}
	case domain.FileUploadData:
		if len(a.Attachments)+len(pending) == 0 {
			return invalid("attachments", "at least one file is required")
		}
	}
	for _, p := range pending {
		meta := p.Meta()
		if len(limits.AllowedTypes) > 0 && !validation.IsValidFileType(meta, limits.AllowedTypes) {
			return invalid("files", fmt.Sprintf("file %s: type %s not allowed", p.Name, meta.Type))
		}
		if limits.MaxSizeMB > 0 && !validation.IsValidFileSize(meta, limits.MaxSizeMB) {
			return invalid("files", fmt.Sprintf("file %s exceeds %.1f MB", p.Name, limits.MaxSizeMB))
		}
	}
	return nil
}

type Flow struct {
	Store  Storage
	Limits Limits
	NewID  func() string
	Logger *log.Logger
}

func (f Flow) logger() *log.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return log.Default()
}

func (f Flow) newID() string {
	if f.NewID != nil {
		return f.NewID()
	}
	return uuid.NewString()
}

// Prepare validates a, uploads pending files in parallel and returns the
// action with the new attachments appended. a itself is never modified and
// no completion fields are set. When any upload fails, blobs already written
// by this call are deleted and the error is returned.
func (f Flow) Prepare(ctx context.Context, taskID string, a domain.Action, pending []PendingFile) (domain.Action, error) {
	if err := Validate(a, pending, f.Limits.For(a)); err != nil {
		return a, err
	}
	out := a.Clone()
	if len(pending) == 0 {
		return out, nil
	}
	if f.Store == nil {
		return a, errors.New("file storage not configured")
	}
	atts, err := f.upload(ctx, taskID, a.ID, pending)
	if err != nil {
		return a, err
	}
	out.Attachments = append(out.Attachments, atts...)
	return out, nil
}

func (f Flow) upload(ctx context.Context, taskID, actionID string, files []PendingFile) ([]domain.Attachment, error) {
	ids := make([]string, len(files))
	for i := range files {
		ids[i] = f.newID()
	}
	atts := make([]domain.Attachment, len(files))
	handles := make([]blob.Handle, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i, file := range files {
		g.Go(func() error {
			h, err := f.Store.Upload(gctx, blob.ActionPath(taskID, actionID, ids[i], file.Name), file.Data)
			if err != nil {
				return fmt.Errorf("upload %s: %w", file.Name, err)
			}
			handles[i] = h
			u, err := f.Store.DownloadURL(gctx, h)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", file.Name, err)
			}
			size := int64(len(file.Data))
			atts[i] = domain.Attachment{
				ID:   ids[i],
				Name: file.Name,
				URL:  u,
				Type: MajorType(file.ContentType()),
				Size: &size,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		f.discard(context.WithoutCancel(ctx), handles)
		return nil, err
	}
	return atts, nil
}

func (f Flow) discard(ctx context.Context, handles []blob.Handle) {
	for _, h := range handles {
		if h == "" {
			continue
		}
		if err := f.Store.Delete(ctx, h); err != nil {
			f.logger().Printf("WARNING: orphaned upload %s: %v", h, err)
		}
	}
}

// MajorType returns the part of a MIME type before the slash.
func MajorType(contentType string) string {
	major, _, _ := strings.Cut(contentType, "/")
	major = strings.TrimSpace(strings.ToLower(major))
	if major == "" {
		return "application"
	}
	return major
}
