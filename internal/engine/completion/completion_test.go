package completion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdesk/internal/blob"
	"taskdesk/internal/domain"
)

func infoAction(hasAttachments bool) domain.Action {
	return domain.Action{
		ID:    "a1",
		Type:  domain.ActionInfo,
		Title: "Read the handbook",
		Data:  domain.InfoData{InfoTitle: "Handbook", InfoDescription: "Company rules", HasAttachments: hasAttachments},
	}
}

func TestValidateOrder(t *testing.T) {
	pdf := []PendingFile{{Name: "a.pdf", Type: "application/pdf", Data: []byte("x")}}
	tests := []struct {
		name    string
		action  domain.Action
		pending []PendingFile
		field   string
	}{
		{
			name:   "title first",
			action: domain.Action{Type: domain.ActionInfo, Data: domain.InfoData{}},
			field:  "title",
		},
		{
			name:   "info title before description",
			action: domain.Action{Type: domain.ActionInfo, Title: "t", Data: domain.InfoData{InfoDescription: "d"}},
			field:  "info_title",
		},
		{
			name:   "info description",
			action: domain.Action{Type: domain.ActionInfo, Title: "t", Data: domain.InfoData{InfoTitle: "x"}},
			field:  "info_description",
		},
		{
			name:   "info without attachments",
			action: infoAction(true),
			field:  "attachments",
		},
		{
			name:    "info with pending file passes",
			action:  infoAction(true),
			pending: pdf,
		},
		{
			name:   "info with authored file url passes",
			action: domain.Action{Type: domain.ActionInfo, Title: "t", Data: domain.InfoData{InfoTitle: "x", InfoDescription: "y", HasAttachments: true, FileURLs: []string{"http://f"}}},
		},
		{
			name:   "info ignores missing description",
			action: infoAction(false),
		},
		{
			name:   "text needs description",
			action: domain.Action{Type: domain.ActionText, Title: "t", Data: domain.TextData{Value: "v"}},
			field:  "description",
		},
		{
			name:   "date value checked",
			action: domain.Action{Type: domain.ActionDate, Title: "t", Description: "d", Data: domain.DateData{Value: "2024-02-30"}},
			field:  "value",
		},
		{
			name:   "file upload needs a file",
			action: domain.Action{Type: domain.ActionFileUpload, Title: "t", Description: "d", Data: domain.FileUploadData{}},
			field:  "attachments",
		},
		{
			name:    "file type limit",
			action:  domain.Action{Type: domain.ActionFileUpload, Title: "t", Description: "d", Data: domain.FileUploadData{AllowedTypes: []string{"image/*"}}},
			pending: pdf,
			field:   "files",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.action, tt.pending, Limits{}.For(tt.action))
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestValidateSizeLimit(t *testing.T) {
	a := domain.Action{Type: domain.ActionFileUpload, Title: "t", Description: "d", Data: domain.FileUploadData{}}
	big := []PendingFile{{Name: "big.bin", Type: "application/octet-stream", Data: make([]byte, 2048)}}
	err := Validate(a, big, Limits{MaxSizeMB: 0.001})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "files", ve.Field)
	assert.NoError(t, Validate(a, big, Limits{MaxSizeMB: 1}))
}

func counterIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("f%d", n.Add(1)) }
}

func TestPrepareUploadsAllFiles(t *testing.T) {
	store := blob.NewMemory("http://files.test")
	flow := Flow{Store: store, NewID: counterIDs()}
	a := infoAction(true)

	out, err := flow.Prepare(context.Background(), "t1", a, []PendingFile{
		{Name: "one.png", Type: "image/png", Data: []byte("1")},
		{Name: "two.pdf", Data: []byte("22")},
	})
	require.NoError(t, err)
	require.Len(t, out.Attachments, 2)
	assert.Equal(t, domain.Attachment{
		ID: "f1", Name: "one.png", URL: "http://files.test/files/tasks/t1/actions/a1/f1-one.png", Type: "image", Size: out.Attachments[0].Size,
	}, out.Attachments[0])
	assert.Equal(t, "application", out.Attachments[1].Type)
	require.NotNil(t, out.Attachments[1].Size)
	assert.EqualValues(t, 2, *out.Attachments[1].Size)
	assert.False(t, out.Completed, "completion stamps are the caller's job")
	assert.Empty(t, a.Attachments, "input action must not change")
}

type flakyStore struct {
	blob.Store
	failOn string
}

func (s flakyStore) Upload(ctx context.Context, p string, data []byte) (blob.Handle, error) {
	if strings.Contains(p, s.failOn) {
		return "", errors.New("quota exceeded")
	}
	return s.Store.Upload(ctx, p, data)
}

func TestPrepareCompensatesOnPartialFailure(t *testing.T) {
	mem := blob.NewMemory("http://files.test")
	var logs bytes.Buffer
	flow := Flow{Store: flakyStore{Store: mem, failOn: "bad"}, NewID: counterIDs(), Logger: log.New(&logs, "", 0)}
	a := domain.Action{ID: "a1", Type: domain.ActionFileUpload, Title: "t", Description: "d", Data: domain.FileUploadData{}}

	out, err := flow.Prepare(context.Background(), "t1", a, []PendingFile{
		{Name: "good1.txt", Type: "text/plain", Data: []byte("a")},
		{Name: "bad.txt", Type: "text/plain", Data: []byte("b")},
		{Name: "good2.txt", Type: "text/plain", Data: []byte("c")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Empty(t, out.Attachments)

	var remaining []string
	_ = afero.Walk(mem.FS, "tasks", func(p string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			remaining = append(remaining, p)
		}
		return nil
	})
	assert.Empty(t, remaining, "uploaded blobs should be removed")
}

func TestPrepareWithoutFilesSkipsStorage(t *testing.T) {
	out, err := Flow{}.Prepare(context.Background(), "t1", infoAction(false), nil)
	require.NoError(t, err)
	assert.Equal(t, "a1", out.ID)
}

func TestMajorType(t *testing.T) {
	assert.Equal(t, "image", MajorType("image/jpeg"))
	assert.Equal(t, "text", MajorType("Text/Plain; charset=utf-8"))
	assert.Equal(t, "application", MajorType(""))
}
