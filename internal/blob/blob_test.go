package blob

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadDownloadDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemory("http://localhost:8080/")

	h, err := s.Upload(ctx, ActionPath("t1", "a1", "f1", "report final.pdf"), []byte("pdf"))
	require.NoError(t, err)
	assert.Equal(t, Handle("tasks/t1/actions/a1/f1-report final.pdf"), h)

	u, err := s.DownloadURL(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/tasks/t1/actions/a1/f1-report%20final.pdf", u)

	back, ok := s.HandleFromURL(u)
	require.True(t, ok)
	assert.Equal(t, h, back)

	f, err := s.Open(ctx, h.Path())
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, "pdf", string(data))

	require.NoError(t, s.Delete(ctx, h))
	_, err = s.DownloadURL(ctx, h)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.ErrorIs(t, s.Delete(ctx, h), ErrNotFound)
}

func TestCopyKeepsSource(t *testing.T) {
	ctx := context.Background()
	s := NewMemory("http://x")
	src, err := s.Upload(ctx, "tasks/t1/a.txt", []byte("hello"))
	require.NoError(t, err)

	dst, err := s.Copy(ctx, src, ProjectPath("p1", "t1", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, Handle("projects/p1/tasks/t1/a.txt"), dst)

	exists, err := s.DownloadURL(ctx, src)
	require.NoError(t, err)
	assert.NotEmpty(t, exists)
}

func TestCleanPathStaysInsideRoot(t *testing.T) {
	p, err := CleanPath("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "etc/passwd", p)

	_, err = CleanPath("/")
	assert.Error(t, err)

	assert.Equal(t, "_etc_passwd", SafeName("/etc/passwd"))
	assert.Equal(t, "file", SafeName(".."))
}

func TestHandleFromURLRejectsForeignURL(t *testing.T) {
	s := NewMemory("http://x")
	_, ok := s.HandleFromURL("https://elsewhere/files/a")
	assert.False(t, ok)
}

func TestOpenMissing(t *testing.T) {
	s := NewMemory("http://x")
	_, err := s.Open(context.Background(), "nope.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}
