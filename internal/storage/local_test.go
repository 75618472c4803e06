package storage

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) *LocalStorage {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir(), BaseURL: "http://localhost:8080/files/"}, logger)
	require.NoError(t, err)
	return s
}

func TestLocalStorage_PutGet(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()
	key := ArchiveKey(uuid.New(), "8D_Report_March_03,_2025.pdf")

	require.NoError(t, s.Put(ctx, key, strings.NewReader("%PDF-1.4"), PutOptions{ContentType: "application/pdf"}))

	rc, info, err := s.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)

	assert.Equal(t, "%PDF-1.4", string(body))
	assert.Equal(t, key, info.Key)
	assert.Equal(t, int64(8), info.Size)
	assert.Equal(t, "application/pdf", info.ContentType)

	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalStorage_PutOverwrite(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "reports/a/b.json", strings.NewReader("{}"), PutOptions{}))

	err := s.Put(ctx, "reports/a/b.json", strings.NewReader(`{"x":1}`), PutOptions{})
	assert.ErrorIs(t, err, ErrKeyExists)

	require.NoError(t, s.Put(ctx, "reports/a/b.json", strings.NewReader(`{"x":1}`), PutOptions{Overwrite: true}))
	rc, _, err := s.Get(ctx, "reports/a/b.json")
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, `{"x":1}`, string(body))
}

func TestLocalStorage_MaxSize(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	err := s.Put(ctx, "reports/a/big.json", bytes.NewReader(make([]byte, 11)), PutOptions{MaxSize: 10})

	assert.ErrorIs(t, err, ErrTooLarge)
	exists, err := s.Exists(ctx, "reports/a/big.json")
	require.NoError(t, err)
	assert.False(t, exists)

	// No temporary files are left behind.
	entries, err := os.ReadDir(filepath.Join(s.basePath, "reports", "a"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalStorage_GetMissing(t *testing.T) {
	s := newTestLocal(t)

	_, _, err := s.Get(context.Background(), "reports/nope.pdf")

	assert.True(t, IsNotFound(err))
}

func TestLocalStorage_List(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()
	id, other := uuid.New(), uuid.New()

	for _, name := range []string{"b.pdf", "a.xlsx"} {
		require.NoError(t, s.Put(ctx, ArchiveKey(id, name), strings.NewReader(name), PutOptions{}))
	}
	require.NoError(t, s.Put(ctx, ArchiveKey(other, "c.json"), strings.NewReader("{}"), PutOptions{}))

	objects, err := s.List(ctx, ArchivePrefix(id))
	require.NoError(t, err)

	require.Len(t, objects, 2)
	assert.Equal(t, ArchiveKey(id, "a.xlsx"), objects[0].Key)
	assert.Equal(t, ArchiveKey(id, "b.pdf"), objects[1].Key)

	empty, err := s.List(ctx, ArchivePrefix(uuid.New()))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLocalStorage_Delete(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "reports/a/x.pdf", strings.NewReader("x"), PutOptions{}))

	require.NoError(t, s.Delete(ctx, "reports/a/x.pdf"))
	require.NoError(t, s.Delete(ctx, "reports/a/x.pdf"))

	exists, err := s.Exists(ctx, "reports/a/x.pdf")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	for _, key := range []string{"", "../outside.pdf", "reports/../../outside.pdf"} {
		err := s.Put(ctx, key, strings.NewReader("x"), PutOptions{})
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
}

func TestLocalStorage_URL(t *testing.T) {
	s := newTestLocal(t)

	url, err := s.URL(context.Background(), "reports/a/x.pdf", 0)

	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/reports/a/x.pdf", url)
}
