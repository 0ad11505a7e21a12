package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocklog/blocklog/internal/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLocalStorage_UploadDownloadDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(filepath.Join(t.TempDir(), "objects"))
	require.NoError(t, err)

	src := writeFile(t, t.TempDir(), "snap", "hello")
	require.NoError(t, store.Upload(ctx, src, "snapshots/a.sz"))

	dst := filepath.Join(t.TempDir(), "out")
	require.NoError(t, store.Download(ctx, "snapshots/a.sz", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, store.Delete(ctx, "snapshots/a.sz"))
	require.NoError(t, store.Delete(ctx, "snapshots/a.sz"))
	assert.True(t, errors.Is(store.Download(ctx, "snapshots/a.sz", dst), ErrObjectNotFound))
}

func TestLocalStorage_ListByPrefix(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	src := writeFile(t, t.TempDir(), "snap", "abc")
	for _, key := range []string{"snapshots/b", "snapshots/a", "other/c"} {
		require.NoError(t, store.Upload(ctx, src, key))
	}

	objs, err := store.List(ctx, "snapshots/")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "snapshots/a", objs[0].Key)
	assert.Equal(t, "snapshots/b", objs[1].Key)
	assert.Equal(t, int64(3), objs[0].Size)
}

func TestLocalStorage_UploadMissingSource(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	err = store.Upload(context.Background(), filepath.Join(t.TempDir(), "missing"), "x")
	assert.True(t, errors.Is(err, ErrUploadFailed))
}

func TestNew_SelectsBackend(t *testing.T) {
	s, err := New(context.Background(), config.StorageConfig{Type: "local", Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = New(context.Background(), config.StorageConfig{Type: "ftp"})
	assert.Error(t, err)
}
