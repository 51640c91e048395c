package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFS_Layout(t *testing.T) {
	root := t.TempDir()
	s, err := OpenFS(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "todo/client-a/manifest", []byte("m")))

	data, err := os.ReadFile(filepath.Join(root, "todo", "client-a", "manifest"))
	require.NoError(t, err)
	assert.Equal(t, []byte("m"), data)

	entries, err := os.ReadDir(filepath.Join(root, "todo", "client-a"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}

func TestFS_ListSkipsTempFiles(t *testing.T) {
	root := t.TempDir()
	s, err := OpenFS(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "d/part", []byte("x")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "d", tempPrefix+"123"), []byte("partial"), 0o644))

	keys, err := s.List(ctx, "d/")
	require.NoError(t, err)
	assert.Equal(t, []string{"d/part"}, keys)
}

func TestFS_DeletePrunesEmptyDirs(t *testing.T) {
	root := t.TempDir()
	s, err := OpenFS(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "d/c/part", []byte("x")))
	require.NoError(t, s.Delete(ctx, "d/c/part"))

	_, err = os.Stat(filepath.Join(root, "d"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(root)
	assert.NoError(t, err, "root is kept")
}

func TestFS_DirectoryIsNotAKey(t *testing.T) {
	s, err := OpenFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "d/c/part", []byte("x")))
	_, found, err := s.Read(ctx, "d/c")
	require.NoError(t, err)
	assert.False(t, found)
}
