package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/infra-api/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "archive")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})
	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "tasks/task-1.json", "application/json", strings.NewReader(`{"id":"task-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(dir, "tasks", "task-1.json"), uri)

	got, err := os.ReadFile(filepath.Join(dir, "tasks", "task-1.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"task-1"}`, string(got))

	_, err = store.PutObject(context.Background(), "../escape.json", "", strings.NewReader("{}"))
	assert.ErrorContains(t, err, "path traversal")

	_, err = store.PutObject(context.Background(), "", "", strings.NewReader("{}"))
	assert.ErrorContains(t, err, "path is required")
}
