package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakeline/lakeline/storage"
)

func TestCreateIfAbsent(t *testing.T) {
	backend := storage.NewLocalBackend()
	path := filepath.Join(t.TempDir(), "x.commit.requested")

	require.NoError(t, backend.CreateIfAbsent(path, []byte("a")))
	err := backend.CreateIfAbsent(path, []byte("b"))
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	// The loser's payload never lands.
	data, err := backend.Read(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), data)
}

func TestWriteAtomicOverwrites(t *testing.T) {
	backend := storage.NewLocalBackend()
	dir := t.TempDir()
	path := filepath.Join(dir, "x.commit")

	require.NoError(t, backend.WriteAtomic(path, []byte("one")))
	require.NoError(t, backend.WriteAtomic(path, []byte("two")))

	data, err := backend.Read(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)

	// No temp files left behind.
	names, err := backend.List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"x.commit"}, names)
}

func TestListSkipsDirectoriesAndMissingDir(t *testing.T) {
	backend := storage.NewLocalBackend()
	dir := t.TempDir()

	require.NoError(t, backend.MkdirAll(filepath.Join(dir, "archived")))
	require.NoError(t, backend.CreateIfAbsent(filepath.Join(dir, "a"), nil))

	names, err := backend.List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)

	names, err = backend.List(filepath.Join(dir, "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestReadAndDeleteMissing(t *testing.T) {
	backend := storage.NewLocalBackend()
	path := filepath.Join(t.TempDir(), "missing")

	_, err := backend.Read(path)
	assert.ErrorIs(t, err, storage.ErrNotExist)
	assert.ErrorIs(t, backend.Delete(path), storage.ErrNotExist)
	assert.ErrorIs(t, backend.Rename(path, path+"2"), storage.ErrNotExist)
}

func TestAppend(t *testing.T) {
	backend := storage.NewLocalBackend()
	path := filepath.Join(t.TempDir(), "log")

	require.NoError(t, backend.Append(path, []byte("ab")))
	require.NoError(t, backend.Append(path, []byte("cd")))

	data, err := backend.Read(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), data)
}
