package rcpath

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateMarker_IdempotentAndCreatesParent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "started", "sshd")

	require.NoError(t, CreateMarker(path))
	require.True(t, MarkerExists(path))

	// Calling it again (the concurrent-racer case) must still succeed.
	require.NoError(t, CreateMarker(path))
	require.True(t, MarkerExists(path))
}

func TestRemoveMarker_IdempotentOnMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "started", "sshd")

	require.NoError(t, RemoveMarker(path))
	require.NoError(t, CreateMarker(path))
	require.NoError(t, RemoveMarker(path))
	require.False(t, MarkerExists(path))
	require.NoError(t, RemoveMarker(path))
}

func TestListMarkers_MissingDirReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	names, err := ListMarkers(filepath.Join(dir, "does-not-exist"))
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestListMarkers_ListsFilesNotDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, CreateMarker(filepath.Join(dir, "a")))
	require.NoError(t, CreateMarker(filepath.Join(dir, "b")))

	names, err := ListMarkers(dir)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, names)
}
