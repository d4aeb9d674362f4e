package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_CreatesDirectoryUnderRoot(t *testing.T) {
	root := t.TempDir()
	m, err := New(root)
	require.NoError(t, err)

	ws, err := m.Acquire("org/repo#1")
	require.NoError(t, err)
	defer ws.Release()

	info, err := os.Stat(ws.Dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, root, filepath.Dir(ws.Dir))
}

func TestAcquire_RejectsDoubleAcquireForSamePipeline(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)

	ws, err := m.Acquire("org/repo#1")
	require.NoError(t, err)
	defer ws.Release()

	_, err = m.Acquire("org/repo#1")
	assert.Error(t, err)
}

func TestRelease_RemovesDirectoryAndAllowsReacquire(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)

	ws, err := m.Acquire("org/repo#1")
	require.NoError(t, err)
	dir := ws.Dir
	require.NoError(t, ws.Release())

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	ws2, err := m.Acquire("org/repo#1")
	require.NoError(t, err)
	defer ws2.Release()
}

func TestRelease_IsIdempotent(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)

	ws, err := m.Acquire("org/repo#1")
	require.NoError(t, err)
	require.NoError(t, ws.Release())
	assert.NoError(t, ws.Release())
}

func TestGC_RemovesOrphanedDirectoriesOnly(t *testing.T) {
	root := t.TempDir()
	m, err := New(root)
	require.NoError(t, err)

	live, err := m.Acquire("org/repo#1")
	require.NoError(t, err)
	defer live.Release()

	// Simulate a crash-orphaned workspace for a pipeline no longer live: a
	// directory bypassing Acquire/active tracking, as a restart would see.
	orphanDir, err := os.MkdirTemp(root, Sanitize("org/repo#2")+"-")
	require.NoError(t, err)

	err = m.GC(func(pipelineID string) bool {
		return pipelineID == Sanitize("org/repo#1")
	})
	require.NoError(t, err)

	_, err = os.Stat(live.Dir)
	assert.NoError(t, err, "live pipeline's workspace must survive GC")
	_, err = os.Stat(orphanDir)
	assert.True(t, os.IsNotExist(err), "orphaned workspace must be removed")
}

func TestActiveCount_TracksAcquireAndRelease(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, m.ActiveCount())

	ws, err := m.Acquire("org/repo#1")
	require.NoError(t, err)
	assert.Equal(t, 1, m.ActiveCount())

	require.NoError(t, ws.Release())
	assert.Equal(t, 0, m.ActiveCount())
}
