package playbackmodule

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEntry(jobID, path string) (*RegistryEntry, *fakeHandle) {
	h := newFakeHandle(12345)
	return &RegistryEntry{
		JobID:      jobID,
		OutputPath: path,
		Handle:     h,
	}, h
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := NewProcessRegistry(nullLogger())
	entry, _ := newTestEntry("job-1", "/cache/dash/aa/0")
	registry.Register(entry)

	byID, ok := registry.GetByID("job-1")
	require.True(t, ok)
	assert.Equal(t, entry, byID)

	// path lookup is case-insensitive
	byPath, ok := registry.GetByPath("/CACHE/DASH/AA/0")
	require.True(t, ok)
	assert.Equal(t, entry, byPath)

	_, ok = registry.GetByID("missing")
	assert.False(t, ok)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistryRegisterOverSamePathKillsStale(t *testing.T) {
	registry := NewProcessRegistry(nullLogger())

	stale, staleHandle := newTestEntry("job-old", "/cache/dash/aa/0")
	registry.Register(stale)

	fresh, _ := newTestEntry("job-new", "/cache/dash/aa/0")
	registry.Register(fresh)

	assert.True(t, staleHandle.wasKilled())
	_, ok := registry.GetByID("job-old")
	assert.False(t, ok)

	got, ok := registry.GetByPath("/cache/dash/aa/0")
	require.True(t, ok)
	assert.Equal(t, "job-new", got.JobID)
}

func TestRegistryKillByID(t *testing.T) {
	registry := NewProcessRegistry(nullLogger())
	entry, handle := newTestEntry("job-1", "/cache/dash/aa/0")
	cancelled := false
	entry.Cancel = func() { cancelled = true }
	registry.Register(entry)

	assert.True(t, registry.KillByID("job-1"))
	assert.True(t, cancelled)
	assert.True(t, handle.wasKilled())
	assert.Zero(t, registry.Len())

	// killing again is a no-op
	assert.False(t, registry.KillByID("job-1"))
}

func TestRegistryKillAlreadyExitedProcess(t *testing.T) {
	registry := NewProcessRegistry(nullLogger())
	entry, handle := newTestEntry("job-1", "/cache/dash/aa/0")
	registry.Register(entry)

	handle.exit(nil)

	// kill must still unregister without touching the dead process
	assert.True(t, registry.KillByID("job-1"))
	assert.False(t, handle.wasKilled())
	assert.Zero(t, registry.Len())
}

func TestRegistryKillByPathPrefix(t *testing.T) {
	registry := NewProcessRegistry(nullLogger())

	a, _ := newTestEntry("job-a", "/cache/hls/aa/0/1080p")
	b, _ := newTestEntry("job-b", "/cache/hls/aa/0/720p")
	c, _ := newTestEntry("job-c", "/cache/hls/bb/0/720p")
	registry.Register(a)
	registry.Register(b)
	registry.Register(c)

	assert.Equal(t, 2, registry.KillByPathPrefix("/cache/hls/aa/0"))
	assert.Equal(t, 1, registry.Len())
	_, ok := registry.GetByID("job-c")
	assert.True(t, ok)
}

func TestRegistryEvictIdle(t *testing.T) {
	registry := NewProcessRegistry(nullLogger())

	idle, idleHandle := newTestEntry("job-idle", "/cache/dash/aa/0")
	registry.Register(idle)
	idle.mu.Lock()
	idle.lastAccess = time.Now().Add(-10 * time.Minute)
	idle.mu.Unlock()

	fresh, freshHandle := newTestEntry("job-fresh", "/cache/dash/bb/0")
	registry.Register(fresh)

	assert.Equal(t, 1, registry.EvictIdle(5*time.Minute))
	assert.True(t, idleHandle.wasKilled())
	assert.False(t, freshHandle.wasKilled())
	assert.Equal(t, 1, registry.Len())
}

func TestRegistryLookupRefreshesAccessTime(t *testing.T) {
	registry := NewProcessRegistry(nullLogger())
	entry, _ := newTestEntry("job-1", "/cache/dash/aa/0")
	registry.Register(entry)

	entry.mu.Lock()
	entry.lastAccess = time.Now().Add(-10 * time.Minute)
	entry.mu.Unlock()

	_, ok := registry.GetByPath("/cache/dash/aa/0")
	require.True(t, ok)

	// the lookup reset the clock, so eviction skips it
	assert.Zero(t, registry.EvictIdle(5*time.Minute))
}

func TestRegistryShutdownKillsEverything(t *testing.T) {
	registry := NewProcessRegistry(nullLogger())
	entry1, h1 := newTestEntry("job-1", "/cache/dash/aa/0")
	entry2, h2 := newTestEntry("job-2", "/cache/dash/bb/0")
	registry.Register(entry1)
	registry.Register(entry2)

	registry.Shutdown()
	assert.True(t, h1.wasKilled())
	assert.True(t, h2.wasKilled())
	assert.Zero(t, registry.Len())
}

func TestGetCurrentTranscodingIndex(t *testing.T) {
	dir := t.TempDir()
	registry := NewProcessRegistry(nullLogger())

	t.Run("no segments yet", func(t *testing.T) {
		assert.Equal(t, -1, registry.GetCurrentTranscodingIndex(dir))
	})

	t.Run("highest segment across adaptation sets", func(t *testing.T) {
		for _, f := range []string{
			"0/init-stream0.m4s",
			"0/chunk-stream0-00001.m4s",
			"0/chunk-stream0-00007.m4s",
			"1/chunk-stream1-00005.m4s",
		} {
			path := filepath.Join(dir, f)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
			require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		}
		assert.Equal(t, 7, registry.GetCurrentTranscodingIndex(dir))
	})

	t.Run("registered extension overrides default", func(t *testing.T) {
		tsDir := t.TempDir()
		entry, _ := newTestEntry("job-ts", tsDir)
		entry.SegmentExtension = ".ts"
		registry.Register(entry)

		require.NoError(t, os.WriteFile(filepath.Join(tsDir, "chunk-00042.ts"), []byte("x"), 0o644))
		assert.Equal(t, 42, registry.GetCurrentTranscodingIndex(tsDir))
	})
}
