package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "ffmpeg", cfg.Transcoding.FFmpegPath)
	assert.Equal(t, 4, cfg.Transcoding.MaxConcurrentJobs)
	assert.Equal(t, 4*time.Second, cfg.Transcoding.SegmentDuration)
	assert.Equal(t, 5*time.Minute, cfg.Transcoding.JobIdleTimeout)
	assert.Equal(t, 256, cfg.Transcoding.LockPoolSize)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
transcoding:
  max_concurrent_jobs: 2
  ffmpeg_path: /opt/ffmpeg/bin/ffmpeg
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Transcoding.MaxConcurrentJobs)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.Transcoding.FFmpegPath)
	// untouched keys keep their defaults
	assert.Equal(t, 4*time.Second, cfg.Transcoding.SegmentDuration)
}

func TestLoadInvalidYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EMBER_PORT", "7070")
	t.Setenv("EMBER_MAX_CONCURRENT_JOBS", "8")
	t.Setenv("EMBER_HARDWARE_ACCEL", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Transcoding.MaxConcurrentJobs)
	assert.False(t, cfg.Transcoding.EnableHardwareAccel)
}
