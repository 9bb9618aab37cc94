package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 0.5, cfg.Segment.GapThreshold)
	assert.Equal(t, 20, cfg.Segment.MinWordsForBreak)
	assert.Equal(t, 80, cfg.Segment.MaxWords)
	assert.Equal(t, 15.0, cfg.Segment.MaxDuration)
	assert.Equal(t, 0.1, cfg.Reconcile.Tolerance)
	assert.Equal(t, 0.5, cfg.Reconcile.MinTempo)
	assert.Equal(t, 2.0, cfg.Reconcile.MaxTempo)
	assert.Equal(t, 1.0, cfg.Timeline.ChunkPause)
	assert.Equal(t, 0.5, cfg.Video.TransitionDuration)
	assert.Equal(t, 3.0, cfg.Video.MinSceneDuration)
	assert.Len(t, cfg.Video.Transitions, 8)
	assert.Equal(t, 10*time.Minute, cfg.FFmpeg.Timeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
video:
  transition_duration: 0.8
  width: 1280
  height: 720
music:
  intro_max_duration: 4
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.Video.TransitionDuration)
	assert.Equal(t, 1280, cfg.Video.Width)
	assert.Equal(t, 4.0, cfg.Music.IntroMaxDuration)
	assert.Equal(t, 9090, cfg.Server.Port)
	// 未覆盖的键保持默认
	assert.Equal(t, 30, cfg.Video.FPS)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TSE_SERVER_PORT", "7070")
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	assert.Nil(t, cfg)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "test-key", cfg.AI.GeminiAPIKey)
	assert.Equal(t, "debug", cfg.Log.Level)
}
