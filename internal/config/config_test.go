package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 0.8, cfg.Recognition.SimilarityThreshold)
	assert.Equal(t, 0.5, cfg.Recognition.FallbackConfidence)
	assert.Equal(t, 10, cfg.Conversation.WindowSize)
	assert.Equal(t, 5*time.Minute, cfg.Conversation.EntityTTL)
	assert.Equal(t, 0.75, cfg.Patterns.MatchThreshold)
	assert.Equal(t, 100, cfg.Patterns.HistoryLimit)
	assert.Equal(t, 0.7, cfg.Learning.PatternConfidence)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assist.yaml")
	content := `
recognition:
  similarity_threshold: 0.9
conversation:
  window_size: 4
  entity_ttl: 2m
memory:
  pattern_backend: badger
  badger_path: /tmp/patterns
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.Recognition.SimilarityThreshold)
	assert.Equal(t, 4, cfg.Conversation.WindowSize)
	assert.Equal(t, 2*time.Minute, cfg.Conversation.EntityTTL)
	assert.Equal(t, "badger", cfg.Memory.PatternBackend)
	// untouched values keep their defaults
	assert.Equal(t, 0.5, cfg.Recognition.FallbackConfidence)
	assert.Equal(t, 0.75, cfg.Patterns.MatchThreshold)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("patterns:\n  match_threshold: 1.5\nmemory:\n  search_backend: mongo\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "patterns.match_threshold")
	assert.Contains(t, err.Error(), "search_backend")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "x/y"), ExpandPath("~/x/y"))
	assert.Equal(t, "/abs/path", ExpandPath("/abs/path"))
}
