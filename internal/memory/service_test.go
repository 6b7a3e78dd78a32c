package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumflow/assistcore/internal/config"
	"github.com/quantumflow/assistcore/internal/logging"
)

func TestOpenDefaultStores(t *testing.T) {
	cfg := config.DefaultConfig().Memory

	stores, err := Open(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	defer stores.Close()

	assert.IsType(t, &HashEmbedding{}, stores.Embedder)
	assert.IsType(t, &InMemorySearchStore{}, stores.Search)
	assert.IsType(t, &InMemoryPatternStore{}, stores.Patterns)
	assert.Nil(t, stores.Corrections)
	assert.Nil(t, stores.Graph)
}

func TestOpenDurableStores(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig().Memory
	cfg.PatternBackend = "badger"
	cfg.BadgerPath = filepath.Join(dir, "patterns")
	cfg.CorrectionsDB = filepath.Join(dir, "corrections.db")

	stores, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)

	assert.IsType(t, &BadgerPatternStore{}, stores.Patterns)
	assert.IsType(t, &SQLiteCorrectionStore{}, stores.Corrections)
	require.NoError(t, stores.Close())
}

func TestOpenOllamaEmbedder(t *testing.T) {
	cfg := config.DefaultConfig().Memory
	cfg.EmbeddingProvider = "ollama"

	stores, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer stores.Close()

	assert.IsType(t, &OllamaEmbedding{}, stores.Embedder)
	assert.Equal(t, 384, stores.Embedder.Dimensions())
}
