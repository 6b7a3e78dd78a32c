package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/quantumflow/assistcore/internal/config"
	"github.com/quantumflow/assistcore/internal/inference"
	"github.com/quantumflow/assistcore/internal/logging"
)

// Stores bundles the persistence collaborators used by the assistant core.
// Corrections and Graph are nil when not configured.
type Stores struct {
	Embedder    EmbeddingGenerator
	Search      SearchStore
	Patterns    PatternStore
	Corrections CorrectionStore
	Graph       EntityGraph

	log *logging.Logger
}

// Open builds every store selected by cfg. Stores opened before a failure are closed.
func Open(ctx context.Context, cfg config.MemoryConfig, log *logging.Logger) (*Stores, error) {
	log = logging.OrNop(log)
	s := &Stores{log: log}

	s.Embedder = newEmbedder(cfg)

	switch cfg.SearchBackend {
	case "redis":
		search, err := NewRedisSearchStore(ctx, RedisOptions{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Index:    cfg.RedisIndex,
		}, s.Embedder)
		if err != nil {
			return nil, fmt.Errorf("failed to create search store: %w", err)
		}
		s.Search = search
	default:
		s.Search = NewInMemorySearchStore(s.Embedder)
	}

	switch cfg.PatternBackend {
	case "badger":
		patterns, err := NewBadgerPatternStore(cfg.BadgerPath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create pattern store: %w", err)
		}
		s.Patterns = patterns
	default:
		s.Patterns = NewInMemoryPatternStore()
	}

	if cfg.CorrectionsDB != "" {
		corrections, err := NewSQLiteCorrectionStore(cfg.CorrectionsDB)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create correction store: %w", err)
		}
		s.Corrections = corrections
	}

	if cfg.DgraphAlphaURL != "" {
		graph, err := NewDgraphEntityGraph(ctx, cfg.DgraphAlphaURL)
		if err != nil {
			// the entity graph is a mirror; run without it
			log.Warn("entity graph unavailable", "addr", cfg.DgraphAlphaURL, "error", err)
		} else {
			s.Graph = graph
		}
	}

	log.Info("memory stores ready",
		"search", cfg.SearchBackend,
		"patterns", cfg.PatternBackend,
		"embedding", cfg.EmbeddingProvider,
		"corrections", s.Corrections != nil,
		"graph", s.Graph != nil,
	)
	return s, nil
}

func newEmbedder(cfg config.MemoryConfig) EmbeddingGenerator {
	if cfg.EmbeddingProvider == "ollama" {
		client := inference.NewClient(&inference.Config{
			OllamaURL: cfg.OllamaURL,
			Model:     cfg.EmbeddingModel,
			RPS:       cfg.EmbeddingRPS,
			Burst:     5,
			Timeout:   inference.DefaultConfig().Timeout,
		})
		return NewOllamaEmbedding(client, cfg.EmbeddingDimensions)
	}
	return NewHashEmbedding(cfg.EmbeddingDimensions)
}

// Close gracefully shuts down every open store
func (s *Stores) Close() error {
	var errs []error

	if s.Search != nil {
		if err := s.Search.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Patterns != nil {
		if err := s.Patterns.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Corrections != nil {
		if err := s.Corrections.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Graph != nil {
		if err := s.Graph.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing memory stores: %w", errors.Join(errs...))
	}
	return nil
}
