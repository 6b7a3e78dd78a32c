package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantumflow/assistcore/internal/models"
)

// Patterns flip to auto-apply once they have been reused this often with this success rate
const (
	AutoApplyMinOccurrences = 5
	AutoApplyMinSuccessRate = 0.9
)

// applyUse folds one outcome into a pattern's counters
func applyUse(p *models.Pattern, success bool, at time.Time) {
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	p.SuccessRate = (p.SuccessRate*float64(p.OccurrenceCount) + outcome) / float64(p.OccurrenceCount+1)
	p.OccurrenceCount++
	p.LastUsed = at
	p.AutoApply = p.OccurrenceCount >= AutoApplyMinOccurrences && p.SuccessRate >= AutoApplyMinSuccessRate
}

type memRecord struct {
	SearchResult
	embedding []float32
}

// InMemorySearchStore is a brute-force SearchStore over an embedding generator
type InMemorySearchStore struct {
	embedder EmbeddingGenerator
	mu       sync.RWMutex
	records  []memRecord
}

// NewInMemorySearchStore creates an in-process search store
func NewInMemorySearchStore(embedder EmbeddingGenerator) *InMemorySearchStore {
	return &InMemorySearchStore{embedder: embedder}
}

// Store embeds and keeps the record
func (s *InMemorySearchStore) Store(ctx context.Context, content string, metadata map[string]string) (string, error) {
	emb, err := s.embedder.Generate(ctx, content)
	if err != nil {
		return "", fmt.Errorf("failed to generate embedding: %w", err)
	}

	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	rec := memRecord{
		SearchResult: SearchResult{ID: uuid.NewString(), Content: content, Metadata: meta},
		embedding:    emb,
	}

	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()

	return rec.ID, nil
}

// Search ranks stored records by cosine similarity to query
func (s *InMemorySearchStore) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	emb, err := s.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	s.mu.RLock()
	results := make([]SearchResult, 0, len(s.records))
	for _, rec := range s.records {
		if !matchesFilter(rec.Metadata, opts.Filter) {
			continue
		}
		hit := rec.SearchResult
		hit.Similarity = CosineSimilarity(emb, rec.embedding)
		results = append(results, hit)
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Len returns the number of stored records
func (s *InMemorySearchStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close is a no-op; records live only in memory
func (s *InMemorySearchStore) Close() error { return nil }

func matchesFilter(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

// InMemoryPatternStore keeps patterns in a mutex-guarded map
type InMemoryPatternStore struct {
	mu       sync.Mutex
	patterns map[string]*models.Pattern
}

// NewInMemoryPatternStore creates an empty pattern store
func NewInMemoryPatternStore() *InMemoryPatternStore {
	return &InMemoryPatternStore{patterns: make(map[string]*models.Pattern)}
}

// Save inserts or replaces a pattern
func (s *InMemoryPatternStore) Save(ctx context.Context, p *models.Pattern) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	cp := clonePattern(p)

	s.mu.Lock()
	s.patterns[p.ID] = cp
	s.mu.Unlock()
	return nil
}

// Get retrieves a pattern by ID
func (s *InMemoryPatternStore) Get(ctx context.Context, id string) (*models.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return nil, fmt.Errorf("pattern %s: %w", id, ErrNotFound)
	}
	return clonePattern(p), nil
}

// List returns every stored pattern ordered by creation time
func (s *InMemoryPatternStore) List(ctx context.Context) ([]*models.Pattern, error) {
	s.mu.Lock()
	out := make([]*models.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, clonePattern(p))
	}
	s.mu.Unlock()

	sortPatterns(out)
	return out, nil
}

// RecordUse increments counters under the store lock
func (s *InMemoryPatternStore) RecordUse(ctx context.Context, id string, success bool, at time.Time) (*models.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return nil, fmt.Errorf("pattern %s: %w", id, ErrNotFound)
	}
	applyUse(p, success, at)
	return clonePattern(p), nil
}

// Close is a no-op
func (s *InMemoryPatternStore) Close() error { return nil }

func clonePattern(p *models.Pattern) *models.Pattern {
	cp := *p
	cp.TriggerEmbedding = append([]float32(nil), p.TriggerEmbedding...)
	cp.Actions.Paths = append([]string(nil), p.Actions.Paths...)
	cp.Actions.Tools = make([]models.ToolCallSpec, len(p.Actions.Tools))
	for i, t := range p.Actions.Tools {
		params := make(map[string]string, len(t.Parameters))
		for k, v := range t.Parameters {
			params[k] = v
		}
		cp.Actions.Tools[i] = models.ToolCallSpec{Tool: t.Tool, Parameters: params}
	}
	return &cp
}

func sortPatterns(ps []*models.Pattern) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}
