package memory

import (
	"context"
	"errors"
	"time"

	"github.com/quantumflow/assistcore/internal/models"
)

// ErrNotFound is returned by stores when a keyed record does not exist
var ErrNotFound = errors.New("not found")

// EmbeddingGenerator creates vector embeddings for text
type EmbeddingGenerator interface {
	// Generate creates an embedding vector for text
	Generate(ctx context.Context, text string) ([]float32, error)

	// GenerateBatch creates embeddings for multiple texts
	GenerateBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector dimensionality
	Dimensions() int
}

// SearchStore is the persistence/search store for past command records.
// Results are eventually consistent: a just-stored record may not be searchable yet.
type SearchStore interface {
	// Store persists content with metadata and returns its id
	Store(ctx context.Context, content string, metadata map[string]string) (string, error)

	// Search returns records ranked by similarity to query
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error)

	// Close releases the store
	Close() error
}

// SearchOptions narrows a search. Filter entries must match metadata exactly.
type SearchOptions struct {
	Limit  int
	Filter map[string]string
}

// SearchResult is one ranked hit
type SearchResult struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
	Similarity float64           `json:"similarity"`
}

// PatternStore handles learned pattern storage
type PatternStore interface {
	// Save inserts or replaces a pattern
	Save(ctx context.Context, p *models.Pattern) error

	// Get retrieves a pattern by ID
	Get(ctx context.Context, id string) (*models.Pattern, error)

	// List returns every stored pattern
	List(ctx context.Context) ([]*models.Pattern, error)

	// RecordUse atomically increments the occurrence count and folds the
	// outcome into the success rate. Concurrent calls never lose updates.
	RecordUse(ctx context.Context, id string, success bool, at time.Time) (*models.Pattern, error)

	// Close closes the store
	Close() error
}

// CorrectionStore journals mistake corrections
type CorrectionStore interface {
	Record(ctx context.Context, c *models.MistakeCorrection) error
	MarkLearned(ctx context.Context, id string) error
	ListByIntent(ctx context.Context, intent models.IntentType, limit int) ([]*models.MistakeCorrection, error)
	Stats(ctx context.Context) (*CorrectionStats, error)
	Close() error
}

// CorrectionStats summarizes the correction journal
type CorrectionStats struct {
	Total    int                       `json:"total"`
	Learned  int                       `json:"learned"`
	ByIntent map[models.IntentType]int `json:"by_intent"`
}

// EntityGraph records entities mentioned in conversations and their co-mentions
type EntityGraph interface {
	// UpsertEntity stores or refreshes an entity mention
	UpsertEntity(ctx context.Context, e *GraphEntity) error

	// Relate links two entities mentioned in the same turn
	Relate(ctx context.Context, fromName, toName, relType string) error

	// FindEntities returns entities whose name matches the term
	FindEntities(ctx context.Context, term string) ([]*GraphEntity, error)

	// Close closes the graph connection
	Close() error
}

// GraphEntity is a node in the entity graph
type GraphEntity struct {
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	UserID        string    `json:"user_id,omitempty"`
	Mentions      int       `json:"mentions"`
	LastMentioned time.Time `json:"last_mentioned"`
}

// Metadata keys shared by command-history records
const (
	MetaIntent    = "intent"
	MetaSuccess   = "success"
	MetaUserID    = "user_id"
	MetaSessionID = "session_id"
	MetaKind      = "kind"
)

// Record kinds stored under MetaKind
const (
	KindCommand = "command"
	KindNote    = "note"
)
