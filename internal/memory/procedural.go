package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/quantumflow/assistcore/internal/config"
	"github.com/quantumflow/assistcore/internal/models"
)

const patternPrefix = "learning:pattern:"

// maxConflictRetries bounds optimistic retries of RecordUse
const maxConflictRetries = 16

// BadgerPatternStore implements PatternStore using BadgerDB
type BadgerPatternStore struct {
	db *badger.DB
}

// NewBadgerPatternStore opens a BadgerDB-backed pattern store at path
func NewBadgerPatternStore(path string) (*BadgerPatternStore, error) {
	opts := badger.DefaultOptions(config.ExpandPath(path)).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerPatternStore{db: db}, nil
}

// NewInMemoryBadgerPatternStore opens a BadgerDB store that lives only in memory
func NewInMemoryBadgerPatternStore() (*BadgerPatternStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &BadgerPatternStore{db: db}, nil
}

func patternKey(id string) []byte {
	return []byte(patternPrefix + id)
}

// Save inserts or replaces a pattern
func (s *BadgerPatternStore) Save(ctx context.Context, p *models.Pattern) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pattern: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(patternKey(p.ID), data)
	})
}

// Get retrieves a pattern by ID
func (s *BadgerPatternStore) Get(ctx context.Context, id string) (*models.Pattern, error) {
	var pattern models.Pattern

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(patternKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &pattern)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("pattern %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return &pattern, nil
}

// List returns every stored pattern
func (s *BadgerPatternStore) List(ctx context.Context) ([]*models.Pattern, error) {
	var patterns []*models.Pattern

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(patternPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var pattern models.Pattern
				if err := json.Unmarshal(val, &pattern); err != nil {
					return nil // Skip malformed entries
				}
				patterns = append(patterns, &pattern)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortPatterns(patterns)
	return patterns, nil
}

// RecordUse increments counters inside a read-modify-write transaction,
// retrying when a concurrent writer commits first.
func (s *BadgerPatternStore) RecordUse(ctx context.Context, id string, success bool, at time.Time) (*models.Pattern, error) {
	var updated models.Pattern

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(patternKey(id))
			if err != nil {
				return err
			}

			var pattern models.Pattern
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &pattern)
			}); err != nil {
				return err
			}

			applyUse(&pattern, success, at)

			data, err := json.Marshal(pattern)
			if err != nil {
				return err
			}
			updated = pattern
			return txn.Set(patternKey(id), data)
		})

		switch {
		case err == nil:
			return &updated, nil
		case errors.Is(err, badger.ErrConflict):
			continue
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil, fmt.Errorf("pattern %s: %w", id, ErrNotFound)
		default:
			return nil, fmt.Errorf("failed to record pattern use: %w", err)
		}
	}

	return nil, fmt.Errorf("failed to record pattern use for %s: %w", id, badger.ErrConflict)
}

// Close closes the BadgerDB instance
func (s *BadgerPatternStore) Close() error {
	return s.db.Close()
}
