package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumflow/assistcore/internal/models"
)

func TestInMemorySearchStoreRanksAndFilters(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySearchStore(NewHashEmbedding(256))

	_, err := store.Store(ctx, "run the unit tests", map[string]string{MetaIntent: "test", MetaSuccess: "true"})
	require.NoError(t, err)
	_, err = store.Store(ctx, "run the unit tests again", map[string]string{MetaIntent: "test", MetaSuccess: "false"})
	require.NoError(t, err)
	_, err = store.Store(ctx, "open the readme", map[string]string{MetaIntent: "navigate", MetaSuccess: "true"})
	require.NoError(t, err)
	assert.Equal(t, 3, store.Len())

	all, err := store.Search(ctx, "run the unit tests", SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run the unit tests", all[0].Content)
	assert.InDelta(t, 1.0, all[0].Similarity, 1e-6)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Similarity, all[i].Similarity)
	}

	ok, err := store.Search(ctx, "run the unit tests", SearchOptions{Limit: 10, Filter: map[string]string{MetaSuccess: "true"}})
	require.NoError(t, err)
	require.Len(t, ok, 2)
	for _, r := range ok {
		assert.Equal(t, "true", r.Metadata[MetaSuccess])
	}

	one, err := store.Search(ctx, "anything", SearchOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, one, 1)
	assert.NoError(t, store.Close())
}

func TestInMemorySearchStoreCopiesMetadata(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySearchStore(NewHashEmbedding(32))

	meta := map[string]string{MetaIntent: "create"}
	_, err := store.Store(ctx, "make a file", meta)
	require.NoError(t, err)
	meta[MetaIntent] = "delete"

	res, err := store.Search(ctx, "make a file", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "create", res[0].Metadata[MetaIntent])
}

func TestInMemoryPatternStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryPatternStore()

	p := &models.Pattern{Name: "create component", Intent: models.IntentCreate, SuccessRate: 1, OccurrenceCount: 1, CreatedAt: time.Now()}
	require.NoError(t, store.Save(ctx, p))
	require.NotEmpty(t, p.ID)

	got, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "create component", got.Name)

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	updated, err := store.RecordUse(ctx, p.ID, false, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, updated.OccurrenceCount)
	assert.InDelta(t, 0.5, updated.SuccessRate, 1e-9)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.NoError(t, store.Close())
}

func TestInMemoryPatternStoreConcurrentUseIsAdditive(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryPatternStore()
	p := &models.Pattern{ID: "p1", SuccessRate: 1}
	require.NoError(t, store.Save(ctx, p))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RecordUse(ctx, "p1", true, time.Now())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 50, got.OccurrenceCount)
}

func TestApplyUseFlipsAutoApply(t *testing.T) {
	p := &models.Pattern{}
	for i := 0; i < AutoApplyMinOccurrences-1; i++ {
		applyUse(p, true, time.Now())
	}
	assert.False(t, p.AutoApply)

	applyUse(p, true, time.Now())
	assert.True(t, p.AutoApply)
	assert.InDelta(t, 1.0, p.SuccessRate, 1e-9)

	applyUse(p, false, time.Now())
	assert.False(t, p.AutoApply, "success rate 5/6 is below the auto-apply bar")
}
