package learning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/quantumflow/assistcore/internal/config"
	"github.com/quantumflow/assistcore/internal/memory"
	"github.com/quantumflow/assistcore/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestMatcher(t *testing.T, store memory.PatternStore) *Matcher {
	t.Helper()
	return NewMatcher(store, memory.NewHashEmbedding(256), config.DefaultConfig().Patterns, nil, nil)
}

func savePattern(t *testing.T, store memory.PatternStore, trigger string, p *models.Pattern) *models.Pattern {
	t.Helper()
	emb, err := memory.NewHashEmbedding(256).Generate(context.Background(), trigger)
	require.NoError(t, err)
	p.TriggerText = trigger
	p.TriggerEmbedding = emb
	require.NoError(t, store.Save(context.Background(), p))
	return p
}

func TestPatternConfidenceScenario(t *testing.T) {
	got := PatternConfidence(0.9, 0.95, 15, 0)
	assert.InDelta(t, 0.855, got, 1e-9)
}

func TestPatternConfidenceMonotonicInOccurrences(t *testing.T) {
	prev := -1.0
	for occ := 0; occ <= 25; occ++ {
		c := PatternConfidence(0.8, 0.9, occ, time.Hour)
		assert.GreaterOrEqual(t, c, prev, "occurrences=%d", occ)
		prev = c
	}
	assert.Equal(t, PatternConfidence(0.8, 0.9, 10, time.Hour), PatternConfidence(0.8, 0.9, 40, time.Hour))
}

func TestPatternConfidenceDecreasesWithAge(t *testing.T) {
	ages := []time.Duration{0, time.Minute, time.Hour, 24 * time.Hour, 7 * 24 * time.Hour, 30 * 24 * time.Hour}
	prev := 2.0
	for _, age := range ages {
		c := PatternConfidence(0.8, 0.9, 5, age)
		assert.Less(t, c, prev, "age=%s", age)
		prev = c
	}
}

func TestMatchFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryPatternStore()
	now := time.Now()

	strong := savePattern(t, store, "create a react component", &models.Pattern{
		Name: "strong", Intent: models.IntentCreate, SuccessRate: 1, OccurrenceCount: 12, LastUsed: now, CreatedAt: now,
	})
	weak := savePattern(t, store, "create a react component", &models.Pattern{
		Name: "weak", Intent: models.IntentCreate, SuccessRate: 0.5, OccurrenceCount: 1, LastUsed: now.Add(-30 * 24 * time.Hour), CreatedAt: now,
	})
	savePattern(t, store, "deploy the service to production", &models.Pattern{
		Name: "unrelated", Intent: models.IntentDeploy, SuccessRate: 1, OccurrenceCount: 20, LastUsed: now, CreatedAt: now,
	})

	m := newTestMatcher(t, store)
	m.now = func() time.Time { return now }

	matches, err := m.Match(ctx, "create a react component")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, strong.ID, matches[0].Pattern.ID)
	assert.Equal(t, weak.ID, matches[1].Pattern.ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
	assert.InDelta(t, 1.0, matches[0].Confidence, 1e-6)
	assert.Greater(t, matches[0].Confidence, matches[1].Confidence)
}

func TestMatchWithNoPatterns(t *testing.T) {
	m := newTestMatcher(t, memory.NewInMemoryPatternStore())
	matches, err := m.Match(context.Background(), "anything at all")
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func TestApplyInterpolatesAndFilters(t *testing.T) {
	m := newTestMatcher(t, memory.NewInMemoryPatternStore())

	p := &models.Pattern{
		ID: "p1",
		Actions: models.ActionSequence{
			Tools: []models.ToolCallSpec{
				{Tool: "create_file", Parameters: map[string]string{"name": "${name}", "path": "src/${name}.js"}},
				{Tool: "rm_rf", Parameters: map[string]string{"path": "/"}},
				{Tool: "create_test", Parameters: map[string]string{"path": "../${name}.test.js"}},
			},
			Paths:    []string{"src/components/${name}.jsx", "../etc/${name}"},
			Template: "create ${name} using ${secret}",
		},
	}

	app, err := m.Apply(context.Background(), p, map[string]string{"name": "Widget", "secret": "hunter2"})
	require.NoError(t, err)

	require.Len(t, app.Actions, 1)
	assert.Equal(t, "create_file", app.Actions[0].Tool)
	assert.Equal(t, map[string]string{"name": "Widget", "path": "src/Widget.js"}, app.Actions[0].Parameters)
	assert.Equal(t, []string{"src/components/Widget.jsx"}, app.Paths)
	assert.Equal(t, "create Widget using ${secret}", app.Text)
	assert.Len(t, app.Rejected, 3)

	assert.Equal(t, "${name}", p.Actions.Tools[0].Parameters["name"], "pattern template must not be mutated")

	hist := m.History()
	require.Len(t, hist, 1)
	assert.Equal(t, "p1", hist[0].PatternID)
	assert.Equal(t, 3, hist[0].Rejected)
	assert.Nil(t, hist[0].Success)
}

func TestApplyHistoryIsBounded(t *testing.T) {
	cfg := config.DefaultConfig().Patterns
	cfg.HistoryLimit = 3
	m := NewMatcher(memory.NewInMemoryPatternStore(), memory.NewHashEmbedding(64), cfg, []string{"create"}, nil)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := m.Apply(context.Background(), &models.Pattern{ID: id}, nil)
		require.NoError(t, err)
	}

	hist := m.History()
	require.Len(t, hist, 3)
	assert.Equal(t, "c", hist[0].PatternID)
	assert.Equal(t, "e", hist[2].PatternID)
}

func TestRecordOutcomeUpdatesPatternAndHistory(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryPatternStore()
	require.NoError(t, store.Save(ctx, &models.Pattern{ID: "p1", SuccessRate: 1, OccurrenceCount: 1}))

	m := newTestMatcher(t, store)
	_, err := m.Apply(ctx, &models.Pattern{ID: "p1"}, nil)
	require.NoError(t, err)

	p, err := m.RecordOutcome(ctx, "p1", false)
	require.NoError(t, err)
	assert.Equal(t, 2, p.OccurrenceCount)
	assert.InDelta(t, 0.5, p.SuccessRate, 1e-9)

	hist := m.History()
	require.NotNil(t, hist[0].Success)
	assert.False(t, *hist[0].Success)

	_, err = m.RecordOutcome(ctx, "missing", true)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestAutoApplicable(t *testing.T) {
	m := newTestMatcher(t, memory.NewInMemoryPatternStore())

	assert.True(t, m.AutoApplicable(PatternMatch{Pattern: &models.Pattern{AutoApply: true}, Confidence: 0.95}))
	assert.False(t, m.AutoApplicable(PatternMatch{Pattern: &models.Pattern{AutoApply: true}, Confidence: 0.5}))
	assert.False(t, m.AutoApplicable(PatternMatch{Pattern: &models.Pattern{}, Confidence: 0.99}))
	assert.False(t, m.AutoApplicable(PatternMatch{}))
}

func TestVarsFor(t *testing.T) {
	in := &models.Intent{Type: models.IntentCreate}
	e := &models.Entities{
		Target:     &models.Target{Type: "component", Name: "Widget"},
		Parameters: map[string]interface{}{"template": "react", "coverage": true},
	}

	vars := VarsFor(in, e)
	assert.Equal(t, map[string]string{
		"intent":    "create",
		"name":      "Widget",
		"target":    "Widget",
		"type":      "component",
		"component": "Widget",
		"template":  "react",
	}, vars)

	assert.Equal(t, map[string]string{}, VarsFor(nil, nil))
}

func TestDefaultToolsCoverIntentsAndSteps(t *testing.T) {
	tools := DefaultTools()
	assert.Contains(t, tools, "create")
	assert.Contains(t, tools, "create_file")
	assert.Contains(t, tools, "run_tests")
	assert.NotContains(t, tools, "rm_rf")
}
