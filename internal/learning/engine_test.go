package learning

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumflow/assistcore/internal/config"
	"github.com/quantumflow/assistcore/internal/memory"
	"github.com/quantumflow/assistcore/internal/models"
	"github.com/quantumflow/assistcore/internal/router"
)

// fakeCorrections is an in-memory CorrectionStore
type fakeCorrections struct {
	mu   sync.Mutex
	rows map[string]*models.MistakeCorrection
}

func newFakeCorrections() *fakeCorrections {
	return &fakeCorrections{rows: map[string]*models.MistakeCorrection{}}
}

func (f *fakeCorrections) Record(ctx context.Context, c *models.MistakeCorrection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.rows[c.ID] = &cp
	return nil
}

func (f *fakeCorrections) MarkLearned(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok {
		return memory.ErrNotFound
	}
	c.Learned = true
	return nil
}

func (f *fakeCorrections) ListByIntent(ctx context.Context, intent models.IntentType, limit int) ([]*models.MistakeCorrection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.MistakeCorrection
	for _, c := range f.rows {
		if c.Intent == intent {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeCorrections) Stats(ctx context.Context) (*memory.CorrectionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &memory.CorrectionStats{ByIntent: map[models.IntentType]int{}}
	for _, c := range f.rows {
		stats.Total++
		if c.Learned {
			stats.Learned++
		}
		stats.ByIntent[c.Intent]++
	}
	return stats, nil
}

func (f *fakeCorrections) Close() error { return nil }

type engineFixture struct {
	engine      *Engine
	matcher     *Matcher
	patterns    *memory.InMemoryPatternStore
	corrections *fakeCorrections
}

func newEngineFixture(t *testing.T, cfg config.LearningConfig) *engineFixture {
	t.Helper()
	patterns := memory.NewInMemoryPatternStore()
	corrections := newFakeCorrections()
	embedder := memory.NewHashEmbedding(256)
	matcher := NewMatcher(patterns, embedder, config.DefaultConfig().Patterns, nil, nil)
	return &engineFixture{
		engine:      NewEngine(patterns, corrections, embedder, matcher, cfg, nil),
		matcher:     matcher,
		patterns:    patterns,
		corrections: corrections,
	}
}

func widgetInteraction(success bool) *Interaction {
	return &Interaction{
		UserID: "u1",
		Text:   "create a new React component called Widget",
		Intent: &models.Intent{Type: models.IntentCreate, Confidence: 1},
		Entities: &models.Entities{
			Target:     &models.Target{Type: "component", Name: "Widget"},
			Parameters: map[string]interface{}{"template": "react", "name": "Widget", "type": "component"},
		},
		Result: &router.CommandResult{Intent: models.IntentCreate, Success: success},
	}
}

func TestInteractionConfidence(t *testing.T) {
	in := widgetInteraction(true)
	assert.InDelta(t, 0.8, interactionConfidence(in, 1), 1e-9)
	assert.InDelta(t, 0.5+1.5*0.3, interactionConfidence(in, 1.5), 1e-9)

	in.Feedback = &models.Feedback{Positive: true}
	assert.InDelta(t, 1.0, interactionConfidence(in, 1), 1e-9)

	in.Feedback = &models.Feedback{Positive: false}
	assert.InDelta(t, 0.5, interactionConfidence(in, 1), 1e-9)

	failed := widgetInteraction(false)
	failed.Intent.Confidence = 0.5
	assert.InDelta(t, 0.5, interactionConfidence(failed, 1), 1e-9)
}

func TestLearnGeneralizesThenReinforces(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.DefaultConfig().Learning)

	first, err := f.engine.LearnFromInteraction(ctx, widgetInteraction(true))
	require.NoError(t, err)
	require.NotNil(t, first.Pattern)
	assert.True(t, first.NewPattern)
	assert.Equal(t, 1, first.Pattern.OccurrenceCount)
	assert.Equal(t, "create-component", first.Pattern.Name)
	assert.Equal(t, "create a new React component called ${name}", first.Pattern.Actions.Template)

	second, err := f.engine.LearnFromInteraction(ctx, widgetInteraction(true))
	require.NoError(t, err)
	require.NotNil(t, second.Pattern)
	assert.False(t, second.NewPattern)
	assert.Equal(t, first.Pattern.ID, second.Pattern.ID)
	assert.Equal(t, 2, second.Pattern.OccurrenceCount)

	other := widgetInteraction(true)
	other.Text = "create a file notes.txt"
	other.Entities = &models.Entities{Target: &models.Target{Type: "file", Name: "notes.txt"}, Parameters: map[string]interface{}{}}
	third, err := f.engine.LearnFromInteraction(ctx, other)
	require.NoError(t, err)
	assert.True(t, third.NewPattern)

	all, err := f.patterns.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestLearnSkipsFailuresAndPendingConfirmations(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.DefaultConfig().Learning)

	out, err := f.engine.LearnFromInteraction(ctx, widgetInteraction(false))
	require.NoError(t, err)
	assert.Nil(t, out.Pattern)
	assert.InDelta(t, 0.6, out.Confidence, 1e-9)

	pending := widgetInteraction(false)
	pending.Intent.Type = models.IntentDelete
	pending.Result.RequiresConfirmation = true
	out, err = f.engine.LearnFromInteraction(ctx, pending)
	require.NoError(t, err)
	assert.True(t, out.Skipped)

	all, err := f.patterns.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	bm := f.engine.Behavior("u1")
	require.NotNil(t, bm)
	assert.Equal(t, 1, bm.CommandFrequency[models.IntentCreate])
	assert.Zero(t, bm.CommandFrequency[models.IntentDelete])

	_, err = f.engine.LearnFromInteraction(ctx, &Interaction{Text: "x"})
	assert.Error(t, err)
}

func TestLearnWorkflowPatternAppliesToNewTarget(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.DefaultConfig().Learning)

	wf := router.NewWorkflowIdentifier(nil).Identify(
		&models.Intent{Type: models.IntentCreate},
		&models.Entities{Target: &models.Target{Type: "component", Name: "Widget"}},
	)
	require.NotNil(t, wf)

	in := widgetInteraction(true)
	in.Result.Workflow = wf
	in.Result.StepResults = []router.StepResult{
		{Step: "create_file", Response: &models.HandlerResponse{Success: true, Parameters: map[string]interface{}{"path": "src/components/Widget.jsx"}}},
		{Step: "create_test", Response: &models.HandlerResponse{Success: true, Parameters: map[string]interface{}{
			"path": "src/components/Widget.jsx", "test_path": "src/components/Widget.test.jsx",
		}}},
	}

	out, err := f.engine.LearnFromInteraction(ctx, in)
	require.NoError(t, err)
	require.True(t, out.NewPattern)

	p := out.Pattern
	assert.Equal(t, "create-component", p.Name)
	assert.Equal(t, []string{"src/components/${name}.jsx", "src/components/${name}.test.jsx"}, p.Actions.Paths)
	require.Len(t, p.Actions.Tools, len(wf.Steps))
	assert.Equal(t, "create_file", p.Actions.Tools[0].Tool)
	assert.Equal(t, "${name}", p.Actions.Tools[0].Parameters["name"])
	assert.Equal(t, "react", p.Actions.Tools[0].Parameters["template"])

	app, err := f.matcher.Apply(ctx, p, map[string]string{"name": "Button"})
	require.NoError(t, err)
	assert.Empty(t, app.Rejected)
	assert.Len(t, app.Actions, len(wf.Steps))
	assert.Equal(t, "Button", app.Actions[0].Parameters["name"])
	assert.Equal(t, []string{"src/components/Button.jsx", "src/components/Button.test.jsx"}, app.Paths)
	assert.Equal(t, "create a new React component called Button", app.Text)
}

func TestLearnRecordsAppliedPatternOutcome(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.DefaultConfig().Learning)
	require.NoError(t, f.patterns.Save(ctx, &models.Pattern{ID: "p1", Intent: models.IntentCreate, SuccessRate: 1, OccurrenceCount: 4}))

	in := widgetInteraction(true)
	in.Result.PatternID = "p1"
	out, err := f.engine.LearnFromInteraction(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, out.Pattern)
	assert.Equal(t, "p1", out.Pattern.ID)
	assert.Equal(t, 5, out.Pattern.OccurrenceCount)
	assert.True(t, out.Pattern.AutoApply)
	assert.False(t, out.NewPattern)

	all, err := f.patterns.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func appliedWidget(success bool) *Interaction {
	in := widgetInteraction(success)
	in.Result.PatternID = "p-widget"
	return in
}

func newRateFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := newEngineFixture(t, config.DefaultConfig().Learning)
	require.NoError(t, f.patterns.Save(context.Background(), &models.Pattern{ID: "p-widget", Intent: models.IntentCreate}))
	return f
}

func TestLearningRateAdapts(t *testing.T) {
	ctx := context.Background()

	up := newRateFixture(t)
	for i := 0; i < 4; i++ {
		_, err := up.engine.LearnFromInteraction(ctx, appliedWidget(true))
		require.NoError(t, err)
	}
	assert.InDelta(t, 1.0, up.engine.Thresholds().LearningRate, 1e-9, "too few samples to adapt")

	out, err := up.engine.LearnFromInteraction(ctx, appliedWidget(true))
	require.NoError(t, err)
	assert.InDelta(t, 1.1, out.LearningRate, 1e-9)

	for i := 0; i < 20; i++ {
		_, err := up.engine.LearnFromInteraction(ctx, appliedWidget(true))
		require.NoError(t, err)
	}
	assert.InDelta(t, 2.0, up.engine.Thresholds().LearningRate, 1e-9)

	down := newRateFixture(t)
	for i := 0; i < 5; i++ {
		_, err := down.engine.LearnFromInteraction(ctx, appliedWidget(false))
		require.NoError(t, err)
	}
	assert.InDelta(t, 0.9, down.engine.Thresholds().LearningRate, 1e-9)

	for i := 0; i < 20; i++ {
		_, err := down.engine.LearnFromInteraction(ctx, appliedWidget(false))
		require.NoError(t, err)
	}
	assert.InDelta(t, 0.5, down.engine.Thresholds().LearningRate, 1e-9)
}

func TestLearningRateIgnoresInteractionsWithoutPattern(t *testing.T) {
	ctx := context.Background()
	f := newRateFixture(t)

	for i := 0; i < 10; i++ {
		_, err := f.engine.LearnFromInteraction(ctx, widgetInteraction(false))
		require.NoError(t, err)
	}
	assert.InDelta(t, 1.0, f.engine.Thresholds().LearningRate, 1e-9)

	for i := 0; i < 5; i++ {
		_, err := f.engine.LearnFromInteraction(ctx, appliedWidget(true))
		require.NoError(t, err)
	}
	assert.InDelta(t, 1.1, f.engine.Thresholds().LearningRate, 1e-9)
}

func correction(i int) *models.MistakeCorrection {
	return &models.MistakeCorrection{
		CommandText:       fmt.Sprintf("create component Widget%d", i),
		Intent:            models.IntentCreate,
		IncorrectResponse: fmt.Sprintf("Created src/Widget%d.js", i),
		Correction:        fmt.Sprintf("Created src/components/Widget%d.jsx", i),
	}
}

func TestElevenCorrectionsRaiseThresholdOnce(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.DefaultConfig().Learning)
	assert.InDelta(t, 0.7, f.engine.Thresholds().PatternConfidence, 1e-9)

	for i := 1; i <= 9; i++ {
		learned, err := f.engine.RecordCorrection(ctx, correction(i))
		require.NoError(t, err)
		require.True(t, learned)
	}
	assert.InDelta(t, 0.7, f.engine.Thresholds().PatternConfidence, 1e-9)

	for i := 10; i <= 11; i++ {
		_, err := f.engine.RecordCorrection(ctx, correction(i))
		require.NoError(t, err)
	}

	th := f.engine.Thresholds()
	assert.InDelta(t, 0.735, th.PatternConfidence, 1e-9)
	assert.Equal(t, 11, th.LearnedCorrections)

	stats, err := f.corrections.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 11, stats.Total)
	assert.Equal(t, 11, stats.Learned)
}

func TestThresholdBumpIsCapped(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig().Learning
	cfg.CorrectionBumpEvery = 1
	f := newEngineFixture(t, cfg)

	for i := 0; i < 10; i++ {
		_, err := f.engine.RecordCorrection(ctx, correction(i))
		require.NoError(t, err)
	}
	assert.InDelta(t, 0.9, f.engine.Thresholds().PatternConfidence, 1e-9)
}

func TestCorrectionWithoutDifferenceIsNotLearned(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.DefaultConfig().Learning)

	c := &models.MistakeCorrection{Intent: models.IntentSearch, IncorrectResponse: "found  three   files", Correction: "found three files"}
	learned, err := f.engine.RecordCorrection(ctx, c)
	require.NoError(t, err)
	assert.False(t, learned)
	assert.NotEmpty(t, c.ID)

	stats, err := f.corrections.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Zero(t, stats.Learned)
	assert.Zero(t, f.engine.Thresholds().LearnedCorrections)
}

func TestDiffCorrection(t *testing.T) {
	tests := []struct {
		name          string
		before, after string
		avoid, prefer string
		ok            bool
	}{
		{"replace", "Created src/Widget.js", "Created src/components/Widget.jsx", "src/Widget.js", "src/components/Widget.jsx", true},
		{"insert", "run the tests", "run the unit tests", "", "unit", true},
		{"delete", "deploy to production now", "deploy to production", "now", "", true},
		{"same", "nothing changed", "nothing  changed", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			avoid, prefer, ok := diffCorrection(tt.before, tt.after)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.avoid, avoid)
			assert.Equal(t, tt.prefer, prefer)
		})
	}
}

func TestNegativeFeedbackLearnsCorrection(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.DefaultConfig().Learning)

	in := widgetInteraction(true)
	in.Result.Response = &models.HandlerResponse{Success: true, Message: "Created src/Widget.js"}
	in.Feedback = &models.Feedback{Positive: false, Type: "correction", Correction: "Created src/components/Widget.jsx"}

	out, err := f.engine.LearnFromInteraction(ctx, in)
	require.NoError(t, err)
	assert.True(t, out.CorrectionLearned)
	assert.Nil(t, out.Pattern, "negative feedback keeps confidence below the threshold")

	learned := f.engine.Corrections()
	require.Len(t, learned, 1)
	assert.Equal(t, "src/Widget.js", learned[0].Avoid)
	assert.Equal(t, "src/components/Widget.jsx", learned[0].Prefer)

	bm := f.engine.Behavior("u1")
	require.Len(t, bm.FeedbackHistory, 1)
	assert.False(t, bm.FeedbackHistory[0].Positive)
}

func TestSuggest(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.DefaultConfig().Learning)

	wf := &models.Workflow{Name: "create-component", Steps: []models.WorkflowStep{{Name: "create_file"}}}
	for i := 0; i < 2; i++ {
		in := widgetInteraction(true)
		in.Result.Workflow = wf
		_, err := f.engine.LearnFromInteraction(ctx, in)
		require.NoError(t, err)
	}
	assert.Empty(t, f.engine.Suggest("u1", models.IntentCreate), "two uses are not enough")

	in := widgetInteraction(true)
	in.Result.Workflow = wf
	_, err := f.engine.LearnFromInteraction(ctx, in)
	require.NoError(t, err)

	_, err = f.engine.RecordCorrection(ctx, correction(1))
	require.NoError(t, err)

	got := f.engine.Suggest("u1", models.IntentCreate)
	require.Len(t, got, 4)

	assert.Equal(t, "parameter", got[0].Type)
	assert.Equal(t, "template", got[0].Key)
	assert.Equal(t, "react", got[0].Value)
	assert.Equal(t, 3, got[0].Count)
	assert.Equal(t, "type", got[1].Key)
	assert.Equal(t, "component", got[1].Value)

	assert.Equal(t, "workflow", got[2].Type)
	assert.Equal(t, "create-component", got[2].Value)

	assert.Equal(t, "correction", got[3].Type)
	assert.Equal(t, "src/Widget1.js", got[3].Avoid)
	assert.Equal(t, "src/components/Widget1.jsx", got[3].Prefer)

	assert.Empty(t, f.engine.Suggest("u1", models.IntentDeploy))
	assert.Empty(t, f.engine.Suggest("nobody", models.IntentTest))
}

func TestBehaviorCapsAndSnapshot(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig().Learning
	cfg.TimePatternLimit = 3
	cfg.FeedbackLimit = 2
	f := newEngineFixture(t, cfg)

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		in := widgetInteraction(true)
		in.At = start.Add(time.Duration(i) * time.Hour)
		in.Feedback = &models.Feedback{Positive: true}
		in.Entities.Target = &models.Target{Type: "file", Name: "auth.js"}
		_, err := f.engine.LearnFromInteraction(ctx, in)
		require.NoError(t, err)
	}

	bm := f.engine.Behavior("u1")
	require.NotNil(t, bm)
	assert.Len(t, bm.TimePatterns, 3)
	assert.Equal(t, 11, bm.TimePatterns[0].Hour, "oldest entries are evicted first")
	assert.Len(t, bm.FeedbackHistory, 2)
	assert.Equal(t, 5, bm.CommandFrequency[models.IntentCreate])
	assert.Equal(t, 5, bm.ContextPreference["auth.js"])
	assert.Equal(t, 11, PeakHour(bm, models.IntentCreate), "ties resolve to the earliest hour")

	bm.CommandFrequency[models.IntentCreate] = 99
	bm.ParameterFrequency[models.IntentCreate]["template"]["react"] = 99
	again := f.engine.Behavior("u1")
	assert.Equal(t, 5, again.CommandFrequency[models.IntentCreate])
	assert.Equal(t, 5, again.ParameterFrequency[models.IntentCreate]["template"]["react"])

	assert.Nil(t, f.engine.Behavior("nobody"))
	assert.Equal(t, -1, PeakHour(nil, models.IntentCreate))
}

func TestRestoreLoadsLearnedCorrections(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.DefaultConfig().Learning)

	_, err := f.engine.RecordCorrection(ctx, correction(1))
	require.NoError(t, err)
	_, err = f.engine.RecordCorrection(ctx, &models.MistakeCorrection{Intent: models.IntentTest, IncorrectResponse: "same", Correction: "same"})
	require.NoError(t, err)

	fresh := NewEngine(f.patterns, f.corrections, memory.NewHashEmbedding(256), f.matcher, config.DefaultConfig().Learning, nil)
	require.NoError(t, fresh.Restore(ctx))

	restored := fresh.Corrections()
	require.Len(t, restored, 1)
	assert.Equal(t, models.IntentCreate, restored[0].Intent)
	assert.Equal(t, 1, fresh.Thresholds().LearnedCorrections)
}

func TestLearnFromFeedback(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, config.DefaultConfig().Learning)

	// a fallback-confidence success lands exactly on the default threshold
	in := widgetInteraction(true)
	in.Intent.Confidence = 0.5
	in.Text = "whip up Widget"
	out, err := f.engine.LearnFromInteraction(ctx, in)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, out.Confidence, 1e-9)
	require.NotNil(t, out.Pattern, "0.7 reaches the default threshold")

	cfg := config.DefaultConfig().Learning
	cfg.PatternConfidence = 0.75
	g := newEngineFixture(t, cfg)
	out, err = g.engine.LearnFromInteraction(ctx, in)
	require.NoError(t, err)
	assert.Nil(t, out.Pattern)

	in.Feedback = &models.Feedback{Positive: true, Preferences: map[string]string{"template": "vue"}}
	out, err = g.engine.LearnFromFeedback(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, out.Pattern)
	assert.True(t, out.NewPattern)

	bm := g.engine.Behavior("u1")
	assert.Equal(t, 1, bm.CommandFrequency[models.IntentCreate], "feedback does not recount the command")
	assert.Equal(t, 1, bm.ParameterFrequency[models.IntentCreate]["template"]["vue"])
	require.Len(t, bm.FeedbackHistory, 1)
	assert.True(t, bm.FeedbackHistory[0].Positive)

	in.Result.Response = &models.HandlerResponse{Message: "Created src/Widget.js"}
	in.Feedback = &models.Feedback{Positive: false, Correction: "Created src/components/Widget.jsx"}
	out, err = g.engine.LearnFromFeedback(ctx, in)
	require.NoError(t, err)
	assert.True(t, out.CorrectionLearned)

	_, err = g.engine.LearnFromFeedback(ctx, widgetInteraction(true))
	assert.Error(t, err)
}
