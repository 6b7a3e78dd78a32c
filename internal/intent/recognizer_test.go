package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/quantumflow/assistcore/internal/config"
	"github.com/quantumflow/assistcore/internal/logging"
	"github.com/quantumflow/assistcore/internal/memory"
	"github.com/quantumflow/assistcore/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestRecognizer(t *testing.T, history memory.SearchStore) *Recognizer {
	t.Helper()
	r := NewRecognizer(history, config.DefaultConfig().Recognition, logging.Nop())
	t.Cleanup(r.Close)
	return r
}

func TestRecognizeRules(t *testing.T) {
	r := newTestRecognizer(t, nil)

	tests := []struct {
		text string
		want models.IntentType
	}{
		{"create a new file", models.IntentCreate},
		{"help", models.IntentHelp},
		{"what can you do?", models.IntentHelp},
		{"remember that we use pnpm", models.IntentRemember},
		{"switch the project to billing", models.IntentSetContext},
		{"delete the old logs", models.IntentDelete},
		{"deploy to production", models.IntentDeploy},
		{"run the tests", models.IntentTest},
		{"rename fetchUser to loadUser", models.IntentModify},
		{"explain the auth flow", models.IntentExplain},
		{"review utils.js", models.IntentAnalyze},
		{"find where the token is parsed", models.IntentSearch},
		{"look at the file auth.js", models.IntentNavigate},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			in, err := r.Recognize(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, in.Type)
			assert.Equal(t, 1.0, in.Confidence)
			assert.Equal(t, tt.want.Category(), in.Category)
			assert.False(t, in.Fallback)
		})
	}
}

func TestRecognizeCapturedSpan(t *testing.T) {
	r := newTestRecognizer(t, nil)

	in, err := r.Recognize(context.Background(), "Explain the login handler")
	require.NoError(t, err)
	assert.Equal(t, "Explain", in.MatchedText)
	assert.Equal(t, "the login handler", in.CapturedSpan)
}

func TestWidgetScenario(t *testing.T) {
	r := newTestRecognizer(t, nil)

	rec, err := r.Process(context.Background(), "create a new React component called Widget")
	require.NoError(t, err)

	assert.Equal(t, models.IntentCreate, rec.Intent.Type)
	assert.Equal(t, 1.0, rec.Intent.Confidence)
	require.NotNil(t, rec.Entities.Target)
	assert.Equal(t, "component", rec.Entities.Target.Type)
	assert.Equal(t, "Widget", rec.Entities.Target.Name)
	assert.Equal(t, "react", rec.Entities.Param("template"))
	assert.Equal(t, "Widget", rec.Entities.Param("name"))
	assert.Equal(t, "create", rec.Entities.Action)
}

func TestFallbackWithoutHistory(t *testing.T) {
	r := newTestRecognizer(t, nil)

	for _, text := range []string{"bananas are yellow", "", "   "} {
		in, err := r.Recognize(context.Background(), text)
		require.NoError(t, err)
		require.NotNil(t, in)
		assert.Equal(t, models.IntentSearch, in.Type)
		assert.Equal(t, 0.5, in.Confidence)
		assert.True(t, in.Fallback)
	}
}

func TestFallbackAdoptsNearestRecordedIntent(t *testing.T) {
	ctx := context.Background()
	history := memory.NewInMemorySearchStore(memory.NewHashEmbedding(384))
	r := newTestRecognizer(t, history)

	explain := &models.Intent{Type: models.IntentExplain}
	require.NoError(t, r.RecordCommand(ctx, "summarize recent commits", explain, true, "u1"))

	in, err := r.Recognize(ctx, "summarize recent commits today")
	require.NoError(t, err)
	assert.Equal(t, models.IntentExplain, in.Type)
	assert.False(t, in.Fallback)
	assert.Greater(t, in.Confidence, 0.8)
	assert.LessOrEqual(t, in.Confidence, 1.0)

	in, err = r.Recognize(ctx, "bananas are yellow")
	require.NoError(t, err)
	assert.Equal(t, models.IntentSearch, in.Type)
	assert.Equal(t, 0.5, in.Confidence)
	assert.True(t, in.Fallback)
}

type failingStore struct{ memory.SearchStore }

func (failingStore) Search(context.Context, string, memory.SearchOptions) ([]memory.SearchResult, error) {
	return nil, errors.New("store down")
}

func TestFallbackSurvivesStoreFailure(t *testing.T) {
	r := newTestRecognizer(t, failingStore{})

	in, err := r.Recognize(context.Background(), "bananas are yellow")
	require.NoError(t, err)
	assert.True(t, in.Fallback)
	assert.Equal(t, 0.5, in.Confidence)
}

func TestRuleHitsAreCached(t *testing.T) {
	r := newTestRecognizer(t, nil)
	ctx := context.Background()

	_, err := r.Recognize(ctx, "Create a new file")
	require.NoError(t, err)
	_, err = r.Recognize(ctx, "bananas")
	require.NoError(t, err)
	assert.Equal(t, 1, r.cache.Len(), "only rule hits are cached")

	in, err := r.Recognize(ctx, "  create   a NEW file ")
	require.NoError(t, err)
	assert.Equal(t, models.IntentCreate, in.Type)
}

func TestCachedIntentUsesCurrentSpans(t *testing.T) {
	r := newTestRecognizer(t, nil)
	ctx := context.Background()

	first, err := r.Recognize(ctx, "search for Foo")
	require.NoError(t, err)
	assert.Equal(t, "for Foo", first.CapturedSpan)

	second, err := r.Recognize(ctx, "SEARCH   for foo")
	require.NoError(t, err)
	assert.Equal(t, 1, r.cache.Len())
	assert.Equal(t, models.IntentSearch, second.Type)
	assert.Equal(t, "SEARCH", second.MatchedText)
	assert.Equal(t, "for foo", second.CapturedSpan)

	e := r.ExtractEntities("search for foo", second)
	require.NotNil(t, e.Target)
	assert.Equal(t, "foo", e.Target.Name)
}

func TestRemoveFunctionWithCodeIsModify(t *testing.T) {
	r := newTestRecognizer(t, nil)
	ctx := context.Background()

	withCode, err := r.Process(ctx, "remove function helper from this code ```js\nfunction helper() {}\n```")
	require.NoError(t, err)
	assert.Equal(t, models.IntentModify, withCode.Intent.Type)
	assert.Equal(t, "remove", withCode.Entities.Parameters["modificationType"])
	assert.Equal(t, "function helper() {}", withCode.Entities.Parameters["code"])

	// same prose, no fragment: deleting a named function from the project
	without, err := r.Recognize(ctx, "remove function helper from this code")
	require.NoError(t, err)
	assert.Equal(t, models.IntentDelete, without.Type)
}

func TestExtractEntitiesParameters(t *testing.T) {
	r := newTestRecognizer(t, nil)
	ctx := context.Background()

	tests := []struct {
		text   string
		params map[string]interface{}
	}{
		{"rename the function getUser everywhere", map[string]interface{}{"modificationType": "rename", "scope": "project"}},
		{"update the header in this file", map[string]interface{}{"modificationType": "update", "scope": "file"}},
		{"find the definition of parseToken", map[string]interface{}{"scope": "project", "type": "definition"}},
		{"find usages of parseToken in the folder", map[string]interface{}{"scope": "directory", "type": "usage"}},
		{"explain this in detail", map[string]interface{}{"depth": "detailed"}},
		{"briefly explain main.js", map[string]interface{}{"depth": "brief"}},
		{"run integration tests with coverage", map[string]interface{}{"type": "integration", "coverage": true, "watch": false}},
		{"run the tests in watch mode", map[string]interface{}{"type": "unit", "coverage": false, "watch": true}},
		{"deploy to prod", map[string]interface{}{"environment": "production"}},
		{"remember that staging uses node 20", map[string]interface{}{"content": "staging uses node 20"}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			rec, err := r.Process(ctx, tt.text)
			require.NoError(t, err)
			for k, v := range tt.params {
				assert.Equal(t, v, rec.Entities.Parameters[k], k)
			}
		})
	}
}

func TestExtractTargets(t *testing.T) {
	r := newTestRecognizer(t, nil)
	ctx := context.Background()

	tests := []struct {
		text     string
		wantType string
		wantName string
	}{
		{"open src/auth/login.ts", "file", "src/auth/login.ts"},
		{"rename the fetchData function", "function", "fetchData"},
		{"explain the class named Store", "class", "Store"},
		{"refactor the useAuth hook", "function", "useAuth"},
		{"search for token refresh", "text", "token refresh"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			rec, err := r.Process(ctx, tt.text)
			require.NoError(t, err)
			require.NotNil(t, rec.Entities.Target)
			assert.Equal(t, tt.wantType, rec.Entities.Target.Type)
			assert.Equal(t, tt.wantName, rec.Entities.Target.Name)
		})
	}
}

func TestCodeFragmentsAreLifted(t *testing.T) {
	r := newTestRecognizer(t, nil)

	text := "analyze this\n```ts\nconst add = (a: number, b: number) => a + b;\n```"
	rec, err := r.Process(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, models.IntentAnalyze, rec.Intent.Type)
	assert.Equal(t, "typescript", rec.Entities.Param("language"))
	assert.Equal(t, "const add = (a: number, b: number) => a + b;", rec.Entities.Param("code"))
	require.NotNil(t, rec.Entities.Target)
	assert.Equal(t, "code", rec.Entities.Target.Type)
}

func TestReferencesPopulated(t *testing.T) {
	r := newTestRecognizer(t, nil)

	rec, err := r.Process(context.Background(), "explain it and fix that function")
	require.NoError(t, err)
	require.Len(t, rec.Entities.References, 2)
	assert.Equal(t, "it", rec.Entities.References[0].Text)
	assert.Equal(t, models.ReferenceDemonstrative, rec.Entities.References[1].Kind)
}

func TestParseIntentType(t *testing.T) {
	got, ok := ParseIntentType(" Set-Context ")
	assert.True(t, ok)
	assert.Equal(t, models.IntentSetContext, got)

	_, ok = ParseIntentType("dance")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(4, time.Minute)
	defer c.Close()

	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("run tests", &models.Intent{Type: models.IntentTest})

	_, ok := c.Get("RUN tests")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("run tests")
	assert.False(t, ok)
}

func TestCacheEvictsOldestOnOverflow(t *testing.T) {
	c := NewCache(2, time.Minute)
	defer c.Close()

	c.Set("a", &models.Intent{Type: models.IntentCreate})
	c.Set("b", &models.Intent{Type: models.IntentDelete})
	c.Set("c", &models.Intent{Type: models.IntentTest})

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCachePurgeAndClose(t *testing.T) {
	c := NewCache(4, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("x", &models.Intent{Type: models.IntentHelp})

	now = now.Add(time.Hour)
	c.purgeExpired()
	assert.Zero(t, c.Len())

	c.Close()
	c.Close()
}
