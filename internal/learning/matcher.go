package learning

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quantumflow/assistcore/internal/config"
	"github.com/quantumflow/assistcore/internal/logging"
	"github.com/quantumflow/assistcore/internal/memory"
	"github.com/quantumflow/assistcore/internal/models"
	"github.com/quantumflow/assistcore/internal/router"
)

const recencyHalfWindow = 7 * 24 * time.Hour

// PatternConfidence scores a pattern for a query:
// similarity × successRate × (0.7 + 0.3·min(1, occurrences/10)) × (0.8 + 0.2·e^(−age/7d))
func PatternConfidence(similarity, successRate float64, occurrences int, age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	frequency := math.Min(1, float64(occurrences)/10)
	recency := math.Exp(-float64(age) / float64(recencyHalfWindow))
	return similarity * successRate * (0.7 + 0.3*frequency) * (0.8 + 0.2*recency)
}

// InterpolationKeys are the only ${key} placeholders a pattern may expand
var InterpolationKeys = map[string]bool{
	"name": true, "target": true, "type": true, "path": true, "file": true,
	"component": true, "function": true, "intent": true, "template": true,
	"language": true, "directory": true,
}

var placeholder = regexp.MustCompile(`\$\{(\w+)\}`)

// interpolate expands allow-listed placeholders; anything else stays literal
func interpolate(s string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		key := m[2 : len(m)-1]
		if !InterpolationKeys[key] {
			return m
		}
		if v, ok := vars[key]; ok {
			return v
		}
		return m
	})
}

func unsafePath(p string) bool {
	return strings.Contains(p, "..")
}

// DefaultTools returns the tool names generated actions may reference:
// every intent category and every built-in workflow step.
func DefaultTools() []string {
	tools := make([]string, 0, len(models.AllIntents)+20)
	for _, t := range models.AllIntents {
		tools = append(tools, string(t))
	}
	for _, def := range router.DefaultWorkflows() {
		for _, s := range def.Steps {
			tools = append(tools, s.Name)
		}
	}
	return tools
}

// PatternMatch is a scored candidate pattern
type PatternMatch struct {
	Pattern    *models.Pattern `json:"pattern"`
	Similarity float64         `json:"similarity"`
	Confidence float64         `json:"confidence"`
}

// Application is a pattern expanded against the current context
type Application struct {
	PatternID string                `json:"pattern_id"`
	Actions   []models.ToolCallSpec `json:"actions"`
	Paths     []string              `json:"paths,omitempty"`
	Text      string                `json:"text,omitempty"`
	Rejected  []string              `json:"rejected,omitempty"`
}

// Execution is one entry of the bounded application history
type Execution struct {
	PatternID string    `json:"pattern_id"`
	At        time.Time `json:"at"`
	Actions   int       `json:"actions"`
	Rejected  int       `json:"rejected"`
	Success   *bool     `json:"success,omitempty"`
}

// Matcher scores and applies learned patterns
type Matcher struct {
	store    memory.PatternStore
	embedder memory.EmbeddingGenerator
	cfg      config.PatternConfig
	tools    map[string]bool
	log      *logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	history []Execution
}

// NewMatcher creates a matcher. tools is the allow-list of action tools;
// nil selects DefaultTools.
func NewMatcher(store memory.PatternStore, embedder memory.EmbeddingGenerator, cfg config.PatternConfig, tools []string, log *logging.Logger) *Matcher {
	if tools == nil {
		tools = DefaultTools()
	}
	allowed := make(map[string]bool, len(tools))
	for _, t := range tools {
		allowed[t] = true
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = config.DefaultConfig().Patterns.HistoryLimit
	}

	return &Matcher{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		tools:    allowed,
		log:      logging.OrNop(log).Named("matcher"),
		now:      time.Now,
	}
}

// Match returns patterns whose trigger similarity reaches the match
// threshold, ordered by confidence.
func (m *Matcher) Match(ctx context.Context, query string) ([]PatternMatch, error) {
	emb, err := m.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	patterns, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}

	now := m.now()
	matches := make([]PatternMatch, 0)
	for _, p := range patterns {
		sim := memory.CosineSimilarity(emb, p.TriggerEmbedding)
		if sim < m.cfg.MatchThreshold {
			continue
		}
		matches = append(matches, PatternMatch{
			Pattern:    p,
			Similarity: sim,
			Confidence: PatternConfidence(sim, p.SuccessRate, p.OccurrenceCount, now.Sub(p.LastUsed)),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].Pattern.ID < matches[j].Pattern.ID
	})
	return matches, nil
}

// AutoApplicable reports whether a match may run without asking
func (m *Matcher) AutoApplicable(pm PatternMatch) bool {
	return pm.Pattern != nil && pm.Pattern.AutoApply && pm.Confidence >= m.cfg.AutoApplyThreshold
}

// Apply expands p's action sequence against vars. Actions naming unknown
// tools or unsafe paths are dropped and logged; the application is
// recorded in the execution history either way.
func (m *Matcher) Apply(ctx context.Context, p *models.Pattern, vars map[string]string) (*Application, error) {
	if p == nil {
		return nil, fmt.Errorf("no pattern to apply")
	}

	app := &Application{
		PatternID: p.ID,
		Actions:   []models.ToolCallSpec{},
		Text:      interpolate(p.Actions.Template, vars),
	}

	for _, spec := range p.Actions.Tools {
		call := models.ToolCallSpec{Tool: spec.Tool, Parameters: make(map[string]string, len(spec.Parameters))}
		for k, v := range spec.Parameters {
			call.Parameters[k] = interpolate(v, vars)
		}

		if reason := m.rejectAction(call); reason != "" {
			err := models.NewInvalidAction(call.Tool, reason)
			m.log.Warn("filtered invalid action", "pattern", p.ID, "error", err)
			app.Rejected = append(app.Rejected, err.Error())
			continue
		}
		app.Actions = append(app.Actions, call)
	}

	for _, raw := range p.Actions.Paths {
		expanded := interpolate(raw, vars)
		if unsafePath(expanded) {
			err := models.NewInvalidAction("path", fmt.Sprintf("unsafe path %q", expanded))
			m.log.Warn("filtered invalid action", "pattern", p.ID, "error", err)
			app.Rejected = append(app.Rejected, err.Error())
			continue
		}
		app.Paths = append(app.Paths, expanded)
	}

	m.record(Execution{
		PatternID: p.ID,
		At:        m.now(),
		Actions:   len(app.Actions) + len(app.Paths),
		Rejected:  len(app.Rejected),
	})
	return app, nil
}

func (m *Matcher) rejectAction(call models.ToolCallSpec) string {
	if !m.tools[call.Tool] {
		return "unknown tool"
	}
	for k, v := range call.Parameters {
		if unsafePath(v) {
			return fmt.Sprintf("unsafe path in %s", k)
		}
	}
	return ""
}

// RecordOutcome folds the result of running a pattern into its statistics
func (m *Matcher) RecordOutcome(ctx context.Context, patternID string, success bool) (*models.Pattern, error) {
	p, err := m.store.RecordUse(ctx, patternID, success, m.now())
	if err != nil {
		return nil, fmt.Errorf("failed to record pattern use: %w", err)
	}

	m.mu.Lock()
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].PatternID == patternID && m.history[i].Success == nil {
			m.history[i].Success = &success
			break
		}
	}
	m.mu.Unlock()

	return p, nil
}

func (m *Matcher) record(e Execution) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, e)
	if over := len(m.history) - m.cfg.HistoryLimit; over > 0 {
		m.history = append([]Execution(nil), m.history[over:]...)
	}
}

// History returns a copy of the execution history, oldest first
func (m *Matcher) History() []Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Execution(nil), m.history...)
}

// VarsFor builds interpolation variables from recognized entities
func VarsFor(in *models.Intent, e *models.Entities) map[string]string {
	vars := map[string]string{}
	if in != nil {
		vars["intent"] = string(in.Type)
	}
	if e == nil {
		return vars
	}

	if t := e.Target; t != nil && t.Name != "" {
		vars["name"] = t.Name
		vars["target"] = t.Name
		vars["type"] = t.Type
		switch t.Type {
		case "file":
			vars["file"] = t.Name
			vars["path"] = t.Name
		case "component", "function":
			vars[t.Type] = t.Name
		}
	}
	for _, key := range []string{"template", "language", "directory", "path"} {
		if v := e.Param(key); v != "" {
			vars[key] = v
		}
	}
	return vars
}
