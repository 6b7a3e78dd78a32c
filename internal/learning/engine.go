package learning

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quantumflow/assistcore/internal/config"
	"github.com/quantumflow/assistcore/internal/logging"
	"github.com/quantumflow/assistcore/internal/memory"
	"github.com/quantumflow/assistcore/internal/models"
	"github.com/quantumflow/assistcore/internal/router"
)

const (
	// reinforceSimilarity is how close a trigger must be to an existing
	// pattern of the same intent to count as another occurrence of it
	reinforceSimilarity = 0.9

	thresholdBump    = 1.05
	rateIncrease     = 1.1
	rateDecrease     = 0.9
	minOutcomeSample = 5
	restoreLimit     = 100
)

// Interaction is one completed command as the learning engine sees it
type Interaction struct {
	UserID   string
	Text     string
	Intent   *models.Intent
	Entities *models.Entities
	Result   *router.CommandResult
	Feedback *models.Feedback
	At       time.Time
}

func (in *Interaction) intentType() models.IntentType {
	if in.Intent == nil {
		return models.IntentSearch
	}
	return in.Intent.Type
}

func (in *Interaction) succeeded() bool {
	return in.Result != nil && in.Result.Success
}

// Thresholds are the engine's adaptive parameters
type Thresholds struct {
	PatternConfidence  float64 `json:"pattern_confidence"`
	LearningRate       float64 `json:"learning_rate"`
	LearnedCorrections int     `json:"learned_corrections"`
}

// Outcome reports what one interaction taught the engine
type Outcome struct {
	Confidence        float64         `json:"confidence"`
	Pattern           *models.Pattern `json:"pattern,omitempty"`
	NewPattern        bool            `json:"new_pattern,omitempty"`
	CorrectionLearned bool            `json:"correction_learned,omitempty"`
	LearningRate      float64         `json:"learning_rate"`
	Skipped           bool            `json:"skipped,omitempty"`
}

// Adaptation is a suggestion for a future command
type Adaptation struct {
	Type    string `json:"type"` // parameter, workflow, correction
	Key     string `json:"key,omitempty"`
	Value   string `json:"value,omitempty"`
	Count   int    `json:"count,omitempty"`
	Avoid   string `json:"avoid,omitempty"`
	Prefer  string `json:"prefer,omitempty"`
	Message string `json:"message"`
}

// Engine learns patterns, behavior and corrections from interactions.
// It is shared across sessions; all state is guarded by mu.
type Engine struct {
	patterns    memory.PatternStore
	corrections memory.CorrectionStore
	embedder    memory.EmbeddingGenerator
	matcher     *Matcher
	cfg         config.LearningConfig
	log         *logging.Logger
	now         func() time.Time

	mu         sync.Mutex
	thresholds Thresholds
	behaviors  map[string]*models.BehaviorModel
	learned    []CorrectionPattern
	outcomes   []bool

	// workflow name -> intent it last ran under
	workflowIntent map[string]models.IntentType
}

// NewEngine creates a learning engine. corrections may be nil, in which
// case corrections are learned in memory only.
func NewEngine(patterns memory.PatternStore, corrections memory.CorrectionStore, embedder memory.EmbeddingGenerator, matcher *Matcher, cfg config.LearningConfig, log *logging.Logger) *Engine {
	defaults := config.DefaultConfig().Learning
	if cfg.CorrectionBumpEvery <= 0 {
		cfg.CorrectionBumpEvery = defaults.CorrectionBumpEvery
	}
	if cfg.TimePatternLimit <= 0 {
		cfg.TimePatternLimit = defaults.TimePatternLimit
	}
	if cfg.FeedbackLimit <= 0 {
		cfg.FeedbackLimit = defaults.FeedbackLimit
	}
	if cfg.OutcomeWindow <= 0 {
		cfg.OutcomeWindow = defaults.OutcomeWindow
	}
	if cfg.SuggestionMinUses <= 0 {
		cfg.SuggestionMinUses = defaults.SuggestionMinUses
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = defaults.LearningRate
	}

	return &Engine{
		patterns:    patterns,
		corrections: corrections,
		embedder:    embedder,
		matcher:     matcher,
		cfg:         cfg,
		log:         logging.OrNop(log).Named("learning"),
		now:         time.Now,
		thresholds: Thresholds{
			PatternConfidence: cfg.PatternConfidence,
			LearningRate:      cfg.LearningRate,
		},
		behaviors:      make(map[string]*models.BehaviorModel),
		workflowIntent: make(map[string]models.IntentType),
	}
}

// Restore reloads learned corrections from the journal
func (e *Engine) Restore(ctx context.Context) error {
	if e.corrections == nil {
		return nil
	}

	var restored []CorrectionPattern
	for _, intentType := range models.AllIntents {
		list, err := e.corrections.ListByIntent(ctx, intentType, restoreLimit)
		if err != nil {
			return fmt.Errorf("failed to load corrections: %w", err)
		}
		for _, c := range list {
			if !c.Learned {
				continue
			}
			avoid, prefer, ok := diffCorrection(c.IncorrectResponse, c.Correction)
			if !ok {
				continue
			}
			restored = append(restored, CorrectionPattern{
				CorrectionID: c.ID,
				Intent:       c.Intent,
				Avoid:        avoid,
				Prefer:       prefer,
				CommandText:  c.CommandText,
			})
		}
	}

	e.mu.Lock()
	e.learned = append(e.learned, restored...)
	e.thresholds.LearnedCorrections = len(e.learned)
	e.mu.Unlock()

	e.log.Info("restored learned corrections", "count", len(restored))
	return nil
}

// interactionConfidence rises with success, a confident intent and positive feedback
func interactionConfidence(in *Interaction, rate float64) float64 {
	bonus := 0.0
	if in.succeeded() {
		bonus += 0.2
	}
	if in.Intent != nil && in.Intent.Confidence > 0.8 {
		bonus += 0.1
	}
	if fb := in.Feedback; fb != nil {
		if fb.Positive {
			bonus += 0.2
		} else {
			bonus -= 0.3
		}
	}
	return math.Max(0, math.Min(1, 0.5+rate*bonus))
}

// LearnFromInteraction updates behavior statistics, generalizes or
// reinforces a pattern, learns any attached correction and adapts the
// learning rate. Commands still awaiting confirmation are skipped.
func (e *Engine) LearnFromInteraction(ctx context.Context, in *Interaction) (*Outcome, error) {
	if in == nil || in.Intent == nil {
		return nil, fmt.Errorf("interaction has no intent")
	}
	if in.At.IsZero() {
		in.At = e.now()
	}

	if in.Result != nil && in.Result.RequiresConfirmation {
		return &Outcome{Skipped: true, LearningRate: e.Thresholds().LearningRate}, nil
	}

	e.mu.Lock()
	out := &Outcome{Confidence: interactionConfidence(in, e.thresholds.LearningRate)}
	threshold := e.thresholds.PatternConfidence
	e.updateBehavior(e.behaviorLocked(in.UserID), in)
	if in.Result != nil && in.Result.Workflow != nil {
		e.workflowIntent[in.Result.Workflow.Name] = in.intentType()
	}
	if in.Result != nil && in.Result.PatternID != "" {
		e.adaptRateLocked(in.succeeded())
	}
	out.LearningRate = e.thresholds.LearningRate
	e.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	if in.Result != nil && in.Result.PatternID != "" && e.matcher != nil {
		id, success := in.Result.PatternID, in.succeeded()
		g.Go(func() error {
			p, err := e.matcher.RecordOutcome(gctx, id, success)
			if err != nil {
				return err
			}
			out.Pattern = p
			return nil
		})
	} else if in.succeeded() && out.Confidence >= threshold {
		g.Go(func() error {
			p, created, err := e.generalize(gctx, in)
			if err != nil {
				return err
			}
			out.Pattern, out.NewPattern = p, created
			return nil
		})
	}

	if fb := in.Feedback; fb != nil && !fb.Positive && strings.TrimSpace(fb.Correction) != "" {
		c := &models.MistakeCorrection{
			Timestamp:         in.At,
			UserID:            in.UserID,
			CommandText:       in.Text,
			Intent:            in.intentType(),
			IncorrectResponse: responseText(in.Result),
			Correction:        fb.Correction,
		}
		g.Go(func() error {
			learned, err := e.RecordCorrection(gctx, c)
			if err != nil {
				return err
			}
			out.CorrectionLearned = learned
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return out, fmt.Errorf("failed to persist learning: %w", err)
	}
	return out, nil
}

// LearnFromFeedback folds feedback on an earlier interaction into the
// user's history. A correction is learned from negative feedback; positive
// feedback generalizes a pattern the original pass fell short of.
func (e *Engine) LearnFromFeedback(ctx context.Context, in *Interaction) (*Outcome, error) {
	if in == nil || in.Intent == nil || in.Feedback == nil {
		return nil, fmt.Errorf("feedback interaction is incomplete")
	}
	if in.At.IsZero() {
		in.At = e.now()
	}
	fb := in.Feedback

	e.mu.Lock()
	rate := e.thresholds.LearningRate
	out := &Outcome{Confidence: interactionConfidence(in, rate), LearningRate: rate}
	threshold := e.thresholds.PatternConfidence

	bm := e.behaviorLocked(in.UserID)
	bm.FeedbackHistory = append(bm.FeedbackHistory, models.FeedbackRecord{
		Timestamp: in.At,
		Intent:    in.intentType(),
		Positive:  fb.Positive,
		Type:      fb.Type,
	})
	if over := len(bm.FeedbackHistory) - e.cfg.FeedbackLimit; over > 0 {
		bm.FeedbackHistory = append([]models.FeedbackRecord(nil), bm.FeedbackHistory[over:]...)
	}
	for key, value := range fb.Preferences {
		byKey := bm.ParameterFrequency[in.intentType()]
		if byKey == nil {
			byKey = make(map[string]map[string]int)
			bm.ParameterFrequency[in.intentType()] = byKey
		}
		if byKey[key] == nil {
			byKey[key] = make(map[string]int)
		}
		byKey[key][value]++
	}
	bm.UpdatedAt = in.At
	e.mu.Unlock()

	if fb.Positive {
		withoutFeedback := *in
		withoutFeedback.Feedback = nil
		if in.succeeded() && out.Confidence >= threshold && interactionConfidence(&withoutFeedback, rate) < threshold {
			p, created, err := e.generalize(ctx, in)
			if err != nil {
				return out, err
			}
			out.Pattern, out.NewPattern = p, created
		}
		return out, nil
	}

	if strings.TrimSpace(fb.Correction) == "" {
		return out, nil
	}
	learned, err := e.RecordCorrection(ctx, &models.MistakeCorrection{
		Timestamp:         in.At,
		UserID:            in.UserID,
		CommandText:       in.Text,
		Intent:            in.intentType(),
		IncorrectResponse: responseText(in.Result),
		Correction:        fb.Correction,
	})
	if err != nil {
		return out, err
	}
	out.CorrectionLearned = learned
	return out, nil
}

func responseText(r *router.CommandResult) string {
	if r == nil {
		return ""
	}
	return r.Message()
}

func (e *Engine) behaviorLocked(userID string) *models.BehaviorModel {
	bm, ok := e.behaviors[userID]
	if !ok {
		bm = models.NewBehaviorModel(userID)
		e.behaviors[userID] = bm
	}
	return bm
}

// adaptRateLocked scales the learning rate by the success rate of recently
// applied patterns. Interactions that ran no pattern are not counted.
func (e *Engine) adaptRateLocked(success bool) {
	e.outcomes = append(e.outcomes, success)
	if over := len(e.outcomes) - e.cfg.OutcomeWindow; over > 0 {
		e.outcomes = append([]bool(nil), e.outcomes[over:]...)
	}
	if len(e.outcomes) < minOutcomeSample {
		return
	}

	wins := 0
	for _, ok := range e.outcomes {
		if ok {
			wins++
		}
	}
	rate := float64(wins) / float64(len(e.outcomes))

	before := e.thresholds.LearningRate
	switch {
	case rate > 0.7:
		e.thresholds.LearningRate = math.Min(e.cfg.MaxLearningRate, before*rateIncrease)
	case rate < 0.3:
		e.thresholds.LearningRate = math.Max(e.cfg.MinLearningRate, before*rateDecrease)
	}
	if e.thresholds.LearningRate != before {
		e.log.Debug("adapted learning rate", "from", before, "to", e.thresholds.LearningRate, "success_rate", rate)
	}
}

// generalize reinforces the closest same-intent pattern or stores a new one
func (e *Engine) generalize(ctx context.Context, in *Interaction) (*models.Pattern, bool, error) {
	emb, err := e.embedder.Generate(ctx, in.Text)
	if err != nil {
		return nil, false, fmt.Errorf("failed to embed trigger: %w", err)
	}

	existing, err := e.patterns.List(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list patterns: %w", err)
	}

	var best *models.Pattern
	bestSim := 0.0
	for _, p := range existing {
		if p.Intent != in.intentType() {
			continue
		}
		if sim := memory.CosineSimilarity(emb, p.TriggerEmbedding); sim > bestSim {
			best, bestSim = p, sim
		}
	}

	if best != nil && bestSim >= reinforceSimilarity {
		p, err := e.patterns.RecordUse(ctx, best.ID, true, in.At)
		if err != nil {
			return nil, false, fmt.Errorf("failed to reinforce pattern: %w", err)
		}
		return p, false, nil
	}

	p := &models.Pattern{
		ID:               uuid.NewString(),
		Name:             patternName(in),
		Intent:           in.intentType(),
		TriggerText:      in.Text,
		TriggerEmbedding: emb,
		Actions:          actionSequence(in),
		OccurrenceCount:  1,
		SuccessRate:      1,
		LastUsed:         in.At,
		CreatedAt:        in.At,
	}
	if err := e.patterns.Save(ctx, p); err != nil {
		return nil, false, fmt.Errorf("failed to save pattern: %w", err)
	}
	e.log.Debug("generalized pattern", "pattern", p.ID, "name", p.Name)
	return p, true, nil
}

func patternName(in *Interaction) string {
	if in.Result != nil && in.Result.Workflow != nil {
		return in.Result.Workflow.Name
	}
	if in.Entities != nil && in.Entities.Target != nil && in.Entities.Target.Type != "" {
		return string(in.intentType()) + "-" + in.Entities.Target.Type
	}
	return string(in.intentType())
}

func targetName(in *Interaction) string {
	if in.Entities != nil && in.Entities.Target != nil {
		return in.Entities.Target.Name
	}
	return ""
}

// generalizeText swaps the concrete target name for its placeholder
func generalizeText(s, name string) string {
	if name == "" {
		return s
	}
	return strings.ReplaceAll(s, name, "${name}")
}

// actionSequence lifts the concrete command into a reusable template
func actionSequence(in *Interaction) models.ActionSequence {
	name := targetName(in)

	params := map[string]string{}
	if name != "" {
		params["name"] = "${name}"
		params["type"] = in.Entities.Target.Type
	}
	if in.Entities != nil {
		keys := make([]string, 0, len(in.Entities.Parameters))
		for k := range in.Entities.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == "name" || k == "type" || k == "code" || k == "content" {
				continue
			}
			if v, ok := in.Entities.Parameters[k].(string); ok && v != "" {
				params[k] = generalizeText(v, name)
			}
		}
	}

	var seq models.ActionSequence
	if in.Result != nil && in.Result.Workflow != nil {
		for _, step := range in.Result.Workflow.Steps {
			seq.Tools = append(seq.Tools, models.ToolCallSpec{Tool: step.Name, Parameters: copyParams(params)})
		}
	} else {
		seq.Tools = []models.ToolCallSpec{{Tool: string(in.intentType()), Parameters: params}}
	}

	seen := map[string]bool{}
	addPath := func(resp *models.HandlerResponse) {
		if resp == nil {
			return
		}
		for _, key := range []string{"path", "test_path"} {
			if p, ok := resp.Parameters[key].(string); ok && p != "" {
				g := generalizeText(p, name)
				if !seen[g] {
					seen[g] = true
					seq.Paths = append(seq.Paths, g)
				}
			}
		}
	}
	if in.Result != nil {
		for _, sr := range in.Result.StepResults {
			addPath(sr.Response)
		}
		addPath(in.Result.Response)
	}

	seq.Template = generalizeText(in.Text, name)
	return seq
}

func copyParams(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// RecordCorrection journals a correction and, when the incorrect and
// corrected text differ, learns an avoid/prefer pair for its intent.
// Every CorrectionBumpEvery learned corrections raise the pattern
// confidence threshold by 5%, up to MaxPatternConfidence.
func (e *Engine) RecordCorrection(ctx context.Context, c *models.MistakeCorrection) (bool, error) {
	if c == nil {
		return false, fmt.Errorf("no correction")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = e.now()
	}

	if e.corrections != nil {
		if err := e.corrections.Record(ctx, c); err != nil {
			return false, fmt.Errorf("failed to record correction: %w", err)
		}
	}

	avoid, prefer, ok := diffCorrection(c.IncorrectResponse, c.Correction)
	if !ok {
		return false, nil
	}

	if e.corrections != nil {
		if err := e.corrections.MarkLearned(ctx, c.ID); err != nil {
			return false, fmt.Errorf("failed to mark correction learned: %w", err)
		}
	}
	c.Learned = true

	e.mu.Lock()
	defer e.mu.Unlock()

	e.learned = append(e.learned, CorrectionPattern{
		CorrectionID: c.ID,
		Intent:       c.Intent,
		Avoid:        avoid,
		Prefer:       prefer,
		CommandText:  c.CommandText,
	})
	e.thresholds.LearnedCorrections++

	if e.thresholds.LearnedCorrections%e.cfg.CorrectionBumpEvery == 0 {
		before := e.thresholds.PatternConfidence
		e.thresholds.PatternConfidence = math.Min(e.cfg.MaxPatternConfidence, before*thresholdBump)
		e.log.Info("raised pattern confidence threshold",
			"from", before, "to", e.thresholds.PatternConfidence,
			"learned_corrections", e.thresholds.LearnedCorrections)
	}
	return true, nil
}

// Suggest derives adaptations for a user's next command of the given intent
func (e *Engine) Suggest(userID string, intentType models.IntentType) []Adaptation {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := []Adaptation{}
	minUses := e.cfg.SuggestionMinUses

	if bm, ok := e.behaviors[userID]; ok {
		byKey := bm.ParameterFrequency[intentType]
		keys := make([]string, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value, n := mostFrequent(byKey[key])
			if n < minUses {
				continue
			}
			out = append(out, Adaptation{
				Type:    "parameter",
				Key:     key,
				Value:   value,
				Count:   n,
				Message: fmt.Sprintf("You usually use %s %q", key, value),
			})
		}

		if bm.CommandFrequency[intentType] >= minUses {
			if wf, n := mostFrequent(e.workflowsFor(bm, intentType)); n >= minUses {
				out = append(out, Adaptation{
					Type:    "workflow",
					Value:   wf,
					Count:   n,
					Message: fmt.Sprintf("Run the %s workflow?", wf),
				})
			}
		}
	}

	for i := len(e.learned) - 1; i >= 0; i-- {
		cp := e.learned[i]
		if cp.Intent != intentType {
			continue
		}
		out = append(out, Adaptation{
			Type:    "correction",
			Avoid:   cp.Avoid,
			Prefer:  cp.Prefer,
			Message: correctionMessage(cp),
		})
		break
	}

	return out
}

// workflowsFor keeps only the workflows the user ran under intentType
func (e *Engine) workflowsFor(bm *models.BehaviorModel, intentType models.IntentType) map[string]int {
	out := map[string]int{}
	for name, n := range bm.WorkflowPreference {
		if e.workflowIntent[name] == intentType {
			out[name] = n
		}
	}
	return out
}

func correctionMessage(cp CorrectionPattern) string {
	switch {
	case cp.Avoid == "":
		return fmt.Sprintf("Include %q", cp.Prefer)
	case cp.Prefer == "":
		return fmt.Sprintf("Avoid %q", cp.Avoid)
	default:
		return fmt.Sprintf("Prefer %q over %q", cp.Prefer, cp.Avoid)
	}
}

// Thresholds returns the current adaptive parameters
func (e *Engine) Thresholds() Thresholds {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.thresholds
}

// Behavior returns a snapshot of a user's behavior model, or nil
func (e *Engine) Behavior(userID string) *models.BehaviorModel {
	e.mu.Lock()
	defer e.mu.Unlock()

	bm, ok := e.behaviors[userID]
	if !ok {
		return nil
	}
	return cloneBehavior(bm)
}

// Corrections returns the learned correction patterns, oldest first
func (e *Engine) Corrections() []CorrectionPattern {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]CorrectionPattern(nil), e.learned...)
}
