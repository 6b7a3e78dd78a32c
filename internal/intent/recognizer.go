package intent

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/quantumflow/assistcore/internal/config"
	"github.com/quantumflow/assistcore/internal/logging"
	"github.com/quantumflow/assistcore/internal/memory"
	"github.com/quantumflow/assistcore/internal/models"
)

// Recognizer classifies utterances and extracts entities
type Recognizer struct {
	rules   []rule
	history memory.SearchStore
	cache   *Cache
	cfg     config.RecognitionConfig
	log     *logging.Logger
}

// Recognition is the full result for one utterance
type Recognition struct {
	Text     string           `json:"text"`
	Intent   *models.Intent   `json:"intent"`
	Entities *models.Entities `json:"entities"`
}

// NewRecognizer creates a recognizer. history may be nil, in which case
// unmatched utterances always fall back to the default intent.
func NewRecognizer(history memory.SearchStore, cfg config.RecognitionConfig, log *logging.Logger) *Recognizer {
	return &Recognizer{
		rules:   defaultRules,
		history: history,
		cache:   NewCache(cfg.CacheSize, cfg.CacheTTL),
		cfg:     cfg,
		log:     logging.OrNop(log).Named("intent"),
	}
}

// Close stops the cache janitor
func (r *Recognizer) Close() {
	r.cache.Close()
}

// Recognize classifies text. It never fails for lack of a match:
// unmatched text yields a low-confidence fallback intent.
func (r *Recognizer) Recognize(ctx context.Context, text string) (*models.Intent, error) {
	stripped, frag := splitCode(text)
	stripped = strings.TrimSpace(stripped)

	rules := r.rules
	key := stripped
	if frag != nil {
		rules = append(append([]rule(nil), codeRules...), r.rules...)
		key = "``` " + stripped
	}

	// the key ignores case and spacing, so spans come from the current text
	if cached, ok := r.cache.Get(key); ok {
		if in := rematch(rules, cached, stripped); in != nil {
			return in, nil
		}
	}

	if in := matchRules(rules, stripped); in != nil {
		r.cache.Set(key, in)
		return in, nil
	}

	return r.similarityFallback(ctx, stripped), nil
}

// similarityFallback adopts the intent of the nearest recorded command when it is close enough
func (r *Recognizer) similarityFallback(ctx context.Context, text string) *models.Intent {
	fallback := &models.Intent{
		Type:         models.IntentSearch,
		Confidence:   r.cfg.FallbackConfidence,
		CapturedSpan: text,
		Category:     models.IntentSearch.Category(),
		Fallback:     true,
	}

	if r.history == nil || text == "" {
		r.log.Debug("recognition fallback", "text", text, "reason", "no history")
		return fallback
	}

	limit := r.cfg.NeighborLimit
	if limit <= 0 {
		limit = 5
	}

	results, err := r.history.Search(ctx, text, memory.SearchOptions{
		Limit:  limit,
		Filter: map[string]string{memory.MetaKind: memory.KindCommand},
	})
	if err != nil {
		r.log.Warn("similarity search failed, using default intent", "error", err)
		return fallback
	}
	if len(results) == 0 {
		r.log.Debug("recognition fallback", "text", text, "reason", "no neighbors")
		return fallback
	}

	best := results[0]
	recorded, ok := ParseIntentType(best.Metadata[memory.MetaIntent])
	if !ok || best.Similarity <= r.cfg.SimilarityThreshold {
		r.log.Debug("recognition fallback", "text", text, "best_similarity", best.Similarity)
		return fallback
	}

	confidence := best.Similarity
	if confidence > 1 {
		confidence = 1
	}
	return &models.Intent{
		Type:         recorded,
		Confidence:   confidence,
		MatchedText:  best.Content,
		CapturedSpan: text,
		Category:     recorded.Category(),
	}
}

// ExtractEntities pulls target, action, parameters and references out of text
func (r *Recognizer) ExtractEntities(text string, in *models.Intent) *models.Entities {
	stripped, code := splitCode(text)

	target := extractTarget(stripped, in)
	entities := &models.Entities{
		Target:     target,
		Parameters: extractParameters(stripped, in, target),
		References: ScanReferences(stripped),
	}
	if in != nil {
		entities.Action = strings.ToLower(in.MatchedText)
		if in.Fallback || entities.Action == "" {
			entities.Action = string(in.Type)
		}
	}

	if code != nil {
		entities.Parameters["code"] = code.Source
		entities.Parameters["language"] = code.Language
		if entities.Target == nil || entities.Target.Type == "text" {
			entities.Target = &models.Target{Type: "code", Name: "snippet", RawText: code.Source}
		}
	}

	return entities
}

// Process runs recognition and entity extraction
func (r *Recognizer) Process(ctx context.Context, text string) (*Recognition, error) {
	in, err := r.Recognize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}
	return &Recognition{
		Text:     text,
		Intent:   in,
		Entities: r.ExtractEntities(text, in),
	}, nil
}

// RecordCommand stores a handled command so later unmatched utterances can borrow its intent
func (r *Recognizer) RecordCommand(ctx context.Context, text string, in *models.Intent, success bool, userID string) error {
	if r.history == nil || in == nil {
		return nil
	}

	stripped, _ := splitCode(text)
	meta := map[string]string{
		memory.MetaKind:    memory.KindCommand,
		memory.MetaIntent:  string(in.Type),
		memory.MetaSuccess: strconv.FormatBool(success),
	}
	if userID != "" {
		meta[memory.MetaUserID] = userID
	}

	if _, err := r.history.Store(ctx, strings.TrimSpace(stripped), meta); err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}
