package codeanalysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quantumflow/assistcore/internal/config"
	"github.com/quantumflow/assistcore/internal/logging"
	"github.com/quantumflow/assistcore/internal/models"
)

// Analysis is the result of analyzing one code fragment.
// Cached analyses are shared between callers and must be treated as read-only.
type Analysis struct {
	Model       *models.CodeStructuralModel `json:"model"`
	Suggestions []models.Suggestion         `json:"suggestions"`
}

// Analyzer parses JavaScript/TypeScript fragments into structural models
type Analyzer struct {
	cache *lru.Cache[string, *Analysis]
	log   *logging.Logger
}

// NewAnalyzer creates an analyzer with a bounded analysis cache keyed by content hash
func NewAnalyzer(cfg config.CodeConfig, log *logging.Logger) *Analyzer {
	size := cfg.CacheSize
	if size <= 0 {
		size = config.DefaultConfig().Code.CacheSize
	}
	cache, _ := lru.New[string, *Analysis](size)

	return &Analyzer{
		cache: cache,
		log:   logging.OrNop(log).Named("codeanalysis"),
	}
}

func cacheKey(lang, source string) string {
	sum := sha256.Sum256([]byte(lang + "\x00" + source))
	return hex.EncodeToString(sum[:])
}

// Analyze builds the structural model of source. It never fails: parse
// problems are reported through Model.Error with the raw text preserved.
func (a *Analyzer) Analyze(ctx context.Context, source, lang string) *Analysis {
	lang = NormalizeLanguage(lang)
	key := cacheKey(lang, source)
	if cached, ok := a.cache.Get(key); ok {
		return cached
	}

	model := a.buildModel(ctx, []byte(source), lang)
	analysis := &Analysis{
		Model:       model,
		Suggestions: Suggest(model),
	}

	// cancelled parses are not representative of the source
	if ctx.Err() == nil {
		a.cache.Add(key, analysis)
	}
	return analysis
}

func (a *Analyzer) buildModel(ctx context.Context, src []byte, lang string) *models.CodeStructuralModel {
	tree, err := parse(ctx, src, lang)
	if err != nil {
		a.log.Debug("parse failed", "language", lang, "error", err)
		model := emptyModel(lang)
		model.Error = err.Error()
		model.RawText = string(src)
		return model
	}
	defer tree.Close()

	root := tree.RootNode()
	w := newWalker(src, lang)
	w.walk(root)
	model := w.finish()

	if msg := syntaxError(root); msg != "" {
		a.log.Debug("parse failed", "language", lang, "error", msg)
		model.Error = msg
		model.RawText = string(src)
	}
	return model
}

// CacheLen returns the number of cached analyses
func (a *Analyzer) CacheLen() int {
	return a.cache.Len()
}
