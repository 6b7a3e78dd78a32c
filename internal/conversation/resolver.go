package conversation

import (
	"sort"
	"strings"

	"github.com/quantumflow/assistcore/internal/config"
	"github.com/quantumflow/assistcore/internal/intent"
	"github.com/quantumflow/assistcore/internal/logging"
	"github.com/quantumflow/assistcore/internal/models"
)

// Resolution is an utterance with its references substituted
type Resolution struct {
	Original   string             `json:"original"`
	Text       string             `json:"text"`
	References []models.Reference `json:"references"`
	Resolved   map[string]string  `json:"resolved"` // lowercased reference text -> replacement
}

// Unresolved returns the references left as literal text
func (r *Resolution) Unresolved() []models.Reference {
	var out []models.Reference
	for _, ref := range r.References {
		if ref.ResolvedTo == "" {
			out = append(out, ref)
		}
	}
	return out
}

// Resolver rewrites pronouns and demonstratives using conversation context
type Resolver struct {
	lookback int
	log      *logging.Logger
}

// NewResolver creates a resolver. Demonstratives only reach back
// DemonstrativeWindow turns.
func NewResolver(cfg config.ConversationConfig, log *logging.Logger) *Resolver {
	lookback := cfg.DemonstrativeWindow
	if lookback <= 0 {
		lookback = config.DefaultConfig().Conversation.DemonstrativeWindow
	}
	return &Resolver{lookback: lookback, log: logging.OrNop(log).Named("resolver")}
}

// entityBucket maps an entity type onto the buckets demonstrative nouns use
func entityBucket(entityType string) string {
	switch entityType {
	case "file":
		return "file"
	case "function", "method":
		return "function"
	case "variable":
		return "variable"
	case "error":
		return "error"
	case "code", "component", "class", "module":
		return "code"
	default:
		return ""
	}
}

func typePriority(entityType string) int {
	switch entityType {
	case "file":
		return 0
	case "function":
		return 1
	default:
		return 2
	}
}

// rankEntities orders candidates most recent first; ties go to the later
// turn, then to files and functions.
func rankEntities(entities []*models.ContextEntity) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if !a.LastMentioned.Equal(b.LastMentioned) {
			return a.LastMentioned.After(b.LastMentioned)
		}
		if a.Turn != b.Turn {
			return a.Turn > b.Turn
		}
		if pa, pb := typePriority(a.Type), typePriority(b.Type); pa != pb {
			return pa < pb
		}
		return a.Name < b.Name
	})
}

// Resolve substitutes every reference it can. Unresolved references stay
// as written. Resolving already-resolved text returns it unchanged.
func (r *Resolver) Resolve(text string, conv *models.Conversation) *Resolution {
	// fenced code is never rewritten; "this code" next to a fence means the fence
	prose, hasCode := text, false
	if i := strings.Index(text, "```"); i >= 0 {
		prose, hasCode = text[:i], true
	}

	res := &Resolution{
		Original:   text,
		Text:       text,
		References: intent.ScanReferences(prose),
		Resolved:   map[string]string{},
	}
	if len(res.References) == 0 {
		return res
	}

	var candidates []*models.ContextEntity
	if conv != nil {
		for _, e := range conv.Context.Entities {
			candidates = append(candidates, e)
		}
	}
	rankEntities(candidates)

	minTurn := 0
	if conv != nil {
		minTurn = conv.TurnCount - r.lookback + 1
	}

	for i := range res.References {
		ref := &res.References[i]

		var target *models.ContextEntity
		switch ref.Kind {
		case models.ReferencePronoun:
			if len(candidates) > 0 {
				target = candidates[0]
			}
		case models.ReferenceDemonstrative:
			fields := strings.Fields(ref.Text)
			bucket := intent.NounBucket(fields[len(fields)-1])
			if hasCode && bucket == "code" {
				continue
			}
			for _, e := range candidates {
				if e.Turn >= minTurn && entityBucket(e.Type) == bucket {
					target = e
					break
				}
			}
		}

		if target == nil {
			err := models.NewError(models.ErrUnresolvedReference, ref.Text, nil)
			r.log.Debug("reference left unresolved", "error", err)
			continue
		}

		replacement := target.Display
		if strings.EqualFold(ref.Text, "its") {
			replacement += "'s"
		}
		ref.ResolvedTo = replacement
		res.Resolved[strings.ToLower(ref.Text)] = replacement
	}

	// substitute right to left so earlier positions stay valid
	out := text
	for i := len(res.References) - 1; i >= 0; i-- {
		ref := res.References[i]
		if ref.ResolvedTo == "" {
			continue
		}
		out = out[:ref.Position] + ref.ResolvedTo + out[ref.Position+len(ref.Text):]
	}
	res.Text = out
	return res
}

// Display renders an entity the way resolved references read, e.g. "the file auth.js"
func Display(t *models.Target) string {
	switch t.Type {
	case "", "text":
		return t.Name
	case "code":
		return "the code snippet"
	default:
		return "the " + t.Type + " " + t.Name
	}
}
