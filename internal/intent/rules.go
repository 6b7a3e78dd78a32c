package intent

import (
	"regexp"
	"strings"

	"github.com/quantumflow/assistcore/internal/models"
)

// rule maps a surface pattern to an intent. Rules are tried in order; first match wins.
type rule struct {
	intent  models.IntentType
	pattern *regexp.Regexp
}

var defaultRules = []rule{
	{models.IntentHelp, regexp.MustCompile(`(?i)^\s*help\b|\bwhat can you do\b|\b(list|show) (me )?(the |your )?commands\b`)},
	{models.IntentRemember, regexp.MustCompile(`(?i)\b(remember|note that|keep in mind|don'?t forget)\b`)},
	{models.IntentSetContext, regexp.MustCompile(`(?i)\b(set|switch|change) (the )?(context|project|workspace|language|directory)\b|\b(i am|i'm) (now )?working (on|in)\b`)},
	{models.IntentDelete, regexp.MustCompile(`(?i)\b(delete|remove|drop|erase|destroy)\b`)},
	{models.IntentDeploy, regexp.MustCompile(`(?i)\b(deploy|release|ship|publish)\b`)},
	{models.IntentCreate, regexp.MustCompile(`(?i)\b(create|make|generate|build|scaffold)\b`)},
	{models.IntentTest, regexp.MustCompile(`(?i)\b(tests?|testing)\b`)},
	{models.IntentModify, regexp.MustCompile(`(?i)\b(modify|change|update|edit|rename|refactor|fix|add|replace|move)\b`)},
	{models.IntentExplain, regexp.MustCompile(`(?i)\b(explain|describe|what does|what is|why|how does)\b`)},
	{models.IntentAnalyze, regexp.MustCompile(`(?i)\b(analy[sz]e|review|inspect|check|audit|lint|complexity)\b`)},
	{models.IntentSearch, regexp.MustCompile(`(?i)\b(search|find|grep|locate|where is|look for)\b`)},
	{models.IntentNavigate, regexp.MustCompile(`(?i)\b(open|go to|navigate|show|look at|switch to|jump to)\b`)},
}

// codeRules are tried before defaultRules when the utterance carries a code
// fragment: removing a function from attached code edits the fragment.
var codeRules = []rule{
	{models.IntentModify, regexp.MustCompile(`(?i)\b(remove|delete|drop)\s+(the\s+)?(function|method)\b`)},
}

// matchRules returns the first rule hit, or nil
func matchRules(rules []rule, text string) *models.Intent {
	for _, r := range rules {
		if in := r.match(text); in != nil {
			return in
		}
	}
	return nil
}

func (r rule) match(text string) *models.Intent {
	loc := r.pattern.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	return &models.Intent{
		Type:         r.intent,
		Confidence:   1.0,
		MatchedText:  text[loc[0]:loc[1]],
		CapturedSpan: strings.TrimSpace(text[loc[1]:]),
		Category:     r.intent.Category(),
	}
}

// rematch re-derives the spans of a cached classification from text.
// It returns nil when no rule of that intent matches text.
func rematch(rules []rule, cached *models.Intent, text string) *models.Intent {
	for _, r := range rules {
		if r.intent != cached.Type {
			continue
		}
		if in := r.match(text); in != nil {
			in.Confidence = cached.Confidence
			return in
		}
	}
	return nil
}

// ParseIntentType converts a recorded intent label back to its constant.
// Unknown labels report false.
func ParseIntentType(s string) (models.IntentType, bool) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")

	for _, t := range models.AllIntents {
		if string(t) == normalized {
			return t, true
		}
	}

	switch normalized {
	case "setcontext", "context":
		return models.IntentSetContext, true
	case "find", "query":
		return models.IntentSearch, true
	}
	return "", false
}
