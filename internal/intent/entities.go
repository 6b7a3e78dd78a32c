package intent

import (
	"regexp"
	"strings"

	"github.com/quantumflow/assistcore/internal/models"
)

var (
	codeBlockPattern = regexp.MustCompile("(?s)```([\\w+-]*)[ \\t]*\\n?(.*?)```")
	filePattern      = regexp.MustCompile(`[\w\-/]+\.[A-Za-z]\w*`)
	kindNamePattern  = regexp.MustCompile(`(?i)\b(component|function|class|module|variable|method|hook)\s+(?:called\s+|named\s+)?([A-Za-z_$][\w$]*)`)
	nameKindPattern  = regexp.MustCompile(`(?i)\b([A-Za-z_$][\w$]*)\s+(component|function|class|module|variable|method|hook)\b`)
	leadingFiller    = regexp.MustCompile(`(?i)^((the|a|an|for|me|all|to|at|of|in|on|up)\s+)+`)
)

// nameStopwords are never accepted as target names
var nameStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "new": true, "this": true, "that": true,
	"these": true, "those": true, "my": true, "our": true, "your": true, "its": true,
	"it": true, "react": true, "vue": true, "angular": true, "called": true, "named": true,
	"which": true, "some": true, "each": true, "every": true, "all": true, "any": true,
	"and": true, "or": true, "to": true, "of": true, "in": true, "for": true, "with": true,
	"async": true, "arrow": true,
}

var (
	templatePattern = regexp.MustCompile(`(?i)\b(react|vue|angular|svelte|express|next(?:\.?js)?|node)\b`)

	projectScope   = regexp.MustCompile(`(?i)\b(everywhere|all files|whole project|entire project|across the (project|codebase)|codebase)\b`)
	fileScope      = regexp.MustCompile(`(?i)\b(in|within) (this|the|that) file\b`)
	directoryScope = regexp.MustCompile(`(?i)\b(in|within|under) (the |this )?(folder|directory|dir)\b`)
	functionScope  = regexp.MustCompile(`(?i)\b(in|within|inside) (this|the|that) (function|method)\b`)

	definitionSearch = regexp.MustCompile(`(?i)\b(definition|defined|declaration|declared|implementation)\b`)
	usageSearch      = regexp.MustCompile(`(?i)\b(usages?|uses|used|references?|callers?|calls)\b`)

	briefDepth    = regexp.MustCompile(`(?i)\b(briefly|brief|quick(ly)?|short|summary|tl;?dr)\b`)
	detailedDepth = regexp.MustCompile(`(?i)\b(in detail|detailed|thoroughly|in depth|deep dive|step by step)\b`)

	e2eTests         = regexp.MustCompile(`(?i)\b(e2e|end[- ]to[- ]end)\b`)
	integrationTests = regexp.MustCompile(`(?i)\bintegration\b`)
	coverageWord     = regexp.MustCompile(`(?i)\bcoverage\b`)
	watchWord        = regexp.MustCompile(`(?i)\bwatch(ing)?\b`)

	productionEnv  = regexp.MustCompile(`(?i)\b(prod|production|live)\b`)
	stagingEnv     = regexp.MustCompile(`(?i)\b(staging|stage|preprod)\b`)
	developmentEnv = regexp.MustCompile(`(?i)\b(dev|development|local)\b`)

	languageWord = regexp.MustCompile(`(?i)\b(typescript|javascript|tsx|jsx)\b`)
	projectName  = regexp.MustCompile(`(?i)\bproject\s+([\w\-.]+)`)
	focusWord    = regexp.MustCompile(`(?i)\b(complexity|dependencies|imports|style|performance|security)\b`)
)

// CodeFragment is a fenced code block lifted out of an utterance
type CodeFragment struct {
	Language string
	Source   string
}

// splitCode removes the first fenced code block from text and returns it separately
func splitCode(text string) (string, *CodeFragment) {
	loc := codeBlockPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, nil
	}

	frag := &CodeFragment{
		Language: NormalizeLanguage(text[loc[2]:loc[3]]),
		Source:   strings.TrimRight(text[loc[4]:loc[5]], " \t\n"),
	}
	rest := strings.TrimSpace(text[:loc[0]] + " " + text[loc[1]:])
	return rest, frag
}

// NormalizeLanguage maps fence tags and file extensions to analyzer language names
func NormalizeLanguage(tag string) string {
	switch strings.ToLower(strings.TrimPrefix(tag, ".")) {
	case "ts", "typescript", "mts", "cts":
		return "typescript"
	case "tsx":
		return "tsx"
	default:
		return "javascript"
	}
}

// extractTarget finds the thing the command acts on
func extractTarget(text string, in *models.Intent) *models.Target {
	if m := filePattern.FindString(text); m != "" {
		return &models.Target{Type: "file", Name: m, RawText: m}
	}

	for _, m := range kindNamePattern.FindAllStringSubmatch(text, -1) {
		if nameStopwords[strings.ToLower(m[2])] {
			continue
		}
		return &models.Target{Type: targetType(m[1]), Name: m[2], RawText: m[0]}
	}

	for _, m := range nameKindPattern.FindAllStringSubmatch(text, -1) {
		if nameStopwords[strings.ToLower(m[1])] {
			continue
		}
		return &models.Target{Type: targetType(m[2]), Name: m[1], RawText: m[0]}
	}

	if in == nil {
		return nil
	}
	switch in.Type {
	case models.IntentSearch, models.IntentExplain, models.IntentNavigate, models.IntentAnalyze:
		span := strings.TrimSpace(leadingFiller.ReplaceAllString(in.CapturedSpan, ""))
		span = strings.TrimRight(span, ".?!")
		if span != "" {
			return &models.Target{Type: "text", Name: span, RawText: in.CapturedSpan}
		}
	}
	return nil
}

func targetType(keyword string) string {
	switch k := strings.ToLower(keyword); k {
	case "method", "hook":
		return "function"
	default:
		return k
	}
}

// extractParameters scans for keywords relevant to the intent
func extractParameters(text string, in *models.Intent, target *models.Target) map[string]interface{} {
	params := make(map[string]interface{})
	if in == nil {
		return params
	}

	switch in.Type {
	case models.IntentCreate:
		if m := templatePattern.FindString(text); m != "" {
			params["template"] = normalizeTemplate(m)
		}
		if target != nil {
			params["type"] = target.Type
			params["name"] = target.Name
		}

	case models.IntentModify:
		params["modificationType"] = modificationType(in.MatchedText)
		params["scope"] = scopeOf(text, "local")

	case models.IntentSearch:
		params["scope"] = scopeOf(text, "project")
		switch {
		case definitionSearch.MatchString(text):
			params["type"] = "definition"
		case usageSearch.MatchString(text):
			params["type"] = "usage"
		default:
			params["type"] = "text"
		}

	case models.IntentExplain:
		switch {
		case detailedDepth.MatchString(text):
			params["depth"] = "detailed"
		case briefDepth.MatchString(text):
			params["depth"] = "brief"
		default:
			params["depth"] = "normal"
		}

	case models.IntentTest:
		switch {
		case e2eTests.MatchString(text):
			params["type"] = "e2e"
		case integrationTests.MatchString(text):
			params["type"] = "integration"
		default:
			params["type"] = "unit"
		}
		params["coverage"] = coverageWord.MatchString(text)
		params["watch"] = watchWord.MatchString(text)

	case models.IntentDeploy:
		switch {
		case productionEnv.MatchString(text):
			params["environment"] = "production"
		case developmentEnv.MatchString(text):
			params["environment"] = "development"
		case stagingEnv.MatchString(text):
			params["environment"] = "staging"
		default:
			params["environment"] = "staging"
		}

	case models.IntentRemember:
		params["content"] = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(in.CapturedSpan), "that "))

	case models.IntentSetContext:
		if m := languageWord.FindString(text); m != "" {
			params["language"] = NormalizeLanguage(languageAlias(m))
		}
		if m := projectName.FindStringSubmatch(text); m != nil {
			params["project"] = m[1]
		}

	case models.IntentAnalyze:
		if m := focusWord.FindString(text); m != "" {
			params["focus"] = strings.ToLower(m)
		}
	}

	return params
}

func normalizeTemplate(m string) string {
	m = strings.ToLower(m)
	if strings.HasPrefix(m, "next") {
		return "next"
	}
	return m
}

func languageAlias(m string) string {
	switch strings.ToLower(m) {
	case "typescript":
		return "ts"
	case "tsx":
		return "tsx"
	default:
		return "js"
	}
}

func modificationType(matched string) string {
	words := strings.Fields(strings.ToLower(matched))
	if len(words) == 0 {
		return "update"
	}
	switch v := words[0]; v {
	case "modify", "change", "update", "edit":
		return "update"
	case "remove", "delete", "drop":
		return "remove"
	default:
		return v
	}
}

func scopeOf(text, fallback string) string {
	switch {
	case projectScope.MatchString(text):
		return "project"
	case functionScope.MatchString(text):
		return "function"
	case fileScope.MatchString(text):
		return "file"
	case directoryScope.MatchString(text):
		return "directory"
	default:
		return fallback
	}
}
