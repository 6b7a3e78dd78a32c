package intent

import (
	"regexp"
	"sort"
	"strings"

	"github.com/quantumflow/assistcore/internal/models"
)

var (
	pronounPattern       = regexp.MustCompile(`(?i)\b(it|its|them)\b`)
	standalonePattern    = regexp.MustCompile(`(?i)\b(this|that)\b\s*([.,!?;:]|$)`)
	demonstrativePattern = regexp.MustCompile(`(?i)\b(this|that|these|those)\s+(files?|functions?|methods?|variables?|errors?|bugs?|exceptions?|code|snippets?|components?|class(?:es)?|modules?)\b`)
)

// nounBuckets maps the noun of a demonstrative phrase to the entity bucket it refers to
var nounBuckets = map[string]string{
	"file":      "file",
	"function":  "function",
	"method":    "function",
	"variable":  "variable",
	"error":     "error",
	"bug":       "error",
	"exception": "error",
	"code":      "code",
	"snippet":   "code",
	"component": "code",
	"class":     "code",
	"module":    "code",
}

// NounBucket returns the entity bucket of a demonstrative noun, singularized
func NounBucket(noun string) string {
	n := strings.ToLower(noun)
	if b, ok := nounBuckets[n]; ok {
		return b
	}
	if strings.HasSuffix(n, "es") {
		if b, ok := nounBuckets[strings.TrimSuffix(n, "es")]; ok {
			return b
		}
	}
	return nounBuckets[strings.TrimSuffix(n, "s")]
}

// ScanReferences finds pronouns and demonstrative phrases, ordered by position.
// "this"/"that" count as pronouns only when not followed by another word.
// Words inside file names such as it.js are not references.
func ScanReferences(text string) []models.Reference {
	refs := []models.Reference{}
	files := filePattern.FindAllStringIndex(text, -1)
	inFile := func(pos int) bool {
		for _, f := range files {
			if pos >= f[0] && pos < f[1] {
				return true
			}
		}
		return false
	}

	for _, loc := range demonstrativePattern.FindAllStringIndex(text, -1) {
		if inFile(loc[0]) {
			continue
		}
		refs = append(refs, models.Reference{
			Text:     text[loc[0]:loc[1]],
			Kind:     models.ReferenceDemonstrative,
			Position: loc[0],
		})
	}

	for _, loc := range pronounPattern.FindAllStringSubmatchIndex(text, -1) {
		if inFile(loc[2]) {
			continue
		}
		refs = append(refs, models.Reference{
			Text:     text[loc[2]:loc[3]],
			Kind:     models.ReferencePronoun,
			Position: loc[2],
		})
	}

	for _, loc := range standalonePattern.FindAllStringSubmatchIndex(text, -1) {
		if inFile(loc[2]) {
			continue
		}
		refs = append(refs, models.Reference{
			Text:     text[loc[2]:loc[3]],
			Kind:     models.ReferencePronoun,
			Position: loc[2],
		})
	}

	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].Position < refs[j].Position
	})
	return refs
}
