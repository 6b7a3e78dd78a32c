package codeanalysis

import (
	"fmt"
	"strings"

	"github.com/quantumflow/assistcore/internal/models"
)

const (
	maxComplexity = 10
	maxParameters = 4
)

// Suggestion priorities
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

var classComponentBases = map[string]bool{
	"Component":           true,
	"PureComponent":       true,
	"React.Component":     true,
	"React.PureComponent": true,
}

// Suggest derives improvement hints from a structural model
func Suggest(m *models.CodeStructuralModel) []models.Suggestion {
	suggestions := []models.Suggestion{}
	if m == nil {
		return suggestions
	}

	if m.Complexity > maxComplexity {
		suggestions = append(suggestions, models.Suggestion{
			Type:     "complexity",
			Message:  fmt.Sprintf("cyclomatic complexity is %d; consider splitting into smaller functions", m.Complexity),
			Priority: PriorityHigh,
		})
	}

	if len(m.Dependencies.Missing) > 0 {
		suggestions = append(suggestions, models.Suggestion{
			Type:     "missing_dependency",
			Message:  "undefined identifiers: " + strings.Join(m.Dependencies.Missing, ", "),
			Priority: PriorityHigh,
		})
	}

	if m.HasIdiom(IdiomAsyncAwait) && !m.HasIdiom(IdiomErrorHandling) {
		suggestions = append(suggestions, models.Suggestion{
			Type:     "error_handling",
			Message:  "async code has no try/catch; rejected promises will go unhandled",
			Priority: PriorityMedium,
		})
	}

	for _, c := range m.Classes {
		if classComponentBases[c.SuperClass] {
			suggestions = append(suggestions, models.Suggestion{
				Type:     "modernize",
				Message:  fmt.Sprintf("class component %s could be a function component using hooks", c.Name),
				Priority: PriorityLow,
			})
		}
	}

	for _, f := range m.Functions {
		if f.Arity > maxParameters {
			suggestions = append(suggestions, models.Suggestion{
				Type:     "parameters",
				Message:  fmt.Sprintf("%s takes %d parameters; consider an options object", f.Name, f.Arity),
				Priority: PriorityLow,
			})
		}
	}

	return suggestions
}
