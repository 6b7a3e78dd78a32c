package router

import (
	"strings"
	"unicode"

	"github.com/quantumflow/assistcore/internal/models"
)

// WorkflowDefinition is a named multi-step procedure and the tokens that trigger it
type WorkflowDefinition struct {
	Name     string
	Steps    []models.WorkflowStep
	Triggers []string
}

func steps(names ...string) []models.WorkflowStep {
	out := make([]models.WorkflowStep, len(names))
	for i, n := range names {
		optional := strings.HasSuffix(n, "?")
		out[i] = models.WorkflowStep{Name: strings.TrimSuffix(n, "?"), Optional: optional}
	}
	return out
}

// DefaultWorkflows returns the built-in workflow table, in match priority order.
// Steps with a trailing "?" are optional.
func DefaultWorkflows() []WorkflowDefinition {
	return []WorkflowDefinition{
		{
			Name:     "create-component",
			Steps:    steps("create_file", "add_boilerplate", "create_test", "update_exports?"),
			Triggers: []string{"component"},
		},
		{
			Name:     "refactor-code",
			Steps:    steps("analyze_code", "plan_changes", "apply_changes", "run_tests?"),
			Triggers: []string{"refactor"},
		},
		{
			Name:     "deploy-application",
			Steps:    steps("run_tests", "build", "deploy", "verify"),
			Triggers: []string{string(models.IntentDeploy)},
		},
		{
			Name:     "setup-testing",
			Steps:    steps("install_framework", "create_config", "create_test", "run_tests"),
			Triggers: []string{"coverage"},
		},
		{
			Name:     "debug-issue",
			Steps:    steps("reproduce", "locate_cause", "apply_fix", "verify_fix?"),
			Triggers: []string{"debug", "bug", "error", "fix"},
		},
	}
}

// WorkflowIdentifier attaches a workflow to commands that match one
type WorkflowIdentifier struct {
	defs []WorkflowDefinition
}

// NewWorkflowIdentifier creates an identifier over defs, or the defaults when defs is empty
func NewWorkflowIdentifier(defs []WorkflowDefinition) *WorkflowIdentifier {
	if len(defs) == 0 {
		defs = DefaultWorkflows()
	}
	return &WorkflowIdentifier{defs: defs}
}

// Definitions returns the workflow table
func (w *WorkflowIdentifier) Definitions() []WorkflowDefinition {
	return w.defs
}

// Identify returns a fresh workflow with cursor 0 for the first definition
// whose triggers match the intent or an entity keyword, or nil.
func (w *WorkflowIdentifier) Identify(in *models.Intent, e *models.Entities) *models.Workflow {
	if in == nil {
		return nil
	}
	keywords := commandKeywords(in, e)

	for _, def := range w.defs {
		for _, trigger := range def.Triggers {
			if !keywords[strings.ToLower(trigger)] {
				continue
			}
			stepsCopy := make([]models.WorkflowStep, len(def.Steps))
			copy(stepsCopy, def.Steps)
			return &models.Workflow{
				Name:          def.Name,
				Steps:         stepsCopy,
				Cursor:        0,
				OriginContext: originContext(in, e),
			}
		}
	}
	return nil
}

// commandKeywords collects the tokens triggers are matched against
func commandKeywords(in *models.Intent, e *models.Entities) map[string]bool {
	keywords := map[string]bool{string(in.Type): true}
	add := func(text string) {
		for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		}) {
			keywords[word] = true
		}
	}

	add(in.MatchedText)
	if e == nil {
		return keywords
	}
	add(e.Action)
	if e.Target != nil {
		keywords[strings.ToLower(e.Target.Type)] = true
		add(e.Target.Name)
		add(e.Target.RawText)
	}
	for key, value := range e.Parameters {
		if b, ok := value.(bool); ok && b {
			keywords[strings.ToLower(key)] = true
		}
	}
	return keywords
}

func originContext(in *models.Intent, e *models.Entities) string {
	if e != nil && e.Target != nil && e.Target.Name != "" {
		return string(in.Type) + ":" + e.Target.Type + ":" + e.Target.Name
	}
	return string(in.Type)
}
