package router

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/quantumflow/assistcore/internal/codeanalysis"
	"github.com/quantumflow/assistcore/internal/memory"
	"github.com/quantumflow/assistcore/internal/models"
)

// DefaultHandlers returns one handler per intent category. analyzer serves
// code fragments; notes receives remembered facts. Either may be nil.
func DefaultHandlers(analyzer *codeanalysis.Analyzer, notes memory.SearchStore) []Handler {
	return []Handler{
		&CreateHandler{},
		&ModifyHandler{analyzer: analyzer},
		&DeleteHandler{},
		&SearchHandler{},
		&ExplainHandler{analyzer: analyzer},
		&AnalyzeHandler{analyzer: analyzer},
		&TestHandler{},
		&DeployHandler{},
		&NavigateHandler{},
		&HelpHandler{},
		&SetContextHandler{},
		&RememberHandler{notes: notes},
	}
}

func succeed(hctx *HandlerContext, action, message string, params map[string]interface{}) *models.HandlerResponse {
	if params == nil {
		params = map[string]interface{}{}
	}
	if hctx.Step != "" {
		params["step"] = hctx.Step
	}
	return &models.HandlerResponse{
		Success:    true,
		Action:     action,
		Target:     hctx.TargetName(),
		Message:    message,
		Parameters: params,
	}
}

func fail(hctx *HandlerContext, action, reason string) *models.HandlerResponse {
	return &models.HandlerResponse{
		Success: false,
		Action:  action,
		Target:  hctx.TargetName(),
		Message: reason,
		Error:   reason,
	}
}

// describe renders a target for messages, e.g. "the component Widget"
func describe(t *models.Target) string {
	if t == nil || t.Name == "" {
		return "it"
	}
	switch t.Type {
	case "", "text":
		return t.Name
	case "code":
		return "the code snippet"
	default:
		return "the " + t.Type + " " + t.Name
	}
}

func humanStep(step string) string {
	return strings.ReplaceAll(step, "_", " ")
}

// genericStep answers workflow steps a handler has no special behavior for
func genericStep(hctx *HandlerContext, action string) *models.HandlerResponse {
	msg := fmt.Sprintf("%s: %s", humanStep(hctx.Step), describe(hctx.Entities().Target))
	return succeed(hctx, action, msg, nil)
}

// CreateHandler creates files, components and functions
type CreateHandler struct{}

// Intent implements Handler.
func (h *CreateHandler) Intent() models.IntentType { return models.IntentCreate }

// Handle implements Handler.
func (h *CreateHandler) Handle(ctx context.Context, hctx *HandlerContext) (*models.HandlerResponse, error) {
	e := hctx.Entities()
	t := e.Target
	if t == nil || t.Name == "" {
		return fail(hctx, "create", "nothing to create: name a file, component or function"), nil
	}

	file := artifactPath(t, e)
	template := e.Param("template")
	params := map[string]interface{}{"path": file, "type": t.Type}
	if template != "" {
		params["template"] = template
	}

	switch hctx.Step {
	case "":
		return succeed(hctx, "create", fmt.Sprintf("Created %s at %s", describe(t), file), params), nil
	case "create_file":
		return succeed(hctx, "create", "Created "+file, params), nil
	case "add_boilerplate":
		if template == "" {
			template = "default"
		}
		return succeed(hctx, "create", fmt.Sprintf("Added %s boilerplate to %s", template, file), params), nil
	case "create_test":
		ext := path.Ext(file)
		testFile := strings.TrimSuffix(file, ext) + ".test" + ext
		params["test_path"] = testFile
		return succeed(hctx, "create", "Created test "+testFile, params), nil
	case "update_exports":
		index := path.Join(path.Dir(file), "index.js")
		return succeed(hctx, "create", fmt.Sprintf("Exported %s from %s", t.Name, index), params), nil
	default:
		return genericStep(hctx, "create"), nil
	}
}

func artifactPath(t *models.Target, e *models.Entities) string {
	ext := ".js"
	if lang := e.Param("language"); lang == "typescript" || lang == "tsx" {
		ext = ".ts"
	}

	switch t.Type {
	case "file":
		return t.Name
	case "component":
		return "src/components/" + t.Name + ext + "x"
	default:
		return "src/" + t.Name + ext
	}
}

var (
	renameOp         = regexp.MustCompile(`(?i)\brename\s+([A-Za-z_$][\w$]*)\s+to\s+([A-Za-z_$][\w$]*)`)
	addImportOp      = regexp.MustCompile(`(?i)\badd\s+(?:an?\s+)?import\s+(?:of\s+)?([A-Za-z_$][\w$]*)\s+from\s+['"]?([^\s'"]+)['"]?`)
	addFunctionOp    = regexp.MustCompile(`(?i)\badd\s+(?:an?\s+)?(async\s+)?function\s+([A-Za-z_$][\w$]*)`)
	removeFunctionOp = regexp.MustCompile(`(?i)\b(?:remove|delete|drop)\s+(?:the\s+)?(?:function|method)\s+([A-Za-z_$][\w$]*)`)
	fencedCode       = regexp.MustCompile("(?s)```.*?```")
)

// planOperations derives code transformations from the prose of a command
func planOperations(text string) []codeanalysis.Operation {
	prose := fencedCode.ReplaceAllString(text, " ")

	var ops []codeanalysis.Operation
	for _, m := range renameOp.FindAllStringSubmatch(prose, -1) {
		ops = append(ops, codeanalysis.Operation{Type: codeanalysis.OpRename, From: m[1], To: m[2]})
	}
	for _, m := range addImportOp.FindAllStringSubmatch(prose, -1) {
		ops = append(ops, codeanalysis.Operation{Type: codeanalysis.OpAddImport, Default: m[1], Source: m[2]})
	}
	for _, m := range addFunctionOp.FindAllStringSubmatch(prose, -1) {
		ops = append(ops, codeanalysis.Operation{Type: codeanalysis.OpAddFunction, Name: m[2], Async: m[1] != ""})
	}
	for _, m := range removeFunctionOp.FindAllStringSubmatch(prose, -1) {
		ops = append(ops, codeanalysis.Operation{Type: codeanalysis.OpRemoveFunction, Name: m[1]})
	}
	return ops
}

// ModifyHandler edits targets; attached code fragments are transformed structurally
type ModifyHandler struct {
	analyzer *codeanalysis.Analyzer
}

// Intent implements Handler.
func (h *ModifyHandler) Intent() models.IntentType { return models.IntentModify }

// Handle implements Handler.
func (h *ModifyHandler) Handle(ctx context.Context, hctx *HandlerContext) (*models.HandlerResponse, error) {
	e := hctx.Entities()
	code := e.Param("code")

	if code != "" && h.analyzer != nil {
		lang := e.Param("language")
		switch hctx.Step {
		case "analyze_code", "locate_cause":
			a := h.analyzer.Analyze(ctx, code, lang)
			msg := fmt.Sprintf("Complexity %d with %d suggestion(s)", a.Model.Complexity, len(a.Suggestions))
			return succeed(hctx, "modify", msg, map[string]interface{}{
				"complexity":  a.Model.Complexity,
				"suggestions": a.Suggestions,
			}), nil
		case "plan_changes", "reproduce":
			ops := planOperations(hctx.Command.Text)
			return succeed(hctx, "modify", fmt.Sprintf("Planned %d change(s)", len(ops)), map[string]interface{}{
				"operations": ops,
			}), nil
		case "", "apply_changes", "apply_fix":
			return h.transform(ctx, hctx, code, lang), nil
		default:
			return genericStep(hctx, "modify"), nil
		}
	}

	t := e.Target
	if t == nil || t.Name == "" {
		return fail(hctx, "modify", "nothing to modify: name a file or function, or include code"), nil
	}
	if hctx.Step != "" {
		return genericStep(hctx, "modify"), nil
	}

	params := map[string]interface{}{
		"modificationType": e.Param("modificationType"),
		"scope":            e.Param("scope"),
	}
	return succeed(hctx, "modify", "Updated "+describe(t), params), nil
}

func (h *ModifyHandler) transform(ctx context.Context, hctx *HandlerContext, code, lang string) *models.HandlerResponse {
	ops := planOperations(hctx.Command.Text)
	if len(ops) == 0 {
		return fail(hctx, "modify", "no supported change found; try \"rename old to new\"")
	}

	res := h.analyzer.Modify(ctx, code, lang, ops)
	if !res.Success {
		resp := fail(hctx, "modify", res.Error)
		resp.Parameters = map[string]interface{}{"original_code": res.OriginalCode}
		return resp
	}

	params := map[string]interface{}{
		"code":          res.Code,
		"applied_count": res.AppliedCount,
	}
	resp := succeed(hctx, "modify", fmt.Sprintf("Applied %d change(s)", res.AppliedCount), params)
	if len(res.Skipped) > 0 {
		resp.Warning = "skipped unsupported operations: " + strings.Join(res.Skipped, ", ")
	}
	return resp
}

// DeleteHandler removes targets after explicit confirmation
type DeleteHandler struct{}

// Intent implements Handler.
func (h *DeleteHandler) Intent() models.IntentType { return models.IntentDelete }

// Handle implements Handler.
func (h *DeleteHandler) Handle(ctx context.Context, hctx *HandlerContext) (*models.HandlerResponse, error) {
	t := hctx.Entities().Target
	if t == nil || t.Name == "" {
		return fail(hctx, "delete", "nothing to delete: name a file or function"), nil
	}

	if !hctx.Confirmed {
		return &models.HandlerResponse{
			Success:              true,
			Action:               "delete",
			Target:               t.Name,
			Message:              fmt.Sprintf("This will permanently delete %s. Confirm to proceed.", describe(t)),
			RequiresConfirmation: true,
			Warning:              "destructive action",
		}, nil
	}
	if hctx.Step != "" {
		return genericStep(hctx, "delete"), nil
	}
	return succeed(hctx, "delete", "Deleted "+describe(t), nil), nil
}

// SearchHandler describes a project search
type SearchHandler struct{}

// Intent implements Handler.
func (h *SearchHandler) Intent() models.IntentType { return models.IntentSearch }

// Handle implements Handler.
func (h *SearchHandler) Handle(ctx context.Context, hctx *HandlerContext) (*models.HandlerResponse, error) {
	e := hctx.Entities()
	query := hctx.TargetName()
	if query == "" && hctx.Command.Intent != nil {
		query = hctx.Command.Intent.CapturedSpan
	}
	if strings.TrimSpace(query) == "" {
		return fail(hctx, "search", "nothing to search for"), nil
	}
	if hctx.Step != "" {
		return genericStep(hctx, "search"), nil
	}

	scope := e.Param("scope")
	if scope == "" {
		scope = "project"
	}
	kind := e.Param("type")
	if kind == "" {
		kind = "text"
	}
	msg := fmt.Sprintf("Searching the %s for %s matches of %q", scope, kind, query)
	return succeed(hctx, "search", msg, map[string]interface{}{
		"query": query,
		"scope": scope,
		"type":  kind,
	}), nil
}

// ExplainHandler explains targets and code fragments
type ExplainHandler struct {
	analyzer *codeanalysis.Analyzer
}

// Intent implements Handler.
func (h *ExplainHandler) Intent() models.IntentType { return models.IntentExplain }

// Handle implements Handler.
func (h *ExplainHandler) Handle(ctx context.Context, hctx *HandlerContext) (*models.HandlerResponse, error) {
	e := hctx.Entities()
	if hctx.Step != "" {
		return genericStep(hctx, "explain"), nil
	}

	if code := e.Param("code"); code != "" && h.analyzer != nil {
		a := h.analyzer.Analyze(ctx, code, e.Param("language"))
		return succeed(hctx, "explain", DescribeModel(a.Model), map[string]interface{}{
			"model": a.Model,
		}), nil
	}

	t := e.Target
	if t == nil || t.Name == "" {
		return fail(hctx, "explain", "nothing to explain: name a file or function, or include code"), nil
	}
	depth := e.Param("depth")
	if depth == "" {
		depth = "normal"
	}
	return succeed(hctx, "explain", fmt.Sprintf("Explaining %s (%s detail)", describe(t), depth), map[string]interface{}{
		"depth": depth,
	}), nil
}

// DescribeModel summarizes a structural model in one paragraph
func DescribeModel(m *models.CodeStructuralModel) string {
	if m == nil {
		return "No code to describe."
	}

	var b strings.Builder
	if m.Error != "" {
		fmt.Fprintf(&b, "The code does not parse cleanly (%s). ", m.Error)
	}
	fmt.Fprintf(&b, "A %s fragment with %d function(s)", m.Language, len(m.Functions))
	if len(m.Functions) > 0 {
		names := make([]string, len(m.Functions))
		for i, f := range m.Functions {
			names[i] = f.Name
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(names, ", "))
	}
	fmt.Fprintf(&b, ", %d class(es) and complexity %d.", len(m.Classes), m.Complexity)
	if len(m.ComponentRefs) > 0 {
		fmt.Fprintf(&b, " It renders %s.", strings.Join(m.ComponentRefs, ", "))
	}
	if len(m.Dependencies.External) > 0 {
		fmt.Fprintf(&b, " It depends on %s.", strings.Join(m.Dependencies.External, ", "))
	}
	return b.String()
}

// AnalyzeHandler reports structure, complexity and suggestions
type AnalyzeHandler struct {
	analyzer *codeanalysis.Analyzer
}

// Intent implements Handler.
func (h *AnalyzeHandler) Intent() models.IntentType { return models.IntentAnalyze }

// Handle implements Handler.
func (h *AnalyzeHandler) Handle(ctx context.Context, hctx *HandlerContext) (*models.HandlerResponse, error) {
	e := hctx.Entities()
	if hctx.Step != "" {
		return genericStep(hctx, "analyze"), nil
	}

	if code := e.Param("code"); code != "" && h.analyzer != nil {
		a := h.analyzer.Analyze(ctx, code, e.Param("language"))
		msg := fmt.Sprintf("Complexity %d, %d suggestion(s)", a.Model.Complexity, len(a.Suggestions))
		if len(a.Suggestions) > 0 {
			msg += ": " + a.Suggestions[0].Message
		}
		return succeed(hctx, "analyze", msg, map[string]interface{}{
			"model":       a.Model,
			"suggestions": a.Suggestions,
		}), nil
	}

	t := e.Target
	if t == nil || t.Name == "" {
		return fail(hctx, "analyze", "nothing to analyze: name a file or include code"), nil
	}
	params := map[string]interface{}{}
	if focus := e.Param("focus"); focus != "" {
		params["focus"] = focus
	}
	return succeed(hctx, "analyze", "Analyzing "+describe(t), params), nil
}

// TestHandler sets up and runs tests
type TestHandler struct{}

// Intent implements Handler.
func (h *TestHandler) Intent() models.IntentType { return models.IntentTest }

// Handle implements Handler.
func (h *TestHandler) Handle(ctx context.Context, hctx *HandlerContext) (*models.HandlerResponse, error) {
	e := hctx.Entities()
	kind := e.Param("type")
	if kind == "" {
		kind = "unit"
	}
	coverage, _ := e.Parameters["coverage"].(bool)
	watch, _ := e.Parameters["watch"].(bool)
	params := map[string]interface{}{"type": kind, "coverage": coverage, "watch": watch}

	switch hctx.Step {
	case "":
		msg := fmt.Sprintf("Running %s tests", kind)
		if t := e.Target; t != nil && t.Name != "" {
			msg += " for " + describe(t)
		}
		if coverage {
			msg += " with coverage"
		}
		return succeed(hctx, "test", msg, params), nil
	case "install_framework":
		return succeed(hctx, "test", "Installed the test framework", params), nil
	case "create_config":
		return succeed(hctx, "test", "Created test configuration with coverage reporting", params), nil
	case "create_test":
		return succeed(hctx, "test", "Created "+kind+" tests for "+describe(e.Target), params), nil
	case "run_tests":
		return succeed(hctx, "test", "Ran the test suite", params), nil
	default:
		return genericStep(hctx, "test"), nil
	}
}

// DeployHandler deploys after explicit confirmation
type DeployHandler struct{}

// Intent implements Handler.
func (h *DeployHandler) Intent() models.IntentType { return models.IntentDeploy }

// Handle implements Handler.
func (h *DeployHandler) Handle(ctx context.Context, hctx *HandlerContext) (*models.HandlerResponse, error) {
	env := hctx.Entities().Param("environment")
	if env == "" {
		env = "staging"
	}
	params := map[string]interface{}{"environment": env}

	if !hctx.Confirmed {
		resp := &models.HandlerResponse{
			Success:              true,
			Action:               "deploy",
			Target:               env,
			Message:              fmt.Sprintf("Deploy to %s? Confirm to proceed.", env),
			Parameters:           params,
			RequiresConfirmation: true,
		}
		if env == "production" {
			resp.Warning = "deploying to production"
		}
		return resp, nil
	}

	var msg string
	switch hctx.Step {
	case "", "deploy":
		msg = "Deployed to " + env
	case "run_tests":
		msg = "Tests passed ahead of the " + env + " deploy"
	case "build":
		msg = "Built release artifacts"
	case "verify":
		msg = "Verified the " + env + " deployment"
	default:
		return genericStep(hctx, "deploy"), nil
	}
	resp := succeed(hctx, "deploy", msg, params)
	resp.Target = env
	return resp, nil
}

// NavigateHandler opens targets
type NavigateHandler struct{}

// Intent implements Handler.
func (h *NavigateHandler) Intent() models.IntentType { return models.IntentNavigate }

// Handle implements Handler.
func (h *NavigateHandler) Handle(ctx context.Context, hctx *HandlerContext) (*models.HandlerResponse, error) {
	t := hctx.Entities().Target
	if t == nil || t.Name == "" {
		return fail(hctx, "navigate", "nowhere to go: name a file or symbol"), nil
	}
	if hctx.Step != "" {
		return genericStep(hctx, "navigate"), nil
	}
	return succeed(hctx, "navigate", "Opened "+describe(t), nil), nil
}

// HelpHandler lists what the assistant understands
type HelpHandler struct{}

// Intent implements Handler.
func (h *HelpHandler) Intent() models.IntentType { return models.IntentHelp }

// Handle implements Handler.
func (h *HelpHandler) Handle(ctx context.Context, hctx *HandlerContext) (*models.HandlerResponse, error) {
	names := make([]string, len(models.AllIntents))
	for i, t := range models.AllIntents {
		names[i] = strings.ReplaceAll(string(t), "_", " ")
	}
	return succeed(hctx, "help", "I can help you "+strings.Join(names, ", ")+".", nil), nil
}

// SetContextHandler switches the working language or project
type SetContextHandler struct{}

// Intent implements Handler.
func (h *SetContextHandler) Intent() models.IntentType { return models.IntentSetContext }

// Handle implements Handler.
func (h *SetContextHandler) Handle(ctx context.Context, hctx *HandlerContext) (*models.HandlerResponse, error) {
	e := hctx.Entities()
	params := map[string]interface{}{}
	var parts []string
	for _, key := range []string{"language", "project"} {
		if v := e.Param(key); v != "" {
			params[key] = v
			parts = append(parts, key+"="+v)
		}
	}
	if len(parts) == 0 {
		return fail(hctx, "set_context", "tell me which language or project to switch to"), nil
	}
	return succeed(hctx, "set_context", "Context set: "+strings.Join(parts, ", "), params), nil
}

// RememberHandler stores notes for later recall
type RememberHandler struct {
	notes memory.SearchStore
}

// Intent implements Handler.
func (h *RememberHandler) Intent() models.IntentType { return models.IntentRemember }

// Handle implements Handler.
func (h *RememberHandler) Handle(ctx context.Context, hctx *HandlerContext) (*models.HandlerResponse, error) {
	content := strings.TrimSpace(hctx.Entities().Param("content"))
	if content == "" {
		return fail(hctx, "remember", "nothing to remember"), nil
	}

	params := map[string]interface{}{"content": content}
	if h.notes != nil {
		meta := map[string]string{memory.MetaKind: memory.KindNote}
		if hctx.Command.UserID != "" {
			meta[memory.MetaUserID] = hctx.Command.UserID
		}
		id, err := h.notes.Store(ctx, content, meta)
		if err != nil {
			return nil, fmt.Errorf("failed to store note: %w", err)
		}
		params["note_id"] = id
	}
	return succeed(hctx, "remember", "I'll remember that "+content, params), nil
}
