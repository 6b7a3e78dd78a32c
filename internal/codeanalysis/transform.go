package codeanalysis

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/quantumflow/assistcore/internal/models"
)

// Operation types understood by Modify
const (
	OpRename         = "rename"
	OpAddFunction    = "add_function"
	OpRemoveFunction = "remove_function"
	OpAddImport      = "add_import"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][\w$]*$`)

// Operation is one requested source transformation
type Operation struct {
	Type string `json:"type"`

	// rename
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// add_function, remove_function
	Name   string   `json:"name,omitempty"`
	Params []string `json:"params,omitempty"`
	Body   string   `json:"body,omitempty"`
	Async  bool     `json:"async,omitempty"`

	// add_import
	Source     string   `json:"source,omitempty"`
	Default    string   `json:"default,omitempty"`
	Specifiers []string `json:"specifiers,omitempty"`
}

// ModifyResult reports the outcome of a batch of operations
type ModifyResult struct {
	Success      bool                        `json:"success"`
	Code         string                      `json:"code,omitempty"`
	AppliedCount int                         `json:"applied_count"`
	Skipped      []string                    `json:"skipped,omitempty"`
	Error        string                      `json:"error,omitempty"`
	OriginalCode string                      `json:"original_code,omitempty"`
	Model        *models.CodeStructuralModel `json:"model,omitempty"`
}

// patch replaces src[start:end] with text
type patch struct {
	start, end uint32
	text       string
}

func applyPatches(src []byte, patches []patch) []byte {
	sort.Slice(patches, func(i, j int) bool { return patches[i].start > patches[j].start })

	out := append([]byte(nil), src...)
	for _, p := range patches {
		tail := append([]byte(p.text), out[p.end:]...)
		out = append(out[:p.start], tail...)
	}
	return out
}

// Modify applies ops in order. Each operation computes a patch list against a
// fresh parse of the current text; an unknown operation is skipped with a
// warning. Any failed operation, or a result that no longer parses when the
// input did, fails the whole batch and returns the original code.
func (a *Analyzer) Modify(ctx context.Context, source, lang string, ops []Operation) *ModifyResult {
	lang = NormalizeLanguage(lang)
	src := []byte(source)

	fail := func(err error) *ModifyResult {
		a.log.Debug("transformation failed", "error", err)
		return &ModifyResult{
			Success:      false,
			Error:        models.NewError(models.ErrTransformationFailure, "transformation failed", err).Error(),
			OriginalCode: source,
		}
	}

	originalTree, err := parse(ctx, src, lang)
	if err != nil {
		return fail(err)
	}
	originalBroken := originalTree.RootNode().HasError()
	originalTree.Close()

	result := &ModifyResult{}
	for _, op := range ops {
		var transform func(*sitter.Node, []byte, Operation) ([]patch, error)
		switch op.Type {
		case OpRename:
			transform = renamePatches
		case OpAddFunction:
			transform = addFunctionPatches
		case OpRemoveFunction:
			transform = removeFunctionPatches
		case OpAddImport:
			transform = addImportPatches
		default:
			a.log.Warn("unknown transformation skipped", "operation", op.Type)
			result.Skipped = append(result.Skipped, op.Type)
			continue
		}

		tree, err := parse(ctx, src, lang)
		if err != nil {
			return fail(err)
		}
		patches, err := transform(tree.RootNode(), src, op)
		tree.Close()
		if err != nil {
			return fail(fmt.Errorf("%s: %w", op.Type, err))
		}

		src = applyPatches(src, patches)
		result.AppliedCount++
	}

	final := a.buildModel(ctx, src, lang)
	if final.Error != "" && !originalBroken {
		return fail(fmt.Errorf("result does not parse: %s", final.Error))
	}

	result.Success = true
	result.Code = string(src)
	result.Model = final
	return result
}

// collectNodes returns every node under n of one of the given types whose text equals want
func collectNodes(n *sitter.Node, src []byte, want string, types map[string]bool, out []*sitter.Node) []*sitter.Node {
	if types[n.Type()] && nodeText(n, src) == want {
		out = append(out, n)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		out = collectNodes(n.NamedChild(i), src, want, types, out)
	}
	return out
}

var bindingTypes = map[string]bool{
	"identifier":                            true,
	"type_identifier":                       true,
	"shorthand_property_identifier":         true,
	"shorthand_property_identifier_pattern": true,
}

func renamePatches(root *sitter.Node, src []byte, op Operation) ([]patch, error) {
	if !identifierPattern.MatchString(op.From) || !identifierPattern.MatchString(op.To) {
		return nil, fmt.Errorf("invalid identifier in rename %q -> %q", op.From, op.To)
	}
	if op.From == op.To {
		return nil, nil
	}

	for _, n := range collectNodes(root, src, op.To, bindingTypes, nil) {
		if !importedOnly(n) {
			return nil, fmt.Errorf("name %q is already in use", op.To)
		}
	}

	nodes := collectNodes(root, src, op.From, bindingTypes, nil)
	if len(nodes) == 0 {
		return nil, fmt.Errorf("identifier %q not found", op.From)
	}

	patches := make([]patch, 0, len(nodes))
	for _, n := range nodes {
		if p, ok := renamePatch(n, src, op); ok {
			patches = append(patches, p)
		}
	}
	return patches, nil
}

// importedOnly reports whether n is the imported half of an aliased import specifier
func importedOnly(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil || parent.Type() != "import_specifier" || parent.ChildByFieldName("alias") == nil {
		return false
	}
	return sameNode(n, parent.ChildByFieldName("name"))
}

// renamePatch rewrites one occurrence of op.From. Imported names and object
// keys keep their spelling; only the local binding changes.
func renamePatch(n *sitter.Node, src []byte, op Operation) (patch, bool) {
	whole := patch{start: n.StartByte(), end: n.EndByte(), text: op.To}

	switch n.Type() {
	case "shorthand_property_identifier", "shorthand_property_identifier_pattern":
		whole.text = op.From + ": " + op.To
		return whole, true
	}

	parent := n.Parent()
	if parent == nil {
		return whole, true
	}
	switch parent.Type() {
	case "pair", "pair_pattern":
		// { count: total } renamed back collapses to { count }
		key := parent.ChildByFieldName("key")
		if key != nil && sameNode(n, parent.ChildByFieldName("value")) && key.Type() != "computed_property_name" && nodeText(key, src) == op.To {
			return patch{start: parent.StartByte(), end: parent.EndByte(), text: op.To}, true
		}
		return whole, true
	case "import_specifier":
		return importRename(n, parent, whole, src, op)
	default:
		return whole, true
	}
}

func importRename(n, parent *sitter.Node, whole patch, src []byte, op Operation) (patch, bool) {
	name := parent.ChildByFieldName("name")
	alias := parent.ChildByFieldName("alias")
	switch {
	case alias == nil:
		whole.text = op.From + " as " + op.To
		return whole, true
	case importedOnly(n):
		// { useState as s }: the imported name is not a local binding
		return patch{}, false
	case nodeText(name, src) == op.To:
		// { useState as useCounter } renamed back collapses to { useState }
		return patch{start: parent.StartByte(), end: parent.EndByte(), text: op.To}, true
	default:
		return whole, true
	}
}

func declaredNames(root *sitter.Node, src []byte) map[string]bool {
	w := newWalker(src, "")
	w.walk(root)
	return w.declared
}

func addFunctionPatches(root *sitter.Node, src []byte, op Operation) ([]patch, error) {
	if !identifierPattern.MatchString(op.Name) {
		return nil, fmt.Errorf("invalid function name %q", op.Name)
	}
	for _, p := range op.Params {
		if !identifierPattern.MatchString(p) {
			return nil, fmt.Errorf("invalid parameter name %q", p)
		}
	}
	if declaredNames(root, src)[op.Name] {
		return nil, fmt.Errorf("%q is already declared", op.Name)
	}

	var b strings.Builder
	if len(src) > 0 {
		if src[len(src)-1] != '\n' {
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if op.Async {
		b.WriteString("async ")
	}
	fmt.Fprintf(&b, "function %s(%s) {\n", op.Name, strings.Join(op.Params, ", "))
	for _, line := range strings.Split(strings.TrimRight(op.Body, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			if op.Body != "" {
				b.WriteString("\n")
			}
			continue
		}
		b.WriteString("  " + line + "\n")
	}
	b.WriteString("}\n")

	end := uint32(len(src))
	return []patch{{start: end, end: end, text: b.String()}}, nil
}

// findFunction locates the statement declaring name, including an enclosing export
func findFunction(n *sitter.Node, src []byte, name string) (*sitter.Node, error) {
	switch n.Type() {
	case "function_declaration", "generator_function_declaration":
		if nodeText(n.ChildByFieldName("name"), src) == name {
			return withExport(n), nil
		}
	case "lexical_declaration", "variable_declaration":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			d := n.NamedChild(i)
			if d.Type() != "variable_declarator" || nodeText(d.ChildByFieldName("name"), src) != name {
				continue
			}
			if !isFunctionValue(d.ChildByFieldName("value")) {
				return nil, nil
			}
			if n.NamedChildCount() > 1 {
				return nil, fmt.Errorf("%q shares a declaration with other bindings", name)
			}
			return withExport(n), nil
		}
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		found, err := findFunction(n.NamedChild(i), src, name)
		if found != nil || err != nil {
			return found, err
		}
	}
	return nil, nil
}

func withExport(n *sitter.Node) *sitter.Node {
	if p := n.Parent(); p != nil && p.Type() == "export_statement" {
		return p
	}
	return n
}

func removeFunctionPatches(root *sitter.Node, src []byte, op Operation) ([]patch, error) {
	target, err := findFunction(root, src, op.Name)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("function %q not found", op.Name)
	}

	// take the whole line when the statement sits on lines of its own
	start, end := target.StartByte(), target.EndByte()
	lineStart := start
	for lineStart > 0 && (src[lineStart-1] == ' ' || src[lineStart-1] == '\t') {
		lineStart--
	}
	if lineStart == 0 || src[lineStart-1] == '\n' {
		start = lineStart
		if int(end) < len(src) && src[end] == '\n' {
			end++
		}
	}
	return []patch{{start: start, end: end}}, nil
}

func importStatementText(op Operation) string {
	var clauses []string
	if op.Default != "" {
		clauses = append(clauses, op.Default)
	}
	if len(op.Specifiers) > 0 {
		clauses = append(clauses, "{ "+strings.Join(op.Specifiers, ", ")+" }")
	}
	if len(clauses) == 0 {
		return fmt.Sprintf("import '%s';", op.Source)
	}
	return fmt.Sprintf("import %s from '%s';", strings.Join(clauses, ", "), op.Source)
}

func addImportPatches(root *sitter.Node, src []byte, op Operation) ([]patch, error) {
	if strings.TrimSpace(op.Source) == "" || strings.ContainsAny(op.Source, "'\"`\n") {
		return nil, fmt.Errorf("invalid import source %q", op.Source)
	}
	if op.Default != "" && !identifierPattern.MatchString(op.Default) {
		return nil, fmt.Errorf("invalid default import %q", op.Default)
	}
	for _, s := range op.Specifiers {
		if !identifierPattern.MatchString(s) {
			return nil, fmt.Errorf("invalid import specifier %q", s)
		}
	}

	var last *sitter.Node
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child.Type() != "import_statement" {
			continue
		}
		last = child
		if unquote(nodeText(child.ChildByFieldName("source"), src)) == op.Source && importCovers(child, src, op) {
			return nil, nil
		}
	}

	stmt := importStatementText(op)
	if last == nil {
		return []patch{{start: 0, end: 0, text: stmt + "\n"}}, nil
	}
	return []patch{{start: last.EndByte(), end: last.EndByte(), text: "\n" + stmt}}, nil
}

// importCovers reports whether an existing import already binds everything op asks for
func importCovers(stmt *sitter.Node, src []byte, op Operation) bool {
	w := newWalker(src, "")
	w.importStatement(stmt)
	info := w.model.Imports[0]

	if op.Default != "" && info.Default != op.Default {
		return false
	}
	have := make(map[string]bool, len(info.Specifiers))
	for _, s := range info.Specifiers {
		have[s] = true
	}
	for _, s := range op.Specifiers {
		if !have[s] {
			return false
		}
	}
	return true
}
