package codeanalysis

import (
	"regexp"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/quantumflow/assistcore/internal/models"
)

// Idiom flags, checked independently; several may be set on one fragment
const (
	IdiomAsyncAwait      = "async_await"
	IdiomPromise         = "promise"
	IdiomArrowFunctions  = "arrow_functions"
	IdiomDestructuring   = "destructuring"
	IdiomTemplateLiteral = "template_literals"
	IdiomErrorHandling   = "error_handling"
	IdiomReactHooks      = "react_hooks"
	IdiomJSXComponents   = "jsx_components"
)

var idiomOrder = []string{
	IdiomAsyncAwait, IdiomPromise, IdiomArrowFunctions, IdiomDestructuring,
	IdiomTemplateLiteral, IdiomErrorHandling, IdiomReactHooks, IdiomJSXComponents,
}

var hookName = regexp.MustCompile(`^use[A-Z]\w*$`)

// builtins are identifiers that are never reported as missing
var builtins = map[string]bool{
	"undefined": true, "NaN": true, "Infinity": true, "arguments": true, "globalThis": true,
	"console": true, "window": true, "document": true, "navigator": true, "location": true,
	"localStorage": true, "sessionStorage": true, "alert": true, "self": true, "performance": true,
	"process": true, "require": true, "module": true, "exports": true, "__dirname": true, "__filename": true,
	"Buffer": true, "global": true, "crypto": true,
	"Object": true, "Array": true, "String": true, "Number": true, "Boolean": true, "Symbol": true,
	"BigInt": true, "Function": true, "Map": true, "Set": true, "WeakMap": true, "WeakSet": true,
	"Promise": true, "Proxy": true, "Reflect": true, "JSON": true, "Math": true, "Date": true,
	"RegExp": true, "Intl": true, "Error": true, "TypeError": true, "RangeError": true,
	"SyntaxError": true, "ReferenceError": true,
	"parseInt": true, "parseFloat": true, "isNaN": true, "isFinite": true,
	"encodeURIComponent": true, "decodeURIComponent": true, "encodeURI": true, "decodeURI": true,
	"setTimeout": true, "clearTimeout": true, "setInterval": true, "clearInterval": true,
	"setImmediate": true, "queueMicrotask": true, "structuredClone": true,
	"fetch": true, "Request": true, "Response": true, "Headers": true, "URL": true,
	"URLSearchParams": true, "AbortController": true, "TextEncoder": true, "TextDecoder": true,
}

// walker collects the structural model in a single pass over the tree
type walker struct {
	src   []byte
	model *models.CodeStructuralModel

	declared   map[string]bool
	referenced []string
	refSeen    map[string]bool
	components map[string]bool
	flags      map[string]bool
	deps       map[string]bool
}

func newWalker(src []byte, lang string) *walker {
	return &walker{
		src:        src,
		model:      emptyModel(lang),
		declared:   make(map[string]bool),
		refSeen:    make(map[string]bool),
		components: make(map[string]bool),
		flags:      make(map[string]bool),
		deps:       make(map[string]bool),
	}
}

// emptyModel has every collection defined so callers never see nil slices
func emptyModel(lang string) *models.CodeStructuralModel {
	return &models.CodeStructuralModel{
		Language:      lang,
		Imports:       []models.ImportInfo{},
		Exports:       []string{},
		Functions:     []models.FunctionInfo{},
		Classes:       []models.ClassInfo{},
		Variables:     []string{},
		ComponentRefs: []string{},
		Complexity:    1,
		Dependencies: models.Dependencies{
			Internal: []string{},
			External: []string{},
			Missing:  []string{},
		},
		IdiomFlags: []string{},
	}
}

func (w *walker) text(n *sitter.Node) string {
	return nodeText(n, w.src)
}

// finish resolves missing identifiers and idiom flags once the walk is done
func (w *walker) finish() *models.CodeStructuralModel {
	for _, name := range w.referenced {
		if w.declared[name] || builtins[name] {
			continue
		}
		w.model.Dependencies.Missing = append(w.model.Dependencies.Missing, name)
	}
	sort.Strings(w.model.Dependencies.Missing)

	for _, flag := range idiomOrder {
		if w.flags[flag] {
			w.model.IdiomFlags = append(w.model.IdiomFlags, flag)
		}
	}
	return w.model
}

func (w *walker) walk(n *sitter.Node) {
	if n == nil {
		return
	}

	switch n.Type() {
	case "import_statement":
		w.importStatement(n)
	case "export_statement":
		w.exportStatement(n)
	case "function_declaration", "generator_function_declaration":
		w.functionDeclaration(n)
	case "function", "function_expression", "generator_function":
		if name := n.ChildByFieldName("name"); name != nil {
			w.declare(w.text(name))
		}
		if hasToken(n, "async") {
			w.flags[IdiomAsyncAwait] = true
		}
	case "class_declaration", "abstract_class_declaration":
		w.classDeclaration(n)
	case "enum_declaration", "interface_declaration", "type_alias_declaration":
		if name := n.ChildByFieldName("name"); name != nil {
			w.declare(w.text(name))
		}
	case "variable_declarator":
		w.variableDeclarator(n)
	case "formal_parameters":
		w.declarePattern(n)
	case "arrow_function":
		w.flags[IdiomArrowFunctions] = true
		if hasToken(n, "async") {
			w.flags[IdiomAsyncAwait] = true
		}
		if p := n.ChildByFieldName("parameter"); p != nil {
			w.declare(w.text(p))
		}
	case "catch_clause":
		w.model.Complexity++
		w.declarePattern(n.ChildByFieldName("parameter"))
	case "for_in_statement":
		w.model.Complexity++
		w.declarePattern(n.ChildByFieldName("left"))
	case "if_statement", "for_statement", "while_statement", "do_statement",
		"switch_case", "ternary_expression":
		w.model.Complexity++
	case "binary_expression":
		if op := n.ChildByFieldName("operator"); op != nil {
			switch op.Type() {
			case "&&", "||", "??":
				w.model.Complexity++
			}
		}
	case "await_expression":
		w.flags[IdiomAsyncAwait] = true
	case "new_expression":
		if c := n.ChildByFieldName("constructor"); c != nil && w.text(c) == "Promise" {
			w.flags[IdiomPromise] = true
		}
	case "call_expression":
		w.callExpression(n)
	case "template_string":
		if findChild(n, "template_substitution") != nil {
			w.flags[IdiomTemplateLiteral] = true
		}
	case "object_pattern", "array_pattern":
		w.flags[IdiomDestructuring] = true
	case "try_statement":
		w.flags[IdiomErrorHandling] = true
	case "jsx_opening_element", "jsx_self_closing_element":
		w.jsxElement(n)
	case "identifier", "shorthand_property_identifier":
		w.reference(n)
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.walk(n.NamedChild(i))
	}
}

func (w *walker) declare(name string) {
	if name != "" {
		w.declared[name] = true
	}
}

func (w *walker) reference(n *sitter.Node) {
	name := w.text(n)
	if name == "" || w.refSeen[name] {
		return
	}

	if parent := n.Parent(); parent != nil {
		switch parent.Type() {
		case "import_specifier", "import_clause", "namespace_import":
			return
		case "export_specifier":
			if sameNode(parent.ChildByFieldName("alias"), n) {
				return
			}
		case "jsx_opening_element", "jsx_closing_element", "jsx_self_closing_element":
			// lowercase tags are host elements
			if !isCapitalized(name) {
				return
			}
		}
	}

	w.refSeen[name] = true
	w.referenced = append(w.referenced, name)
}

// declarePattern binds every name introduced by a parameter list or destructuring pattern
func (w *walker) declarePattern(n *sitter.Node) []string {
	if n == nil {
		return nil
	}

	switch n.Type() {
	case "identifier", "shorthand_property_identifier_pattern":
		name := w.text(n)
		w.declare(name)
		return []string{name}
	case "assignment_pattern", "object_assignment_pattern":
		return w.declarePattern(n.ChildByFieldName("left"))
	case "pair_pattern":
		return w.declarePattern(n.ChildByFieldName("value"))
	case "required_parameter", "optional_parameter":
		if p := n.ChildByFieldName("pattern"); p != nil {
			return w.declarePattern(p)
		}
		return nil
	case "formal_parameters", "object_pattern", "array_pattern", "rest_pattern":
		var names []string
		for i := 0; i < int(n.NamedChildCount()); i++ {
			names = append(names, w.declarePattern(n.NamedChild(i))...)
		}
		return names
	default:
		return nil
	}
}

func (w *walker) addDependency(source string) {
	if source == "" || w.deps[source] {
		return
	}
	w.deps[source] = true
	if isInternalSource(source) {
		w.model.Dependencies.Internal = append(w.model.Dependencies.Internal, source)
	} else {
		w.model.Dependencies.External = append(w.model.Dependencies.External, source)
	}
}

func isInternalSource(source string) bool {
	return strings.HasPrefix(source, ".") || strings.HasPrefix(source, "/")
}

func (w *walker) importStatement(n *sitter.Node) {
	info := models.ImportInfo{Source: unquote(w.text(n.ChildByFieldName("source")))}
	info.Internal = isInternalSource(info.Source)

	if clause := findChild(n, "import_clause"); clause != nil {
		for i := 0; i < int(clause.NamedChildCount()); i++ {
			child := clause.NamedChild(i)
			switch child.Type() {
			case "identifier":
				info.Default = w.text(child)
				w.declare(info.Default)
			case "namespace_import":
				if id := findChild(child, "identifier"); id != nil {
					info.Namespace = w.text(id)
					w.declare(info.Namespace)
				}
			case "named_imports":
				for j := 0; j < int(child.NamedChildCount()); j++ {
					spec := child.NamedChild(j)
					if spec.Type() != "import_specifier" {
						continue
					}
					name := w.text(spec.ChildByFieldName("name"))
					local := name
					if alias := spec.ChildByFieldName("alias"); alias != nil {
						local = w.text(alias)
					}
					w.declare(local)
					info.Specifiers = append(info.Specifiers, name)
				}
			}
		}
	}

	w.model.Imports = append(w.model.Imports, info)
	w.addDependency(info.Source)
}

func (w *walker) exportStatement(n *sitter.Node) {
	if source := n.ChildByFieldName("source"); source != nil {
		w.addDependency(unquote(w.text(source)))
	}

	if decl := n.ChildByFieldName("declaration"); decl != nil {
		switch decl.Type() {
		case "lexical_declaration", "variable_declaration":
			for i := 0; i < int(decl.NamedChildCount()); i++ {
				d := decl.NamedChild(i)
				if d.Type() != "variable_declarator" {
					continue
				}
				if name := d.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
					w.model.Exports = append(w.model.Exports, w.text(name))
				}
			}
		default:
			if name := decl.ChildByFieldName("name"); name != nil {
				w.model.Exports = append(w.model.Exports, w.text(name))
			}
		}
		return
	}

	if hasToken(n, "default") {
		w.model.Exports = append(w.model.Exports, "default")
		return
	}
	if hasToken(n, "*") {
		w.model.Exports = append(w.model.Exports, "*")
		return
	}

	if clause := findChild(n, "export_clause"); clause != nil {
		for i := 0; i < int(clause.NamedChildCount()); i++ {
			spec := clause.NamedChild(i)
			if spec.Type() != "export_specifier" {
				continue
			}
			exported := spec.ChildByFieldName("alias")
			if exported == nil {
				exported = spec.ChildByFieldName("name")
			}
			w.model.Exports = append(w.model.Exports, w.text(exported))
		}
	}
}

func paramCount(params *sitter.Node) int {
	if params == nil {
		return 0
	}
	count := 0
	for i := 0; i < int(params.NamedChildCount()); i++ {
		if params.NamedChild(i).Type() != "comment" {
			count++
		}
	}
	return count
}

func lineSpan(n *sitter.Node) (line, lines int) {
	start, end := n.StartPoint(), n.EndPoint()
	return int(start.Row) + 1, int(end.Row-start.Row) + 1
}

func (w *walker) functionDeclaration(n *sitter.Node) {
	name := w.text(n.ChildByFieldName("name"))
	w.declare(name)

	line, lines := lineSpan(n)
	fn := models.FunctionInfo{
		Name:        name,
		Arity:       paramCount(n.ChildByFieldName("parameters")),
		IsAsync:     hasToken(n, "async"),
		IsGenerator: n.Type() == "generator_function_declaration",
		Line:        line,
		Lines:       lines,
	}
	if fn.IsAsync {
		w.flags[IdiomAsyncAwait] = true
	}
	w.model.Functions = append(w.model.Functions, fn)
}

func isFunctionValue(n *sitter.Node) bool {
	if n == nil {
		return false
	}
	switch n.Type() {
	case "arrow_function", "function", "function_expression", "generator_function":
		return true
	}
	return false
}

func (w *walker) variableDeclarator(n *sitter.Node) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	if nameNode.Type() != "identifier" {
		w.model.Variables = append(w.model.Variables, w.declarePattern(nameNode)...)
		return
	}

	name := w.text(nameNode)
	w.declare(name)

	value := n.ChildByFieldName("value")
	if !isFunctionValue(value) {
		w.model.Variables = append(w.model.Variables, name)
		return
	}

	arity := paramCount(value.ChildByFieldName("parameters"))
	if value.ChildByFieldName("parameter") != nil {
		arity = 1
	}
	line, lines := lineSpan(n)
	w.model.Functions = append(w.model.Functions, models.FunctionInfo{
		Name:        name,
		Arity:       arity,
		IsAsync:     hasToken(value, "async"),
		IsGenerator: value.Type() == "generator_function",
		Line:        line,
		Lines:       lines,
	})
}

func (w *walker) classDeclaration(n *sitter.Node) {
	line, _ := lineSpan(n)
	class := models.ClassInfo{
		Name: w.text(n.ChildByFieldName("name")),
		Line: line,
	}
	w.declare(class.Name)

	if heritage := findChild(n, "class_heritage"); heritage != nil {
		if ext := findChild(heritage, "extends_clause"); ext != nil {
			v := ext.ChildByFieldName("value")
			if v == nil && ext.NamedChildCount() > 0 {
				v = ext.NamedChild(0)
			}
			class.SuperClass = w.text(v)
		} else if heritage.NamedChildCount() > 0 {
			class.SuperClass = w.text(heritage.NamedChild(0))
		}
	}

	if body := n.ChildByFieldName("body"); body != nil {
		for i := 0; i < int(body.NamedChildCount()); i++ {
			member := body.NamedChild(i)
			if member.Type() == "method_definition" {
				class.Methods = append(class.Methods, w.text(member.ChildByFieldName("name")))
			}
		}
	}

	w.model.Classes = append(w.model.Classes, class)
}

func (w *walker) callExpression(n *sitter.Node) {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return
	}

	switch fn.Type() {
	case "identifier":
		name := w.text(fn)
		if name == "require" {
			w.requireCall(n)
		}
		if hookName.MatchString(name) {
			w.flags[IdiomReactHooks] = true
		}
	case "member_expression":
		prop := w.text(fn.ChildByFieldName("property"))
		obj := w.text(fn.ChildByFieldName("object"))
		if prop == "then" || obj == "Promise" {
			w.flags[IdiomPromise] = true
		}
		if hookName.MatchString(prop) {
			w.flags[IdiomReactHooks] = true
		}
	}
}

func (w *walker) requireCall(n *sitter.Node) {
	args := n.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return
	}
	arg := args.NamedChild(0)
	if arg.Type() != "string" {
		return
	}

	info := models.ImportInfo{Source: unquote(w.text(arg))}
	info.Internal = isInternalSource(info.Source)
	if parent := n.Parent(); parent != nil && parent.Type() == "variable_declarator" {
		if name := parent.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
			info.Default = w.text(name)
		}
	}
	w.model.Imports = append(w.model.Imports, info)
	w.addDependency(info.Source)
}

func (w *walker) jsxElement(n *sitter.Node) {
	name := w.text(n.ChildByFieldName("name"))
	if !isCapitalized(name) {
		return
	}
	w.flags[IdiomJSXComponents] = true
	if !w.components[name] {
		w.components[name] = true
		w.model.ComponentRefs = append(w.model.ComponentRefs, name)
	}
}
