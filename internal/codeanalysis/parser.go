package codeanalysis

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// NormalizeLanguage maps language tags and extensions to one of javascript, typescript, tsx
func NormalizeLanguage(lang string) string {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(lang), ".")) {
	case "ts", "typescript", "mts", "cts":
		return "typescript"
	case "tsx":
		return "tsx"
	default:
		return "javascript"
	}
}

func grammar(lang string) *sitter.Language {
	switch lang {
	case "typescript":
		return typescript.GetLanguage()
	case "tsx":
		return tsx.GetLanguage()
	default:
		return javascript.GetLanguage()
	}
}

// parse builds a fresh parser per call; parsers are not safe for concurrent use
func parse(ctx context.Context, src []byte, lang string) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()

	parser.SetLanguage(grammar(lang))
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", lang, err)
	}
	return tree, nil
}

// syntaxError describes the first ERROR or MISSING node under n, or "" when the tree is clean
func syntaxError(n *sitter.Node) string {
	if n == nil || !n.HasError() {
		return ""
	}
	if bad := firstErrorNode(n); bad != nil {
		p := bad.StartPoint()
		if bad.IsMissing() {
			return fmt.Sprintf("syntax error: missing %q at line %d, column %d", bad.Type(), p.Row+1, p.Column+1)
		}
		return fmt.Sprintf("syntax error at line %d, column %d", p.Row+1, p.Column+1)
	}
	return "syntax error"
}

func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil || (!child.HasError() && !child.IsMissing()) {
			continue
		}
		if bad := firstErrorNode(child); bad != nil {
			return bad
		}
	}
	return nil
}

func nodeText(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return string(src[n.StartByte():n.EndByte()])
}

// hasToken reports whether n has a direct anonymous child with the given text, e.g. "async"
func hasToken(n *sitter.Node, token string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c != nil && !c.IsNamed() && c.Type() == token {
			return true
		}
	}
	return false
}

func findChild(n *sitter.Node, nodeType string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c != nil && c.Type() == nodeType {
			return c
		}
	}
	return nil
}

func unquote(s string) string {
	return strings.Trim(s, "\"'`")
}

func isCapitalized(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z'
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil && a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte()
}
