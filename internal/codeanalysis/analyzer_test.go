package codeanalysis

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumflow/assistcore/internal/config"
	"github.com/quantumflow/assistcore/internal/logging"
	"github.com/quantumflow/assistcore/internal/models"
)

func newTestAnalyzer() *Analyzer {
	return NewAnalyzer(config.DefaultConfig().Code, logging.Nop())
}

const widgetSource = `import React, { useState } from 'react';
import { format } from './utils/format';
const axios = require('axios');

export function Widget({ title }) {
  const [count, setCount] = useState(0);
  const label = ` + "`${title}: ${count}`" + `;
  return <Panel title={label} onClick={() => setCount(count + 1)} />;
}

export async function load(url) {
  try {
    const res = await axios.get(url);
    return format(res.data);
  } catch (err) {
    console.error(err);
    return null;
  }
}

class Legacy extends React.Component {
  render() { return <div>{this.props.name}</div>; }
}
`

func TestAnalyzeStructure(t *testing.T) {
	a := newTestAnalyzer()
	analysis := a.Analyze(context.Background(), widgetSource, "javascript")
	m := analysis.Model

	require.Empty(t, m.Error)
	assert.Empty(t, m.RawText)
	assert.Equal(t, "javascript", m.Language)

	sources := make([]string, len(m.Imports))
	for i, imp := range m.Imports {
		sources[i] = imp.Source
	}
	assert.Equal(t, []string{"react", "./utils/format", "axios"}, sources)
	assert.Equal(t, "React", m.Imports[0].Default)
	assert.Equal(t, []string{"useState"}, m.Imports[0].Specifiers)
	assert.True(t, m.Imports[1].Internal)

	assert.Equal(t, []string{"./utils/format"}, m.Dependencies.Internal)
	assert.Equal(t, []string{"react", "axios"}, m.Dependencies.External)
	assert.Equal(t, []string{"Panel"}, m.Dependencies.Missing)

	assert.Equal(t, []string{"Widget", "load"}, m.Exports)

	widget, ok := m.Function("Widget")
	require.True(t, ok)
	assert.Equal(t, 1, widget.Arity)
	assert.False(t, widget.IsAsync)
	assert.Equal(t, 5, widget.Line)

	load, ok := m.Function("load")
	require.True(t, ok)
	assert.True(t, load.IsAsync)

	require.Len(t, m.Classes, 1)
	assert.Equal(t, "Legacy", m.Classes[0].Name)
	assert.Equal(t, "React.Component", m.Classes[0].SuperClass)
	assert.Equal(t, []string{"render"}, m.Classes[0].Methods)

	assert.ElementsMatch(t, []string{"axios", "count", "setCount", "label", "res"}, m.Variables)
	assert.Equal(t, []string{"Panel"}, m.ComponentRefs)
	assert.Equal(t, 2, m.Complexity)

	assert.Equal(t, []string{
		IdiomAsyncAwait, IdiomArrowFunctions, IdiomDestructuring, IdiomTemplateLiteral,
		IdiomErrorHandling, IdiomReactHooks, IdiomJSXComponents,
	}, m.IdiomFlags)

	types := make([]string, len(analysis.Suggestions))
	for i, s := range analysis.Suggestions {
		types[i] = s.Type
	}
	assert.Equal(t, []string{"missing_dependency", "modernize"}, types)
}

func TestAnalyzeComplexity(t *testing.T) {
	src := `function f(a, b) {
  if (a && b) { return 1; }
  for (let i = 0; i < 3; i++) {}
  while (a) { a--; }
  return a ? b : a ?? b;
}`
	m := newTestAnalyzer().Analyze(context.Background(), src, "js").Model
	require.Empty(t, m.Error)
	assert.Equal(t, 7, m.Complexity)
	assert.Empty(t, m.Dependencies.Missing)
}

func TestAnalyzeBaselineComplexity(t *testing.T) {
	m := newTestAnalyzer().Analyze(context.Background(), "const x = 1;", "javascript").Model
	assert.Equal(t, 1, m.Complexity)
	assert.Equal(t, []string{"x"}, m.Variables)
	assert.Empty(t, m.IdiomFlags)
}

func TestAnalyzeInvalidSourceNeverFails(t *testing.T) {
	src := "{{{ ((( ]]"
	m := newTestAnalyzer().Analyze(context.Background(), src, "javascript").Model

	assert.Contains(t, m.Error, "syntax error")
	assert.Equal(t, src, m.RawText)
	require.NotNil(t, m.Imports)
	require.NotNil(t, m.Functions)
	require.NotNil(t, m.Classes)
	assert.Empty(t, m.Imports)
	assert.Empty(t, m.Functions)
	assert.Empty(t, m.Classes)
}

func TestAnalyzePartialStructureOnError(t *testing.T) {
	src := "function ok(a) { return a; }\nfunction broken( {"
	m := newTestAnalyzer().Analyze(context.Background(), src, "javascript").Model

	assert.NotEmpty(t, m.Error)
	assert.Equal(t, src, m.RawText)
	_, ok := m.Function("ok")
	assert.True(t, ok)
}

func TestAnalyzeIdiomsIndependent(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "promise and arrows",
			src:  "new Promise((resolve) => resolve(1)).then(v => v);",
			want: []string{IdiomPromise, IdiomArrowFunctions},
		},
		{
			name: "destructuring only",
			src:  "const { a, b } = { a: 1, b: 2 };",
			want: []string{IdiomDestructuring},
		},
		{
			name: "plain template literal is not interpolation",
			src:  "const s = `plain`;",
			want: []string{},
		},
		{
			name: "hooks through namespace",
			src:  "import React from 'react';\nfunction C() { const [v] = React.useState(0); return v; }",
			want: []string{IdiomDestructuring, IdiomReactHooks},
		},
	}

	a := newTestAnalyzer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := a.Analyze(context.Background(), tt.src, "javascript").Model
			require.Empty(t, m.Error)
			assert.Equal(t, tt.want, m.IdiomFlags)
		})
	}
}

func TestAnalyzeTypeScript(t *testing.T) {
	src := `interface User { id: number }
export class Repo<T> extends Base<T> {
  find(id: number): T | undefined { return undefined; }
}
export const load = async (id: number): Promise<User> => fetchUser(id);
`
	m := newTestAnalyzer().Analyze(context.Background(), src, "ts").Model
	require.Empty(t, m.Error)
	assert.Equal(t, "typescript", m.Language)

	require.Len(t, m.Classes, 1)
	assert.Equal(t, "Repo", m.Classes[0].Name)
	assert.Equal(t, "Base", m.Classes[0].SuperClass)
	assert.Equal(t, []string{"find"}, m.Classes[0].Methods)

	load, ok := m.Function("load")
	require.True(t, ok)
	assert.True(t, load.IsAsync)
	assert.Equal(t, 1, load.Arity)

	assert.Equal(t, []string{"Repo", "load"}, m.Exports)
	assert.ElementsMatch(t, []string{"Base", "fetchUser"}, m.Dependencies.Missing)
}

func TestAnalyzeCache(t *testing.T) {
	a := newTestAnalyzer()
	ctx := context.Background()

	first := a.Analyze(ctx, "const a = 1;", "javascript")
	second := a.Analyze(ctx, "const a = 1;", "javascript")
	assert.Same(t, first, second)
	assert.Equal(t, 1, a.CacheLen())

	a.Analyze(ctx, "const a = 1;", "typescript")
	assert.Equal(t, 2, a.CacheLen())
}

func TestAnalyzeCacheBounded(t *testing.T) {
	a := NewAnalyzer(config.CodeConfig{CacheSize: 2}, nil)
	ctx := context.Background()

	for _, src := range []string{"let a;", "let b;", "let c;"} {
		a.Analyze(ctx, src, "javascript")
	}
	assert.Equal(t, 2, a.CacheLen())
}

func TestNormalizeLanguage(t *testing.T) {
	tests := map[string]string{
		"ts":         "typescript",
		".ts":        "typescript",
		"TypeScript": "typescript",
		"tsx":        "tsx",
		"js":         "javascript",
		"jsx":        "javascript",
		"":           "javascript",
		"python":     "javascript",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeLanguage(in), "input %q", in)
	}
}

func TestSuggest(t *testing.T) {
	m := &models.CodeStructuralModel{
		Complexity: 12,
		Functions:  []models.FunctionInfo{{Name: "build", Arity: 5}},
		Classes:    []models.ClassInfo{{Name: "Old", SuperClass: "Component"}},
		Dependencies: models.Dependencies{
			Missing: []string{"lodash"},
		},
		IdiomFlags: []string{IdiomAsyncAwait},
	}

	got := Suggest(m)
	want := []struct{ typ, priority string }{
		{"complexity", PriorityHigh},
		{"missing_dependency", PriorityHigh},
		{"error_handling", PriorityMedium},
		{"modernize", PriorityLow},
		{"parameters", PriorityLow},
	}
	require.Len(t, got, len(want))
	for i, w := range want {
		assert.Equal(t, w.typ, got[i].Type)
		assert.Equal(t, w.priority, got[i].Priority)
	}

	assert.Empty(t, Suggest(nil))
	assert.Empty(t, Suggest(&models.CodeStructuralModel{Complexity: 1}))
}

func TestDiffByName(t *testing.T) {
	before := &models.CodeStructuralModel{
		Functions: []models.FunctionInfo{{Name: "a", Arity: 1}, {Name: "b"}},
		Classes:   []models.ClassInfo{{Name: "C"}},
		Imports:   []models.ImportInfo{{Source: "z"}},
	}
	after := &models.CodeStructuralModel{
		Functions: []models.FunctionInfo{{Name: "c"}, {Name: "a", Arity: 1, IsAsync: true}},
		Classes:   []models.ClassInfo{{Name: "C", SuperClass: "D"}},
		Imports:   []models.ImportInfo{{Source: "y"}},
	}

	d := Diff(before, after)
	assert.Equal(t, []string{"c"}, d.AddedFunctions)
	assert.Equal(t, []string{"b"}, d.RemovedFunctions)
	require.Len(t, d.ModifiedFunctions, 1)
	assert.Equal(t, "a", d.ModifiedFunctions[0].Name)
	assert.True(t, d.ModifiedFunctions[0].After.IsAsync)
	require.Len(t, d.ModifiedClasses, 1)
	assert.Equal(t, "D", d.ModifiedClasses[0].After.SuperClass)
	assert.Equal(t, []string{"y"}, d.AddedImports)
	assert.Equal(t, []string{"z"}, d.RemovedImports)
	assert.False(t, d.Empty())
}

func TestDiffToleratesReordering(t *testing.T) {
	a := newTestAnalyzer()
	ctx := context.Background()

	before := a.Analyze(ctx, "import x from 'x';\nfunction one(a) {}\nfunction two() {}\nclass K {}", "javascript").Model
	after := a.Analyze(ctx, "import x from 'x';\nclass K {}\nfunction two() {}\nfunction one(b) {}", "javascript").Model

	d := Diff(before, after)
	assert.True(t, d.Empty(), cmp.Diff(&StructuralDiff{}, d))
}

func TestDiffNilModels(t *testing.T) {
	d := Diff(nil, &models.CodeStructuralModel{Functions: []models.FunctionInfo{{Name: "f"}}})
	assert.Equal(t, []string{"f"}, d.AddedFunctions)
	assert.True(t, Diff(nil, nil).Empty())
}
