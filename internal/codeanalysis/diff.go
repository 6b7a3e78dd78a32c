package codeanalysis

import (
	"sort"

	"github.com/quantumflow/assistcore/internal/models"
)

// FunctionChange pairs the two versions of a modified function
type FunctionChange struct {
	Name   string              `json:"name"`
	Before models.FunctionInfo `json:"before"`
	After  models.FunctionInfo `json:"after"`
}

// ClassChange pairs the two versions of a modified class
type ClassChange struct {
	Name   string           `json:"name"`
	Before models.ClassInfo `json:"before"`
	After  models.ClassInfo `json:"after"`
}

// StructuralDiff lists declarations that differ between two models, sorted by name
type StructuralDiff struct {
	AddedFunctions    []string         `json:"added_functions"`
	RemovedFunctions  []string         `json:"removed_functions"`
	ModifiedFunctions []FunctionChange `json:"modified_functions"`
	AddedClasses      []string         `json:"added_classes"`
	RemovedClasses    []string         `json:"removed_classes"`
	ModifiedClasses   []ClassChange    `json:"modified_classes"`
	AddedImports      []string         `json:"added_imports"`
	RemovedImports    []string         `json:"removed_imports"`
}

// Empty reports whether the two models were structurally equivalent
func (d *StructuralDiff) Empty() bool {
	return len(d.AddedFunctions)+len(d.RemovedFunctions)+len(d.ModifiedFunctions)+
		len(d.AddedClasses)+len(d.RemovedClasses)+len(d.ModifiedClasses)+
		len(d.AddedImports)+len(d.RemovedImports) == 0
}

// Diff compares declarations by name, so reordering alone produces no changes.
// A function is modified when its arity or async-ness changed; a class when
// its superclass changed.
func Diff(before, after *models.CodeStructuralModel) *StructuralDiff {
	if before == nil {
		before = emptyModel("")
	}
	if after == nil {
		after = emptyModel("")
	}

	d := &StructuralDiff{
		AddedFunctions:    []string{},
		RemovedFunctions:  []string{},
		ModifiedFunctions: []FunctionChange{},
		AddedClasses:      []string{},
		RemovedClasses:    []string{},
		ModifiedClasses:   []ClassChange{},
		AddedImports:      []string{},
		RemovedImports:    []string{},
	}

	oldFns := make(map[string]models.FunctionInfo, len(before.Functions))
	for _, f := range before.Functions {
		oldFns[f.Name] = f
	}
	newFns := make(map[string]models.FunctionInfo, len(after.Functions))
	for _, f := range after.Functions {
		newFns[f.Name] = f
	}
	for name, f := range newFns {
		prev, ok := oldFns[name]
		switch {
		case !ok:
			d.AddedFunctions = append(d.AddedFunctions, name)
		case prev.Arity != f.Arity || prev.IsAsync != f.IsAsync:
			d.ModifiedFunctions = append(d.ModifiedFunctions, FunctionChange{Name: name, Before: prev, After: f})
		}
	}
	for name := range oldFns {
		if _, ok := newFns[name]; !ok {
			d.RemovedFunctions = append(d.RemovedFunctions, name)
		}
	}

	oldClasses := make(map[string]models.ClassInfo, len(before.Classes))
	for _, c := range before.Classes {
		oldClasses[c.Name] = c
	}
	newClasses := make(map[string]models.ClassInfo, len(after.Classes))
	for _, c := range after.Classes {
		newClasses[c.Name] = c
	}
	for name, c := range newClasses {
		prev, ok := oldClasses[name]
		switch {
		case !ok:
			d.AddedClasses = append(d.AddedClasses, name)
		case prev.SuperClass != c.SuperClass:
			d.ModifiedClasses = append(d.ModifiedClasses, ClassChange{Name: name, Before: prev, After: c})
		}
	}
	for name := range oldClasses {
		if _, ok := newClasses[name]; !ok {
			d.RemovedClasses = append(d.RemovedClasses, name)
		}
	}

	oldImports := importSources(before)
	newImports := importSources(after)
	for src := range newImports {
		if !oldImports[src] {
			d.AddedImports = append(d.AddedImports, src)
		}
	}
	for src := range oldImports {
		if !newImports[src] {
			d.RemovedImports = append(d.RemovedImports, src)
		}
	}

	sort.Strings(d.AddedFunctions)
	sort.Strings(d.RemovedFunctions)
	sort.Slice(d.ModifiedFunctions, func(i, j int) bool { return d.ModifiedFunctions[i].Name < d.ModifiedFunctions[j].Name })
	sort.Strings(d.AddedClasses)
	sort.Strings(d.RemovedClasses)
	sort.Slice(d.ModifiedClasses, func(i, j int) bool { return d.ModifiedClasses[i].Name < d.ModifiedClasses[j].Name })
	sort.Strings(d.AddedImports)
	sort.Strings(d.RemovedImports)
	return d
}

func importSources(m *models.CodeStructuralModel) map[string]bool {
	sources := make(map[string]bool, len(m.Imports))
	for _, imp := range m.Imports {
		sources[imp.Source] = true
	}
	return sources
}
