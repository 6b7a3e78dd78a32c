package models

// ImportInfo describes one import/require in a code fragment
type ImportInfo struct {
	Source     string   `json:"source"`
	Default    string   `json:"default,omitempty"`
	Namespace  string   `json:"namespace,omitempty"`
	Specifiers []string `json:"specifiers,omitempty"`
	Internal   bool     `json:"internal"`
}

// FunctionInfo describes a declared function or function-valued binding
type FunctionInfo struct {
	Name        string `json:"name"`
	Arity       int    `json:"arity"`
	IsAsync     bool   `json:"is_async"`
	IsGenerator bool   `json:"is_generator"`
	Line        int    `json:"line"`
	Lines       int    `json:"lines"`
}

// ClassInfo describes a class declaration
type ClassInfo struct {
	Name       string   `json:"name"`
	SuperClass string   `json:"super_class,omitempty"`
	Methods    []string `json:"methods,omitempty"`
	Line       int      `json:"line"`
}

// Dependencies classifies what a fragment depends on
type Dependencies struct {
	Internal []string `json:"internal"`
	External []string `json:"external"`
	Missing  []string `json:"missing"`
}

// CodeStructuralModel is the derived structural summary of a code fragment
type CodeStructuralModel struct {
	Language      string         `json:"language"`
	Imports       []ImportInfo   `json:"imports"`
	Exports       []string       `json:"exports"`
	Functions     []FunctionInfo `json:"functions"`
	Classes       []ClassInfo    `json:"classes"`
	Variables     []string       `json:"variables"`
	ComponentRefs []string       `json:"component_refs"`
	Complexity    int            `json:"complexity"`
	Dependencies  Dependencies   `json:"dependencies"`
	IdiomFlags    []string       `json:"idiom_flags"`
	Error         string         `json:"error,omitempty"`
	RawText       string         `json:"raw_text,omitempty"` // kept only when parsing failed
}

// HasIdiom reports whether a flag was detected
func (m *CodeStructuralModel) HasIdiom(flag string) bool {
	for _, f := range m.IdiomFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// Function looks up a function by name
func (m *CodeStructuralModel) Function(name string) (FunctionInfo, bool) {
	for _, f := range m.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return FunctionInfo{}, false
}

// Suggestion is an improvement hint produced by analysis
type Suggestion struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Priority string `json:"priority"` // high, medium, low
}
