package engine

import (
	"fmt"
	"sort"
	"strings"
)

// ModuleKind classifies a node in the dependency graph.
type ModuleKind string

const (
	// KindCode is a source module the analyzer can scan for further references.
	KindCode ModuleKind = "code"

	// KindNativeBinary is a compiled extension module. It is bundled but never scanned.
	KindNativeBinary ModuleKind = "native-binary"

	// KindDataFile is a non-code file pulled into the graph by a module.
	KindDataFile ModuleKind = "data-file"
)

// Validate checks if the module kind is valid.
func (k ModuleKind) Validate() error {
	switch k {
	case KindCode, KindNativeBinary, KindDataFile:
		return nil
	default:
		return fmt.Errorf("invalid module kind: %s", k)
	}
}

// ModuleNode is a single unit of code or data in the dependency graph.
// Nodes are immutable once inserted into a graph.
type ModuleNode struct {
	// Name is the canonical module name (dotted name or load label).
	Name string `json:"name"`

	// Path is the absolute source path. Empty for unresolved nodes.
	Path string `json:"path,omitempty"`

	// LogicalPath is the slash-separated path of the module inside the bundle.
	LogicalPath string `json:"logical_path,omitempty"`

	// Kind is the module classification.
	Kind ModuleKind `json:"kind"`

	// Unresolved marks a reference the analyzer could not locate.
	Unresolved bool `json:"unresolved,omitempty"`

	// Reason explains why the node is unresolved.
	Reason string `json:"reason,omitempty"`
}

// Scannable reports whether the analyzer should look inside the node for further references.
func (n *ModuleNode) Scannable() bool {
	return !n.Unresolved && n.Kind == KindCode && n.Path != ""
}

// ExclusionPolicy is a set of module name patterns to prune from the graph.
// A pattern "x" matches "x" and every module beneath it ("x.y", "x/y");
// a pattern "x*" matches every name with the raw prefix "x".
type ExclusionPolicy struct {
	Patterns []string `json:"patterns" yaml:"patterns" toml:"patterns"`
}

// NewExclusionPolicy creates a policy from a list of patterns, dropping blanks and duplicates.
func NewExclusionPolicy(patterns ...string) ExclusionPolicy {
	seen := make(map[string]bool, len(patterns))
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return ExclusionPolicy{Patterns: out}
}

// Matches reports whether name is matched by any pattern, and which.
func (p ExclusionPolicy) Matches(name string) (string, bool) {
	for _, pattern := range p.Patterns {
		if matchPattern(pattern, name) {
			return pattern, true
		}
	}
	return "", false
}

func matchPattern(pattern, name string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	if name == pattern {
		return true
	}
	return strings.HasPrefix(name, pattern+".") || strings.HasPrefix(name, pattern+"/")
}

// ExclusionReport describes what the exclusion filter removed.
type ExclusionReport struct {
	// Excluded lists nodes matched directly by a pattern.
	Excluded []string `json:"excluded"`

	// Pruned lists nodes removed because they became unreachable from the entry.
	Pruned []string `json:"pruned"`

	// UnusedPatterns lists patterns that matched no node.
	UnusedPatterns []string `json:"unused_patterns,omitempty"`

	// Retained is the number of nodes left in the graph.
	Retained int `json:"retained"`
}

// Removed returns the total number of nodes removed by the filter.
func (r *ExclusionReport) Removed() int {
	return len(r.Excluded) + len(r.Pruned)
}
