package engine

import (
	"context"
)

// Analyzer discovers the direct references of a single module for one program kind.
// This is the first build stage: dependency discovery.
// Implementations must be safe for concurrent use.
type Analyzer interface {
	// Kind returns the program kind the analyzer handles (e.g. "python", "starlark").
	Kind() string

	// Entry resolves the entry-point file into the root node of the graph.
	Entry(path string) (*ModuleNode, error)

	// Analyze returns the direct dependencies of node. References that cannot be
	// located are returned as unresolved nodes together with a warning.
	Analyze(ctx context.Context, node *ModuleNode) ([]*ModuleNode, []*PackError, error)
}

// ExclusionSource contributes module names to exclude, computed over the whole graph.
// Results are unioned with the configured patterns before filtering.
type ExclusionSource interface {
	// Exclusions returns additional module names or patterns to exclude.
	Exclusions(ctx context.Context, graph *ModuleGraph) ([]string, error)
}

// BuildRecorder persists the history of builds.
type BuildRecorder interface {
	// SaveBuild creates or updates a build record.
	SaveBuild(ctx context.Context, build *BuildRecord) error

	// GetLatestBuild returns the most recent successful build of the named artifact.
	GetLatestBuild(ctx context.Context, name string) (*BuildRecord, error)
}
