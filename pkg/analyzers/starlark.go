package analyzers

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.starlark.net/syntax"

	"github.com/openfroyo/froyopack/pkg/engine"
)

// StarlarkAnalyzer resolves load() statements of Starlark programs.
// Module names are slash paths relative to the search root that contains them.
type StarlarkAnalyzer struct {
	searchPaths []string
}

// NewStarlarkAnalyzer creates an analyzer. The directory of the entry file is
// always the first search root.
func NewStarlarkAnalyzer(searchPaths ...string) *StarlarkAnalyzer {
	return &StarlarkAnalyzer{searchPaths: absPaths(searchPaths)}
}

// Kind returns "starlark".
func (a *StarlarkAnalyzer) Kind() string { return KindStarlark }

// Entry resolves the entry-point file.
func (a *StarlarkAnalyzer) Entry(p string) (*engine.ModuleNode, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, engine.NewConfigError("invalid entry path", err).WithPath(p)
	}
	if !fileExists(abs) {
		return nil, engine.NewConfigError("entry point not found", nil).WithPath(abs)
	}

	a.searchPaths = prependUnique(filepath.Dir(abs), a.searchPaths)

	base := filepath.Base(abs)
	return &engine.ModuleNode{Name: base, Path: abs, LogicalPath: base, Kind: engine.KindCode}, nil
}

// Analyze parses node and resolves each load() against the search roots.
func (a *StarlarkAnalyzer) Analyze(ctx context.Context, node *engine.ModuleNode) ([]*engine.ModuleNode, []*engine.PackError, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	src, err := os.ReadFile(node.Path)
	if err != nil {
		return nil, nil, engine.NewInternalError("failed to read module", err).WithModule(node.Name).WithPath(node.Path)
	}

	f, err := syntax.Parse(node.Path, src, 0)
	if err != nil {
		// A file that does not parse cannot be scanned; the runner will report
		// the syntax error at launch.
		w := engine.NewGraphResolutionWarning(node.Name, fmt.Sprintf("cannot parse %s: %v", node.LogicalPath, err))
		return nil, []*engine.PackError{w}, nil
	}

	c := &collector{seen: make(map[string]bool)}
	for _, stmt := range f.Stmts {
		load, ok := stmt.(*syntax.LoadStmt)
		if !ok {
			continue
		}
		label, _ := load.Module.Value.(string)
		if dep := a.resolve(node.LogicalPath, label); dep != nil {
			c.add(dep)
			continue
		}
		line := load.Load.Line
		c.unresolved(label, "load target not found", engine.ErrCodeUnresolved,
			fmt.Sprintf("%s line %d: load(%q) not found on search path", node.LogicalPath, line, label))
	}

	return c.deps, c.warnings, nil
}

func (a *StarlarkAnalyzer) resolve(from, label string) *engine.ModuleNode {
	for _, logical := range LoadCandidates(from, label) {
		for _, root := range a.searchPaths {
			full := filepath.Join(root, filepath.FromSlash(logical))
			if fileExists(full) {
				return &engine.ModuleNode{Name: logical, Path: full, LogicalPath: logical, Kind: engine.KindCode}
			}
		}
	}
	return nil
}

// LoadCandidates returns the logical paths a load() label may refer to, in
// lookup order. "//x" is root-relative; ":x" is relative to the loading file;
// a plain label is tried relative to the loading file, then the root.
// Labels that escape the root yield no candidates.
func LoadCandidates(from, label string) []string {
	dir := path.Dir(from)
	candidates := make([]string, 0, 2)

	add := func(p string) {
		p = path.Clean(p)
		if p == ".." || strings.HasPrefix(p, "../") || path.IsAbs(p) {
			return
		}
		for _, c := range candidates {
			if c == p {
				return
			}
		}
		candidates = append(candidates, p)
	}

	switch {
	case label == "":
	case strings.HasPrefix(label, "//"):
		add(strings.Replace(strings.TrimPrefix(label, "//"), ":", "/", 1))
	case strings.HasPrefix(label, ":"):
		add(path.Join(dir, strings.TrimPrefix(label, ":")))
	default:
		add(path.Join(dir, label))
		add(label)
	}
	return candidates
}
