// Package analyzers implements dependency discovery for the program kinds
// froyopack can package. Each analyzer satisfies engine.Analyzer.
package analyzers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/froyopack/pkg/engine"
)

// Program kinds.
const (
	KindPython   = "python"
	KindStarlark = "starlark"
)

// New returns the analyzer for a program kind.
func New(kind string, searchPaths []string) (engine.Analyzer, error) {
	switch kind {
	case KindPython:
		return NewPythonAnalyzer(searchPaths...), nil
	case KindStarlark:
		return NewStarlarkAnalyzer(searchPaths...), nil
	default:
		return nil, engine.NewConfigError(fmt.Sprintf("unsupported program kind: %q", kind), nil)
	}
}

// KindForEntry infers the program kind from the entry file extension.
func KindForEntry(entry string) string {
	switch strings.ToLower(filepath.Ext(entry)) {
	case ".star", ".bzl", ".sky":
		return KindStarlark
	case ".py", ".pyw":
		return KindPython
	default:
		return ""
	}
}

func absPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			out = append(out, abs)
		}
	}
	return out
}

func prependUnique(first string, rest []string) []string {
	out := []string{first}
	for _, p := range rest {
		if p != first {
			out = append(out, p)
		}
	}
	return out
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
