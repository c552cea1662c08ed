package analyzers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/froyopack/pkg/engine"
)

// writeTree creates files under root from a map of slash paths to contents.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
}

func TestPythonAnalyzer_Graph(t *testing.T) {
	src := t.TempDir()
	lib := t.TempDir()

	writeTree(t, src, map[string]string{
		"app.py":                "import sys\nimport helper\nfrom inventory import store\nimport ghost\n",
		"helper.py":             "import unittest\nimport json\n",
		"inventory/__init__.py": "from . import models\n",
		"inventory/models.py":   "from .store import Store\nimport pkgutil\nDATA = pkgutil.get_data('inventory', 'schema.json')\n",
		"inventory/store.py":    "from . import models\nimport _speedups\n",
		"inventory/schema.json": "{}",

		"_speedups.cpython-311-x86_64-linux-gnu.so": "\x7fELF",
	})
	writeTree(t, lib, map[string]string{
		"unittest/__init__.py": "from unittest.case import TestCase\n",
		"unittest/case.py":     "import difflib\n",
		"difflib.py":           "",
		"json/__init__.py":     "",
		"pkgutil.py":           "",
	})

	analyzer := NewPythonAnalyzer(lib)
	graph, err := engine.NewGraphBuilder(analyzer, 4, zerolog.Nop()).Build(context.Background(), filepath.Join(src, "app.py"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := []string{
		"_speedups",
		"app",
		"difflib",
		"ghost",
		"helper",
		"inventory",
		"inventory.models",
		"inventory.store",
		"inventory/schema.json",
		"json",
		"pkgutil",
		"unittest",
		"unittest.case",
	}
	if diff := cmp.Diff(want, graph.Names()); diff != "" {
		t.Errorf("nodes mismatch (-want +got):\n%s", diff)
	}

	speedups, _ := graph.Node("_speedups")
	if speedups.Kind != engine.KindNativeBinary {
		t.Errorf("Expected _speedups to be native-binary, got %s", speedups.Kind)
	}
	if speedups.LogicalPath != "_speedups.cpython-311-x86_64-linux-gnu.so" {
		t.Errorf("Unexpected logical path for _speedups: %s", speedups.LogicalPath)
	}

	schema, _ := graph.Node("inventory/schema.json")
	if schema.Kind != engine.KindDataFile {
		t.Errorf("Expected schema.json to be a data file, got %s", schema.Kind)
	}

	pkg, _ := graph.Node("inventory")
	if pkg.LogicalPath != "inventory/__init__.py" {
		t.Errorf("Expected package logical path inventory/__init__.py, got %s", pkg.LogicalPath)
	}

	ghost, _ := graph.Node("ghost")
	if !ghost.Unresolved {
		t.Error("Expected ghost to be unresolved")
	}
	warnings := graph.Warnings()
	if len(warnings) != 1 || warnings[0].Module != "ghost" {
		t.Errorf("Expected a single warning for ghost, got %v", warnings)
	}

	if diff := cmp.Diff([]string{"inventory", "inventory.store"}, graph.Dependents("inventory.models")); diff != "" {
		t.Errorf("dependents mismatch (-want +got):\n%s", diff)
	}
}

func TestPythonAnalyzer_DynamicImport(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"app.py":         "import importlib\nplugin = importlib.import_module('plugins.' + name)\nother = __import__('plugins.csv')\n",
		"plugins/csv.py": "",
		"importlib.py":   "",
	})

	analyzer := NewPythonAnalyzer()
	entry, err := analyzer.Entry(filepath.Join(src, "app.py"))
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}

	deps, warnings, err := analyzer.Analyze(context.Background(), entry)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	names := make([]string, 0, len(deps))
	for _, d := range deps {
		names = append(names, d.Name)
	}
	want := []string{"importlib", "app:<dynamic@2>", "plugins.csv"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("deps mismatch (-want +got):\n%s", diff)
	}

	if len(warnings) != 1 {
		t.Fatalf("Expected 1 warning, got %d", len(warnings))
	}
	if warnings[0].Code != engine.ErrCodeDynamic {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeDynamic, warnings[0].Code)
	}
	if !deps[1].Unresolved {
		t.Error("Expected dynamic reference to be an unresolved node")
	}
}

func TestPythonAnalyzer_EntryErrors(t *testing.T) {
	analyzer := NewPythonAnalyzer()

	if _, err := analyzer.Entry(filepath.Join(t.TempDir(), "missing.py")); !engine.IsConfigError(err) {
		t.Errorf("Expected config error for missing entry, got %v", err)
	}
	if _, err := analyzer.Entry(t.TempDir()); !engine.IsConfigError(err) {
		t.Errorf("Expected config error for directory entry, got %v", err)
	}
}

func TestKindForEntry(t *testing.T) {
	tests := map[string]string{
		"app.py":    KindPython,
		"gui.pyw":   KindPython,
		"main.star": KindStarlark,
		"rules.bzl": KindStarlark,
		"README.md": "",
	}
	for entry, want := range tests {
		if got := KindForEntry(entry); got != want {
			t.Errorf("KindForEntry(%q) = %q, want %q", entry, got, want)
		}
	}
}
