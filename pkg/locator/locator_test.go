package locator

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path string, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

// contexts returns one context per mode, all bundling the same files.
func contexts(t *testing.T) map[string]*Context {
	t.Helper()

	srcRoot := t.TempDir()
	assets := t.TempDir()
	writeFile(t, filepath.Join(assets, "icons", "favicon.ico"), "ICON")
	writeFile(t, filepath.Join(srcRoot, "data", "defaults.json"), "{}")
	writeFile(t, filepath.Join(srcRoot, "data", "nested", "more.json"), "[]")

	extracted := t.TempDir()
	writeFile(t, filepath.Join(extracted, "favicon.ico"), "ICON")
	writeFile(t, filepath.Join(extracted, "data", "defaults.json"), "{}")
	writeFile(t, filepath.Join(extracted, "data", "nested", "more.json"), "[]")

	mem := fstest.MapFS{
		"favicon.ico":           {Data: []byte("ICON"), Mode: 0o644},
		"data/defaults.json":    {Data: []byte("{}"), Mode: 0o644},
		"data/nested/more.json": {Data: []byte("[]"), Mode: 0o644},
	}

	virtual := NewVirtualContext(mem, "/opt/app")
	t.Cleanup(func() { _ = virtual.Close() })

	return map[string]*Context{
		"source":    NewSourceContext(srcRoot, map[string]string{"favicon.ico": filepath.Join(assets, "icons", "favicon.ico")}),
		"extracted": NewPackagedContext(extracted, "/opt/app"),
		"memory":    virtual,
	}
}

func TestResolve_Symmetry(t *testing.T) {
	for mode, ctx := range contexts(t) {
		t.Run(mode, func(t *testing.T) {
			for _, name := range []string{"favicon.ico", "data/defaults.json"} {
				p, err := ctx.Resolve(name)
				if err != nil {
					t.Fatalf("Resolve(%s) failed: %v", name, err)
				}
				data, err := os.ReadFile(p)
				if err != nil {
					t.Fatalf("Resolved path %s is not readable: %v", p, err)
				}
				want, _ := ctx.ReadFile(name)
				if diff := cmp.Diff(string(want), string(data)); diff != "" {
					t.Errorf("Content mismatch for %s (-want +got):\n%s", name, diff)
				}
			}
		})
	}
}

func TestResolve_NotFound(t *testing.T) {
	for mode, ctx := range contexts(t) {
		t.Run(mode, func(t *testing.T) {
			for _, name := range []string{"missing.txt", "", "../etc/passwd", "/etc/passwd", `data\defaults.json`} {
				if _, err := ctx.Resolve(name); !errors.Is(err, ErrNotFound) {
					t.Errorf("Resolve(%q): expected ErrNotFound, got %v", name, err)
				}
				if _, err := ctx.Open(name); !errors.Is(err, ErrNotFound) {
					t.Errorf("Open(%q): expected ErrNotFound, got %v", name, err)
				}
			}
		})
	}
}

func TestResolve_Directory(t *testing.T) {
	for mode, ctx := range contexts(t) {
		t.Run(mode, func(t *testing.T) {
			dir, err := ctx.Resolve("data")
			if err != nil {
				t.Fatalf("Resolve(data) failed: %v", err)
			}
			got, err := os.ReadFile(filepath.Join(dir, "nested", "more.json"))
			if err != nil || string(got) != "[]" {
				t.Errorf("Expected nested file under resolved directory, got %q %v", got, err)
			}
		})
	}
}

func TestVirtual_MaterializeOnceAndClose(t *testing.T) {
	mem := fstest.MapFS{"favicon.ico": {Data: []byte("ICON")}}
	ctx := NewVirtualContext(mem, "")

	first, err := ctx.Resolve("favicon.ico")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := ctx.Resolve("favicon.ico")
	if err != nil || first != second {
		t.Errorf("Expected the cached path %s, got %s %v", first, second, err)
	}
	if ctx.Root() != "" {
		t.Errorf("Expected no root for the memory strategy, got %q", ctx.Root())
	}

	if err := ctx.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Errorf("Expected materialized file to be removed, got %v", err)
	}
}

func TestContext_Metadata(t *testing.T) {
	root := t.TempDir()
	src := NewSourceContext(root, nil)
	if src.Packaged() || src.AppDir() != root {
		t.Errorf("Unexpected source context: packaged=%v appDir=%s", src.Packaged(), src.AppDir())
	}
	if _, ok := src.Icon(); ok {
		t.Error("Expected no icon in source mode")
	}

	pkg := NewPackagedContext("/tmp/x", "/opt/app").WithIcon([]byte("ICO"))
	icon, ok := pkg.Icon()
	if !ok || string(icon) != "ICO" {
		t.Errorf("Expected attached icon, got %q", icon)
	}

	want := []string{EnvRoot + "=/tmp/x", EnvAppDir + "=/opt/app", EnvPackaged + "=1"}
	if diff := cmp.Diff(want, pkg.Environ()); diff != "" {
		t.Errorf("Environ mismatch (-want +got):\n%s", diff)
	}
}
