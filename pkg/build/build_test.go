package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/froyopack/pkg/archive"
	"github.com/openfroyo/froyopack/pkg/engine"
	"github.com/openfroyo/froyopack/pkg/report"
	"github.com/openfroyo/froyopack/pkg/stores"
	"github.com/openfroyo/froyopack/pkg/telemetry"
)

const baseConfig = `name: inventory
entry: main.star
stub: stub.bin
exclude:
  - tests
resources:
  - name: data/items.json
    source: items.json
    mode: bundled-data
`

// writeProject lays out a small Starlark program and returns its config path.
func writeProject(t *testing.T, cfg string, extra map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	files := map[string]string{
		"froyopack.yaml":   cfg,
		"main.star":        "load(\"lib/util.star\", \"fmt\")\nload(\"tests/check.star\", \"check\")\n",
		"lib/util.star":    "def fmt(x):\n    return str(x)\n",
		"tests/check.star": "load(\"//lib/util.star\", \"fmt\")\ndef check():\n    pass\n",
		"items.json":       `[{"sku": "A-1", "qty": 3}]`,
		"stub.bin":         "#!froyostub\n",
	}
	for name, content := range extra {
		files[name] = content
	}
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return filepath.Join(dir, "froyopack.yaml")
}

func newTestStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func entryNames(t *testing.T, path string) []string {
	t.Helper()

	r, err := archive.Open(path)
	if err != nil {
		t.Fatalf("failed to open artifact: %v", err)
	}
	defer r.Close()

	names := []string{}
	for _, e := range r.Index().Entries {
		names = append(names, e.Name)
	}
	return names
}

func TestBuild(t *testing.T) {
	configPath := writeProject(t, baseConfig, nil)
	root := filepath.Dir(configPath)

	res, err := NewBuilder(telemetry.Nop(), nil).Build(context.Background(), Options{ConfigPath: configPath})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if want := filepath.Join(root, "dist", "inventory"); res.Artifact.Path != want {
		t.Errorf("artifact path = %s, want %s", res.Artifact.Path, want)
	}
	want := []string{"data/items.json", "lib/util.star", "main.star"}
	if diff := cmp.Diff(want, entryNames(t, res.Artifact.Path)); diff != "" {
		t.Errorf("payload entries mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"tests/check.star"}, res.Exclusion.Excluded); diff != "" {
		t.Errorf("excluded mismatch (-want +got):\n%s", diff)
	}

	rec := res.Record
	if rec.Status != engine.BuildStatusSucceeded {
		t.Errorf("status = %s, want succeeded", rec.Status)
	}
	if rec.Modules != 2 || rec.Excluded != 1 {
		t.Errorf("modules/excluded = %d/%d, want 2/1", rec.Modules, rec.Excluded)
	}
	if rec.IndexDigest != res.Artifact.Digest || rec.IndexDigest == "" {
		t.Errorf("record digest %q does not match artifact digest %q", rec.IndexDigest, res.Artifact.Digest)
	}

	rep, err := report.ReadFile(res.ReportPath)
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}
	if !rep.Complete() {
		t.Error("expected a complete report")
	}
	stages := []engine.Stage{}
	for _, s := range rep.Stages {
		stages = append(stages, s.Stage)
	}
	if diff := cmp.Diff(engine.Stages, stages); diff != "" {
		t.Errorf("reported stages mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_Directory(t *testing.T) {
	configPath := writeProject(t, baseConfig+"onefile: false\n", nil)
	root := filepath.Dir(configPath)

	res, err := NewBuilder(telemetry.Nop(), nil).Build(context.Background(), Options{ConfigPath: configPath})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if want := filepath.Join(root, "dist", "inventory", "inventory"); res.Artifact.Path != want {
		t.Errorf("artifact path = %s, want %s", res.Artifact.Path, want)
	}
	data := filepath.Join(root, "dist", "inventory", archive.InternalDir, "data", "items.json")
	if _, err := os.Stat(data); err != nil {
		t.Errorf("expected bundled data in the internal folder: %v", err)
	}
}

func TestBuild_History(t *testing.T) {
	configPath := writeProject(t, baseConfig, nil)
	store := newTestStore(t)
	b := NewBuilder(telemetry.Nop(), store)
	ctx := context.Background()

	first, err := b.Build(ctx, Options{ConfigPath: configPath})
	if err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	if first.Unchanged {
		t.Error("first build cannot be unchanged")
	}

	second, err := b.Build(ctx, Options{ConfigPath: configPath})
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}
	if !second.Unchanged {
		t.Error("expected an unchanged rebuild")
	}
	if first.Record.IndexDigest != second.Record.IndexDigest {
		t.Errorf("digests differ for identical inputs: %s vs %s", first.Record.IndexDigest, second.Record.IndexDigest)
	}

	items := filepath.Join(filepath.Dir(configPath), "items.json")
	if err := os.WriteFile(items, []byte(`[]`), 0o644); err != nil {
		t.Fatal(err)
	}
	third, err := b.Build(ctx, Options{ConfigPath: configPath})
	if err != nil {
		t.Fatalf("third build failed: %v", err)
	}
	if third.Unchanged {
		t.Error("changed resource must change the digest")
	}

	builds, err := store.ListBuilds(ctx, "inventory", 0)
	if err != nil {
		t.Fatalf("failed to list builds: %v", err)
	}
	if len(builds) != 3 {
		t.Errorf("expected 3 recorded builds, got %d", len(builds))
	}
}

func TestBuild_Failures(t *testing.T) {
	tests := []struct {
		name  string
		cfg   string
		extra map[string]string
		drop  string
		check func(t *testing.T, err error)
	}{
		{
			name: "missing resource",
			cfg:  baseConfig,
			drop: "items.json",
			check: func(t *testing.T, err error) {
				if !engine.IsResourceMissing(err) {
					t.Errorf("expected a resource missing error, got %v", err)
				}
			},
		},
		{
			name: "policy denied",
			cfg:  baseConfig + "policies:\n  - policies\n",
			extra: map[string]string{
				"policies/no_data.rego": "package froyopack.policies.nodata\n\ndeny contains msg if {\n\tsome r in input.resources\n\tr.mode == \"bundled-data\"\n\tmsg := sprintf(\"%s is bundled\", [r.name])\n}\n",
			},
			check: func(t *testing.T, err error) {
				var pe *engine.PackError
				if !errors.As(err, &pe) || pe.Code != engine.ErrCodePolicyDenied {
					t.Errorf("expected a policy denial, got %v", err)
				}
			},
		},
		{
			name: "missing stub",
			cfg:  strings.Replace(baseConfig, "stub.bin", "nostub.bin", 1),
			check: func(t *testing.T, err error) {
				if !engine.IsConfigError(err) {
					t.Errorf("expected a config error, got %v", err)
				}
			},
		},
		{
			name: "unsupported encoder",
			cfg:  baseConfig + "icon_encoder: bmp\n",
			check: func(t *testing.T, err error) {
				if err == nil {
					t.Error("expected an error")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeProject(t, tt.cfg, tt.extra)
			root := filepath.Dir(configPath)
			if tt.drop != "" {
				if err := os.Remove(filepath.Join(root, tt.drop)); err != nil {
					t.Fatal(err)
				}
			}

			res, err := NewBuilder(telemetry.Nop(), nil).Build(context.Background(), Options{ConfigPath: configPath})
			tt.check(t, err)

			if _, statErr := os.Stat(filepath.Join(root, "dist", "inventory")); !errors.Is(statErr, os.ErrNotExist) {
				t.Errorf("no artifact may be written on failure, stat: %v", statErr)
			}
			if res == nil {
				return
			}
			if res.Record.Status != engine.BuildStatusFailed {
				t.Errorf("status = %s, want failed", res.Record.Status)
			}
			if want := filepath.Join(root, "build", "inventory.report.jsonl"); res.ReportPath != want {
				t.Errorf("report path = %s, want %s", res.ReportPath, want)
			}
		})
	}
}

func TestBuild_ConfigError(t *testing.T) {
	configPath := writeProject(t, "entry: main.star\n", nil)

	res, err := NewBuilder(telemetry.Nop(), nil).Build(context.Background(), Options{ConfigPath: configPath})
	if !engine.IsConfigError(err) {
		t.Fatalf("expected a config error, got %v", err)
	}
	if res != nil {
		t.Error("no result expected before the configuration loads")
	}
}

func TestBuild_PolicyExcludeAndWarn(t *testing.T) {
	cfg := baseConfig + "policies:\n  - trim.rego\n"
	configPath := writeProject(t, cfg, map[string]string{
		"lib/debug.star": "def trace():\n    pass\n",
		"lib/util.star":  "load(\":debug.star\", \"trace\")\ndef fmt(x):\n    return str(x)\n",
		"trim.rego": "package froyopack.policies.trim\n\n" +
			"exclude contains \"lib/debug.star\"\n\n" +
			"warn contains \"console builds ship a debug window\" if input.console\n",
	})

	res, err := NewBuilder(telemetry.Nop(), nil).Build(context.Background(), Options{ConfigPath: configPath})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for _, name := range entryNames(t, res.Artifact.Path) {
		if name == "lib/debug.star" {
			t.Error("policy exclusion was not applied")
		}
	}

	found := false
	for _, w := range res.Record.Warnings {
		if w.Class == engine.ErrorClassPolicyWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a policy warning, got %v", res.Record.Warnings)
	}
}

func TestBuild_DefaultStub(t *testing.T) {
	cfg := strings.Replace(baseConfig, "stub: stub.bin\n", "", 1)
	configPath := writeProject(t, cfg, nil)
	stub := filepath.Join(filepath.Dir(configPath), "stub.bin")

	b := NewBuilder(telemetry.Nop(), nil)
	b.executable = func() (string, error) { return stub, nil }

	res, err := b.Build(context.Background(), Options{ConfigPath: configPath})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	size, err := archive.StubSize(res.Artifact.Path)
	if err != nil {
		t.Fatalf("StubSize failed: %v", err)
	}
	if size != int64(len("#!froyostub\n")) {
		t.Errorf("stub size = %d, want %d", size, len("#!froyostub\n"))
	}
}

func TestBuild_Clean(t *testing.T) {
	configPath := writeProject(t, baseConfig, map[string]string{
		"dist/stale":  "old",
		"build/stale": "old",
	})
	root := filepath.Dir(configPath)

	if _, err := NewBuilder(telemetry.Nop(), nil).Build(context.Background(), Options{ConfigPath: configPath, Clean: true}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, p := range []string{"dist/stale", "build/stale"} {
		if _, err := os.Stat(filepath.Join(root, p)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected %s to be cleaned", p)
		}
	}
}

func TestBuild_CleanRefusesSourceRoot(t *testing.T) {
	configPath := writeProject(t, baseConfig+"dist_dir: .\n", nil)

	_, err := NewBuilder(telemetry.Nop(), nil).Build(context.Background(), Options{ConfigPath: configPath, Clean: true})
	if !engine.IsConfigError(err) {
		t.Fatalf("expected a config error, got %v", err)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("configuration must survive: %v", err)
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		path, dir string
		want      bool
	}{
		{"/src/app", "/src/app", true},
		{"/src/app", "/src", true},
		{"/src/app", "/src/app/dist", false},
		{"/src/app", "/src/other", false},
		{"/src/app", "/src/..app", false},
	}
	for _, tt := range tests {
		if got := within(tt.path, tt.dir); got != tt.want {
			t.Errorf("within(%q, %q) = %v, want %v", tt.path, tt.dir, got, tt.want)
		}
	}
}
