package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/froyopack/pkg/engine"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root, e := newRootCommand("test", "none", "today")
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	e.shutdown()
	if err != nil {
		t.Logf("stderr:\n%s", errOut.String())
	}
	return out.String(), err
}

func writeIcon(t *testing.T, path string) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for i := 0; i < 32; i++ {
		img.Set(i, i, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode icon: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

// scaffold runs init in a fresh directory and adds the files a build needs.
func scaffold(t *testing.T) (dir, cache string) {
	t.Helper()

	dir = filepath.Join(t.TempDir(), "hello")
	cache = filepath.Join(t.TempDir(), "cache", "builds.db")

	out, err := execute(t, "init", "--cache", cache, dir)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !strings.Contains(out, "froyopack.cue") {
		t.Errorf("init output does not mention the configuration:\n%s", out)
	}

	writeIcon(t, filepath.Join(dir, "favicon.ico"))
	if err := os.WriteFile(filepath.Join(dir, "stub.bin"), []byte("#!froyostub\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir, cache
}

func TestBuildInspectExtract(t *testing.T) {
	dir, cache := scaffold(t)
	cfg := filepath.Join(dir, "froyopack.cue")
	artifact := filepath.Join(dir, "dist", "hello")

	out, err := execute(t, "build", "-c", cfg, "--cache", cache, "--stub", filepath.Join(dir, "stub.bin"))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if !strings.Contains(out, "Built "+artifact) {
		t.Errorf("unexpected build output:\n%s", out)
	}

	out, err = execute(t, "inspect", "--json", "--verify", artifact)
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	var info inspectOutput
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("inspect output is not JSON: %v\n%s", err, out)
	}
	if info.Index.Entry != "main.star" || !info.Verified {
		t.Errorf("unexpected index: entry %q verified %v", info.Index.Entry, info.Verified)
	}
	foundGroup := false
	for _, r := range info.Resources {
		if r.Name == "group-icon" {
			foundGroup = true
		}
	}
	if !foundGroup {
		t.Errorf("expected a group-icon resource, got %+v", info.Resources)
	}

	unpacked := filepath.Join(t.TempDir(), "unpacked")
	if _, err := execute(t, "extract", artifact, unpacked); err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	for _, name := range []string{"main.star", "favicon.ico"} {
		if _, err := os.Stat(filepath.Join(unpacked, name)); err != nil {
			t.Errorf("expected %s to be extracted: %v", name, err)
		}
	}

	out, err = execute(t, "history", "--cache", cache, "--json")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	var builds []*engine.BuildRecord
	if err := json.Unmarshal([]byte(out), &builds); err != nil {
		t.Fatalf("history output is not JSON: %v\n%s", err, out)
	}
	if len(builds) != 1 || builds[0].Status != engine.BuildStatusSucceeded {
		t.Errorf("expected one successful build, got %+v", builds)
	}
}

func TestBuild_FailureExitsNonZero(t *testing.T) {
	dir, cache := scaffold(t)
	if err := os.Remove(filepath.Join(dir, "favicon.ico")); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, "build", "-c", filepath.Join(dir, "froyopack.cue"), "--cache", cache, "--stub", filepath.Join(dir, "stub.bin"))
	if !engine.IsResourceMissing(err) {
		t.Fatalf("expected a resource missing error, got %v", err)
	}
	if ExitCode(err) == 0 {
		t.Error("expected a non-zero exit code")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "dist", "hello")); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("no artifact may be written")
	}
}

func TestGraphAndValidate(t *testing.T) {
	dir, _ := scaffold(t)
	cfg := filepath.Join(dir, "froyopack.cue")

	out, err := execute(t, "graph", "-c", cfg, "--cache", cacheOff, "--json")
	if err != nil {
		t.Fatalf("graph failed: %v", err)
	}
	var g graphOutput
	if err := json.Unmarshal([]byte(out), &g); err != nil {
		t.Fatalf("graph output is not JSON: %v\n%s", err, out)
	}
	if g.Entry != "main.star" || len(g.Modules) != 1 {
		t.Errorf("unexpected graph: %+v", g)
	}

	dot := filepath.Join(t.TempDir(), "graph.dot")
	if _, err := execute(t, "graph", "-c", cfg, "--cache", cacheOff, "--dot", dot); err != nil {
		t.Fatalf("graph --dot failed: %v", err)
	}
	data, err := os.ReadFile(dot)
	if err != nil || !strings.HasPrefix(string(data), "digraph") {
		t.Errorf("expected a DOT file, got %q (%v)", data, err)
	}

	out, err = execute(t, "validate", "-c", cfg, "--cache", cacheOff)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "is valid") {
		t.Errorf("unexpected validate output:\n%s", out)
	}
}

func TestRun(t *testing.T) {
	dir, _ := scaffold(t)
	cfg := filepath.Join(dir, "froyopack.cue")

	out, err := execute(t, "run", "-c", cfg, "--cache", cacheOff)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out, "hello from hello") {
		t.Errorf("unexpected program output:\n%s", out)
	}

	main := "def main():\n    return 3\n"
	if err := os.WriteFile(filepath.Join(dir, "main.star"), []byte(main), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = execute(t, "run", "-c", cfg, "--cache", cacheOff)
	if ExitCode(err) != 3 {
		t.Errorf("expected exit code 3, got %v", err)
	}
}

func TestInit_KeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	existing := []byte("name: \"mine\"\n")
	if err := os.WriteFile(filepath.Join(dir, "froyopack.cue"), existing, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "init", "--cache", cacheOff, dir)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !strings.Contains(out, "Kept existing") {
		t.Errorf("expected the configuration to be kept:\n%s", out)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "froyopack.cue"))
	if !bytes.Equal(got, existing) {
		t.Error("existing configuration was overwritten")
	}
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(&ExitError{Code: 4}); got != 4 {
		t.Errorf("ExitCode = %d, want 4", got)
	}
	if got := ExitCode(errors.New("boom")); got != 1 {
		t.Errorf("ExitCode = %d, want 1", got)
	}
}

func TestExecute_WritesMetricsAfterFailure(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"first.prom", "second.prom"} {
		metrics := filepath.Join(dir, name)
		_, err := execute(t, "validate", "-c", filepath.Join(dir, "missing.cue"), "--cache", cacheOff, "--metrics-file", metrics)
		if err == nil {
			t.Fatalf("run %d: expected validate to fail", i)
		}
		if _, err := os.Stat(metrics); err != nil {
			t.Errorf("run %d: metrics file not written: %v", i, err)
		}
	}
}

func TestNewRootCommand_OwnsShutdown(t *testing.T) {
	root, e := newRootCommand("test", "none", "today")
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"validate", "-c", filepath.Join(t.TempDir(), "missing.cue"), "--cache", cacheOff})
	_ = root.ExecuteContext(context.Background())

	if e.tel == nil {
		t.Fatal("telemetry must stay open until the caller shuts it down")
	}
	e.shutdown()
	if e.tel != nil {
		t.Error("shutdown must release telemetry")
	}
	e.shutdown()
}
