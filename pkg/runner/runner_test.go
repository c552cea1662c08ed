package runner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyopack/pkg/locator"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
}

func runStarlark(t *testing.T, ctx context.Context, files map[string]string, args ...string) (int, string, string) {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, files)

	var stdout, stderr bytes.Buffer
	code, err := NewStarlarkRunner(zerolog.Nop()).Run(ctx, &Program{
		Entry:   "main.star",
		Args:    args,
		Locator: locator.NewSourceContext(root, nil),
		Stdout:  &stdout,
		Stderr:  &stderr,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return code, stdout.String(), stderr.String()
}

func TestStarlarkRunner(t *testing.T) {
	tests := []struct {
		name       string
		files      map[string]string
		args       []string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{
			name: "main return value is the exit code",
			files: map[string]string{
				"main.star": "def main():\n    print(\"hello\")\n    return 3\n",
			},
			wantCode:   3,
			wantStdout: "hello\n",
		},
		{
			name: "no main exits zero",
			files: map[string]string{
				"main.star": "print(len(argv))\n",
			},
			args:       []string{"a", "b"},
			wantStdout: "3\n",
		},
		{
			name: "load relative module and read resource",
			files: map[string]string{
				"main.star":          "load(\"lib/inventory.star\", \"count\")\n\ndef main():\n    print(count())\n",
				"lib/inventory.star": "load(\":format.star\", \"fmt\")\n\ndef count():\n    items = json.decode(read_resource(\"data/items.json\"))\n    return fmt(len(items))\n",
				"lib/format.star":    "def fmt(n):\n    return \"items=%d\" % n\n",
				"data/items.json":    "[1, 2, 3]",
			},
			wantStdout: "items=3\n",
		},
		{
			name: "missing resource uses default",
			files: map[string]string{
				"main.star": "print(resource_path(\"nope.txt\", default=\"fallback\"))\nprint(is_packaged())\n",
			},
			wantStdout: "fallback\nFalse\n",
		},
		{
			name: "missing resource without default fails",
			files: map[string]string{
				"main.star": "resource_path(\"nope.txt\")\n",
			},
			wantCode:   1,
			wantStderr: "resource not found",
		},
		{
			name: "load cycle",
			files: map[string]string{
				"main.star": "load(\"a.star\", \"x\")\n",
				"a.star":    "load(\"b.star\", \"y\")\nx = 1\n",
				"b.star":    "load(\"a.star\", \"x\")\ny = 2\n",
			},
			wantCode:   1,
			wantStderr: "cycle in load graph",
		},
		{
			name: "bad main result",
			files: map[string]string{
				"main.star": "def main():\n    return \"oops\"\n",
			},
			wantCode:   1,
			wantStderr: "want int or None",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runStarlark(t, context.Background(), tt.files, tt.args...)
			if code != tt.wantCode {
				t.Errorf("Expected exit code %d, got %d (stderr: %s)", tt.wantCode, code, stderr)
			}
			if tt.wantStdout != "" && stdout != tt.wantStdout {
				t.Errorf("Expected stdout %q, got %q", tt.wantStdout, stdout)
			}
			if tt.wantStderr != "" && !strings.Contains(stderr, tt.wantStderr) {
				t.Errorf("Expected stderr to contain %q, got %q", tt.wantStderr, stderr)
			}
		})
	}
}

func TestStarlarkRunner_AppDir(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"main.star": "print(app_dir())\n"})

	var stdout bytes.Buffer
	_, err := NewStarlarkRunner(zerolog.Nop()).Run(context.Background(), &Program{
		Entry:   "main.star",
		Locator: locator.NewPackagedContext(root, "/opt/app"),
		Stdout:  &stdout,
		Stderr:  &bytes.Buffer{},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stdout.String() != "/opt/app\n" {
		t.Errorf("Expected app dir, got %q", stdout.String())
	}
}

func TestStarlarkRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	code, _, stderr := runStarlark(t, ctx, map[string]string{
		"main.star": "def main():\n    for i in range(1000000000):\n        pass\n",
	})
	if code == 0 {
		t.Error("Expected non-zero exit code after cancellation")
	}
	if !strings.Contains(stderr, "cancel") {
		t.Errorf("Expected cancellation message, got %q", stderr)
	}
}

func TestStarlarkRunner_MissingEntry(t *testing.T) {
	_, err := NewStarlarkRunner(zerolog.Nop()).Run(context.Background(), &Program{
		Entry:   "main.star",
		Locator: locator.NewSourceContext(t.TempDir(), nil),
	})
	if err == nil {
		t.Error("Expected error for a missing entry file")
	}
}

func TestExecRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.sh": "echo \"$1 $FROYOPACK_PACKAGED $FROYOPACK_APP_DIR\"\ncase \"$PYTHONPATH\" in \"$FROYOPACK_ROOT\"*) exit 7;; esac\nexit 1\n",
	})

	var stdout bytes.Buffer
	code, err := NewExecRunner(zerolog.Nop()).Run(context.Background(), &Program{
		Entry:       "main.sh",
		Args:        []string{"arg"},
		Locator:     locator.NewPackagedContext(root, "/opt/app"),
		Interpreter: []string{"/bin/sh"},
		Stdout:      &stdout,
		Stderr:      &bytes.Buffer{},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if code != 7 {
		t.Errorf("Expected exit code 7, got %d", code)
	}
	if got := strings.TrimSpace(stdout.String()); got != "arg 1 /opt/app" {
		t.Errorf("Unexpected output %q", got)
	}
}

func TestExecRunner_NeedsDisk(t *testing.T) {
	_, err := NewExecRunner(zerolog.Nop()).Run(context.Background(), &Program{
		Entry:   "main.py",
		Locator: locator.NewVirtualContext(nil, ""),
	})
	if err == nil {
		t.Error("Expected error for the memory strategy")
	}
}

func TestNew(t *testing.T) {
	for kind, want := range map[string]string{"starlark": "starlark", "python": "python"} {
		r, err := New(kind, zerolog.Nop())
		if err != nil || r.Kind() != want {
			t.Errorf("New(%s) = %v, %v", kind, r, err)
		}
	}
	if _, err := New("ruby", zerolog.Nop()); err == nil {
		t.Error("Expected error for unknown kind")
	}
}
