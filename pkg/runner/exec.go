package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyopack/pkg/analyzers"
)

// ExecRunner runs a program with an external interpreter. The bundle root
// and search paths are prepended to PYTHONPATH and the resource context is
// exported through FROYOPACK_* variables.
type ExecRunner struct {
	logger zerolog.Logger
}

// NewExecRunner creates an interpreter runner.
func NewExecRunner(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger.With().Str("component", "exec-runner").Logger()}
}

// Kind returns "python".
func (r *ExecRunner) Kind() string { return analyzers.KindPython }

// Run starts the interpreter and waits for it.
func (r *ExecRunner) Run(ctx context.Context, prog *Program) (int, error) {
	if prog.Locator == nil || prog.Locator.Root() == "" {
		return 0, fmt.Errorf("external programs need their files on disk")
	}
	interp := prog.Interpreter
	if len(interp) == 0 {
		interp = []string{"python3"}
	}

	root := prog.Locator.Root()
	entry := filepath.Join(root, filepath.FromSlash(prog.Entry))

	args := make([]string, 0, len(interp)+len(prog.Args))
	args = append(args, interp[1:]...)
	args = append(args, entry)
	args = append(args, prog.Args...)

	cmd := exec.CommandContext(ctx, interp[0], args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = prog.stdio()
	cmd.Env = r.environ(prog, root)

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			r.logger.Debug().Int("exit_code", exitErr.ExitCode()).Dur("duration", duration).Msg("program exited")
			return exitErr.ExitCode(), nil
		}
		return 0, fmt.Errorf("failed to execute %s: %w", interp[0], err)
	}

	r.logger.Debug().Int("exit_code", 0).Dur("duration", duration).Msg("program exited")
	return 0, nil
}

func (r *ExecRunner) environ(prog *Program, root string) []string {
	paths := append([]string{root}, prog.SearchPaths...)
	env := make([]string, 0, len(os.Environ())+5)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k == "PYTHONPATH" {
			if v != "" {
				paths = append(paths, v)
			}
			continue
		}
		env = append(env, kv)
	}

	env = append(env,
		"PYTHONPATH="+strings.Join(paths, string(os.PathListSeparator)),
		"PYTHONDONTWRITEBYTECODE=1",
	)
	return append(env, prog.Locator.Environ()...)
}
