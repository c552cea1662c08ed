package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/froyopack/pkg/analyzers"
	"github.com/openfroyo/froyopack/pkg/locator"
)

const localModule = "froyopack.module"

// StarlarkRunner executes Starlark programs in-process. The entry file runs
// first; if it defines main(), main is called and its int result becomes the
// exit code.
type StarlarkRunner struct {
	logger zerolog.Logger
}

// NewStarlarkRunner creates a Starlark runner.
func NewStarlarkRunner(logger zerolog.Logger) *StarlarkRunner {
	return &StarlarkRunner{logger: logger.With().Str("component", "starlark-runner").Logger()}
}

// Kind returns "starlark".
func (r *StarlarkRunner) Kind() string { return analyzers.KindStarlark }

type runResult struct {
	code int
	err  error
}

// Run executes the program. Cancelling ctx interrupts the interpreter.
func (r *StarlarkRunner) Run(ctx context.Context, prog *Program) (int, error) {
	if prog.Locator == nil {
		return 0, fmt.Errorf("program has no resource context")
	}
	_, stdout, stderr := prog.stdio()

	roots := []fs.FS{prog.Locator.FS()}
	for _, p := range prog.SearchPaths {
		roots = append(roots, os.DirFS(p))
	}

	src, err := readFirst(roots, prog.Entry)
	if err != nil {
		return 0, fmt.Errorf("cannot read entry %s: %w", prog.Entry, err)
	}

	l := &moduleLoader{
		roots:       roots,
		predeclared: builtins(prog),
		print:       func(_ *starlark.Thread, msg string) { fmt.Fprintln(stdout, msg) },
		cache:       make(map[string]*loadEntry),
	}
	thread := l.newThread(prog.Entry)

	resultCh := make(chan runResult, 1)
	go func() {
		resultCh <- l.runMain(thread, prog.Entry, src)
	}()

	var res runResult
	select {
	case <-ctx.Done():
		l.cancel(ctx.Err().Error())
		res = <-resultCh
	case res = <-resultCh:
	}

	if res.err != nil {
		var evalErr *starlark.EvalError
		if errors.As(res.err, &evalErr) {
			fmt.Fprintln(stderr, evalErr.Backtrace())
		} else {
			fmt.Fprintln(stderr, res.err)
		}
		r.logger.Debug().Err(res.err).Int("exit_code", res.code).Msg("program failed")
	}
	return res.code, nil
}

// runMain executes the entry module and calls its main function if present.
func (l *moduleLoader) runMain(thread *starlark.Thread, entry string, src []byte) runResult {
	globals, err := starlark.ExecFile(thread, entry, src, l.predeclared)
	if err != nil {
		return runResult{code: 1, err: err}
	}

	fn, ok := globals["main"].(starlark.Callable)
	if !ok {
		return runResult{code: 0}
	}
	v, err := starlark.Call(thread, fn, nil, nil)
	if err != nil {
		return runResult{code: 1, err: err}
	}
	return exitCode(v)
}

func exitCode(v starlark.Value) runResult {
	switch v := v.(type) {
	case starlark.NoneType:
		return runResult{code: 0}
	case starlark.Int:
		code, ok := v.Int64()
		if !ok {
			return runResult{code: 1, err: fmt.Errorf("main() returned an out-of-range exit code %s", v)}
		}
		return runResult{code: int(code)}
	default:
		return runResult{code: 1, err: fmt.Errorf("main() returned %s, want int or None", v.Type())}
	}
}

type loadEntry struct {
	globals starlark.StringDict
	err     error
}

// moduleLoader implements load() over the bundle roots with a module cache.
// A nil cache entry marks a module whose load is in progress.
type moduleLoader struct {
	roots       []fs.FS
	predeclared starlark.StringDict
	print       func(*starlark.Thread, string)
	cache       map[string]*loadEntry

	mu      sync.Mutex
	threads []*starlark.Thread
}

func (l *moduleLoader) newThread(module string) *starlark.Thread {
	thread := &starlark.Thread{
		Name:  module,
		Print: l.print,
		Load:  l.load,
	}
	thread.SetLocal(localModule, module)

	l.mu.Lock()
	l.threads = append(l.threads, thread)
	l.mu.Unlock()
	return thread
}

func (l *moduleLoader) cancel(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.threads {
		t.Cancel(reason)
	}
}

func (l *moduleLoader) load(thread *starlark.Thread, label string) (starlark.StringDict, error) {
	from, _ := thread.Local(localModule).(string)

	var (
		name string
		src  []byte
	)
	for _, candidate := range analyzers.LoadCandidates(from, label) {
		if data, err := readFirst(l.roots, candidate); err == nil {
			name, src = candidate, data
			break
		}
	}
	if name == "" {
		return nil, fmt.Errorf("cannot load %s: module not found", label)
	}

	if e, ok := l.cache[name]; ok {
		if e == nil {
			return nil, fmt.Errorf("cycle in load graph at %s", name)
		}
		return e.globals, e.err
	}

	l.cache[name] = nil
	globals, err := starlark.ExecFile(l.newThread(name), name, src, l.predeclared)
	l.cache[name] = &loadEntry{globals: globals, err: err}
	return globals, err
}

func readFirst(roots []fs.FS, name string) ([]byte, error) {
	var firstErr error
	for _, root := range roots {
		data, err := fs.ReadFile(root, name)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = fs.ErrNotExist
	}
	return nil, firstErr
}

// builtins returns the predeclared environment of a program.
func builtins(prog *Program) starlark.StringDict {
	loc := prog.Locator

	argv := make([]starlark.Value, 0, len(prog.Args)+1)
	argv = append(argv, starlark.String(prog.Entry))
	for _, a := range prog.Args {
		argv = append(argv, starlark.String(a))
	}
	argvList := starlark.NewList(argv)
	argvList.Freeze()

	return starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   json.Module,
		"argv":   argvList,

		"resource_path": starlark.NewBuiltin("resource_path", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				name string
				def  starlark.Value
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
				return nil, err
			}
			p, err := loc.Resolve(name)
			if err != nil {
				if errors.Is(err, locator.ErrNotFound) && def != nil {
					return def, nil
				}
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			return starlark.String(p), nil
		}),

		"read_resource": starlark.NewBuiltin("read_resource", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			data, err := loc.ReadFile(name)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			return starlark.String(data), nil
		}),

		"app_dir": starlark.NewBuiltin("app_dir", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return starlark.String(loc.AppDir()), nil
		}),

		"is_packaged": starlark.NewBuiltin("is_packaged", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return starlark.Bool(loc.Packaged()), nil
		}),
	}
}
