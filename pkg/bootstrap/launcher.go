// Package bootstrap starts a packaged program from its own executable.
//
// A Launcher moves through three states. Start (Cold to Ready) validates the
// artifact and prepares the bundle root; Run hands control to the runner
// for the program kind; Close (Ready to Exited) removes anything Start
// created. Launch failures happen before any program code runs, and cleanup
// failures never change the program's exit code.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyopack/pkg/analyzers"
	"github.com/openfroyo/froyopack/pkg/archive"
	"github.com/openfroyo/froyopack/pkg/engine"
	"github.com/openfroyo/froyopack/pkg/locator"
	"github.com/openfroyo/froyopack/pkg/resources"
	"github.com/openfroyo/froyopack/pkg/runner"
)

// State is the lifecycle state of a Launcher.
type State int

const (
	StateCold State = iota
	StateReady
	StateExited
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCold:
		return "cold"
	case StateReady:
		return "ready"
	case StateExited:
		return "exited"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Runtime strategies recorded in the index.
const (
	StrategyExtract = "extract"
	StrategyMemory  = "memory"
)

// ExitLaunchFailure is returned when the artifact cannot be started.
const ExitLaunchFailure = 125

// Options configures a Launcher.
type Options struct {
	// Executable is the artifact to launch. Defaults to the running executable.
	Executable string

	// TempDir is the parent of the extraction directory. Defaults to os.TempDir().
	TempDir string

	// Args are passed to the program.
	Args []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Logger zerolog.Logger

	// NewRunner selects the runner for a program kind. Defaults to runner.New.
	NewRunner func(kind string, logger zerolog.Logger) (runner.Runner, error)
}

// Launcher runs the program stored in an artifact.
type Launcher struct {
	opts   Options
	logger zerolog.Logger

	state      State
	reader     *archive.Reader
	extractDir string
	locator    *locator.Context
	runner     runner.Runner

	removeAll func(string) error
}

// NewLauncher creates a launcher in the Cold state.
func NewLauncher(opts Options) *Launcher {
	if opts.NewRunner == nil {
		opts.NewRunner = runner.New
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &Launcher{
		opts:      opts,
		logger:    opts.Logger.With().Str("component", "bootstrap").Logger(),
		state:     StateCold,
		removeAll: os.RemoveAll,
	}
}

// State returns the current state.
func (l *Launcher) State() State { return l.state }

// Locator returns the runtime resource context once the launcher is Ready.
func (l *Launcher) Locator() *locator.Context { return l.locator }

// Start validates the artifact and mounts its bundle (Cold to Ready).
// Errors leave the launcher Cold with nothing left on disk.
func (l *Launcher) Start(ctx context.Context) error {
	if l.state != StateCold {
		return engine.NewInternalError(fmt.Sprintf("cannot start a launcher in state %s", l.state), nil)
	}

	exe, err := l.executable()
	if err != nil {
		return err
	}
	appDir := filepath.Dir(exe)

	r, err := archive.Open(exe)
	if err != nil {
		return err
	}
	idx := r.Index()

	rn, err := l.opts.NewRunner(idx.Program, l.opts.Logger)
	if err != nil {
		_ = r.Close()
		return engine.NewCorruptArtifactError("artifact names an unknown program kind", err).WithPath(exe)
	}

	strategy := idx.Extract
	if strategy == StrategyMemory && rn.Kind() != analyzers.KindStarlark {
		l.logger.Warn().Str("program", idx.Program).Msg("program kind needs files on disk, extracting instead")
		strategy = StrategyExtract
	}

	var loc *locator.Context
	switch {
	case r.Footer().Directory():
		loc = locator.NewPackagedContext(r.InternalRoot(), appDir)
	case strategy == StrategyMemory:
		loc = locator.NewVirtualContext(r.FS(), appDir)
	default:
		dir, err := l.extract(ctx, r, idx.Name)
		if err != nil {
			_ = r.Close()
			return err
		}
		l.extractDir = dir
		loc = locator.NewPackagedContext(dir, appDir)
	}

	if icon, ok := embeddedIcon(r.Table()); ok {
		loc.WithIcon(icon)
	}

	if !r.Footer().Console() {
		detachConsole(l.logger)
	}

	l.reader = r
	l.locator = loc
	l.runner = rn
	l.state = StateReady

	l.logger.Debug().
		Str("artifact", exe).
		Str("program", idx.Program).
		Str("strategy", strategy).
		Str("root", loc.Root()).
		Int("entries", len(idx.Entries)).
		Msg("launcher ready")
	return nil
}

// Run executes the program and returns its exit code.
func (l *Launcher) Run(ctx context.Context) (int, error) {
	if l.state != StateReady {
		return 0, engine.NewInternalError(fmt.Sprintf("cannot run a launcher in state %s", l.state), nil)
	}
	idx := l.reader.Index()
	return l.runner.Run(ctx, &runner.Program{
		Entry:       idx.Entry,
		Args:        l.opts.Args,
		Locator:     l.locator,
		Interpreter: idx.Interpreter,
		Stdin:       l.opts.Stdin,
		Stdout:      l.opts.Stdout,
		Stderr:      l.opts.Stderr,
	})
}

// Close releases the artifact and removes the extraction directory
// (Ready to Exited). A removal failure is returned as a cleanup warning for
// the caller to log; it is never a reason to change the exit code.
func (l *Launcher) Close() error {
	if l.state != StateReady {
		l.state = StateExited
		return nil
	}
	l.state = StateExited

	var warning error
	if err := l.locator.Close(); err != nil {
		warning = engine.NewCleanupWarning("", err)
	}
	if err := l.reader.Close(); err != nil {
		l.logger.Debug().Err(err).Msg("failed to close artifact")
	}
	if l.extractDir != "" {
		if err := l.removeAll(l.extractDir); err != nil {
			warning = engine.NewCleanupWarning(l.extractDir, err)
		}
	}
	return warning
}

func (l *Launcher) executable() (string, error) {
	exe := l.opts.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return "", engine.NewCorruptArtifactError("cannot locate own executable", err)
		}
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return exe, nil
}

func (l *Launcher) extract(ctx context.Context, r *archive.Reader, name string) (string, error) {
	dir, err := os.MkdirTemp(l.opts.TempDir, "froyopack-"+name+"-*")
	if err != nil {
		return "", engine.NewInternalError("failed to create extraction directory", err)
	}
	if err := r.ExtractAll(ctx, dir, nil); err != nil {
		if rmErr := l.removeAll(dir); rmErr != nil {
			l.logger.Warn().Err(engine.NewCleanupWarning(dir, rmErr)).Msg("extraction cleanup failed")
		}
		return "", err
	}
	return dir, nil
}

// embeddedIcon returns the icon stored in the resource table: the group
// icon rebuilt as .ico, or the icns container.
func embeddedIcon(t *resources.Table) ([]byte, bool) {
	if ico, ok, err := resources.ReadIcon(t); err == nil && ok {
		return ico, true
	}
	if icns, ok := t.Find(resources.TypeICNS, 1); ok {
		return icns.Data, true
	}
	return nil, false
}

// Main launches the artifact described by opts and returns the process exit code.
func Main(ctx context.Context, opts Options) int {
	return NewLauncher(opts).Execute(ctx)
}

// Execute runs the full Cold to Exited cycle and returns the process exit
// code. Launch failures are reported on stderr before any program code runs.
func (l *Launcher) Execute(ctx context.Context) int {
	if err := l.Start(ctx); err != nil {
		name := filepath.Base(l.opts.Executable)
		if l.opts.Executable == "" {
			name = filepath.Base(os.Args[0])
		}
		if engine.IsCorrupt(err) {
			fmt.Fprintf(l.opts.Stderr, "%s: this program is damaged and cannot start (%v)\n", name, err)
		} else {
			fmt.Fprintf(l.opts.Stderr, "%s: cannot start: %v\n", name, err)
		}
		return ExitLaunchFailure
	}

	// Cleanup also runs when the program panics.
	defer func() {
		if warning := l.Close(); warning != nil {
			l.logger.Warn().Err(warning).Msg("extraction cleanup failed")
		}
	}()

	code, err := l.Run(ctx)
	if err != nil {
		fmt.Fprintf(l.opts.Stderr, "%v\n", err)
		code = ExitLaunchFailure
	}
	return code
}

// LogLevelEnv selects the bootstrap log level of a packaged program.
const LogLevelEnv = "FROYOPACK_LOG_LEVEL"

// NewLogger returns the bootstrap logger writing to w. Packaged programs own
// their output, so only warnings and errors are printed unless level names a
// lower level.
func NewLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).Level(lvl).With().Timestamp().Logger()
}
