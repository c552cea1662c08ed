package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openfroyo/froyopack/pkg/build"
	"github.com/openfroyo/froyopack/pkg/stores"
	"github.com/openfroyo/froyopack/pkg/telemetry"
)

// cacheOff disables the build history.
const cacheOff = "off"

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// env is the state shared by every command of one invocation.
type env struct {
	v       *viper.Viper
	tel     *telemetry.Telemetry
	logger  zerolog.Logger
	version string
}

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd, e := newRootCommand(version, commit, buildDate)
	defer e.shutdown()
	return rootCmd.ExecuteContext(ctx)
}

// newRootCommand returns the command tree and the env it shares. The caller
// shuts the env down once the command has finished, whatever its outcome.
func newRootCommand(version, commit, buildDate string) (*cobra.Command, *env) {
	e := &env{v: viper.New(), version: version, logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "froyopack",
		Short: "froyopack - package programs into self-contained executables",
		Long: `froyopack turns a Starlark or Python program, its imported modules and its
resources into one executable (or a folder) that runs without the source tree.

A build walks the program's imports, prunes excluded modules, embeds the icon
and bundled data, compresses everything into a payload and appends it to a
bootstrap stub. At launch the stub verifies the payload, exposes it to the
program and cleans up after it.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.setup(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "froyopack.cue", "build configuration file")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.Bool("json", false, "print results as JSON")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.String("cache", defaultCachePath(), `build history database ("off" disables history)`)
	flags.String("metrics-file", "", "write Prometheus metrics to this file on exit")
	flags.String("trace", "none", "trace exporter (none, stdout, otlp)")
	flags.String("trace-endpoint", "localhost:4317", "OTLP gRPC collector address")
	_ = e.v.BindPFlags(flags)

	e.v.SetEnvPrefix("FROYOPACK")
	e.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	e.v.AutomaticEnv()

	rootCmd.AddCommand(newBuildCommand(e))
	rootCmd.AddCommand(newGraphCommand(e))
	rootCmd.AddCommand(newValidateCommand(e))
	rootCmd.AddCommand(newInspectCommand(e))
	rootCmd.AddCommand(newExtractCommand(e))
	rootCmd.AddCommand(newRunCommand(e))
	rootCmd.AddCommand(newInitCommand(e))
	rootCmd.AddCommand(newHistoryCommand(e))
	rootCmd.AddCommand(newPublishCommand(e))

	return rootCmd, e
}

// setup builds telemetry from the resolved flags and environment.
func (e *env) setup(cmd *cobra.Command) error {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = e.version
	cfg.Logging.Level = e.v.GetString("log-level")
	if e.v.GetBool("verbose") {
		cfg.Logging.Level = "debug"
	}
	cfg.Logging.Output = cmd.ErrOrStderr()
	cfg.Tracing.Exporter = e.v.GetString("trace")
	cfg.Tracing.Endpoint = e.v.GetString("trace-endpoint")
	cfg.Tracing.Insecure = true
	cfg.Tracing.Output = cmd.ErrOrStderr()
	cfg.Metrics.File = e.v.GetString("metrics-file")

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return fmt.Errorf("invalid telemetry settings: %w", err)
	}
	e.tel = tel
	e.logger = tel.Logger
	log.Logger = tel.Logger
	return nil
}

func (e *env) shutdown() {
	if e.tel == nil {
		return
	}
	if err := e.tel.Shutdown(context.Background()); err != nil {
		e.logger.Warn().Err(err).Msg("telemetry shutdown failed")
	}
	e.tel = nil
}

func (e *env) configPath() string {
	return e.v.GetString("config")
}

func (e *env) jsonOutput() bool {
	return e.v.GetBool("json")
}

// openStore opens and migrates the build history, or returns nil when
// history is off.
func (e *env) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	path := e.v.GetString("cache")
	if path == "" || path == cacheOff {
		return nil, nil
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open build cache: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate build cache: %w", err)
	}
	return store, nil
}

// builder returns a builder recording into the cache, and a function that
// closes the cache.
func (e *env) builder(ctx context.Context) (*build.Builder, func(), error) {
	store, err := e.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return build.NewBuilder(e.tel, nil), func() {}, nil
	}
	return build.NewBuilder(e.tel, store), func() { _ = store.Close() }, nil
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return cacheOff
	}
	return filepath.Join(dir, "froyopack", "builds.db")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}
