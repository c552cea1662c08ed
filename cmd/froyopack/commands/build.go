package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyopack/pkg/archive"
	"github.com/openfroyo/froyopack/pkg/build"
	"github.com/openfroyo/froyopack/pkg/config"
	"github.com/openfroyo/froyopack/pkg/watch"
)

func newBuildCommand(e *env) *cobra.Command {
	var (
		clean    bool
		watching bool
		stub     string
		jobs     int
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build an executable from a configuration",
		Long: `Build the artifact described by the configuration file.

The build discovers every module the entry point imports, removes excluded
modules and anything reachable only through them, embeds the configured
resources and writes the artifact atomically. A failed build writes nothing.

With --watch the build reruns whenever a source file, resource, policy or the
configuration itself changes.`,
		Example: `  # Build with the default froyopack.cue
  froyopack build

  # Start from empty work and dist directories
  froyopack build -c app.yaml --clean

  # Rebuild on every change
  froyopack build --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, closeStore, err := e.builder(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			opts := build.Options{
				ConfigPath: e.configPath(),
				Clean:      clean,
				Stub:       stub,
				Jobs:       jobs,
			}

			runOnce := func(ctx context.Context) error {
				var bar *progress
				if !quiet && !e.jsonOutput() && isTerminal(cmd.ErrOrStderr()) {
					bar = newProgress(cmd.ErrOrStderr(), "compressing")
				}
				opts.Progress = bar.archiveProgress()
				res, err := b.Build(ctx, opts)
				bar.finish()
				if err != nil {
					return err
				}
				return printBuild(cmd.OutOrStdout(), e.jsonOutput(), res)
			}

			if !watching {
				return runOnce(ctx)
			}

			if err := runOnce(ctx); err != nil {
				e.logger.Error().Err(err).Msg("build failed")
			}
			// Later builds must not wipe what the first one produced.
			opts.Clean = false
			return watchBuild(ctx, e, opts.ConfigPath, func(ctx context.Context, changed []string) {
				e.logger.Info().Strs("changed", changed).Msg("rebuilding")
				if err := runOnce(ctx); err != nil {
					e.logger.Error().Err(err).Msg("build failed")
				}
			})
		},
	}

	cmd.Flags().BoolVar(&clean, "clean", false, "remove the work and dist directories first")
	cmd.Flags().BoolVarP(&watching, "watch", "w", false, "rebuild when inputs change")
	cmd.Flags().StringVar(&stub, "stub", "", "bootstrap stub binary (default: this executable)")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "parallel discovery workers (default: configuration, then one per CPU)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "hide the progress bar")

	return cmd
}

// watchBuild watches the source root, search paths, policies and resources
// of the configuration and calls onChange for every batch of changes.
func watchBuild(ctx context.Context, e *env, configPath string, onChange func(context.Context, []string)) error {
	w, err := watch.New(e.logger, watch.DefaultDelay)
	if err != nil {
		return err
	}
	defer w.Close()

	root, err := filepath.Abs(filepath.Dir(configPath))
	if err != nil {
		return err
	}
	paths := []string{root}
	var skip []string

	cfg, err := config.NewLoader().Load(configPath)
	if err != nil {
		e.logger.Warn().Err(err).Msg("watching the configuration directory only")
	} else {
		paths = append(paths, cfg.Paths...)
		paths = append(paths, cfg.Policies...)
		for _, r := range cfg.Resources {
			paths = append(paths, r.Source)
		}
		skip = append(skip, cfg.DistDir, cfg.WorkDir)
	}

	w.Skip = func(dir string) bool {
		if strings.HasPrefix(filepath.Base(dir), ".") && dir != root {
			return true
		}
		for _, s := range skip {
			if dir == s {
				return true
			}
		}
		return false
	}
	w.Match = func(path string) bool {
		for _, s := range skip {
			if strings.HasPrefix(path, s+string(filepath.Separator)) {
				return false
			}
		}
		return !strings.HasPrefix(filepath.Base(path), ".")
	}

	for _, p := range paths {
		if err := w.Add(p); err != nil {
			e.logger.Warn().Err(err).Str("path", p).Msg("not watched")
		}
	}

	e.logger.Info().Str("root", root).Msg("watching for changes")
	return w.Run(ctx, onChange)
}

func printBuild(w io.Writer, asJSON bool, res *build.Result) error {
	if asJSON {
		return printJSON(w, res.Record)
	}

	rec := res.Record
	fmt.Fprintf(w, "Built %s\n", rec.ArtifactPath)
	fmt.Fprintf(w, "  modules:  %d (%d excluded)\n", rec.Modules, rec.Excluded)
	fmt.Fprintf(w, "  size:     %d bytes\n", rec.ArtifactSize)
	fmt.Fprintf(w, "  digest:   %s\n", rec.IndexDigest)
	if res.Unchanged {
		fmt.Fprintln(w, "  inputs unchanged since the previous build")
	}
	if len(rec.Warnings) > 0 {
		fmt.Fprintf(w, "  warnings: %d\n", len(rec.Warnings))
		for _, warning := range rec.Warnings {
			fmt.Fprintf(w, "    - %s\n", warning.Error())
		}
	}
	if res.ReportPath != "" {
		fmt.Fprintf(w, "  report:   %s\n", res.ReportPath)
	}
	return nil
}

// progress draws a progress bar once the total is known. Updates may come
// from several goroutines.
type progress struct {
	out   io.Writer
	label string

	once sync.Once
	bar  *progressbar.ProgressBar
}

func newProgress(out io.Writer, label string) *progress {
	return &progress{out: out, label: label}
}

func (p *progress) update(done, total int) {
	p.once.Do(func() {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription(p.label),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	})
	_ = p.bar.Set(done)
}

// archiveProgress adapts the bar to archive callbacks.
func (p *progress) archiveProgress() archive.ProgressFunc {
	if p == nil {
		return nil
	}
	return p.update
}

func (p *progress) finish() {
	if p == nil || p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}

// isTerminal reports whether w is a character device.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
