package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyopack/pkg/config"
	"github.com/openfroyo/froyopack/pkg/locator"
	"github.com/openfroyo/froyopack/pkg/runner"
)

func newRunCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [-- args...]",
		Short: "Run the program from its source tree",
		Long: `Run the configured program without packaging it. Resources resolve the same
way they do in a packaged build: configured resources first, then files under
the directory of the entry point.

The command exits with the program's exit code.`,
		Example: `  froyopack run
  froyopack run -c app.yaml -- --list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader().Load(e.configPath())
			if err != nil {
				return err
			}

			r, err := runner.New(cfg.Kind, e.logger)
			if err != nil {
				return err
			}

			root := filepath.Dir(cfg.Entry)
			loc := locator.NewSourceContext(root, cfg.SourceResources())
			defer func() {
				if err := loc.Close(); err != nil {
					e.logger.Warn().Err(err).Msg("failed to clean up resource cache")
				}
			}()

			e.logger.Debug().Str("entry", cfg.Entry).Str("kind", cfg.Kind).Msg("running from source")
			code, err := r.Run(cmd.Context(), &runner.Program{
				Entry:       filepath.Base(cfg.Entry),
				Args:        args,
				Locator:     loc,
				Interpreter: cfg.Interpreter,
				SearchPaths: cfg.Paths,
				Stdin:       cmd.InOrStdin(),
				Stdout:      cmd.OutOrStdout(),
				Stderr:      cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			if code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}
	return cmd
}
