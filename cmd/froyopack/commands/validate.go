package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyopack/pkg/build"
	"github.com/openfroyo/froyopack/pkg/config"
	"github.com/openfroyo/froyopack/pkg/policy"
)

type validateOutput struct {
	Valid    bool           `json:"valid"`
	Error    string         `json:"error,omitempty"`
	Modules  int            `json:"modules"`
	Excluded int            `json:"excluded"`
	Policy   *policy.Result `json:"policy,omitempty"`
}

func newValidateCommand(e *env) *cobra.Command {
	var watching bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration, its policies and resources",
		Long: `Validate the configuration without writing anything.

This command checks:
  - configuration syntax and schema
  - the dependency graph and exclusions
  - policy compliance (OPA/rego)
  - that every resource exists and the icon encodes

With --watch the policies are reloaded and the checks rerun whenever a policy
file changes.`,
		Example: `  # Validate the default configuration
  froyopack validate

  # Iterate on policies
  froyopack validate -c app.yaml --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b := build.NewBuilder(e.tel, nil)

			err := validateOnce(ctx, cmd.OutOrStdout(), e.jsonOutput(), b, e.configPath())
			if !watching {
				return err
			}

			cfg, cfgErr := config.NewLoader().Load(e.configPath())
			if cfgErr != nil {
				return cfgErr
			}
			if len(cfg.Policies) == 0 {
				return fmt.Errorf("--watch needs policies in the configuration")
			}

			e.logger.Info().Strs("policies", cfg.Policies).Msg("watching policies")
			return policy.NewLoader(e.logger).Watch(ctx, cfg.Policies, func(policies []policy.Policy) error {
				e.logger.Info().Int("policies", len(policies)).Msg("policies changed")
				if err := validateOnce(ctx, cmd.OutOrStdout(), e.jsonOutput(), b, e.configPath()); err != nil {
					e.logger.Error().Err(err).Msg("validation failed")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&watching, "watch", "w", false, "rerun when policies change")

	return cmd
}

func validateOnce(ctx context.Context, w io.Writer, asJSON bool, b *build.Builder, configPath string) error {
	check, err := b.Validate(ctx, configPath)

	out := validateOutput{Valid: err == nil}
	if err != nil {
		out.Error = err.Error()
	}
	if check != nil {
		out.Policy = check.Policy
		if check.Filtered != nil {
			out.Modules = check.Filtered.Len()
		}
		if check.Exclusion != nil {
			out.Excluded = check.Exclusion.Removed()
		}
	}

	if asJSON {
		if perr := printJSON(w, out); perr != nil {
			return perr
		}
		return err
	}

	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s is valid: %d modules, %d excluded\n", configPath, out.Modules, out.Excluded)
	if out.Policy != nil {
		for _, v := range out.Policy.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", v.String())
		}
	}
	return nil
}
