package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyopack/pkg/archive"
)

func newExtractCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <artifact> <dir>",
		Short: "Unpack an artifact without running it",
		Long: `Write every payload entry of an artifact below a directory. Each entry is
checked against its digest as it is written.`,
		Example: `  froyopack extract dist/inventory ./unpacked`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := archive.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			dir := args[1]
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}

			var bar *progress
			if !e.jsonOutput() && isTerminal(cmd.ErrOrStderr()) {
				bar = newProgress(cmd.ErrOrStderr(), "extracting")
			}
			err = r.ExtractAll(cmd.Context(), dir, bar.archiveProgress())
			bar.finish()
			if err != nil {
				return err
			}

			e.logger.Info().Str("dir", dir).Int("entries", len(r.Index().Entries)).Msg("artifact extracted")
			if e.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), map[string]any{"dir": dir, "entries": len(r.Index().Entries)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Extracted %d entries to %s\n", len(r.Index().Entries), dir)
			return nil
		},
	}
	return cmd
}
