package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyopack/pkg/config"
	"github.com/openfroyo/froyopack/pkg/publish"
	"github.com/openfroyo/froyopack/pkg/report"
)

func newPublishCommand(e *env) *cobra.Command {
	var withReport bool

	cmd := &cobra.Command{
		Use:   "publish [artifact]",
		Short: "Upload a built artifact over SFTP",
		Long: `Upload the artifact to the publish target of the configuration. Each file is
written under a temporary name, read back and compared by sha256, then renamed
into place.

Directory builds upload the whole artifact folder. The SSH password may also
come from FROYOPACK_PUBLISH_PASSWORD.`,
		Example: `  froyopack publish
  froyopack publish -c app.yaml dist/inventory`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader().Load(e.configPath())
			if err != nil {
				return err
			}
			target, err := publish.FromBuildConfig(cfg.Publish)
			if err != nil {
				return err
			}
			if pw := e.v.GetString("publish-password"); pw != "" && target.Password == "" {
				target.Password = pw
			}

			artifact := cfg.ArtifactPath()
			if len(args) > 0 {
				artifact = args[0]
			}
			paths := []string{artifact}
			if !cfg.Onefile && len(args) == 0 {
				paths = []string{filepath.Dir(artifact)}
			}
			if withReport {
				if _, err := os.Stat(report.Path(artifact)); err == nil {
					paths = append(paths, report.Path(artifact))
				}
			}
			for _, p := range paths {
				if _, err := os.Stat(p); err != nil {
					return fmt.Errorf("nothing to publish: %w", err)
				}
			}

			pub, err := publish.New(target, e.logger)
			if err != nil {
				return err
			}
			if !e.jsonOutput() && isTerminal(cmd.ErrOrStderr()) {
				bar := progressbar.DefaultBytes(-1, "uploading")
				defer func() { _ = bar.Finish() }()
				pub.Progress = bar
			}

			results, err := pub.Publish(cmd.Context(), paths...)
			if err != nil {
				return err
			}

			if e.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), results)
			}
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s:%s (%d bytes, sha256 %s)\n",
					r.LocalPath, target.Address(), r.RemotePath, r.Bytes, r.Checksum)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withReport, "with-report", true, "also upload the build report")

	return cmd
}
