package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyopack/pkg/config"
)

const scaffoldEntry = `# Entry point of the program.

def main():
    print("hello from %s")
    return 0
`

func newInitCommand(e *env) *cobra.Command {
	var (
		name  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Scaffold a build configuration and the build cache",
		Long: `Write a froyopack.cue and a starter main.star into a directory, and create
the build history database.

Existing files are kept unless --force is given.`,
		Example: `  # Initialize the current directory
  froyopack init

  # Initialize a new project
  froyopack init --name inventory ./inventory`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			abs, err := filepath.Abs(dir)
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(abs)
			}

			if err := os.MkdirAll(abs, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", abs, err)
			}

			files := []struct {
				name, content string
			}{
				{"froyopack.cue", strings.Replace(config.ScaffoldCUE, `name:  "app"`, fmt.Sprintf("name:  %q", name), 1)},
				{"main.star", fmt.Sprintf(scaffoldEntry, name)},
			}
			out := cmd.OutOrStdout()
			for _, f := range files {
				path := filepath.Join(abs, f.name)
				if _, err := os.Stat(path); err == nil && !force {
					fmt.Fprintf(out, "- Kept existing %s\n", path)
					continue
				} else if err != nil && !errors.Is(err, os.ErrNotExist) {
					return err
				}
				if err := os.WriteFile(path, []byte(f.content), 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", path, err)
				}
				fmt.Fprintf(out, "✓ Created %s\n", path)
			}

			store, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			if store != nil {
				_ = store.Close()
				fmt.Fprintf(out, "✓ Initialized build cache: %s\n", e.v.GetString("cache"))
			}

			fmt.Fprintf(out, "\nAdd a favicon.ico next to the configuration, then run:\n  froyopack build -c %s\n",
				filepath.Join(dir, "froyopack.cue"))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "artifact name (default: the directory name)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}
