package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyopack/pkg/engine"
)

type graphNode struct {
	Name         string            `json:"name"`
	Kind         engine.ModuleKind `json:"kind"`
	LogicalPath  string            `json:"logical_path,omitempty"`
	Unresolved   bool              `json:"unresolved,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
}

type graphOutput struct {
	Entry     string                  `json:"entry"`
	Modules   []graphNode             `json:"modules"`
	Exclusion *engine.ExclusionReport `json:"exclusion,omitempty"`
	Cycles    [][]string              `json:"cycles,omitempty"`
	Warnings  []*engine.PackError     `json:"warnings,omitempty"`
}

func newGraphCommand(e *env) *cobra.Command {
	var (
		dotFile   string
		noExclude bool
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the dependency graph of a program",
		Long: `Discover every module the entry point imports and print the graph.

By default the configured and policy exclusions are applied, so the output
lists exactly what a build would package.`,
		Example: `  # Modules a build would package
  froyopack graph

  # The full graph as Graphviz
  froyopack graph --no-exclude --dot graph.dot`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeStore, err := e.builder(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			check, err := b.Graph(cmd.Context(), e.configPath(), !noExclude)
			if err != nil {
				return err
			}

			g := check.Graph
			if check.Filtered != nil {
				g = check.Filtered
			}

			if dotFile != "" {
				if err := writeDOT(cmd.OutOrStdout(), dotFile, g); err != nil {
					return err
				}
				if dotFile == "-" {
					return nil
				}
			}

			out := graphOutput{Entry: g.Entry, Exclusion: check.Exclusion, Cycles: g.Cycles(), Warnings: check.Warnings}
			for _, n := range g.Nodes() {
				out.Modules = append(out.Modules, graphNode{
					Name:         n.Name,
					Kind:         n.Kind,
					LogicalPath:  n.LogicalPath,
					Unresolved:   n.Unresolved,
					Dependencies: g.Dependencies(n.Name),
				})
			}

			if e.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), out)
			}
			printGraph(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&dotFile, "dot", "", `write the graph in DOT format to this file ("-" for stdout)`)
	cmd.Flags().BoolVar(&noExclude, "no-exclude", false, "show the graph before exclusions")

	return cmd
}

func writeDOT(stdout io.Writer, path string, g *engine.ModuleGraph) error {
	if path == "-" {
		_, err := io.WriteString(stdout, g.ToDOT())
		return err
	}
	if err := os.WriteFile(path, []byte(g.ToDOT()), 0o644); err != nil {
		return fmt.Errorf("failed to write DOT file: %w", err)
	}
	return nil
}

func printGraph(w io.Writer, out graphOutput) {
	fmt.Fprintf(w, "entry: %s\n", out.Entry)
	for _, m := range out.Modules {
		marker := ""
		if m.Unresolved {
			marker = " (unresolved)"
		}
		fmt.Fprintf(w, "%s [%s]%s\n", m.Name, m.Kind, marker)
		for _, d := range m.Dependencies {
			fmt.Fprintf(w, "  -> %s\n", d)
		}
	}
	if out.Exclusion != nil && out.Exclusion.Removed() > 0 {
		fmt.Fprintf(w, "excluded: %s\n", strings.Join(out.Exclusion.Excluded, ", "))
		if len(out.Exclusion.Pruned) > 0 {
			fmt.Fprintf(w, "pruned:   %s\n", strings.Join(out.Exclusion.Pruned, ", "))
		}
	}
	for _, c := range out.Cycles {
		fmt.Fprintf(w, "cycle: %s\n", engine.FormatCycle(c))
	}
	for _, warning := range out.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning.Error())
	}
}
