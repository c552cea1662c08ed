package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyopack/pkg/archive"
	"github.com/openfroyo/froyopack/pkg/resources"
)

type resourceInfo struct {
	Type uint16 `json:"type"`
	Name string `json:"name"`
	ID   uint16 `json:"id"`
	Lang uint16 `json:"lang"`
	Size int    `json:"size"`
}

type inspectOutput struct {
	Path      string         `json:"path"`
	Digest    string         `json:"digest"`
	Footer    archive.Footer `json:"footer"`
	Index     *archive.Index `json:"index"`
	Resources []resourceInfo `json:"resources"`
	Verified  bool           `json:"verified"`
}

func newInspectCommand(e *env) *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "inspect <artifact>",
		Short: "Show the footer, payload index and resources of an artifact",
		Example: `  froyopack inspect dist/inventory
  froyopack inspect --verify --json dist/inventory`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := archive.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			if verify {
				if err := r.Verify(cmd.Context()); err != nil {
					return err
				}
			}

			out := inspectOutput{
				Path:     r.Path(),
				Digest:   r.Digest(),
				Footer:   *r.Footer(),
				Index:    r.Index(),
				Verified: verify,
			}
			if t := r.Table(); t != nil {
				for _, res := range t.Entries() {
					out.Resources = append(out.Resources, resourceInfo{
						Type: res.Type,
						Name: resourceTypeName(res.Type),
						ID:   res.ID,
						Lang: res.Lang,
						Size: len(res.Data),
					})
				}
			}

			if e.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), out)
			}
			printInspect(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "decompress every entry and check its digest")

	return cmd
}

func resourceTypeName(t uint16) string {
	switch t {
	case resources.TypeIcon:
		return "icon"
	case resources.TypeGroupIcon:
		return "group-icon"
	case resources.TypeICNS:
		return "icns"
	default:
		return fmt.Sprintf("type-%d", t)
	}
}

func printInspect(w io.Writer, out inspectOutput) {
	idx := out.Index
	fmt.Fprintf(w, "artifact:  %s\n", out.Path)
	fmt.Fprintf(w, "name:      %s (%s, %s layout)\n", idx.Name, idx.Program, idx.Layout)
	fmt.Fprintf(w, "entry:     %s\n", idx.Entry)
	fmt.Fprintf(w, "extract:   %s, console: %t\n", idx.Extract, idx.Console)
	fmt.Fprintf(w, "payload:   %d bytes at %d, index %d bytes\n", out.Footer.PayloadLength, out.Footer.PayloadOffset, out.Footer.IndexLength)
	fmt.Fprintf(w, "digest:    %s\n", out.Digest)
	if out.Verified {
		fmt.Fprintln(w, "verified:  every entry matches its digest")
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTRY\tKIND\tSIZE\tSTORED\tCOMPRESSION")
	for _, en := range idx.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", en.Name, en.Kind, en.Length, en.Size, en.Compression)
	}
	_ = tw.Flush()

	if len(out.Resources) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RESOURCE\tID\tLANG\tSIZE")
		for _, res := range out.Resources {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", res.Name, res.ID, res.Lang, res.Size)
		}
		_ = tw.Flush()
	}
}
