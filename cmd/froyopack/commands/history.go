package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand(e *env) *cobra.Command {
	var (
		limit int
		name  string
		prune int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List builds recorded in the build cache",
		Example: `  froyopack history --limit 5
  froyopack history --name inventory --prune 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("build history is off")
			}
			defer store.Close()

			if prune > 0 {
				if name == "" {
					return fmt.Errorf("--prune needs --name")
				}
				deleted, err := store.PruneBuilds(ctx, name, prune)
				if err != nil {
					return err
				}
				e.logger.Info().Str("name", name).Int64("deleted", deleted).Msg("history pruned")
			}

			builds, err := store.ListBuilds(ctx, name, limit)
			if err != nil {
				return err
			}
			if e.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), builds)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tSTARTED\tDURATION\tMODULES\tWARNINGS\tDIGEST")
			for _, b := range builds {
				digest := b.IndexDigest
				if len(digest) > 12 {
					digest = digest[:12]
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					shortID(b.ID), b.Name, b.Status,
					b.StartedAt.Local().Format(time.DateTime),
					b.Duration().Round(time.Millisecond),
					b.Modules, len(b.Warnings), digest)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of builds to list")
	cmd.Flags().StringVar(&name, "name", "", "only builds of this artifact")
	cmd.Flags().IntVar(&prune, "prune", 0, "keep only this many builds of --name")

	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
