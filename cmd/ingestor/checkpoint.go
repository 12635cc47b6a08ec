package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/septivank/station-observation-ingestor/tools/timeparser"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or move station cursors",
	Long: `Station cursors are the timestamp of the newest observation published for
a station. The ingestor resumes each station from its cursor, so moving a
cursor back replays observations and moving it forward skips them.`,
}

var checkpointGetCmd = &cobra.Command{
	Use:   "get STATION",
	Short: "Print the cursor of one station",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCheckpointStore(cmd.Context(), func(ctx context.Context, store checkpointStore) error {
			ts, found, err := store.TryGetLastCommitted(ctx, args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(cmd.OutOrStdout(), "%s has no checkpoint\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], ts.Format(time.RFC3339))
			return nil
		})
	},
}

var checkpointSetCmd = &cobra.Command{
	Use:   "set STATION TIMESTAMP",
	Short: "Move the cursor of one station",
	Example: `  ingestor checkpoint set KSEA 2024-05-01T12:00:00Z
  ingestor checkpoint set KSEA 2024-05-01T05:00:00-07:00`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ts, err := timeparser.ParseObservationTimestamp(args[1])
		if err != nil {
			return err
		}

		return withCheckpointStore(cmd.Context(), func(ctx context.Context, store checkpointStore) error {
			if err := store.SetLastCommitted(ctx, args[0], ts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], ts.Format(time.RFC3339))
			return nil
		})
	},
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every stored cursor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCheckpointStore(cmd.Context(), func(ctx context.Context, store checkpointStore) error {
			rows, err := store.List(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STATION\tLAST COMMITTED\tUPDATED")
			for _, row := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\n",
					row.StationKey,
					row.LastCommittedAt.Format(time.RFC3339),
					row.UpdatedAt.Format(time.RFC3339),
				)
			}
			return w.Flush()
		})
	},
}

func init() {
	checkpointCmd.AddCommand(checkpointGetCmd, checkpointSetCmd, checkpointListCmd)
}

func withCheckpointStore(ctx context.Context, fn func(ctx context.Context, store checkpointStore) error) error {
	var store checkpointStore
	return runOneShot(ctx,
		func(ctx context.Context) error { return fn(ctx, store) },
		fx.Provide(ProvideConfig, newLogger, ProvideCheckpointStore),
		fx.Populate(&store),
	)
}
