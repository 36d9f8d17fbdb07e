package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/deccp/internal/db"
)

var stateLimit int
var stateFilterEvent string
var stateFilterRun string

// stateCmd prints the event log history.
var stateCmd = &cobra.Command{
	Use:   "state [entry]",
	Short: "View the event log history for archive entries",
	Long: `Queries the DuckDB event log and displays the history of decompile runs.
Pass an archive entry name to see only its events. Use flags to filter by event type
(run_start, run_end, skip, decompile_end, error) or run id, and to limit the output.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		conn, err := requireDB()
		if err != nil {
			return err
		}
		filter := db.EventFilter{Event: stateFilterEvent, RunID: stateFilterRun, Limit: stateLimit}
		if len(args) > 0 {
			filter.Entry = args[0]
			latest, found, err := db.GetLatestEntryEvent(cmd.Context(), conn, filter.Entry)
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(cmd.OutOrStdout(), "No events recorded for %s.\n", filter.Entry)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Latest: %s at %s (run %s)\n",
				latest.Event, latest.Timestamp.UTC().Format(time.RFC3339), latest.RunID)
		}

		logger.Debug("Querying database event log", "entry_filter", filter.Entry, "event_filter", filter.Event, "limit", filter.Limit)
		if err := db.DisplayEntryHistory(cmd.Context(), cmd.OutOrStdout(), conn, filter); err != nil {
			logger.Error("Failed to display state history", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	stateCmd.Flags().IntVarP(&stateLimit, "limit", "n", 50, "Limit the number of log records displayed")
	stateCmd.Flags().StringVarP(&stateFilterEvent, "event", "e", "", "Filter records by event type (e.g., decompile_end, error, skip)")
	stateCmd.Flags().StringVar(&stateFilterRun, "run", "", "Filter records by run id")
}
