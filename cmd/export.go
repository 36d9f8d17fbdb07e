package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/brensch/deccp/internal/db"
	"github.com/brensch/deccp/internal/export"
)

// exportCmd saves the event log to a Parquet file.
var exportCmd = &cobra.Command{
	Use:   "export <file.parquet>",
	Short: "Saves the DuckDB event log to a Parquet file",
	Long: `Reads every record of the event log in the DuckDB database given by --db-path
and writes them to a snappy-compressed Parquet file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		conn, err := requireDB()
		if err != nil {
			return err
		}

		events, err := db.ListEvents(cmd.Context(), conn, db.EventFilter{})
		if err != nil {
			return err
		}
		logger.Info("Starting event log export...", slog.String("path", args[0]), slog.Int("events", len(events)))
		if err := export.EventsToParquet(events, args[0], logger); err != nil {
			logger.Error("Export completed with errors", "error", err)
			return fmt.Errorf("export failed: %w", err)
		}
		return nil
	},
}
