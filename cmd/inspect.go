package cmd

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brensch/deccp/internal/db"
	"github.com/brensch/deccp/internal/inspector"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <file.parquet>...",
	Short: "Summarize event log Parquet files written by 'export'",
	Long: `Reads exported event log Parquet files with DuckDB and prints their schema,
row count, time range and the number of records per event type.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn := getDB()
		if conn == nil {
			// Any DuckDB instance can read Parquet files; fall back to an in-memory one.
			mem, err := db.Open(cmd.Context(), ":memory:")
			if err != nil {
				return err
			}
			defer mem.Close()
			conn = mem
		}
		if err := inspectFiles(cmd, conn, args); err != nil {
			return fmt.Errorf("inspection failed: %w", err)
		}
		return nil
	},
}

func inspectFiles(cmd *cobra.Command, conn *sql.DB, paths []string) error {
	return inspector.InspectParquet(cmd.Context(), conn, cmd.OutOrStdout(), paths, getLogger())
}
