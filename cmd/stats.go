package cmd

import (
	"github.com/spf13/cobra"

	"github.com/brensch/deccp/internal/analyser"
)

var statsLimit int

// statsCmd represents the run statistics command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-run statistics from the event log",
	Long: `Aggregates the DuckDB event log per run (decompiled, failed and skipped entries
and the run duration) and lists the slowest decompiled entries.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := requireDB()
		if err != nil {
			return err
		}
		return analyser.RunAnalysis(cmd.Context(), conn, cmd.OutOrStdout(), statsLimit, getLogger())
	},
}

func init() {
	statsCmd.Flags().IntVarP(&statsLimit, "limit", "n", 20, "Limit the number of runs displayed")
}
