package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/brensch/deccp/internal/report"
)

// errorsCmd prints a diagnostic file written by an earlier run.
var errorsCmd = &cobra.Command{
	Use:   "errors [out-dir]",
	Short: "Print the decompile errors recorded by the last run",
	Long: `Reads <out-dir>/` + report.ErrorsFileName + ` and prints one line per failed entry,
sorted by entry name. out-dir defaults to the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		path := filepath.Join(dir, report.ErrorsFileName)
		errs, err := report.Load(path)
		if os.IsNotExist(err) {
			fmt.Fprintf(cmd.OutOrStdout(), "No decompile errors recorded in %s.\n", dir)
			return nil
		}
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, name := range report.Names(errs) {
			fmt.Fprintf(w, "%s: %s\n", name, errs[name])
		}
		fmt.Fprintf(w, "%d failed entries.\n", len(errs))
		return nil
	},
}
