package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brensch/batchfetch/internal/inspector"
)

var inspectDir string

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarise the Parquet run reports using DuckDB",
	Long: `Reads every <pipeline>_<runid>.parquet report in the report directory
(--dir, default --report-dir) with DuckDB and prints per-pipeline totals and
the report schema.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := inspectDir
		if dir == "" {
			dir = getConfig().ReportDir
		}
		if dir == "" {
			return errors.New("no report directory, set --dir or --report-dir")
		}
		if err := inspector.InspectReports(cmd.Context(), dir, cmd.OutOrStdout(), getLogger()); err != nil {
			return fmt.Errorf("inspection failed: %w", err)
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectDir, "dir", "", "Report directory (default is --report-dir)")
}
