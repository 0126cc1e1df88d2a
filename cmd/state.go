package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brensch/batchfetch/internal/db"
	"github.com/brensch/batchfetch/internal/util"
)

var (
	stateLimit       int
	stateFilterEvent string
	stateRunID       string
	stateShowRuns    bool
)

var errNoLedger = errors.New("no ledger configured, set --db-path")

// stateCmd prints the event ledger.
var stateCmd = &cobra.Command{
	Use:   "state [download|extract]",
	Short: "View the outcome history recorded in the ledger",
	Long: `Queries the DuckDB event ledger and displays recorded outcomes, newest first.
Specify 'download' or 'extract' to filter by pipeline. Use --runs to show
per-run totals instead of individual rows.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		conn := getDB()
		if conn == nil {
			return errNoLedger
		}
		w := cmd.OutOrStdout()

		if stateShowRuns {
			runs, err := db.RecentRuns(cmd.Context(), conn, logger, stateLimit)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%-36s %-9s %-20s %7s %7s %7s %7s %10s %7s\n",
				"Run", "Pipeline", "Started", "Total", "OK", "Skipped", "Failed", "Size", "Files")
			fmt.Fprintln(w, strings.Repeat("-", 120))
			for _, r := range runs {
				fmt.Fprintf(w, "%-36s %-9s %-20s %7d %7d %7d %7d %10s %7d\n",
					r.RunID, r.Pipeline, r.StartedAt.Format("2006-01-02 15:04:05"),
					r.Total, r.Succeeded, r.Skipped, r.Failed, util.FormatBytes(r.TotalBytes), r.TotalFiles)
			}
			return nil
		}

		filter := db.HistoryFilter{Event: stateFilterEvent, RunID: stateRunID, Limit: stateLimit}
		if len(args) > 0 {
			switch p := strings.ToLower(args[0]); p {
			case db.PipelineDownload, db.PipelineExtract:
				filter.Pipeline = p
			default:
				return fmt.Errorf("invalid pipeline filter: %s (use 'download' or 'extract')", args[0])
			}
		}

		logger.Debug("Querying database event log.", "pipeline", filter.Pipeline, "event", filter.Event, "limit", filter.Limit)
		if err := db.DisplayHistory(cmd.Context(), conn, w, filter); err != nil {
			logger.Error("Failed to display state history.", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	stateCmd.Flags().IntVarP(&stateLimit, "limit", "n", 50, "Limit the number of records displayed")
	stateCmd.Flags().StringVarP(&stateFilterEvent, "event", "e", "", "Filter records by event (success, skip, failure)")
	stateCmd.Flags().StringVar(&stateRunID, "run", "", "Only show records of this run ID")
	stateCmd.Flags().BoolVar(&stateShowRuns, "runs", false, "Show totals per run instead of individual records")
}
