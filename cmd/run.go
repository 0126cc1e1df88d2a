package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/brensch/batchfetch/internal/app"
	"github.com/brensch/batchfetch/internal/orchestrator"
)

var skipExtract bool

// runCmd represents the combined download and extract command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Download every URL, then extract the downloaded archives",
	Long: `Performs the complete workflow:
1. Builds the worklist from --url values and links found on --feed-url pages.
2. Downloads the worklist in batches of --download-concurrency, skipping files
   already complete on disk.
3. Unless --skip-extract is set, extracts every archive in the source directory
   (--extract-source-dir, default --download-dir) into its own subdirectory
   of --extract-dest-dir, in batches of --extract-concurrency.
A summary is printed per phase; the exit status is 1 when any item failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		if cmd.Flags().Changed("skip-extract") {
			cfg.SkipExtract = skipExtract
		}
		return runWorkflow(cmd, "batchfetch run", func(ctx context.Context, obs orchestrator.Observer) ([]*orchestrator.Result, error) {
			return orchestrator.RunCombinedWorkflow(ctx, cfg, getDB(), getLogger(), orchestrator.Options{Observer: obs})
		})
	},
}

func init() {
	runCmd.Flags().BoolVar(&skipExtract, "skip-extract", false, "Only run the download phase")
}

// runWorkflow runs task either behind the progress view or with plain
// summaries on stdout, and converts failed items into a FailuresError.
func runWorkflow(cmd *cobra.Command, title string, task app.Task) error {
	logger := getLogger()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		results []*orchestrator.Result
		err     error
	)
	if useTUI {
		results, err = app.Run(ctx, title, task, logger)
	} else {
		results, err = task(ctx, nil)
		printSummaries(cmd.OutOrStdout(), results)
	}
	if err != nil {
		return err
	}

	for _, r := range results {
		if r.ReportPath != "" {
			logger.Info("Report written.", slog.String("pipeline", r.Pipeline), slog.String("path", r.ReportPath))
		}
	}
	if n := orchestrator.Failures(results); n > 0 {
		return &FailuresError{Count: n}
	}
	return nil
}

func printSummaries(w io.Writer, results []*orchestrator.Result) {
	for _, r := range results {
		if r == nil {
			continue
		}
		fmt.Fprintln(w, app.RenderSummary(r.Pipeline, r.Summary))
	}
}

// single adapts a one-phase call to the workflow signature.
func single(r *orchestrator.Result, err error) ([]*orchestrator.Result, error) {
	if r == nil {
		return nil, err
	}
	return []*orchestrator.Result{r}, err
}
