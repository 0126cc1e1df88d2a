package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/brensch/batchfetch/internal/orchestrator"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run only the extraction phase",
	Long: `Extracts every .tar, .tar.gz, .tgz and .gz file directly inside the source
directory (--extract-source-dir, default --download-dir). Each archive goes to
its own subdirectory of --extract-dest-dir named after the archive without its
extension. A missing source directory is an error.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		return runWorkflow(cmd, "batchfetch extract", func(ctx context.Context, obs orchestrator.Observer) ([]*orchestrator.Result, error) {
			return single(orchestrator.ExtractPhase(ctx, cfg, getDB(), getLogger(), orchestrator.Options{Observer: obs}))
		})
	},
}
