package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/brensch/batchfetch/internal/orchestrator"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Run only the download phase",
	Long: `Downloads every --url, plus the links discovered on --feed-url pages, into
--download-dir. Files whose size already matches the server's Content-Length
are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		return runWorkflow(cmd, "batchfetch download", func(ctx context.Context, obs orchestrator.Observer) ([]*orchestrator.Result, error) {
			return single(orchestrator.DownloadPhase(ctx, cfg, getDB(), getLogger(), orchestrator.Options{Observer: obs}))
		})
	},
}
