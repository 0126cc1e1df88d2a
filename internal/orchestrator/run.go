package orchestrator

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/brensch/batchfetch/internal/config"
)

// RunCombinedWorkflow runs the download phase and then, unless
// cfg.SkipExtract is set, the extraction phase. Results of the phases that
// ran are returned even when a later phase fails structurally.
func RunCombinedWorkflow(ctx context.Context, cfg config.Config, dbConn *sql.DB, logger *slog.Logger, opts Options) ([]*Result, error) {
	opts = opts.withDefaults()
	logger.Info("Starting combined workflow.", slog.String("run_id", opts.RunID))

	var results []*Result
	dl, err := DownloadPhase(ctx, cfg, dbConn, logger, opts)
	if err != nil {
		return results, err
	}
	results = append(results, dl)

	if cfg.SkipExtract {
		logger.Info("Skipping extraction phase.")
		return results, nil
	}

	ex, err := ExtractPhase(ctx, cfg, dbConn, logger, opts)
	if err != nil {
		return results, err
	}
	results = append(results, ex)

	logger.Info("Combined workflow finished.", slog.Int("failures", Failures(results)))
	return results, nil
}
