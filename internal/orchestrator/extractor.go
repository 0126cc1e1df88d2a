package orchestrator

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/brensch/batchfetch/internal/config"
	"github.com/brensch/batchfetch/internal/db"
	"github.com/brensch/batchfetch/internal/extractor"
)

// ExtractPhase unpacks every archive found directly in cfg.SourceDir() into
// its own subdirectory of cfg.ExtractDestDir. A missing source directory is
// returned as extractor.ErrSourceDirNotFound before any work starts.
func ExtractPhase(ctx context.Context, cfg config.Config, dbConn *sql.DB, logger *slog.Logger, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	archives, err := extractor.Discover(cfg.SourceDir())
	if err != nil {
		logger.Error("Archive discovery failed.", slog.String("source", cfg.SourceDir()), "error", err)
		return nil, err
	}

	x := extractor.New(extractor.Options{
		DestDir:     cfg.ExtractDestDir,
		DeleteAfter: cfg.DeleteAfterExtract,
		Retry:       retryPolicy(cfg),
	}, logger.With(slog.String("component", "extractor")))

	logger.Info("Starting extraction phase.",
		slog.Int("archives", len(archives)),
		slog.Int("concurrency", cfg.ExtractConcurrency),
		slog.String("source", cfg.SourceDir()),
		slog.String("dest", cfg.ExtractDestDir),
		slog.Bool("delete_after", cfg.DeleteAfterExtract))
	return runPipeline(ctx, cfg, dbConn, logger, opts, db.PipelineExtract, cfg.ExtractConcurrency, archives, x.Extract), nil
}
