package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/brensch/batchfetch/internal/config"
	"github.com/brensch/batchfetch/internal/db"
	"github.com/brensch/batchfetch/internal/downloader"
)

// ErrNoURLs is returned when neither URLs nor feed URLs are configured.
var ErrNoURLs = errors.New("no URLs configured")

// DownloadPhase downloads every configured URL, plus any discovered from
// feed pages, into cfg.DownloadDir.
func DownloadPhase(ctx context.Context, cfg config.Config, dbConn *sql.DB, logger *slog.Logger, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if len(cfg.URLs) == 0 && len(cfg.FeedURLs) == 0 {
		return nil, ErrNoURLs
	}

	urls, err := BuildWorklist(ctx, cfg, logger, opts)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory %s: %w", cfg.DownloadDir, err)
	}

	d := downloader.New(opts.Client, downloader.Options{
		DestDir:    cfg.DownloadDir,
		Timeout:    cfg.Timeout,
		Retry:      retryPolicy(cfg),
		UserAgent:  cfg.UserAgent,
		OnTransfer: opts.Observer.Transfer,
	}, logger.With(slog.String("component", "downloader")))

	logger.Info("Starting download phase.",
		slog.Int("urls", len(urls)),
		slog.Int("concurrency", cfg.DownloadConcurrency),
		slog.String("dest", cfg.DownloadDir))
	return runPipeline(ctx, cfg, dbConn, logger, opts, db.PipelineDownload, cfg.DownloadConcurrency, urls, d.Download), nil
}

// BuildWorklist returns the configured URLs followed by links discovered on
// the feed pages, without duplicates. Discovery failures are logged and only
// returned when nothing at all could be collected.
func BuildWorklist(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) ([]string, error) {
	seen := make(map[string]struct{}, len(cfg.URLs))
	urls := make([]string, 0, len(cfg.URLs))
	add := func(u string) {
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	for _, u := range cfg.URLs {
		add(u)
	}
	if len(cfg.FeedURLs) == 0 {
		return urls, nil
	}

	logger.Info("Discovering URLs from feeds...", slog.Int("feeds", len(cfg.FeedURLs)))
	discovered, discoveryErr := downloader.DiscoverURLs(ctx, opts.Client, cfg.FeedURLs, cfg.FeedSuffixes, cfg.UserAgent, logger)
	if ctx.Err() != nil {
		return nil, errors.Join(discoveryErr, ctx.Err())
	}
	for _, u := range discovered {
		add(u)
	}

	if discoveryErr != nil {
		if len(urls) == 0 {
			logger.Error("Discovery failed and no URLs are available.", "error", discoveryErr)
			return nil, fmt.Errorf("discover urls: %w", discoveryErr)
		}
		logger.Warn("Discovery completed with non-fatal errors. Proceeding.", "error", discoveryErr)
	}
	logger.Info("Worklist built.", slog.Int("direct", len(cfg.URLs)), slog.Int("discovered", len(discovered)), slog.Int("total", len(urls)))
	return urls, nil
}
