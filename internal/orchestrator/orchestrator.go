package orchestrator

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/brensch/batchfetch/internal/batch"
	"github.com/brensch/batchfetch/internal/config"
	"github.com/brensch/batchfetch/internal/db"
	"github.com/brensch/batchfetch/internal/downloader"
	"github.com/brensch/batchfetch/internal/outcome"
	"github.com/brensch/batchfetch/internal/report"
	"github.com/brensch/batchfetch/internal/retry"
)

// Observer receives pipeline progress. Transfer is called from worker
// goroutines; the other methods are called from the driving goroutine.
type Observer interface {
	PipelineStarted(pipeline string, total int)
	BatchDone(p batch.Progress, outcomes []outcome.Outcome)
	Transfer(t downloader.Transfer)
	PipelineFinished(pipeline string, s outcome.Summary)
}

type nopObserver struct{}

func (nopObserver) PipelineStarted(string, int) {}
func (nopObserver) BatchDone(batch.Progress, []outcome.Outcome) {}
func (nopObserver) Transfer(downloader.Transfer) {}
func (nopObserver) PipelineFinished(string, outcome.Summary) {}

// Options carries the collaborators of a run that are not configuration.
type Options struct {
	// RunID tags ledger rows and report files. Generated when empty.
	RunID string
	// Client is used for feed discovery and downloads. Nil uses the default.
	Client   *http.Client
	Observer Observer
}

func (o Options) withDefaults() Options {
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

// Result is what one pipeline run hands back to its caller.
type Result struct {
	Pipeline   string
	RunID      string
	Outcomes   []outcome.Outcome
	Summary    outcome.Summary
	ReportPath string // empty when reports are disabled or writing failed
}

// Failures counts failed items across results.
func Failures(results []*Result) int {
	n := 0
	for _, r := range results {
		if r != nil {
			n += r.Summary.Failed
		}
	}
	return n
}

func retryPolicy(cfg config.Config) retry.Policy {
	return retry.Policy{Attempts: cfg.RetryAttempts, Delay: cfg.RetryDelay}
}

// runPipeline drives op over items in batches, records every batch in the
// ledger when dbConn is set, and writes the optional report.
func runPipeline[T any](ctx context.Context, cfg config.Config, dbConn *sql.DB, logger *slog.Logger, opts Options,
	pipeline string, batchSize int, items []T, op batch.Op[T]) *Result {

	l := logger.With(slog.String("run_id", opts.RunID))
	opts.Observer.PipelineStarted(pipeline, len(items))

	start := time.Now()
	outcomes, _ := batch.Run(ctx, batch.Runner{
		Pipeline:  pipeline,
		BatchSize: batchSize,
		Logger:    l,
		OnBatch: func(p batch.Progress, out []outcome.Outcome) {
			if dbConn != nil {
				if err := db.LogOutcomes(ctx, dbConn, opts.RunID, pipeline, out); err != nil {
					l.Warn("Failed to record batch in ledger.", slog.Int("batch", p.Batch), "error", err)
				}
			}
			opts.Observer.BatchDone(p, out)
		},
	}, items, op)
	summary := outcome.Summarize(outcomes, start, time.Now())

	l.Info("Pipeline finished.",
		slog.String("pipeline", pipeline),
		slog.Int("total", summary.Total),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Int64("bytes", summary.TotalBytes),
		slog.Duration("duration", summary.Duration.Round(time.Millisecond)),
	)

	res := &Result{Pipeline: pipeline, RunID: opts.RunID, Outcomes: outcomes, Summary: summary}
	if cfg.ReportDir != "" {
		path, err := report.Write(cfg.ReportDir, opts.RunID, pipeline, outcomes)
		if err != nil {
			l.Warn("Failed to write report.", "error", err)
		} else {
			res.ReportPath = path
			l.Info("Report written.", slog.String("path", path))
		}
	}

	opts.Observer.PipelineFinished(pipeline, summary)
	return res
}
