// Package batch runs independent fallible operations over a worklist in
// fixed-size batches. Every item of a batch is dispatched concurrently and the
// next batch starts only after the whole batch has finished.
package batch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/batchfetch/internal/outcome"
)

// Op processes one item and always returns a terminal outcome. Errors are
// carried in the outcome, never returned.
type Op[T any] func(ctx context.Context, item T) outcome.Outcome

// Counters are the running totals of a single pipeline run. They are only
// written between batches by the goroutine driving Run.
type Counters struct {
	Completed int
	Failed    int
}

// Done is the number of items that reached a terminal outcome.
func (c Counters) Done() int { return c.Completed + c.Failed }

// Progress is emitted after every batch.
type Progress struct {
	Pipeline string
	Batch    int // 1-based
	Batches  int
	Done     int
	Total    int
	Failed   int
	Elapsed  time.Duration
}

// Runner configures a batched run.
type Runner struct {
	// Pipeline names the run in logs and progress events.
	Pipeline string
	// BatchSize is the concurrency ceiling. Values below 1 are treated as 1.
	BatchSize int
	Logger    *slog.Logger
	// OnBatch, if set, is called on the driving goroutine after each batch
	// with that batch's outcomes in input order.
	OnBatch func(p Progress, outcomes []outcome.Outcome)
}

// Partition splits items into contiguous slices of at most size elements.
func Partition[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end])
	}
	return batches
}

// Run applies op to every item and returns one outcome per item, positionally
// aligned with items.
func Run[T any](ctx context.Context, r Runner, items []T, op Op[T]) ([]outcome.Outcome, Counters) {
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With(slog.String("pipeline", r.Pipeline))

	var counters Counters
	if len(items) == 0 {
		logger.Info("Nothing to do.")
		return []outcome.Outcome{}, counters
	}

	batches := Partition(items, r.BatchSize)
	results := make([]outcome.Outcome, len(items))
	start := time.Now()

	logger.Info("Starting batched run.",
		slog.Int("items", len(items)),
		slog.Int("batch_size", len(batches[0])),
		slog.Int("batches", len(batches)),
	)

	offset := 0
	for i, b := range batches {
		out := results[offset : offset+len(b)]

		// Ops report failure through their outcome, never as an error, so
		// the group is only a barrier and Wait always returns nil.
		var g errgroup.Group
		for j, item := range b {
			g.Go(func() error {
				out[j] = op(ctx, item)
				return nil
			})
		}
		_ = g.Wait()

		for _, o := range out {
			if o.IsFailure() {
				counters.Failed++
			} else {
				counters.Completed++
			}
		}
		offset += len(b)

		p := Progress{
			Pipeline: r.Pipeline,
			Batch:    i + 1,
			Batches:  len(batches),
			Done:     counters.Done(),
			Total:    len(items),
			Failed:   counters.Failed,
			Elapsed:  time.Since(start),
		}
		logger.Info("Batch complete.",
			slog.Int("batch", p.Batch),
			slog.Int("batches", p.Batches),
			slog.Int("done", p.Done),
			slog.Int("total", p.Total),
			slog.Int("failed", p.Failed),
		)
		if r.OnBatch != nil {
			r.OnBatch(p, out)
		}
	}

	return results, counters
}
