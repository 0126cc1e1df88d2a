package app

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/brensch/batchfetch/internal/batch"
	"github.com/brensch/batchfetch/internal/downloader"
	"github.com/brensch/batchfetch/internal/orchestrator"
	"github.com/brensch/batchfetch/internal/outcome"
)

// Observer turns pipeline events into UI messages. send must be safe for
// concurrent use; (*tea.Program).Send is.
type Observer struct {
	send func(tea.Msg)
}

var _ orchestrator.Observer = (*Observer)(nil)

func NewObserver(send func(tea.Msg)) *Observer {
	return &Observer{send: send}
}

func (o *Observer) PipelineStarted(pipeline string, total int) {
	o.send(NewProgress(pipeline, 0, int64(total), "starting"))
}

func (o *Observer) BatchDone(p batch.Progress, outcomes []outcome.Outcome) {
	o.send(NewProgress(p.Pipeline, int64(p.Done), int64(p.Total),
		fmt.Sprintf("batch %d/%d, %d failed", p.Batch, p.Batches, p.Failed)))
	for _, oc := range outcomes {
		status := "Complete"
		switch {
		case oc.IsFailure():
			status = "Error"
		case oc.Skipped:
			status = "Skipped"
		}
		o.send(NewFileProgress(oc.Identifier, oc.Identifier, status, oc.SizeBytes, oc.SizeBytes, oc.Duration, oc.ErrorMessage))
	}
}

func (o *Observer) Transfer(t downloader.Transfer) {
	status := "Downloading"
	if t.Done {
		status = "Complete"
	}
	o.send(NewFileProgress(t.FileName, t.FileName, status, t.Written, t.Total, 0, ""))
}

func (o *Observer) PipelineFinished(pipeline string, s outcome.Summary) {
	o.send(PipelineDoneMsg{Pipeline: pipeline, Summary: s})
}
