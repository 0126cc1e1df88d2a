package app

import (
	"fmt"
	"time"

	"github.com/brensch/batchfetch/internal/orchestrator"
	"github.com/brensch/batchfetch/internal/outcome"
)

// --- Progress Messages ---

// ProgressMsg updates the overall progress bar.
type ProgressMsg struct {
	Tag      string // pipeline name
	Current  int64
	Total    int64
	Activity string
}

// FileProgressMsg updates the row of a single file.
type FileProgressMsg struct {
	FileID      string
	FileName    string
	Status      string // "Downloading", "Extracting", "Complete", "Skipped", "Error"
	Current     int64  // bytes so far
	Total       int64  // total bytes, if known
	ElapsedTime time.Duration
	ErrMsg      string
}

// PipelineDoneMsg carries the summary of a finished pipeline.
type PipelineDoneMsg struct {
	Pipeline string
	Summary  outcome.Summary
}

// TaskFinishedMsg signals that the whole workflow returned.
type TaskFinishedMsg struct {
	Results   []*orchestrator.Result
	Err       error
	StartTime time.Time
	EndTime   time.Time
}

func NewProgress(tag string, current, total int64, activity string) ProgressMsg {
	return ProgressMsg{Tag: tag, Current: current, Total: total, Activity: activity}
}

func NewFileProgress(fileID, fileName, status string, current, total int64, elapsed time.Duration, errMsg string) FileProgressMsg {
	return FileProgressMsg{
		FileID:      fileID,
		FileName:    fileName,
		Status:      status,
		Current:     current,
		Total:       total,
		ElapsedTime: elapsed,
		ErrMsg:      errMsg,
	}
}

func NewTaskFinished(start time.Time, results []*orchestrator.Result, err error) TaskFinishedMsg {
	return TaskFinishedMsg{
		Results:   results,
		Err:       err,
		StartTime: start,
		EndTime:   time.Now(),
	}
}

func (p ProgressMsg) String() string {
	return fmt.Sprintf("Progress %s: %d/%d", p.Tag, p.Current, p.Total)
}
func (fp FileProgressMsg) String() string {
	return fmt.Sprintf("FileProgress %s: %s", fp.FileID, fp.Status)
}
func (tf TaskFinishedMsg) String() string { return fmt.Sprintf("TaskFinished (%d results)", len(tf.Results)) }
