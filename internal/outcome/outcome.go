package outcome

import (
	"errors"
	"time"
)

// Kind tags an Outcome as a success or a failure.
type Kind int

const (
	KindSuccess Kind = iota
	KindFailure
)

func (k Kind) String() string {
	if k == KindFailure {
		return "failure"
	}
	return "success"
}

// Outcome is the terminal result of processing one worklist item.
type Outcome struct {
	Kind       Kind
	Identifier string // file name for successes, URL or archive path for failures

	// Success fields.
	Skipped   bool  // a complete result already existed; no work was done
	SizeBytes int64 // bytes transferred or extracted
	FileCount int64 // extracted files; zero for downloads

	// Failure fields.
	ErrorMessage string

	Attempts int
	Duration time.Duration
}

// Succeeded returns a success outcome.
func Succeeded(identifier string, sizeBytes, fileCount int64) Outcome {
	return Outcome{Kind: KindSuccess, Identifier: identifier, SizeBytes: sizeBytes, FileCount: fileCount}
}

// Skipped returns a success outcome for an item whose result already existed.
func Skipped(identifier string) Outcome {
	return Outcome{Kind: KindSuccess, Identifier: identifier, Skipped: true}
}

// Failed returns a failure outcome carrying err's message.
func Failed(identifier string, err error) Outcome {
	if err == nil {
		err = errors.New("unknown error")
	}
	return Outcome{Kind: KindFailure, Identifier: identifier, ErrorMessage: err.Error()}
}

func (o Outcome) IsSuccess() bool { return o.Kind == KindSuccess }
func (o Outcome) IsFailure() bool { return o.Kind == KindFailure }

// Status is the ledger/report label: "success", "skipped" or "failure".
func (o Outcome) Status() string {
	if o.Kind == KindSuccess && o.Skipped {
		return "skipped"
	}
	return o.Kind.String()
}
