package outcome

import "time"

// Failure pairs a failed identifier with its final error message.
type Failure struct {
	Identifier   string
	ErrorMessage string
}

// Summary is the read-only reduction of a pipeline's outcome list.
type Summary struct {
	Total      int
	Succeeded  int // includes skipped items
	Failed     int
	Skipped    int
	TotalBytes int64
	TotalFiles int64
	Duration   time.Duration
	Failures   []Failure
}

// DurationSeconds is the elapsed wall-clock time in seconds.
func (s Summary) DurationSeconds() float64 {
	return s.Duration.Seconds()
}

// OK reports whether the run had no failures.
func (s Summary) OK() bool {
	return s.Failed == 0
}

// Summarize reduces outcomes into a Summary. Byte and file totals only count
// successes; failures are listed in input order.
func Summarize(outcomes []Outcome, start, end time.Time) Summary {
	s := Summary{
		Total:    len(outcomes),
		Duration: end.Sub(start),
		Failures: []Failure{},
	}
	for _, o := range outcomes {
		if o.IsFailure() {
			s.Failed++
			s.Failures = append(s.Failures, Failure{Identifier: o.Identifier, ErrorMessage: o.ErrorMessage})
			continue
		}
		s.Succeeded++
		if o.Skipped {
			s.Skipped++
		}
		s.TotalBytes += o.SizeBytes
		s.TotalFiles += o.FileCount
	}
	return s
}
