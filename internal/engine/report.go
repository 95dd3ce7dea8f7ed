package engine

import (
	"time"

	"photoner/internal/records"
)

// Abort reasons recorded when dispatch stops before the unit is exhausted.
const (
	AbortInsufficientSpace   = "insufficient_space"
	AbortSpaceCheckFailed    = "space_check_failed"
	AbortConsecutiveFailures = "consecutive_failures"
	AbortCanceled            = "canceled"
)

// ItemOutcome is the result of one dispatched file.
type ItemOutcome struct {
	Path            string
	Status          records.Status
	Reason          string
	Detail          string
	OutputPath      string
	ProcessedPath   string
	Moved           bool
	Attempts        int
	OriginalSize    int64
	OutputSize      int64
	Duration        time.Duration
	MetadataWarning string
}

// BatchReport summarizes one Run.
type BatchReport struct {
	Population   records.Population
	Planned      int
	Success      int
	Failed       int
	Skipped      int
	Untouched    int
	Items        []ItemOutcome
	StartedAt    time.Time
	Duration     time.Duration
	AbortReason  string
	AbortDetail  string
	// AbortErr is set for preflight aborts and matches failures.ErrPreflight.
	AbortErr     error
	StoppedEarly bool
	InputBytes   int64
	OutputBytes  int64
}

// Dispatched returns how many items were started.
func (r BatchReport) Dispatched() int {
	return r.Success + r.Failed + r.Skipped
}

// Aborted reports whether a phase-level condition stopped dispatch.
func (r BatchReport) Aborted() bool {
	return r.AbortReason != ""
}

func (r *BatchReport) add(o ItemOutcome) {
	r.Items = append(r.Items, o)
	switch o.Status {
	case records.StatusSuccess:
		r.Success++
		r.InputBytes += o.OriginalSize
		r.OutputBytes += o.OutputSize
	case records.StatusSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}
