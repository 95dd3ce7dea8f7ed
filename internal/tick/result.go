package tick

import (
	"time"

	"photoner/internal/coordinator"
	"photoner/internal/engine"
	"photoner/internal/records"
	"photoner/internal/schedule"
)

// SkipAlreadyRunning is recorded when another tick holds the lease.
const SkipAlreadyRunning = "already_running"

// SkipEmptyBacklog is recorded when the chosen phase found nothing to do.
const SkipEmptyBacklog = "empty_backlog"

// Result describes one tick. Exactly one of SkipReason or Report is set
// unless Err is non-nil.
type Result struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Decision   schedule.Decision
	Depths     map[records.Population]int
	SkipReason string
	// Holder is the lease owner when SkipReason is SkipAlreadyRunning.
	Holder *coordinator.Token
	// Recovered is set when this tick took over a lease left by a crashed run.
	Recovered    *coordinator.Token
	Report       *engine.BatchReport
	Anomalies    int
	TempsRemoved int
	Err          error
}

// Skipped reports whether the tick ended without dispatching a batch.
func (r Result) Skipped() bool { return r.SkipReason != "" }

// Duration returns the wall time of the tick.
func (r Result) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r Result) history() records.TickRecord {
	rec := records.TickRecord{
		RunID:      r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Phase:      string(r.Decision.Phase),
		Population: r.Decision.Profile.Population,
		SkipReason: r.SkipReason,
	}
	if rec.Phase == "" {
		rec.Phase = string(schedule.Idle)
	}
	if r.Report != nil {
		rec.BatchSize = r.Report.Planned
		rec.Success = r.Report.Success
		rec.Failed = r.Report.Failed
		rec.Skipped = r.Report.Skipped
		rec.Untouched = r.Report.Untouched
		rec.AbortReason = r.Report.AbortReason
		rec.StoppedEarly = r.Report.StoppedEarly
	}
	if r.Err != nil {
		rec.ErrorMessage = r.Err.Error()
	}
	return rec
}
