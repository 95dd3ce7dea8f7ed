// Package schedule decides, for a point in time, whether a tick may process
// files and which population it should drain.
//
// Decide is a pure function of the clock, the calendar built from
// configuration, and a snapshot of queue depths and host load. It never
// touches the filesystem or the record store.
package schedule

import (
	"time"

	"photoner/internal/batch"
	"photoner/internal/records"
)

// Phase is the operating decision for one tick.
type Phase string

const (
	ArchiveProcessing Phase = "archive_processing"
	CurrentCatchup    Phase = "current_catchup"
	CurrentPeriodic   Phase = "current_periodic"
	Idle              Phase = "idle"
)

// Idle reasons.
const (
	ReasonSyncWindow     = "sync_window"
	ReasonSystemBusy     = "system_busy"
	ReasonOutsideWindows = "outside_windows"
)

// Profile is the resource envelope of a non-idle phase.
type Profile struct {
	Phase      Phase
	Population records.Population
	Order      batch.Order
	BatchSize  int
	Threads    int
	MaxRuntime time.Duration
}

// Budget converts the profile into the engine's resource budget.
func (p Profile) Budget() batch.Budget {
	return batch.Budget{Threads: p.Threads, TimeBudget: p.MaxRuntime}
}

// Decision is the outcome of Decide.
type Decision struct {
	Phase   Phase
	Profile Profile
	// Reason explains an Idle decision.
	Reason string
	// Detail names the window that produced the decision, for logs.
	Detail string
	At     time.Time
}

// Idle reports whether the decision forbids processing.
func (d Decision) Idle() bool { return d.Phase == Idle }

// State is the snapshot the scheduler decides on.
type State struct {
	Depth       map[records.Population]int
	LoadAverage float64
}
