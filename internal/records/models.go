package records

import (
	"time"
)

// Population identifies which backlog a file belongs to.
type Population string

const (
	PopulationIncoming Population = "incoming"
	PopulationArchive  Population = "archive"
)

// Populations lists every population in drain-priority order for reporting.
var Populations = []Population{PopulationIncoming, PopulationArchive}

// Valid reports whether p is a known population.
func (p Population) Valid() bool {
	return p == PopulationIncoming || p == PopulationArchive
}

// Status represents the lifecycle of a processing record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Terminal reports whether s ends an attempt.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusSkipped
}

// Record is one row of the processing_records table.
type Record struct {
	ID               int64
	SourcePath       string
	PathKey          string
	Population       Population
	OutputPath       string
	Status           Status
	FailureReason    string
	FailureDetail    string
	OriginalSize     int64
	OutputSize       int64
	Duration         time.Duration
	AdjustmentsJSON  string
	MetadataWarning  string
	MovedToProcessed bool
	ProcessedPath    string
	Attempts         int
	Profile          string
	RunID            string
	CreatedAt        time.Time
	// UpdatedAt is set on every transition; a zero value on write means now.
	UpdatedAt time.Time
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Population Population
	Status     Status
	Since      time.Time
	Limit      int
}

// Stats aggregates processing outcomes.
type Stats struct {
	Total           int
	Success         int
	Failed          int
	Skipped         int
	Pending         int
	Moved           int
	OriginalBytes   int64
	OutputBytes     int64
	AverageDuration time.Duration
}

// SuccessRate returns the share of terminal records that succeeded, in percent.
func (s Stats) SuccessRate() float64 {
	finished := s.Success + s.Failed + s.Skipped
	if finished == 0 {
		return 0
	}
	return float64(s.Success) / float64(finished) * 100
}

// ErrorBucket groups failed records sharing a classified reason.
type ErrorBucket struct {
	Reason   string
	Count    int
	LastSeen time.Time
	Example  string
	Detail   string
}

// TickRecord is the persisted outcome of one tick.
type TickRecord struct {
	RunID        string
	StartedAt    time.Time
	FinishedAt   time.Time
	Phase        string
	Population   Population
	SkipReason   string
	BatchSize    int
	Success      int
	Failed       int
	Skipped      int
	Untouched    int
	AbortReason  string
	StoppedEarly bool
	ErrorMessage string
}

// Duration returns how long the tick ran.
func (t TickRecord) Duration() time.Duration {
	if t.FinishedAt.Before(t.StartedAt) {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// CleanupRecord documents a cleanup an operator performed from a manifest.
type CleanupRecord struct {
	ID           int64
	Population   Population
	ManifestPath string
	FilesDeleted int
	BytesFreed   int64
	Note         string
	RecordedAt   time.Time
}

// DatabaseHealth captures diagnostic information about the record database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	MissingTables    []string
	IntegrityCheck   bool
	TotalRecords     int
	Error            string
}
