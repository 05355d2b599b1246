package jobs

import (
	"errors"
	"strings"
	"time"

	"scribe/internal/services"
)

// Status represents the lifecycle of a transcription job.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusProcessing     Status = "processing"
	StatusEnriching      Status = "enriching"
	StatusCompleted      Status = "completed"
	StatusFailedTimeout  Status = "failed_timeout"
	StatusFailedLaunch   Status = "failed_launch"
	StatusFailedEngine   Status = "failed_engine"
	StatusFailedInternal Status = "failed_internal"
	StatusFailedUnknown  Status = "failed_unknown"
)

var allStatuses = []Status{
	StatusQueued,
	StatusProcessing,
	StatusEnriching,
	StatusCompleted,
	StatusFailedTimeout,
	StatusFailedLaunch,
	StatusFailedEngine,
	StatusFailedInternal,
	StatusFailedUnknown,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusCompleted:      {},
	StatusFailedTimeout:  {},
	StatusFailedLaunch:   {},
	StatusFailedEngine:   {},
	StatusFailedInternal: {},
	StatusFailedUnknown:  {},
}

var failureStatuses = []Status{
	StatusFailedTimeout,
	StatusFailedLaunch,
	StatusFailedEngine,
	StatusFailedInternal,
	StatusFailedUnknown,
}

// ActiveStatuses are the in-flight states a worker holds a job in.
var ActiveStatuses = []Status{StatusProcessing, StatusEnriching}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// FailureStatuses returns the terminal failure statuses.
func FailureStatuses() []Status {
	cp := make([]Status, len(failureStatuses))
	copy(cp, failureStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether no further transitions are permitted from s.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// IsFailure reports whether s is a terminal failure state.
func (s Status) IsFailure() bool {
	return s.IsTerminal() && s != StatusCompleted
}

// FailureStatus maps an engine or worker error to the terminal status the
// worker should persist. Timeouts, launch refusals, and mid-run crashes are
// distinguished so callers can give actionable guidance.
func FailureStatus(err error) Status {
	switch {
	case errors.Is(err, services.ErrTimeout):
		return StatusFailedTimeout
	case errors.Is(err, services.ErrLaunch):
		return StatusFailedLaunch
	case errors.Is(err, services.ErrEngine):
		return StatusFailedEngine
	case errors.Is(err, services.ErrTransient), errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrNotFound):
		return StatusFailedInternal
	default:
		return StatusFailedUnknown
	}
}

// Job represents a transcription job persisted in SQLite.
type Job struct {
	ID              int64
	SessionID       string
	SourceFile      string
	Filename        string
	Model           string
	Language        string
	Status          Status
	ProgressPercent float64
	ProgressMessage string
	ErrorMessage    string
	TranscriptText  string
	SegmentsJSON    string
	SRTPath         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
}

// IsTerminal reports whether the job reached a terminal state.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Session represents an in-progress chunked upload persisted in SQLite.
type Session struct {
	ID           string
	Filename     string
	TotalSize    int64
	ChunkSize    int64
	TotalChunks  int
	Model        string
	Language     string
	Owner        string
	PartPath     string
	CreatedAt    time.Time
	LastActivity time.Time
}

// ExpectedChunkSize returns the byte length chunk index must carry. The last
// chunk may be shorter than the declared chunk size.
func (s *Session) ExpectedChunkSize(index int) int64 {
	if index == s.TotalChunks-1 {
		return s.TotalSize - int64(index)*s.ChunkSize
	}
	return s.ChunkSize
}

// QueueEntry represents one outstanding delivery for a job.
type QueueEntry struct {
	JobID        int64
	EnqueuedAt   time.Time
	Attempts     int
	ClaimedBy    string
	LeaseExpires *time.Time
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Completed  int
	Failed     int
}
