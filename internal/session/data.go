package session

import "time"

// Mode says what a session archives.
type Mode string

const (
	// ModeSingle archives one article.
	ModeSingle Mode = "single"
	// ModeBatch archives an account's articles.
	ModeBatch Mode = "batch"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition can leave this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// DateRange restricts a batch session to articles published within
// [Start, End], both inclusive.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within the range, comparing by calendar
// day in UTC.
func (r DateRange) Contains(t time.Time) bool {
	day := t.UTC().Truncate(24 * time.Hour)
	start := r.Start.UTC().Truncate(24 * time.Hour)
	end := r.End.UTC().Truncate(24 * time.Hour)
	return !day.Before(start) && !day.After(end)
}

// Before reports whether t falls before the start of the range.
func (r DateRange) Before(t time.Time) bool {
	day := t.UTC().Truncate(24 * time.Hour)
	return day.Before(r.Start.UTC().Truncate(24 * time.Hour))
}
