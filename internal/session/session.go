// Package session owns the lifecycle of archive sessions: creation, the
// pause gate the crawl loop blocks on, per-session event buffering and the
// reaper that evicts idle sessions.
package session

import (
	"sync"
	"time"

	"github.com/rohmanhakim/article-archiver/internal/events"
	"github.com/rohmanhakim/article-archiver/pkg/failure"
)

// Session is one archive run. The zero value is not usable; sessions are
// created through a Registry.
type Session struct {
	id          string
	mode        Mode
	target      string
	credentials string
	workDir     string
	dateRange   *DateRange
	createdAt   time.Time
	stream      *events.Stream

	mu           sync.Mutex
	cond         *sync.Cond
	status       Status
	done         chan struct{}
	lastActivity time.Time
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Mode() Mode {
	return s.mode
}

// Target is the article URL (single mode) or account name (batch mode).
func (s *Session) Target() string {
	return s.target
}

// Credentials returns the caller-supplied platform credentials. They are
// held for upstream requests only and must never appear in logs or events.
func (s *Session) Credentials() string {
	return s.credentials
}

func (s *Session) WorkDir() string {
	return s.workDir
}

// Range returns the session's date restriction, or nil when unrestricted.
func (s *Session) Range() *DateRange {
	if s.dateRange == nil {
		return nil
	}
	r := *s.dateRange
	return &r
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Session) Stream() *events.Stream {
	return s.stream
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch records activity so the reaper keeps its hands off.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Done is closed when the session is cancelled or reaches a terminal
// status. Select on it to make waits interruptible.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start moves the session from idle to running.
func (s *Session) Start() failure.ClassifiedError {
	return s.transition(StatusIdle, StatusRunning)
}

// SetPaused pauses a running session or resumes a paused one. Any other
// combination is rejected.
func (s *Session) SetPaused(paused bool) failure.ClassifiedError {
	if paused {
		return s.transition(StatusRunning, StatusPaused)
	}
	return s.transition(StatusPaused, StatusRunning)
}

// Complete marks the session successfully finished.
func (s *Session) Complete() failure.ClassifiedError {
	return s.terminate(StatusCompleted)
}

// Fail marks the session failed.
func (s *Session) Fail() failure.ClassifiedError {
	return s.terminate(StatusFailed)
}

// Cancel moves the session to cancelled and wakes anything blocked on the
// pause gate. Cancelling an already-terminal session is a no-op.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.status = StatusCancelled
	s.lastActivity = time.Now()
	close(s.done)
	s.cond.Broadcast()
}

// Checkpoint is called by the crawl loop between units of work. It returns
// immediately while the session runs, blocks without spinning while the
// session is paused, and reports cancellation as an error. Resuming picks
// up exactly where the loop blocked.
func (s *Session) Checkpoint() failure.ClassifiedError {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.status == StatusPaused {
		s.cond.Wait()
	}

	if s.status == StatusCancelled {
		return &SessionError{
			Message:   "session was cancelled",
			Retryable: false,
			Cause:     ErrCauseCancelled,
		}
	}

	s.lastActivity = time.Now()
	return nil
}

func (s *Session) transition(from, to Status) failure.ClassifiedError {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != from {
		return &SessionError{
			Message:   "cannot go from " + string(s.status) + " to " + string(to),
			Retryable: false,
			Cause:     ErrCauseInvalidTransition,
		}
	}
	s.status = to
	s.lastActivity = time.Now()
	s.cond.Broadcast()
	return nil
}

func (s *Session) terminate(to Status) failure.ClassifiedError {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return &SessionError{
			Message:   "cannot go from " + string(s.status) + " to " + string(to),
			Retryable: false,
			Cause:     ErrCauseInvalidTransition,
		}
	}
	s.status = to
	s.lastActivity = time.Now()
	close(s.done)
	s.cond.Broadcast()
	return nil
}
