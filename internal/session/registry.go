package session

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rohmanhakim/article-archiver/internal/events"
	"github.com/rohmanhakim/article-archiver/internal/logger"
	"github.com/rohmanhakim/article-archiver/pkg/failure"
	"github.com/rohmanhakim/article-archiver/pkg/fileutil"
)

// Registry tracks live sessions and reaps the ones nobody touches.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	outputRoot   string
	bufferCap    int
	idleTimeout  time.Duration
	reapInterval time.Duration

	log logger.Logger
}

// NewRegistry creates a Registry. Sessions get their work directory under
// outputRoot and an event stream retaining bufferCap events.
func NewRegistry(outputRoot string, bufferCap int, idleTimeout, reapInterval time.Duration, log logger.Logger) *Registry {
	return &Registry{
		sessions:     make(map[string]*Session),
		outputRoot:   outputRoot,
		bufferCap:    bufferCap,
		idleTimeout:  idleTimeout,
		reapInterval: reapInterval,
		log:          log,
	}
}

// Create registers a new idle session. A date range with start after end
// is rejected before any state is allocated.
func (r *Registry) Create(mode Mode, target, credentials string, dateRange *DateRange) (*Session, failure.ClassifiedError) {
	if dateRange != nil && dateRange.Start.After(dateRange.End) {
		return nil, &SessionError{
			Message:   "date range start is after its end",
			Retryable: false,
			Cause:     ErrCauseInvalidTransition,
		}
	}

	id := uuid.NewString()
	workDir := filepath.Join(r.outputRoot, id)
	if err := fileutil.EnsureDir(workDir); err != nil {
		return nil, &SessionError{
			Message:   "failed to create work directory: " + err.Error(),
			Retryable: true,
			Cause:     ErrCauseWorkDirFailure,
		}
	}

	s := &Session{
		id:           id,
		mode:         mode,
		target:       target,
		credentials:  credentials,
		workDir:      workDir,
		createdAt:    time.Now(),
		stream:       events.NewStream(r.bufferCap),
		status:       StatusIdle,
		done:         make(chan struct{}),
		lastActivity: time.Now(),
	}
	if dateRange != nil {
		owned := *dateRange
		s.dateRange = &owned
	}
	s.cond = sync.NewCond(&s.mu)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	r.log.Info("session created",
		logger.String("session_id", id),
		logger.String("mode", string(mode)),
	)
	return s, nil
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, failure.ClassifiedError) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()

	if !ok {
		return nil, &SessionError{
			Message:   "no session with id " + id,
			Retryable: false,
			Cause:     ErrCauseNotFound,
		}
	}
	return s, nil
}

// List returns all tracked sessions.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns how many sessions are tracked.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Reap evicts every session whose last activity is older than the idle
// timeout, whatever its status: a paused or running session nobody touches
// goes the same way as a finished one. Returns how many were evicted.
func (r *Registry) Reap() int {
	cutoff := time.Now().Add(-r.idleTimeout)

	r.mu.Lock()
	var victims []*Session
	for id, s := range r.sessions {
		if s.LastActivity().Before(cutoff) {
			delete(r.sessions, id)
			victims = append(victims, s)
		}
	}
	r.mu.Unlock()

	for _, s := range victims {
		s.Cancel()
		s.Stream().Close()
		r.log.Info("session reaped",
			logger.String("session_id", s.ID()),
			logger.String("status", string(s.Status())),
		)
	}
	return len(victims)
}

// RunReaper reaps on a fixed interval until ctx is cancelled.
func (r *Registry) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(r.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Reap()
		case <-ctx.Done():
			return
		}
	}
}
