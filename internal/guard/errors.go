package guard

import (
	"fmt"
	"time"

	"github.com/rohmanhakim/article-archiver/pkg/failure"
)

type GuardErrorCause string

const (
	ErrCauseBanned       GuardErrorCause = "identity is banned"
	ErrCauseRateExceeded GuardErrorCause = "rate ceiling exceeded"
)

type GuardError struct {
	Message string
	Cause   GuardErrorCause
	// Until is when the refusal lapses: ban expiry for a banned identity,
	// the oldest in-window request leaving the window for a rate refusal.
	Until time.Time
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("guard error: %s", e.Cause)
}

func (e *GuardError) Severity() failure.Severity {
	return failure.SeverityFatal
}
