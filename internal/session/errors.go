package session

import (
	"fmt"

	"github.com/rohmanhakim/article-archiver/pkg/failure"
)

type SessionErrorCause string

const (
	ErrCauseNotFound          SessionErrorCause = "session not found"
	ErrCauseInvalidTransition SessionErrorCause = "invalid status transition"
	ErrCauseCancelled         SessionErrorCause = "session cancelled"
	ErrCauseWorkDirFailure    SessionErrorCause = "work directory not usable"
)

type SessionError struct {
	Message   string
	Retryable bool
	Cause     SessionErrorCause
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session error: %s", e.Cause)
}

func (e *SessionError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}
