package platform

import (
	"fmt"

	"github.com/rohmanhakim/article-archiver/pkg/failure"
)

type PlatformErrorCause string

const (
	ErrCauseAuthRejected    PlatformErrorCause = "credentials rejected"
	ErrCauseAccountNotFound PlatformErrorCause = "account not found"
	ErrCauseBadResponse     PlatformErrorCause = "unexpected response shape"
	ErrCauseUpstreamFailure PlatformErrorCause = "upstream request failed"
)

// listing API return codes that mean the session credentials are no good.
const (
	retCookieExpired  = 200013
	retInvalidSession = 200003
)

type PlatformError struct {
	Message   string
	Retryable bool
	Cause     PlatformErrorCause
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform error: %s", e.Cause)
}

func (e *PlatformError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// IsRetryable returns whether this error is retryable
func (e *PlatformError) IsRetryable() bool {
	return e.Retryable
}
