package token

import (
	"fmt"

	"github.com/rohmanhakim/article-archiver/pkg/failure"
)

type TokenErrorCause string

const (
	ErrCauseMalformedFormat TokenErrorCause = "malformed token format"
	ErrCauseClassMismatch   TokenErrorCause = "token class mismatch"
	ErrCauseAlreadyUsed     TokenErrorCause = "token already used"
	ErrCauseNotFound        TokenErrorCause = "token not found"
	ErrCauseStorageFailure  TokenErrorCause = "token storage failed"
)

type TokenError struct {
	Message   string
	Retryable bool
	Cause     TokenErrorCause
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("token error: %s", e.Cause)
}

func (e *TokenError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}
