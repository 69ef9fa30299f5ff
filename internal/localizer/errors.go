package localizer

import (
	"fmt"

	"github.com/rohmanhakim/article-archiver/pkg/failure"
)

type LocalizerErrorCause string

const (
	ErrCauseMalformedDocument  = "malformed document"
	ErrCauseResourceDirFailure = "resource dir failure"
	ErrCauseRenderFailure      = "render failure"
)

type LocalizerError struct {
	Message   string
	Retryable bool
	Cause     LocalizerErrorCause
}

func (e *LocalizerError) Error() string {
	return fmt.Sprintf("localization error: %s", e.Cause)
}

func (e *LocalizerError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *LocalizerError) IsRetryable() bool {
	return e.Retryable
}
