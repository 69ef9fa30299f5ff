package storage

import (
	"fmt"

	"github.com/rohmanhakim/article-archiver/pkg/failure"
)

type StorageErrorCause string

const (
	ErrCauseDiskFull     = "disk is full"
	ErrCauseWriteFailure = "write failed"
	ErrCausePathError    = "path error"
	ErrCausePathEscape   = "path escapes work dir"
)

type StorageError struct {
	Message   string
	Retryable bool
	Cause     StorageErrorCause
	Path      string
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s", e.Cause)
}

func (e *StorageError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *StorageError) IsRetryable() bool {
	return e.Retryable
}
