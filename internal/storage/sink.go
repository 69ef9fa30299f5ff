/*
Responsibilities
- Persist localized article documents
- Derive artifact names from article titles
- Keep every write inside the session work directory

Output Characteristics
- One HTML file per article, resource directory alongside
- Existing artifacts are never overwritten
*/
package storage

import (
	"errors"
	"os"
	"syscall"

	"github.com/rohmanhakim/article-archiver/internal/logger"
	"github.com/rohmanhakim/article-archiver/pkg/failure"
	"github.com/rohmanhakim/article-archiver/pkg/fileutil"
)

type Sink interface {
	// Write persists the document as <sanitized title>.html inside workDir.
	Write(workDir string, title string, document []byte) (WriteResult, failure.ClassifiedError)

	// Exists reports whether an artifact for this title is already present.
	// The returned path is valid when exists is true.
	Exists(workDir string, title string) (string, bool)
}

type LocalSink struct {
	log logger.Logger
}

func NewLocalSink(log logger.Logger) LocalSink {
	return LocalSink{
		log: log,
	}
}

func (s *LocalSink) Write(
	workDir string,
	title string,
	document []byte,
) (WriteResult, failure.ClassifiedError) {
	fileName := artifactName(title)

	fullPath, joinErr := fileutil.SecureJoin(workDir, fileName)
	if joinErr != nil {
		return WriteResult{}, &StorageError{
			Message:   joinErr.Error(),
			Retryable: false,
			Cause:     ErrCausePathEscape,
			Path:      workDir,
		}
	}

	if err := fileutil.EnsureDir(workDir); err != nil {
		return WriteResult{}, &StorageError{
			Message:   err.Error(),
			Retryable: false,
			Cause:     ErrCausePathError,
			Path:      workDir,
		}
	}

	if err := os.WriteFile(fullPath, document, 0644); err != nil {
		cause := StorageErrorCause(ErrCauseWriteFailure)
		retryable := false
		if errors.Is(err, syscall.ENOSPC) {
			cause = ErrCauseDiskFull
			retryable = true
		}
		return WriteResult{}, &StorageError{
			Message:   err.Error(),
			Retryable: retryable,
			Cause:     cause,
			Path:      fullPath,
		}
	}

	s.log.Debug("artifact written",
		logger.String("path", fullPath),
		logger.Int("bytes", len(document)),
	)

	return NewWriteResult(fullPath, fileName, int64(len(document))), nil
}

func (s *LocalSink) Exists(workDir string, title string) (string, bool) {
	fullPath, joinErr := fileutil.SecureJoin(workDir, artifactName(title))
	if joinErr != nil {
		return "", false
	}
	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		return "", false
	}
	return fullPath, true
}

func artifactName(title string) string {
	return fileutil.SanitizeName(title) + ".html"
}

// Compile-time interface check
var _ Sink = (*LocalSink)(nil)
