package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rohmanhakim/article-archiver/pkg/failure"
)

// FallbackName is substituted when sanitization leaves nothing usable.
const FallbackName = "untitled"

// GetFileExtension extracts the file extension from a path, or empty string if none
func GetFileExtension(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	// Remove the leading dot
	return strings.TrimPrefix(ext, ".")
}

// EnsureDir check if a given directory plus the following path exist, then create one if not
func EnsureDir(dir string, path ...string) failure.ClassifiedError {
	targetPath := []string{dir}
	targetPath = append(targetPath, path...)

	assetsDir := filepath.Join(targetPath...)
	if err := os.MkdirAll(assetsDir, 0755); err != nil {
		return &FileError{
			Message:   fmt.Sprintf("%v", err),
			Retryable: false,
			Cause:     ErrCausePathError,
		}
	}
	return nil
}

// SanitizeName turns untrusted title text into a name that is safe to use
// as a single file or directory component on common filesystems.
//
// Guarantees:
//   - No path separators or reserved characters remain
//   - No parent-directory segments survive ("..", "../x", "..\x")
//   - The result is never empty (FallbackName is substituted)
func SanitizeName(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		switch {
		case r == '\\' || r == '/' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune('_')
		case r < 0x20 || r == 0x7f:
			// control characters
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	name := strings.TrimSpace(b.String())
	// Trailing dots are stripped by some filesystems; leading dots hide
	// files and "." / ".." have path meaning.
	name = strings.Trim(name, ". ")

	if name == "" {
		return FallbackName
	}
	return name
}

// SecureJoin joins name onto root and verifies the result stays inside root.
// name must already be a single sanitized component; this is the final guard
// against traversal sequences reaching the filesystem.
func SecureJoin(root string, name ...string) (string, failure.ClassifiedError) {
	parts := []string{root}
	parts = append(parts, name...)
	joined := filepath.Join(parts...)

	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", &FileError{
			Message:   fmt.Sprintf("path %q escapes root %q", joined, root),
			Retryable: false,
			Cause:     ErrCausePathTraversal,
		}
	}
	return joined, nil
}
