package events

import "time"

// Kind labels what an event reports.
type Kind string

const (
	KindLog       Kind = "log"
	KindProgress  Kind = "progress"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// Level grades log events by how bad the news is.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is one entry in a session's ordered event feed. Seq and Timestamp
// are assigned by the stream at publish time and must not be set by callers.
type Event struct {
	Seq       uint64         `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      Kind           `json:"kind"`
	Level     Level          `json:"level,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Log builds a log event.
func Log(level Level, message string) Event {
	return Event{
		Kind:    KindLog,
		Level:   level,
		Message: message,
	}
}

// Progress builds a progress event carrying counters such as pages listed
// or articles archived.
func Progress(message string, data map[string]any) Event {
	return Event{
		Kind:    KindProgress,
		Level:   LevelInfo,
		Message: message,
		Data:    data,
	}
}

// Completed builds the terminal success event. tokenConsumed tells the
// subscriber that the authorization token was spent even though the run
// finished, so retrying requires a fresh token.
func Completed(archived int, tokenConsumed bool) Event {
	return Event{
		Kind:    KindCompleted,
		Level:   LevelInfo,
		Message: "session completed",
		Data: map[string]any{
			"archived":      archived,
			"tokenConsumed": tokenConsumed,
		},
	}
}

// Failed builds the terminal failure event. reason is a stable
// machine-readable label; message is the human-readable detail.
func Failed(reason, message string) Event {
	return Event{
		Kind:    KindFailed,
		Level:   LevelError,
		Message: message,
		Data: map[string]any{
			"reason": reason,
		},
	}
}
