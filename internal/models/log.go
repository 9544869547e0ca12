package models

import "time"

type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

func (l LogLevel) Valid() bool {
	switch l {
	case LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// LogEntry is append-only; stores assign ID and CreatedAt.
type LogEntry struct {
	ID        int64          `json:"id"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

type NewLogEntry struct {
	Level   LogLevel       `json:"level"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
