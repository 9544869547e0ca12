package logstore

import (
	"context"
	"sync"
	"time"

	"karaoke-bot/internal/models"
)

// Memory keeps entries in process. Used when persistence is not wanted and in tests.
type Memory struct {
	mu      sync.RWMutex
	entries []models.LogEntry
	nextID  int64
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(ctx context.Context, e models.NewLogEntry) (models.LogEntry, error) {
	if err := Validate(e); err != nil {
		return models.LogEntry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry := models.LogEntry{
		ID:        m.nextID,
		Level:     e.Level,
		Message:   e.Message,
		Details:   e.Details,
		CreatedAt: time.Now().UTC(),
	}
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *Memory) List(ctx context.Context, limit int) ([]models.LogEntry, error) {
	limit = NormalizeLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.LogEntry, 0, min(limit, len(m.entries)))
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
