package logstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"karaoke-bot/internal/models"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

var ErrInvalidEntry = errors.New("invalid log entry")

// Store is an append-only log. List returns entries newest first.
type Store interface {
	Append(ctx context.Context, e models.NewLogEntry) (models.LogEntry, error)
	List(ctx context.Context, limit int) ([]models.LogEntry, error)
	Close() error
}

// Validate checks an entry before it is appended.
func Validate(e models.NewLogEntry) error {
	if !e.Level.Valid() {
		return fmt.Errorf("%w: unknown level %q", ErrInvalidEntry, e.Level)
	}
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidEntry)
	}
	return nil
}

func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func encodeDetails(d map[string]any) ([]byte, error) {
	if len(d) == 0 {
		return nil, nil
	}
	return json.Marshal(d)
}

func decodeDetails(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var d map[string]any
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// Observed calls fn with every entry after it has been stored.
type Observed struct {
	Store
	fn func(models.LogEntry)
}

func Observe(s Store, fn func(models.LogEntry)) *Observed {
	return &Observed{Store: s, fn: fn}
}

func (o *Observed) Append(ctx context.Context, e models.NewLogEntry) (models.LogEntry, error) {
	entry, err := o.Store.Append(ctx, e)
	if err != nil {
		return entry, err
	}
	if o.fn != nil {
		o.fn(entry)
	}
	return entry, nil
}
