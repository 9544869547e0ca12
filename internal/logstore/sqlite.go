package logstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"karaoke-bot/internal/models"
)

type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) dataDir/logs.db.
func OpenSQLite(dataDir string) (*SQLite, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	// Pragmas go in the DSN so every pooled connection gets them, not just the
	// first one.
	dsn := "file:" + filepath.Join(dataDir, "logs.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time; concurrent appends queue in the pool instead of
	// racing for the database lock.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLite{db: db}
	if err := s.initTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create logs table: %w", err)
	}
	return s, nil
}

func (s *SQLite) initTable() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		details TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_logs_created_at ON logs(created_at);
	`)
	return err
}

func (s *SQLite) Append(ctx context.Context, e models.NewLogEntry) (models.LogEntry, error) {
	if err := Validate(e); err != nil {
		return models.LogEntry{}, err
	}
	details, err := encodeDetails(e.Details)
	if err != nil {
		return models.LogEntry{}, fmt.Errorf("encode details: %w", err)
	}
	now := time.Now().UTC()

	var detailsArg any
	if details != nil {
		detailsArg = string(details)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (level, message, details, created_at) VALUES (?, ?, ?, ?)`,
		string(e.Level), e.Message, detailsArg, now.UnixNano())
	if err != nil {
		return models.LogEntry{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.LogEntry{}, err
	}
	return models.LogEntry{
		ID:        id,
		Level:     e.Level,
		Message:   e.Message,
		Details:   e.Details,
		CreatedAt: now,
	}, nil
}

func (s *SQLite) List(ctx context.Context, limit int) ([]models.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, level, message, details, created_at FROM logs ORDER BY created_at DESC, id DESC LIMIT ?`,
		NormalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LogEntry{}
	for rows.Next() {
		var (
			e       models.LogEntry
			level   string
			details sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &level, &e.Message, &details, &created); err != nil {
			return nil, err
		}
		e.Level = models.LogLevel(level)
		e.CreatedAt = time.Unix(0, created).UTC()
		if details.Valid {
			if e.Details, err = decodeDetails([]byte(details.String)); err != nil {
				slog.Warn("Skipping malformed log details", "id", e.ID, "error", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
