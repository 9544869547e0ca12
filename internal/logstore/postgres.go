package logstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"karaoke-bot/internal/models"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.initTable(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create logs table: %w", err)
	}
	return p, nil
}

func (p *Postgres) initTable(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS logs (
		id BIGSERIAL PRIMARY KEY,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		details JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_logs_created_at ON logs(created_at DESC)`)
	return err
}

func (p *Postgres) Append(ctx context.Context, e models.NewLogEntry) (models.LogEntry, error) {
	if err := Validate(e); err != nil {
		return models.LogEntry{}, err
	}
	details, err := encodeDetails(e.Details)
	if err != nil {
		return models.LogEntry{}, fmt.Errorf("encode details: %w", err)
	}

	out := models.LogEntry{Level: e.Level, Message: e.Message, Details: e.Details}
	err = p.pool.QueryRow(ctx,
		`INSERT INTO logs (level, message, details) VALUES ($1, $2, $3) RETURNING id, created_at`,
		string(e.Level), e.Message, details,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return models.LogEntry{}, err
	}
	return out, nil
}

func (p *Postgres) List(ctx context.Context, limit int) ([]models.LogEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, level, message, details, created_at FROM logs ORDER BY created_at DESC, id DESC LIMIT $1`,
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
			details []byte
		)
		if err := rows.Scan(&e.ID, &level, &e.Message, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Level = models.LogLevel(level)
		if e.Details, err = decodeDetails(details); err != nil {
			return nil, fmt.Errorf("decode details of log %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
