package transport

import (
	"context"
	"io"

	"karaoke-bot/internal/models"
)

// ProgressFunc receives cumulative transferred bytes. total is 0 when unknown.
type ProgressFunc func(loaded, total int64)

// Transport is the set of chat primitives the pipeline needs. Implementations are
// constructed once at start-up and shared by every job.
type Transport interface {
	SendMessage(ctx context.Context, chat models.ChatRef, text string, attachment *models.Attachment) (models.MessageHandle, error)
	EditMessage(ctx context.Context, h models.MessageHandle, text string) error
	DeleteMessage(ctx context.Context, h models.MessageHandle) error
	DownloadMedia(ctx context.Context, media models.Media, dstPath string, onProgress ProgressFunc) (int64, error)
	SendFile(ctx context.Context, chat models.ChatRef, path, caption string, replyTo int, onProgress ProgressFunc) error
}

type progressWriter struct {
	w        io.Writer
	total    int64
	written  int64
	progress ProgressFunc
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.written += int64(n)
	if pw.progress != nil && n > 0 {
		pw.progress(pw.written, pw.total)
	}
	return n, err
}

// progressReader reports bytes read and stops with ctx's error once ctx is done, so
// an upload driven by a context-unaware client still honours deadlines.
type progressReader struct {
	ctx      context.Context
	r        io.Reader
	total    int64
	read     int64
	progress ProgressFunc
}

func (pr *progressReader) Read(p []byte) (int, error) {
	if err := pr.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := pr.r.Read(p)
	pr.read += int64(n)
	if pr.progress != nil && n > 0 {
		pr.progress(pr.read, pr.total)
	}
	return n, err
}
