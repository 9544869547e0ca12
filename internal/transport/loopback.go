package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"karaoke-bot/internal/models"
)

const (
	loopbackSampleRate = 44100
	loopbackSeconds    = 3
)

// Loopback is an offline Transport: sends are logged, downloads synthesise a short
// stereo WAV with a centred "vocal" tone, uploads are read back locally.
type Loopback struct {
	nextID atomic.Int64
	mu     sync.Mutex
	sent   []string
}

func NewLoopback() *Loopback {
	return &Loopback{}
}

func (l *Loopback) record(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	l.mu.Lock()
	l.sent = append(l.sent, line)
	l.mu.Unlock()
	slog.Info("Loopback transport", "op", line)
}

// Sent returns a copy of every operation recorded so far.
func (l *Loopback) Sent() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.sent))
	copy(out, l.sent)
	return out
}

func (l *Loopback) SendMessage(ctx context.Context, chat models.ChatRef, text string, attachment *models.Attachment) (models.MessageHandle, error) {
	id := int(l.nextID.Add(1))
	if attachment != nil {
		l.record("send %s #%d %q (photo %s)", chat, id, text, attachment.URL)
	} else {
		l.record("send %s #%d %q", chat, id, text)
	}
	return models.MessageHandle{ChatID: chat.ID, MessageID: id}, nil
}

func (l *Loopback) EditMessage(ctx context.Context, h models.MessageHandle, text string) error {
	l.record("edit %d #%d %q", h.ChatID, h.MessageID, text)
	return nil
}

func (l *Loopback) DeleteMessage(ctx context.Context, h models.MessageHandle) error {
	l.record("delete %d #%d", h.ChatID, h.MessageID)
	return nil
}

func (l *Loopback) DownloadMedia(ctx context.Context, media models.Media, dstPath string, onProgress ProgressFunc) (int64, error) {
	f, err := os.Create(dstPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	frames := loopbackSampleRate * loopbackSeconds
	total := int64(frames * 2 * 2)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: loopbackSampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, 0, frames*2),
	}
	for i := 0; i < frames; i++ {
		t := float64(i) / loopbackSampleRate
		vocal := 6000 * math.Sin(2*math.Pi*440*t)
		left := 4000 * math.Sin(2*math.Pi*220*t)
		right := 4000 * math.Sin(2*math.Pi*330*t)
		buf.Data = append(buf.Data, int(vocal+left), int(vocal+right))

		if onProgress != nil && i%(loopbackSampleRate/4) == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			onProgress(int64(i*4), total)
		}
	}

	enc := wav.NewEncoder(f, loopbackSampleRate, 16, 2, 1)
	if err := enc.Write(buf); err != nil {
		return 0, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("encode wav: %w", err)
	}
	if onProgress != nil {
		onProgress(total, total)
	}
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	l.record("download %s (%s) -> %s", media.FileID, humanize.IBytes(uint64(st.Size())), dstPath)
	return st.Size(), nil
}

func (l *Loopback) SendFile(ctx context.Context, chat models.ChatRef, path, caption string, replyTo int, onProgress ProgressFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	pr := &progressReader{ctx: ctx, r: f, total: st.Size(), progress: onProgress}
	if _, err := io.Copy(io.Discard, pr); err != nil {
		return err
	}
	l.record("file %s reply=%d %q (%s)", chat, replyTo, caption, humanize.IBytes(uint64(st.Size())))
	return nil
}
