package queue

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tjarratt/babble"

	"karaoke-bot/internal/models"
)

// QueueService delivers inbound messages. PollQueue may block until messages
// arrive or ctx is done, and returns at most maxMessage messages.
type QueueService interface {
	PollQueue(ctx context.Context, maxMessage int) ([]models.Inbound, error)
}

// babble reads this list and panics when it is missing.
const dictionaryPath = "/usr/share/dict/words"

const (
	simulatedMaxSize  = 8 << 20
	simulatedOversize = 600 << 20
)

// SimulatedQueue produces synthetic chat traffic for offline runs: mostly audio
// uploads, the occasional /start and the occasional oversized file.
type SimulatedQueue struct {
	interval    time.Duration // pause between polls
	temperature float32       // how often a poll returns the full batch
	chats       int64
	nextMsg     atomic.Int64
	babbler     *babble.Babbler
}

func NewSimulatedQueue(interval time.Duration, temperature float32, chats int) (*SimulatedQueue, error) {
	if temperature <= 0 || temperature > 1 {
		return nil, fmt.Errorf("temperature cannot be 0 or higher than 1")
	}
	if chats <= 0 {
		chats = 1
	}
	q := &SimulatedQueue{
		interval:    interval,
		temperature: temperature,
		chats:       int64(chats),
	}
	if _, err := os.Stat(dictionaryPath); err == nil {
		b := babble.NewBabbler()
		b.Count = 2
		b.Separator = "-"
		q.babbler = &b
	} else {
		slog.Warn("No word list found, simulated file names fall back to uuids", "path", dictionaryPath)
	}
	return q, nil
}

func (q *SimulatedQueue) PollQueue(ctx context.Context, maxMessage int) ([]models.Inbound, error) {
	if maxMessage <= 0 {
		maxMessage = 1
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(q.interval):
	}

	slog.Debug("Polling simulated queue...")
	nb := biasedRandom(maxMessage, q.temperature)
	messages := make([]models.Inbound, 0, nb)
	for range nb {
		messages = append(messages, q.next())
	}
	return messages, nil
}

func (q *SimulatedQueue) next() models.Inbound {
	in := models.Inbound{
		ChatID:     1000 + rand.Int63n(q.chats),
		MessageID:  int(q.nextMsg.Add(1)),
		ReceivedAt: time.Now(),
	}
	switch roll := rand.Intn(20); {
	case roll == 0:
		in.Text = "/start"
	case roll == 1:
		in.Text = "hello"
	default:
		size := int64(rand.Intn(simulatedMaxSize)) + 1
		if roll == 2 {
			size = simulatedOversize
		}
		in.Media = &models.Media{
			FileID:   uuid.NewString(),
			FileName: q.fileName(),
			MimeType: "audio/wav",
			Size:     size,
			Kind:     models.MediaAudio,
		}
	}
	return in
}

func (q *SimulatedQueue) fileName() string {
	if q.babbler == nil {
		return uuid.NewString()[:8] + ".wav"
	}
	return strings.ToLower(q.babbler.Babble()) + ".wav"
}

// biasedRandom returns x with probability t, otherwise a value in [0, x).
func biasedRandom(x int, t float32) int {
	if t < 0 || t > 1 {
		panic("t must be between 0.0 and 1.0")
	}
	if rand.Float32() < t {
		return x
	}
	return rand.Intn(x)
}
