package worker

import (
	"context"
	"log/slog"

	"karaoke-bot/internal/models"
)

// Worker is the lane of one chat. It lives while the chat has pending media jobs
// and runs them one after the other.
type Worker struct {
	pool    *WorkerPool
	chatID  int64
	pending []models.Inbound // guarded by pool.mu
}

func NewWorker(pool *WorkerPool, chatID int64) *Worker {
	return &Worker{
		pool:   pool,
		chatID: chatID,
	}
}

func (w *Worker) Run(exitWorker func()) {
	slog.Debug("Started lane", "chatID", w.chatID)
	for {
		in, ok := w.pool.next(w)
		if !ok {
			slog.Debug("Lane drained", "chatID", w.chatID)
			exitWorker()
			return
		}
		w.HandleMessage(in)
	}
}

// HandleMessage waits for a permit and runs the job. The permit is released on
// every exit, panics included. Jobs already running keep going after the pool is
// cancelled; each pipeline phase has its own deadline.
func (w *Worker) HandleMessage(in models.Inbound) {
	wp := w.pool
	if err := wp.acquire(); err != nil {
		wp.dequeue()
		slog.Warn("Scheduler stopping, turning job away", "chatID", w.chatID, "messageID", in.MessageID)
		defer wp.recoverHandler("overflow", in)
		wp.handler.HandleOverflow(context.WithoutCancel(wp.ctx), in)
		return
	}
	defer wp.release()
	wp.dequeue()
	wp.active.Add(1)
	defer wp.active.Add(-1)
	defer wp.recoverHandler("media", in)

	slog.Debug("Running media job", "chatID", w.chatID, "messageID", in.MessageID)
	wp.handler.HandleMedia(context.WithoutCancel(wp.ctx), in)
}
