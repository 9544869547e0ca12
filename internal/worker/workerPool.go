package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"karaoke-bot/internal/models"
)

const (
	DefaultMaxConcurrent = 4
	DefaultQueueCapacity = 64
)

// Handler runs the work behind each kind of event. Implementations must not block
// forever; the pool bounds nothing but concurrency.
type Handler interface {
	HandleStart(ctx context.Context, in models.Inbound)
	HandleMedia(ctx context.Context, in models.Inbound)
	HandleOverflow(ctx context.Context, in models.Inbound)
}

type WorkerPoolService interface {
	Submit(ev models.Event) bool
	Stats() Stats
	Stop()
}

type Options struct {
	// MaxConcurrent caps media jobs running at once. Zero or less means unlimited.
	MaxConcurrent int
	// QueueCapacity caps media jobs admitted but not yet running, across all chats.
	QueueCapacity int
}

type Stats struct {
	Active        int `json:"active"`
	Queued        int `json:"queued"`
	Lanes         int `json:"lanes"`
	MaxConcurrent int `json:"max_concurrent"`
}

// WorkerPool admits events without blocking the caller. Media jobs of one chat run
// in arrival order on that chat's lane; lanes of different chats compete for
// permits.
type WorkerPool struct {
	ctx           context.Context
	cancelWorkers context.CancelFunc
	wg            sync.WaitGroup // tracks lanes and start handlers so Stop can wait for them
	handler       Handler
	sem           *semaphore.Weighted
	opts          Options

	mu      sync.Mutex
	lanes   map[int64]*Worker
	queued  int
	stopped bool
	active  atomic.Int64
}

func NewWorkerPool(ctx context.Context, opts Options, handler Handler) *WorkerPool {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	workerCtx, cancel := context.WithCancel(ctx)
	pool := &WorkerPool{
		ctx:           workerCtx,
		cancelWorkers: cancel,
		handler:       handler,
		opts:          opts,
		lanes:         make(map[int64]*Worker),
	}
	if opts.MaxConcurrent > 0 {
		pool.sem = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	return pool
}

// Submit hands ev to the pool and returns whether it was admitted. It never waits
// for a permit.
func (wp *WorkerPool) Submit(ev models.Event) bool {
	switch ev.Kind {
	case models.EventStartCommand:
		return wp.submitStart(ev.Inbound)
	case models.EventMediaMessage:
		return wp.submitMedia(ev.Inbound)
	default:
		slog.Debug("Dropping unhandled event", "chatID", ev.Inbound.ChatID, "messageID", ev.Inbound.MessageID)
		return false
	}
}

func (wp *WorkerPool) submitStart(in models.Inbound) bool {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return false
	}
	wp.wg.Add(1)
	wp.mu.Unlock()

	go func() {
		defer wp.wg.Done()
		defer wp.recoverHandler("start", in)
		wp.handler.HandleStart(wp.ctx, in)
	}()
	return true
}

func (wp *WorkerPool) submitMedia(in models.Inbound) bool {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return false
	}
	if wp.queued >= wp.opts.QueueCapacity {
		wp.wg.Add(1)
		wp.mu.Unlock()
		go func() {
			defer wp.wg.Done()
			defer wp.recoverHandler("overflow", in)
			wp.handler.HandleOverflow(wp.ctx, in)
		}()
		return false
	}

	wp.queued++
	lane, ok := wp.lanes[in.ChatID]
	if !ok {
		lane = NewWorker(wp, in.ChatID)
		wp.lanes[in.ChatID] = lane
		wp.wg.Add(1)
		go lane.Run(wp.wg.Done)
	}
	lane.pending = append(lane.pending, in)
	wp.mu.Unlock()
	slog.Debug("Media job queued", "chatID", in.ChatID, "messageID", in.MessageID)
	return true
}

// next pops the lane's oldest job. An empty lane is removed under the same lock
// Submit uses, so a job is never appended to a lane that has already exited.
func (wp *WorkerPool) next(w *Worker) (models.Inbound, bool) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if len(w.pending) == 0 {
		delete(wp.lanes, w.chatID)
		return models.Inbound{}, false
	}
	in := w.pending[0]
	w.pending[0] = models.Inbound{}
	w.pending = w.pending[1:]
	return in, true
}

func (wp *WorkerPool) acquire() error {
	if err := wp.ctx.Err(); err != nil {
		return err
	}
	if wp.sem == nil {
		return nil
	}
	return wp.sem.Acquire(wp.ctx, 1)
}

func (wp *WorkerPool) release() {
	if wp.sem != nil {
		wp.sem.Release(1)
	}
}

func (wp *WorkerPool) dequeue() {
	wp.mu.Lock()
	wp.queued--
	wp.mu.Unlock()
}

func (wp *WorkerPool) recoverHandler(kind string, in models.Inbound) {
	if r := recover(); r != nil {
		slog.Error("Recovered from panic in handler", "handler", kind, "chatID", in.ChatID, "panic", r)
	}
}

func (wp *WorkerPool) Stats() Stats {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return Stats{
		Active:        int(wp.active.Load()),
		Queued:        wp.queued,
		Lanes:         len(wp.lanes),
		MaxConcurrent: wp.opts.MaxConcurrent,
	}
}

// Stop refuses new events, turns away jobs still waiting for a permit and waits for
// running jobs to finish.
func (wp *WorkerPool) Stop() {
	slog.Info("Stopping worker pool...")
	wp.mu.Lock()
	wp.stopped = true
	wp.mu.Unlock()
	wp.cancelWorkers()
	slog.Info("Waiting for workers to finish current job...")
	wp.wg.Wait()
	slog.Info("Worker pool stop completed")
}
