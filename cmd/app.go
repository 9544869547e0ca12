package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"karaoke-bot/internal/apperr"
	"karaoke-bot/internal/config"
	"karaoke-bot/internal/logstore"
	"karaoke-bot/internal/models"
	"karaoke-bot/internal/pipeline"
	"karaoke-bot/internal/progress"
	"karaoke-bot/internal/queue"
	"karaoke-bot/internal/server"
	"karaoke-bot/internal/tempfile"
	"karaoke-bot/internal/transform"
	"karaoke-bot/internal/transport"
	"karaoke-bot/internal/worker"
)

const (
	pollBatch       = 100
	pollBackoff     = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

type App struct {
	cfg        *config.Config
	state      server.BotState
	store      logstore.Store
	hub        *server.Hub
	queue      queue.QueueService
	workerPool worker.WorkerPoolService
	server     *server.Server
}

// NewApp wires every component. Missing Telegram credentials do not fail it: the
// dashboard still serves and the pipeline stays inert.
func NewApp(ctx context.Context, cfg *config.Config, simulate bool) (*App, error) {
	slog.Info("Configuration loaded",
		"maxFileSize", humanize.IBytes(uint64(cfg.MaxFileSize)),
		"maxConcurrentJobs", cfg.MaxConcurrentJobs,
		"queueCapacity", cfg.QueueCapacity,
		"httpAddr", cfg.HTTPAddr,
	)

	hub := server.NewHub()
	base, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := logstore.Observe(base, hub.BroadcastLog)
	app := &App{
		cfg:   cfg,
		state: server.BotInert,
		store: store,
		hub:   hub,
	}
	app.server = server.New(store, hub, app.status)

	tr, q, state := app.connect(ctx, simulate)
	if tr == nil {
		return app, nil
	}

	temp, err := tempfile.New(cfg.TempDir, "karaoke")
	if err != nil {
		return nil, apperr.Config(err.Error())
	}
	if n, err := temp.Sweep(); err != nil {
		slog.Warn("Failed to sweep temp dir", "dir", temp.Dir(), "error", err)
	} else if n > 0 {
		slog.Info("Removed orphaned temp files", "count", n, "dir", temp.Dir())
	}

	p := pipeline.New(tr, store, temp, transform.NewFFmpeg(cfg.FFmpegPath), progress.New(progress.DefaultStep), pipeline.Options{
		MaxFileSize:      cfg.MaxFileSize,
		LogChannel:       cfg.LogChannel,
		DownloadTimeout:  cfg.DownloadTimeout,
		TransformTimeout: cfg.TransformTimeout,
		UploadTimeout:    cfg.UploadTimeout,
		WelcomeImage:     cfg.WelcomeImage,
	})
	app.queue = q
	app.workerPool = worker.NewWorkerPool(ctx, worker.Options{
		MaxConcurrent: cfg.MaxConcurrentJobs,
		QueueCapacity: cfg.QueueCapacity,
	}, p)
	app.state = state
	return app, nil
}

// connect returns the transport and event source, or a nil transport when the bot
// cannot start.
func (app *App) connect(ctx context.Context, simulate bool) (transport.Transport, queue.QueueService, server.BotState) {
	if simulate {
		slog.Info("Running in simulation mode, no messages leave this process")
		q, err := queue.NewSimulatedQueue(2*time.Second, 0.3, 3)
		if err != nil {
			slog.Error("Failed to create simulated queue", "error", err)
			return nil, nil, server.BotInert
		}
		return transport.NewLoopback(), q, server.BotSimulated
	}

	if err := app.cfg.RequireTelegram(); err != nil {
		app.record(ctx, models.LevelError, err.Error())
		slog.Error("Telegram pipeline disabled, dashboard only", "error", err)
		return nil, nil, server.BotInert
	}

	app.record(ctx, models.LevelInfo, "Starting Telegram Bot...")
	tg, err := transport.ConnectTelegram(ctx, transport.TelegramOptions{
		Token:    app.cfg.BotToken,
		Endpoint: app.cfg.BotAPIEndpoint,
	})
	if err != nil {
		app.record(ctx, models.LevelError, fmt.Sprintf("Bot connection error: %v", err))
		slog.Error("Telegram pipeline disabled, dashboard only", "error", err)
		return nil, nil, server.BotInert
	}
	app.record(ctx, models.LevelInfo, "Bot connected successfully!")
	return tg, tg, server.BotRunning
}

func openStore(ctx context.Context, cfg *config.Config) (logstore.Store, error) {
	if cfg.DatabaseURL != "" {
		pg, err := logstore.OpenPostgres(ctx, cfg.DatabaseURL)
		if err == nil {
			if _, err := pg.Append(ctx, models.NewLogEntry{Level: models.LevelInfo, Message: "Connected to Postgres"}); err != nil {
				slog.Warn("Failed to append startup log", "error", err)
			}
			return pg, nil
		}
		slog.Error("Postgres unavailable, falling back to SQLite", "error", err)
		sq, serr := logstore.OpenSQLite(cfg.DataDir)
		if serr != nil {
			return nil, errors.Join(err, serr)
		}
		if _, aerr := sq.Append(ctx, models.NewLogEntry{
			Level:   models.LevelError,
			Message: fmt.Sprintf("Postgres connection error: %v", err),
		}); aerr != nil {
			slog.Warn("Failed to append startup log", "error", aerr)
		}
		return sq, nil
	}
	return logstore.OpenSQLite(cfg.DataDir)
}

func (app *App) record(ctx context.Context, level models.LogLevel, msg string) {
	if level == models.LevelInfo {
		slog.Info(msg)
	}
	if _, err := app.store.Append(ctx, models.NewLogEntry{Level: level, Message: msg}); err != nil {
		slog.Warn("Failed to append log entry", "message", msg, "error", err)
	}
}

func (app *App) status() server.Status {
	st := server.Status{Bot: app.state}
	if app.workerPool != nil {
		st.Stats = app.workerPool.Stats()
	}
	return st
}

// Run serves the dashboard and, when a transport is connected, the dispatch loop
// until ctx is done.
func (app *App) Run(ctx context.Context) error {
	defer app.store.Close()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.hub.Run(gctx)
		return nil
	})

	srv := &http.Server{
		Addr:              app.cfg.HTTPAddr,
		Handler:           app.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", app.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if app.queue != nil {
		g.Go(func() error {
			app.run(gctx)
			return nil
		})
	}
	return g.Wait()
}

// run polls the event source and hands every classified event to the pool. It
// never waits on a job.
func (app *App) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("Context cancelled, stopping main loop")
			app.workerPool.Stop()
			return
		default:
			messages, err := app.queue.PollQueue(ctx, pollBatch)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				slog.Error("failed to retrieve message", "error", err)
				select {
				case <-ctx.Done():
				case <-time.After(pollBackoff):
				}
				continue
			}
			for _, in := range messages {
				ev := queue.Classify(in)
				if !app.workerPool.Submit(ev) && ev.Kind != models.EventUnhandled {
					slog.Debug("Event not admitted", "kind", ev.Kind, "chatID", in.ChatID)
				}
			}
		}
	}
}
