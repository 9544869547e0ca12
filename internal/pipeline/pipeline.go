package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"karaoke-bot/internal/apperr"
	"karaoke-bot/internal/logstore"
	"karaoke-bot/internal/models"
	"karaoke-bot/internal/progress"
	"karaoke-bot/internal/tempfile"
	"karaoke-bot/internal/transform"
	"karaoke-bot/internal/transport"
)

const (
	DefaultMaxFileSize      = 500 << 20
	DefaultDownloadTimeout  = 10 * time.Minute
	DefaultTransformTimeout = 15 * time.Minute
	DefaultUploadTimeout    = 10 * time.Minute
	DefaultStatusTimeout    = 10 * time.Second

	// bounds the calls that must still go out after the job context is gone:
	// failure notices, status deletion and log appends.
	finalizeTimeout = 15 * time.Second
)

type Options struct {
	MaxFileSize int64
	// LogChannel receives a copy of every processed file. Nil disables forwarding.
	LogChannel       *models.ChatRef
	DownloadTimeout  time.Duration
	TransformTimeout time.Duration
	UploadTimeout    time.Duration
	// StatusTimeout bounds each status send or edit. Those calls are best-effort
	// and must not hold a permit.
	StatusTimeout time.Duration
	WelcomeText   string
	WelcomeImage  string
}

func (o Options) withDefaults() Options {
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.DownloadTimeout <= 0 {
		o.DownloadTimeout = DefaultDownloadTimeout
	}
	if o.TransformTimeout <= 0 {
		o.TransformTimeout = DefaultTransformTimeout
	}
	if o.UploadTimeout <= 0 {
		o.UploadTimeout = DefaultUploadTimeout
	}
	if o.StatusTimeout <= 0 {
		o.StatusTimeout = DefaultStatusTimeout
	}
	if o.WelcomeText == "" {
		o.WelcomeText = MsgWelcome
	}
	return o
}

// Pipeline drives one media request at a time through download, transform, upload,
// notify and cleanup. It is safe for concurrent use; every job owns its own state.
type Pipeline struct {
	transport   transport.Transport
	store       logstore.Store
	temp        *tempfile.Manager
	transformer transform.Transformer
	progress    *progress.Reporter
	opts        Options
}

func New(tr transport.Transport, store logstore.Store, temp *tempfile.Manager, tf transform.Transformer, pr *progress.Reporter, opts Options) *Pipeline {
	if pr == nil {
		pr = progress.New(progress.DefaultStep)
	}
	return &Pipeline{
		transport:   tr,
		store:       store,
		temp:        temp,
		transformer: tf,
		progress:    pr,
		opts:        opts.withDefaults(),
	}
}

func (p *Pipeline) HandleStart(ctx context.Context, in models.Inbound) {
	chat := models.ChatID(in.ChatID)
	var photo *models.Attachment
	if p.opts.WelcomeImage != "" {
		photo = &models.Attachment{URL: p.opts.WelcomeImage}
	}
	_, err := p.transport.SendMessage(ctx, chat, p.opts.WelcomeText, photo)
	if err != nil && photo != nil {
		slog.Warn("Failed to send welcome photo, retrying as text", "chatID", in.ChatID, "error", err)
		_, err = p.transport.SendMessage(ctx, chat, p.opts.WelcomeText, nil)
	}
	if err != nil {
		slog.Error("Failed to send welcome message", "chatID", in.ChatID, "error", err)
	}
}

func (p *Pipeline) HandleMedia(ctx context.Context, in models.Inbound) {
	job := p.Process(ctx, models.NewMediaRequest(in))
	slog.Info("Job finished", "jobID", job.ID, "chatID", in.ChatID, "state", job.State, "duration", job.Duration().Round(time.Millisecond))
}

// HandleOverflow tells the user their file was not admitted.
func (p *Pipeline) HandleOverflow(ctx context.Context, in models.Inbound) {
	slog.Warn("Rejecting media, scheduler queue is full", "chatID", in.ChatID, "messageID", in.MessageID)
	ctx, cancel := detached(ctx)
	defer cancel()
	if _, err := p.transport.SendMessage(ctx, models.ChatID(in.ChatID), MsgBusy, nil); err != nil {
		slog.Error("Failed to send busy notice", "chatID", in.ChatID, "error", err)
	}
}

// Process runs req to a terminal state and returns the finished job. It never
// panics and never returns an unreleased temp file.
func (p *Pipeline) Process(ctx context.Context, req models.MediaRequest) *models.PipelineJob {
	job := models.NewPipelineJob(req)
	scope := p.temp.NewScope()
	log := slog.With("jobID", job.ID, "correlationID", req.CorrelationID, "chatID", req.ChatID)
	defer p.progress.Forget(job.ID)
	defer func() {
		if err := scope.Close(); err != nil {
			log.Warn("Failed to release temp files", "error", err)
		}
	}()

	if req.Media != nil {
		log.Info("Processing file", "fileName", req.Media.FileName, "size", humanize.IBytes(uint64(max(req.Media.Size, 0))))
	}

	err := p.safeRun(ctx, job, scope, log)
	fctx, cancel := detached(ctx)
	defer cancel()

	switch {
	case err == nil:
		p.succeed(fctx, job, scope, log)
	case apperr.KindOf(err) == apperr.KindValidation:
		p.reject(fctx, job, err, log)
	default:
		p.fail(fctx, job, scope, err, log)
	}
	return job
}

func (p *Pipeline) safeRun(ctx context.Context, job *models.PipelineJob, scope *tempfile.Scope, log *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic in pipeline", "state", job.State, "panic", r, "stack", string(debug.Stack()))
			err = apperr.Internal(fmt.Errorf("panic: %v", r))
		}
	}()
	return p.run(ctx, job, scope, log)
}

func (p *Pipeline) run(ctx context.Context, job *models.PipelineJob, scope *tempfile.Scope, log *slog.Logger) error {
	req := job.Request
	chat := models.ChatID(req.ChatID)

	verr := p.validate(req)
	job.Transition(models.StateValidated)
	if verr != nil {
		return verr
	}

	job.Transition(models.StateDownloading)
	in, err := scope.Allocate(inputExt(req.Media))
	if err != nil {
		return apperr.Internal(err)
	}
	job.InputPath = in
	sctx, cancel := context.WithTimeout(ctx, p.opts.StatusTimeout)
	h, err := p.transport.SendMessage(sctx, chat, MsgStarting, nil)
	cancel()
	if err != nil {
		log.Warn("Failed to send status message, continuing without progress", "error", err)
	} else {
		job.Status = &h
	}

	dctx, cancel := context.WithTimeout(ctx, p.opts.DownloadTimeout)
	onDownload, stop := p.onProgress(dctx, job, progress.Download, MsgDownloading, log)
	n, err := p.transport.DownloadMedia(dctx, *req.Media, in, onDownload)
	stop()
	cancel()
	if err != nil {
		return apperr.Transfer("download", phaseErr(dctx, p.opts.DownloadTimeout, err))
	}
	log.Debug("Download complete", "bytes", humanize.IBytes(uint64(n)))

	job.Transition(models.StateTransforming)
	p.editStatus(ctx, job, MsgProcessing, log)
	out, err := scope.Allocate(".mp3")
	if err != nil {
		return apperr.Internal(err)
	}
	job.OutputPath = out
	tctx, cancel := context.WithTimeout(ctx, p.opts.TransformTimeout)
	err = p.transformer.Transform(tctx, in, out)
	cancel()
	if err != nil {
		if apperr.KindOf(err) != apperr.KindTransform {
			err = apperr.Transform("", err)
		}
		return err
	}

	job.Transition(models.StateUploading)
	p.editStatus(ctx, job, MsgUploading, log)
	uctx, cancel := context.WithTimeout(ctx, p.opts.UploadTimeout)
	onUpload, stop := p.onProgress(uctx, job, progress.Upload, MsgUploadPercent, log)
	err = p.transport.SendFile(uctx, chat, out, MsgResultCaption, req.MessageID, onUpload)
	stop()
	cancel()
	if err != nil {
		return apperr.Transfer("upload", phaseErr(uctx, p.opts.UploadTimeout, err))
	}

	job.Transition(models.StateNotified)
	p.forward(ctx, job, log)
	return nil
}

func (p *Pipeline) validate(req models.MediaRequest) error {
	if req.Media == nil {
		return apperr.Validation(MsgNoMedia)
	}
	if req.Media.Size > p.opts.MaxFileSize {
		return apperr.Validation(tooLarge(p.opts.MaxFileSize))
	}
	return nil
}

// forward copies the result to the log channel. Failure is reported, never fatal.
func (p *Pipeline) forward(ctx context.Context, job *models.PipelineJob, log *slog.Logger) {
	if p.opts.LogChannel == nil {
		return
	}
	fctx, cancel := context.WithTimeout(ctx, p.opts.UploadTimeout)
	defer cancel()
	caption := fmt.Sprintf(MsgForwardFormat, models.ChatID(job.Request.ChatID))
	if err := p.transport.SendFile(fctx, *p.opts.LogChannel, job.OutputPath, caption, 0, nil); err != nil {
		log.Warn("Failed to forward file to log channel", "channel", p.opts.LogChannel.String(), "error", apperr.Notify("forward", err))
	}
}

func (p *Pipeline) succeed(ctx context.Context, job *models.PipelineJob, scope *tempfile.Scope, log *slog.Logger) {
	p.releaseStatus(ctx, job, log)
	if err := scope.Close(); err != nil {
		log.Warn("Failed to release temp files", "error", err)
	}

	req := job.Request
	p.record(ctx, models.NewLogEntry{
		Level:   models.LevelInfo,
		Message: fmt.Sprintf(LogSuccessFormat, req.ChatID),
		Details: map[string]any{
			"correlation_id": req.CorrelationID,
			"chat_id":        req.ChatID,
			"file_name":      req.Media.FileName,
			"size":           req.Media.Size,
			"size_human":     humanize.IBytes(uint64(max(req.Media.Size, 0))),
			"duration_ms":    job.Duration().Milliseconds(),
		},
	}, log)
	job.Transition(models.StateCleaned)
	log.Info("Successfully processed file")
}

// reject answers an invalid request with a single notice. Expected user input, so
// nothing goes to the log store.
func (p *Pipeline) reject(ctx context.Context, job *models.PipelineJob, err error, log *slog.Logger) {
	job.Err = err
	var ae *apperr.Error
	notice := err.Error()
	if errors.As(err, &ae) && ae.Message != "" {
		notice = ae.Message
	}
	if _, serr := p.transport.SendMessage(ctx, models.ChatID(job.Request.ChatID), notice, nil); serr != nil {
		log.Warn("Failed to send rejection notice", "error", serr)
	}
	job.Transition(models.StateFailed)
	log.Info("Rejected request", "reason", notice)
}

func (p *Pipeline) fail(ctx context.Context, job *models.PipelineJob, scope *tempfile.Scope, err error, log *slog.Logger) {
	job.Err = err
	kind := apperr.KindOf(err)
	state := job.State
	log.Error("Error processing file", "state", state, "kind", kind, "error", err)

	if _, serr := p.transport.SendMessage(ctx, models.ChatID(job.Request.ChatID), fmt.Sprintf(MsgFailureFormat, userReason(err)), nil); serr != nil {
		log.Warn("Failed to send failure notice", "error", serr)
	}
	p.record(ctx, models.NewLogEntry{
		Level:   models.LevelError,
		Message: fmt.Sprintf(LogFailureFormat, err.Error()),
		Details: map[string]any{
			"correlation_id": job.Request.CorrelationID,
			"chat_id":        job.Request.ChatID,
			"kind":           string(kind),
			"state":          string(state),
		},
	}, log)

	p.releaseStatus(ctx, job, log)
	if err := scope.Close(); err != nil {
		log.Warn("Failed to release temp files", "error", err)
	}
	job.Transition(models.StateFailed)
}

func (p *Pipeline) record(ctx context.Context, e models.NewLogEntry, log *slog.Logger) {
	if p.store == nil {
		return
	}
	if _, err := p.store.Append(ctx, e); err != nil {
		log.Error("Failed to append log entry", "message", e.Message, "error", err)
	}
}

// onProgress returns the phase's progress callback and a stop func to call once the
// phase has returned. A transport may still fire the callback from an abandoned
// request after that; those calls are dropped. The callback works on a copy of the
// status handle and never touches job state other than its ID.
func (p *Pipeline) onProgress(ctx context.Context, job *models.PipelineJob, dir progress.Direction, format string, log *slog.Logger) (transport.ProgressFunc, func()) {
	var stopped atomic.Bool
	stop := func() { stopped.Store(true) }
	if job.Status == nil {
		return nil, stop
	}
	status := *job.Status
	jobID := job.ID
	return func(loaded, total int64) {
		if stopped.Load() {
			return
		}
		pct := progress.Percent(loaded, total)
		if !p.progress.ShouldEmit(jobID, dir, pct) {
			return
		}
		p.edit(ctx, status, fmt.Sprintf(format, pct), log)
	}, stop
}

// editStatus is best-effort: a user deleting the status message must not fail the job.
func (p *Pipeline) editStatus(ctx context.Context, job *models.PipelineJob, text string, log *slog.Logger) {
	if job.Status == nil {
		return
	}
	p.edit(ctx, *job.Status, text, log)
}

func (p *Pipeline) edit(ctx context.Context, h models.MessageHandle, text string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.StatusTimeout)
	defer cancel()
	if err := p.transport.EditMessage(ctx, h, text); err != nil {
		log.Debug("Status edit failed", "text", text, "error", err)
	}
}

// releaseStatus deletes the status message once; later calls are no-ops.
func (p *Pipeline) releaseStatus(ctx context.Context, job *models.PipelineJob, log *slog.Logger) {
	if job.Status == nil {
		return
	}
	h := *job.Status
	job.Status = nil
	if err := p.transport.DeleteMessage(ctx, h); err != nil {
		log.Debug("Status delete failed", "error", err)
	}
}

func inputExt(m *models.Media) string {
	if m != nil {
		if ext := strings.ToLower(filepath.Ext(m.FileName)); ext != "" && len(ext) <= 6 {
			return ext
		}
		if m.Kind == models.MediaVoice {
			return ".ogg"
		}
	}
	return ".mp3"
}

func phaseErr(ctx context.Context, limit time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s: %w", limit, err)
	}
	return err
}

// userReason hides internal details from chat users; the log store keeps them.
func userReason(err error) string {
	if apperr.KindOf(err) == apperr.KindInternal {
		return "internal error"
	}
	return err.Error()
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}
