package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"karaoke-bot/internal/models"
)

const (
	DefaultBotAPIEndpoint = "https://api.telegram.org"
	defaultPollTimeout    = 25 * time.Second

	DefaultConnectRetries = 5
	defaultConnectBackoff = 2 * time.Second
	maxConnectBackoff     = 30 * time.Second
)

type TelegramOptions struct {
	Token string
	// Endpoint is the Bot API base URL. A self-hosted Bot API server lifts the 20 MB
	// download and 50 MB upload caps of the public one.
	Endpoint    string
	PollTimeout time.Duration
	HTTPClient  *http.Client
	// ConnectRetries bounds the getMe attempts made by ConnectTelegram.
	ConnectRetries int
	// ConnectBackoff is the wait after the first failed attempt; it doubles after
	// each further failure.
	ConnectBackoff time.Duration
}

// ConnectTelegram calls NewTelegram until it succeeds, the attempts run out or ctx
// is done. The error of the last attempt is returned.
func ConnectTelegram(ctx context.Context, opts TelegramOptions) (*Telegram, error) {
	attempts := opts.ConnectRetries
	if attempts <= 0 {
		attempts = DefaultConnectRetries
	}
	backoff := opts.ConnectBackoff
	if backoff <= 0 {
		backoff = defaultConnectBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		tg, err := NewTelegram(opts)
		if err == nil {
			return tg, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		slog.Warn("Telegram connection attempt failed, retrying", "attempt", attempt, "of", attempts, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return nil, errors.Join(lastErr, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxConnectBackoff)
	}
	return nil, lastErr
}

// Telegram talks to the Bot API. It implements Transport and the polling side of
// the event subscription.
type Telegram struct {
	bot          *tgbotapi.BotAPI
	http         *http.Client
	fileEndpoint string
	pollTimeout  time.Duration
	offset       int
}

func NewTelegram(opts TelegramOptions) (*Telegram, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("missing bot token")
	}
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultBotAPIEndpoint
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 90 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		}
	}
	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, endpoint+"/bot%s/%s", client)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	slog.Info("Authorized on telegram", "username", bot.Self.UserName)

	return &Telegram{
		bot:          bot,
		http:         client,
		fileEndpoint: endpoint + "/file/bot%s/%s",
		pollTimeout:  pollTimeout,
	}, nil
}

func (t *Telegram) Username() string {
	return t.bot.Self.UserName
}

// PollQueue long-polls getUpdates and returns the messages it carries. The offset
// advances past every update returned, including ones without a message.
func (t *Telegram) PollQueue(ctx context.Context, maxMessage int) ([]models.Inbound, error) {
	cfg := tgbotapi.NewUpdate(t.offset)
	cfg.Limit = maxMessage
	cfg.Timeout = int(t.pollTimeout.Seconds())
	cfg.AllowedUpdates = []string{"message"}

	type result struct {
		updates []tgbotapi.Update
		err     error
	}
	done := make(chan result, 1)
	go func() {
		updates, err := t.bot.GetUpdates(cfg)
		done <- result{updates: updates, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return nil, fmt.Errorf("telegram getUpdates: %w", res.err)
	}

	var out []models.Inbound
	for _, u := range res.updates {
		if u.UpdateID >= t.offset {
			t.offset = u.UpdateID + 1
		}
		if in, ok := toInbound(u.Message); ok {
			out = append(out, in)
		}
	}
	return out, nil
}

func toInbound(m *tgbotapi.Message) (models.Inbound, bool) {
	if m == nil || m.Chat == nil {
		return models.Inbound{}, false
	}
	in := models.Inbound{
		ChatID:     m.Chat.ID,
		MessageID:  m.MessageID,
		Text:       m.Text,
		ReceivedAt: time.Unix(int64(m.Date), 0),
	}
	switch {
	case m.Audio != nil:
		in.Media = &models.Media{
			FileID:   m.Audio.FileID,
			FileName: m.Audio.FileName,
			MimeType: m.Audio.MimeType,
			Size:     int64(m.Audio.FileSize),
			Kind:     models.MediaAudio,
		}
	case m.Voice != nil:
		in.Media = &models.Media{
			FileID:   m.Voice.FileID,
			FileName: "voice.ogg",
			MimeType: m.Voice.MimeType,
			Size:     int64(m.Voice.FileSize),
			Kind:     models.MediaVoice,
		}
	case m.Document != nil:
		in.Media = &models.Media{
			FileID:   m.Document.FileID,
			FileName: m.Document.FileName,
			MimeType: m.Document.MimeType,
			Size:     int64(m.Document.FileSize),
			Kind:     models.MediaDocument,
		}
	}
	return in, true
}

func baseChat(chat models.ChatRef) tgbotapi.BaseChat {
	if chat.Username != "" {
		return tgbotapi.BaseChat{ChannelUsername: chat.Username}
	}
	return tgbotapi.BaseChat{ChatID: chat.ID}
}

func (t *Telegram) SendMessage(ctx context.Context, chat models.ChatRef, text string, attachment *models.Attachment) (models.MessageHandle, error) {
	var c tgbotapi.Chattable
	if attachment != nil && attachment.URL != "" {
		c = tgbotapi.PhotoConfig{
			BaseFile: tgbotapi.BaseFile{
				BaseChat: baseChat(chat),
				File:     tgbotapi.FileURL(attachment.URL),
			},
			Caption: text,
		}
	} else {
		c = tgbotapi.MessageConfig{
			BaseChat: baseChat(chat),
			Text:     text,
		}
	}

	var sent tgbotapi.Message
	err := call(ctx, func() error {
		var err error
		sent, err = t.bot.Send(c)
		return err
	})
	if err != nil {
		return models.MessageHandle{}, fmt.Errorf("telegram sendMessage: %w", err)
	}
	h := models.MessageHandle{ChatID: chat.ID, MessageID: sent.MessageID}
	if sent.Chat != nil {
		h.ChatID = sent.Chat.ID
	}
	return h, nil
}

func (t *Telegram) EditMessage(ctx context.Context, h models.MessageHandle, text string) error {
	edit := tgbotapi.NewEditMessageText(h.ChatID, h.MessageID, text)
	return call(ctx, func() error {
		if _, err := t.bot.Request(edit); err != nil {
			return fmt.Errorf("telegram editMessageText: %w", err)
		}
		return nil
	})
}

func (t *Telegram) DeleteMessage(ctx context.Context, h models.MessageHandle) error {
	del := tgbotapi.NewDeleteMessage(h.ChatID, h.MessageID)
	return call(ctx, func() error {
		if _, err := t.bot.Request(del); err != nil {
			return fmt.Errorf("telegram deleteMessage: %w", err)
		}
		return nil
	})
}

// DownloadMedia resolves the file via getFile and streams it into dstPath.
func (t *Telegram) DownloadMedia(ctx context.Context, media models.Media, dstPath string, onProgress ProgressFunc) (int64, error) {
	var file tgbotapi.File
	err := call(ctx, func() error {
		var err error
		file, err = t.bot.GetFile(tgbotapi.FileConfig{FileID: media.FileID})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("telegram getFile: %w", err)
	}
	if strings.TrimSpace(file.FilePath) == "" {
		return 0, errors.New("telegram getFile: missing file_path")
	}

	total := int64(file.FileSize)
	if total <= 0 {
		total = media.Size
	}

	out, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	var src io.ReadCloser
	// A self-hosted Bot API server in --local mode answers with an absolute path on
	// its own disk instead of a downloadable one.
	if filepath.IsAbs(file.FilePath) {
		f, err := os.Open(file.FilePath)
		if err != nil {
			return 0, fmt.Errorf("open local bot api file: %w", err)
		}
		src = f
	} else {
		url := fmt.Sprintf(t.fileEndpoint, t.bot.Token, strings.TrimLeft(file.FilePath, "/"))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return 0, err
		}
		resp, err := t.http.Do(req)
		if err != nil {
			return 0, fmt.Errorf("telegram download: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			return 0, fmt.Errorf("telegram download http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		if total <= 0 {
			total = resp.ContentLength
		}
		src = resp.Body
	}
	defer src.Close()

	pw := &progressWriter{w: out, total: total, progress: onProgress}
	n, err := io.Copy(pw, &progressReader{ctx: ctx, r: src})
	if err != nil {
		return n, err
	}
	return n, out.Close()
}

// SendFile uploads path as a document. The multipart body is streamed from a
// reader that reports progress and aborts once ctx is done.
func (t *Telegram) SendFile(ctx context.Context, chat models.ChatRef, path, caption string, replyTo int, onProgress ProgressFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("path is a directory: %s", path)
	}

	bc := baseChat(chat)
	bc.ReplyToMessageID = replyTo
	doc := tgbotapi.DocumentConfig{
		BaseFile: tgbotapi.BaseFile{
			BaseChat: bc,
			File: tgbotapi.FileReader{
				Name:   filepath.Base(path),
				Reader: &progressReader{ctx: ctx, r: f, total: st.Size(), progress: onProgress},
			},
		},
		Caption: caption,
	}
	return call(ctx, func() error {
		if _, err := t.bot.Send(doc); err != nil {
			return fmt.Errorf("telegram sendDocument: %w", err)
		}
		return nil
	})
}

// call runs a context-unaware Bot API call and stops waiting when ctx is done. The
// abandoned request is bounded by the HTTP transport timeouts.
func call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
