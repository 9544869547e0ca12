package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"karaoke-bot/internal/apperr"
	"karaoke-bot/internal/models"
	"karaoke-bot/internal/transport"
)

const MissingTelegramCredentials = "Missing Telegram credentials (API_ID, API_HASH, BOT_TOKEN)"

const (
	DefaultMaxFileSize       = 500 << 20
	DefaultMaxConcurrentJobs = 4
	DefaultQueueCapacity     = 64
	DefaultHTTPAddr          = ":8080"
	DefaultDataDir           = ".data"
	DefaultWelcomeImage      = "https://imageupscaler.com/wp-content/uploads/2024/11/image-before-using-upscale-anime-pfp-tool.jpg"
)

type Config struct {
	APIID    int
	APIHash  string
	BotToken string
	// LogChannel receives a copy of each processed file; nil when unset.
	LogChannel *models.ChatRef
	// OwnerID is accepted for compatibility and not used by the pipeline.
	OwnerID int64

	MaxFileSize       int64
	MaxConcurrentJobs int
	QueueCapacity     int
	TempDir           string
	FFmpegPath        string
	DownloadTimeout   time.Duration
	TransformTimeout  time.Duration
	UploadTimeout     time.Duration

	HTTPAddr       string
	DatabaseURL    string
	DataDir        string
	BotAPIEndpoint string
	WelcomeImage   string
	LogLevel       slog.Level
}

// NewViper returns a viper instance reading the process environment, with every
// default set. Callers may bind flags to it before LoadFromEnv.
func NewViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("max_file_size", DefaultMaxFileSize)
	v.SetDefault("max_concurrent_jobs", DefaultMaxConcurrentJobs)
	v.SetDefault("queue_capacity", DefaultQueueCapacity)
	v.SetDefault("temp_dir", filepath.Join(os.TempDir(), "karaoke-bot"))
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("download_timeout", "10m")
	v.SetDefault("transform_timeout", "15m")
	v.SetDefault("upload_timeout", "10m")
	v.SetDefault("http_addr", DefaultHTTPAddr)
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("bot_api_endpoint", transport.DefaultBotAPIEndpoint)
	v.SetDefault("welcome_image", DefaultWelcomeImage)
	v.SetDefault("log_level", "info")
	return v
}

// LoadEnvFile loads KEY=VALUE pairs into the environment without overriding
// variables already set. An empty path means ./.env, which may be absent.
func LoadEnvFile(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return apperr.Config(fmt.Sprintf("failed to read .env: %v", err))
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return apperr.Config(fmt.Sprintf("failed to read %s: %v", path, err))
	}
	return nil
}

// LoadFromEnv reads the configuration from v. Credentials are not checked here,
// see RequireTelegram; malformed values are a ConfigError.
func LoadFromEnv(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = NewViper()
	}
	p := parser{v: v}
	cfg := &Config{
		APIHash:           strings.TrimSpace(v.GetString("api_hash")),
		BotToken:          strings.TrimSpace(v.GetString("bot_token")),
		APIID:             p.intVal("api_id", 0),
		OwnerID:           p.int64Val("owner_id", 0),
		MaxFileSize:       p.int64Val("max_file_size", DefaultMaxFileSize),
		MaxConcurrentJobs: p.intVal("max_concurrent_jobs", DefaultMaxConcurrentJobs),
		QueueCapacity:     p.intVal("queue_capacity", DefaultQueueCapacity),
		TempDir:           strings.TrimSpace(v.GetString("temp_dir")),
		FFmpegPath:        strings.TrimSpace(v.GetString("ffmpeg_path")),
		DownloadTimeout:   p.duration("download_timeout"),
		TransformTimeout:  p.duration("transform_timeout"),
		UploadTimeout:     p.duration("upload_timeout"),
		HTTPAddr:          strings.TrimSpace(v.GetString("http_addr")),
		DatabaseURL:       strings.TrimSpace(v.GetString("database_url")),
		DataDir:           strings.TrimSpace(v.GetString("data_dir")),
		BotAPIEndpoint:    strings.TrimSpace(v.GetString("bot_api_endpoint")),
		WelcomeImage:      strings.TrimSpace(v.GetString("welcome_image")),
	}
	if ref, ok := models.ParseChatRef(v.GetString("log_channel")); ok {
		cfg.LogChannel = &ref
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		p.fail("LOG_LEVEL", v.GetString("log_level"))
	}
	if cfg.MaxFileSize <= 0 {
		p.fail("MAX_FILE_SIZE", v.GetString("max_file_size"))
	}
	if cfg.QueueCapacity <= 0 {
		p.fail("QUEUE_CAPACITY", v.GetString("queue_capacity"))
	}
	if cfg.MaxConcurrentJobs < 0 {
		cfg.MaxConcurrentJobs = 0
	}
	if len(p.bad) > 0 {
		return nil, apperr.Config("invalid configuration: " + strings.Join(p.bad, ", "))
	}
	return cfg, nil
}

// RequireTelegram reports a ConfigError when any Bot API credential is missing.
func (c *Config) RequireTelegram() error {
	if c.APIID == 0 || c.APIHash == "" || c.BotToken == "" {
		return apperr.Config(MissingTelegramCredentials)
	}
	return nil
}

type parser struct {
	v   *viper.Viper
	bad []string
}

func (p *parser) fail(key, raw string) {
	p.bad = append(p.bad, fmt.Sprintf("%s=%q", key, raw))
}

func (p *parser) raw(key string) string {
	return strings.TrimSpace(p.v.GetString(key))
}

func (p *parser) int64Val(key string, def int64) int64 {
	raw := p.raw(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.fail(strings.ToUpper(key), raw)
		return def
	}
	return n
}

func (p *parser) intVal(key string, def int) int {
	return int(p.int64Val(key, int64(def)))
}

// duration accepts Go durations ("90s", "10m") or a plain number of seconds.
func (p *parser) duration(key string) time.Duration {
	raw := p.raw(key)
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		p.fail(strings.ToUpper(key), raw)
		return 0
	}
	return d
}
