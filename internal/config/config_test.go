package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"karaoke-bot/internal/apperr"
	"karaoke-bot/internal/models"
)

var envKeys = []string{
	"API_ID", "API_HASH", "BOT_TOKEN", "LOG_CHANNEL", "OWNER_ID", "MAX_FILE_SIZE",
	"MAX_CONCURRENT_JOBS", "QUEUE_CAPACITY", "TEMP_DIR", "FFMPEG_PATH", "DOWNLOAD_TIMEOUT",
	"TRANSFORM_TIMEOUT", "UPLOAD_TIMEOUT", "HTTP_ADDR", "DATABASE_URL", "DATA_DIR",
	"BOT_API_ENDPOINT", "WELCOME_IMAGE", "LOG_LEVEL",
}

// clearEnv blanks every recognised variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	g := NewWithT(t)

	cfg, err := LoadFromEnv(nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.MaxFileSize).To(Equal(int64(500 << 20)))
	g.Expect(cfg.MaxConcurrentJobs).To(Equal(4))
	g.Expect(cfg.QueueCapacity).To(Equal(64))
	g.Expect(cfg.FFmpegPath).To(Equal("ffmpeg"))
	g.Expect(cfg.DownloadTimeout).To(Equal(10 * time.Minute))
	g.Expect(cfg.TransformTimeout).To(Equal(15 * time.Minute))
	g.Expect(cfg.UploadTimeout).To(Equal(10 * time.Minute))
	g.Expect(cfg.HTTPAddr).To(Equal(":8080"))
	g.Expect(cfg.DataDir).To(Equal(".data"))
	g.Expect(cfg.BotAPIEndpoint).To(Equal("https://api.telegram.org"))
	g.Expect(cfg.WelcomeImage).To(Equal(DefaultWelcomeImage))
	g.Expect(cfg.LogLevel).To(Equal(slog.LevelInfo))
	g.Expect(cfg.LogChannel).To(BeNil())
	g.Expect(cfg.TempDir).To(HaveSuffix("karaoke-bot"))
}

func TestOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	g := NewWithT(t)
	t.Setenv("API_ID", "12345")
	t.Setenv("API_HASH", "hash")
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("LOG_CHANNEL", "-1001234567890")
	t.Setenv("OWNER_ID", "99")
	t.Setenv("MAX_FILE_SIZE", "1048576")
	t.Setenv("MAX_CONCURRENT_JOBS", "0")
	t.Setenv("DOWNLOAD_TIMEOUT", "90")
	t.Setenv("UPLOAD_TIMEOUT", "2m30s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv(NewViper())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.RequireTelegram()).To(Succeed())
	g.Expect(cfg.APIID).To(Equal(12345))
	g.Expect(cfg.OwnerID).To(Equal(int64(99)))
	g.Expect(cfg.LogChannel).To(Equal(&models.ChatRef{ID: -1001234567890}))
	g.Expect(cfg.MaxFileSize).To(Equal(int64(1 << 20)))
	g.Expect(cfg.MaxConcurrentJobs).To(Equal(0))
	g.Expect(cfg.DownloadTimeout).To(Equal(90 * time.Second))
	g.Expect(cfg.UploadTimeout).To(Equal(150 * time.Second))
	g.Expect(cfg.LogLevel).To(Equal(slog.LevelDebug))
}

func TestLogChannelUsername(t *testing.T) {
	clearEnv(t)
	g := NewWithT(t)
	t.Setenv("LOG_CHANNEL", "karaoke_logs")

	cfg, err := LoadFromEnv(nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.LogChannel.String()).To(Equal("@karaoke_logs"))
}

func TestMissingCredentialsIsConfigError(t *testing.T) {
	clearEnv(t)
	g := NewWithT(t)
	t.Setenv("BOT_TOKEN", "123:abc")

	cfg, err := LoadFromEnv(nil)
	g.Expect(err).NotTo(HaveOccurred())
	err = cfg.RequireTelegram()
	g.Expect(apperr.KindOf(err)).To(Equal(apperr.KindConfig))
	g.Expect(err.Error()).To(Equal(MissingTelegramCredentials))
}

func TestMalformedValues(t *testing.T) {
	clearEnv(t)
	g := NewWithT(t)
	t.Setenv("API_ID", "not-a-number")
	t.Setenv("TRANSFORM_TIMEOUT", "soon")
	t.Setenv("QUEUE_CAPACITY", "0")

	_, err := LoadFromEnv(nil)
	g.Expect(apperr.KindOf(err)).To(Equal(apperr.KindConfig))
	g.Expect(err.Error()).To(ContainSubstring(`API_ID="not-a-number"`))
	g.Expect(err.Error()).To(ContainSubstring(`TRANSFORM_TIMEOUT="soon"`))
	g.Expect(err.Error()).To(ContainSubstring("QUEUE_CAPACITY"))
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	g := NewWithT(t)
	path := filepath.Join(t.TempDir(), "bot.env")
	g.Expect(os.WriteFile(path, []byte("API_HASH=from-file\nHTTP_ADDR=:9999\n"), 0o600)).To(Succeed())
	t.Setenv("HTTP_ADDR", ":7000")
	t.Cleanup(func() { os.Unsetenv("API_HASH") })

	g.Expect(LoadEnvFile(path)).To(Succeed())
	cfg, err := LoadFromEnv(nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.APIHash).To(Equal("from-file"))
	// the process environment wins over the file
	g.Expect(cfg.HTTPAddr).To(Equal(":7000"))

	err = LoadEnvFile(filepath.Join(t.TempDir(), "missing.env"))
	g.Expect(apperr.KindOf(err)).To(Equal(apperr.KindConfig))
}
