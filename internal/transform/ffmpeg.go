package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"karaoke-bot/internal/apperr"
)

// PhaseCancelFilter subtracts each channel from the other. Anything panned dead
// centre (usually the lead vocal) cancels out, leaving an approximate instrumental.
// It only works on stereo material with a centred vocal; mono input comes out silent
// and off-centre vocals survive.
const PhaseCancelFilter = "pan=stereo|c0=c0-c1|c1=c1-c0"

const maxDiagnosticBytes = 1024

type Transformer interface {
	Transform(ctx context.Context, inputPath, outputPath string) error
}

type FFmpeg struct {
	Binary string
	Filter string
}

func NewFFmpeg(binary string) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{
		Binary: binary,
		Filter: PhaseCancelFilter,
	}
}

func (f *FFmpeg) Args(inputPath, outputPath string) []string {
	filter := f.Filter
	if filter == "" {
		filter = PhaseCancelFilter
	}
	return []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-i", inputPath,
		"-af", filter,
		outputPath,
	}
}

// Transform writes the filtered audio to outputPath. On any failure the output file
// is removed so callers never see a partial result.
func (f *FFmpeg) Transform(ctx context.Context, inputPath, outputPath string) error {
	if _, err := os.Stat(inputPath); err != nil {
		return apperr.Transform(fmt.Sprintf("input not readable: %v", err), err)
	}

	args := f.Args(inputPath, outputPath)
	slog.Debug("Executing ffmpeg", "binary", f.Binary, "args", args)

	cmd := exec.CommandContext(ctx, f.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr

	start := time.Now()
	err := cmd.Run()
	if err == nil {
		if _, statErr := os.Stat(outputPath); statErr != nil {
			err = fmt.Errorf("ffmpeg produced no output: %w", statErr)
		}
	}
	if err != nil {
		removePartial(outputPath)
		switch ctxErr := ctx.Err(); {
		case errors.Is(ctxErr, context.DeadlineExceeded):
			return apperr.Transform(fmt.Sprintf("ffmpeg timed out: %v", ctxErr), ctxErr)
		case ctxErr != nil:
			return apperr.Transform(fmt.Sprintf("ffmpeg cancelled: %v", ctxErr), ctxErr)
		}
		return apperr.Transform(diagnostic(stderr.Bytes(), err), err)
	}
	slog.Debug("ffmpeg finished", "output", outputPath, "elapsed", time.Since(start))
	return nil
}

func removePartial(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to remove partial ffmpeg output", "path", path, "error", err)
	}
}

// diagnostic keeps the tail of the tool output, where ffmpeg reports the fatal error.
func diagnostic(out []byte, err error) string {
	text := strings.TrimSpace(string(out))
	if len(text) > maxDiagnosticBytes {
		cut := len(text) - maxDiagnosticBytes
		for cut < len(text) && !utf8.RuneStart(text[cut]) {
			cut++
		}
		text = "..." + text[cut:]
	}
	if text == "" {
		return err.Error()
	}
	return fmt.Sprintf("%s (%v)", text, err)
}
