package transform

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"karaoke-bot/internal/apperr"

	. "github.com/onsi/gomega"
)

// fakeFFmpeg writes a shell script standing in for ffmpeg. The output path is the
// last argument.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	return path
}

func writeInput(t *testing.T) string {
	t.Helper()
	in := filepath.Join(t.TempDir(), "in.mp3")
	if err := os.WriteFile(in, []byte("stereo"), 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return in
}

func TestArgsCarryPhaseCancelFilter(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	args := NewFFmpeg("").Args("in.mp3", "out.mp3")
	g.Expect(args).To(ContainElements("-i", "in.mp3", "-af", "pan=stereo|c0=c0-c1|c1=c1-c0"))
	g.Expect(args[len(args)-1]).To(Equal("out.mp3"))
}

func TestTransformSuccess(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	bin := fakeFFmpeg(t, `echo processed > "$last"`)
	in := writeInput(t)
	out := filepath.Join(t.TempDir(), "out.mp3")

	err := NewFFmpeg(bin).Transform(context.Background(), in, out)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out).To(BeAnExistingFile())
}

func TestTransformFailureCarriesDiagnosticAndRemovesOutput(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	bin := fakeFFmpeg(t, `echo partial > "$last"; echo "Invalid data found when processing input" >&2; exit 1`)
	in := writeInput(t)
	out := filepath.Join(t.TempDir(), "out.mp3")

	err := NewFFmpeg(bin).Transform(context.Background(), in, out)
	g.Expect(err).To(HaveOccurred())
	g.Expect(apperr.KindOf(err)).To(Equal(apperr.KindTransform))
	g.Expect(err.Error()).To(ContainSubstring("Invalid data found when processing input"))
	g.Expect(out).NotTo(BeAnExistingFile())
}

func TestTransformMissingInput(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	bin := fakeFFmpeg(t, `echo processed > "$last"`)
	out := filepath.Join(t.TempDir(), "out.mp3")

	err := NewFFmpeg(bin).Transform(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"), out)
	g.Expect(apperr.KindOf(err)).To(Equal(apperr.KindTransform))
	g.Expect(err.Error()).To(ContainSubstring("input not readable"))
}

func TestTransformNoOutputIsFailure(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	bin := fakeFFmpeg(t, `exit 0`)
	err := NewFFmpeg(bin).Transform(context.Background(), writeInput(t), filepath.Join(t.TempDir(), "out.mp3"))
	g.Expect(apperr.KindOf(err)).To(Equal(apperr.KindTransform))
	g.Expect(err.Error()).To(ContainSubstring("no output"))
}

func TestTransformHonoursDeadline(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	bin := fakeFFmpeg(t, `exec sleep 5`)
	out := filepath.Join(t.TempDir(), "out.mp3")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := NewFFmpeg(bin).Transform(ctx, writeInput(t), out)
	g.Expect(apperr.KindOf(err)).To(Equal(apperr.KindTransform))
	g.Expect(err.Error()).To(ContainSubstring("timed out"))
	g.Expect(out).NotTo(BeAnExistingFile())
}

func TestDiagnosticKeepsTail(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'a'
	}
	long = append(long, []byte("fatal: codec")...)
	d := diagnostic(long, os.ErrInvalid)
	g.Expect(d).To(HavePrefix("..."))
	g.Expect(d).To(ContainSubstring("fatal: codec"))

	g.Expect(diagnostic(nil, os.ErrInvalid)).To(Equal(os.ErrInvalid.Error()))
}

func TestTransformCancelIsNotReportedAsTimeout(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	bin := fakeFFmpeg(t, `exec sleep 5`)
	out := filepath.Join(t.TempDir(), "out.mp3")
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	err := NewFFmpeg(bin).Transform(ctx, writeInput(t), out)
	g.Expect(apperr.KindOf(err)).To(Equal(apperr.KindTransform))
	g.Expect(err).To(MatchError(context.Canceled))
	g.Expect(err.Error()).To(ContainSubstring("cancelled"))
	g.Expect(err.Error()).NotTo(ContainSubstring("timed out"))
	g.Expect(out).NotTo(BeAnExistingFile())
}

func TestDiagnosticCutsOnRuneBoundary(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	// A byte cut 1024 from the end lands inside one of the two-byte runes.
	out := []byte(strings.Repeat("é", 600) + "x")
	d := diagnostic(out, os.ErrInvalid)
	g.Expect(utf8.ValidString(d)).To(BeTrue())
	g.Expect(d).To(HavePrefix("...é"))
	g.Expect(len(d)).To(BeNumerically("<=", len("...")+maxDiagnosticBytes+len(" ()")+len(os.ErrInvalid.Error())))
}
