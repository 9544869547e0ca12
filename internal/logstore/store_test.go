package logstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	. "github.com/onsi/gomega"

	"karaoke-bot/internal/models"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestAppendAndListNewestFirst(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			g := NewWithT(t)
			ctx := context.Background()

			first, err := s.Append(ctx, models.NewLogEntry{Level: models.LevelInfo, Message: "first"})
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(first.ID).To(BeNumerically(">", 0))
			_, err = s.Append(ctx, models.NewLogEntry{
				Level:   models.LevelError,
				Message: "second",
				Details: map[string]any{"chatId": float64(42), "fileName": "a.mp3"},
			})
			g.Expect(err).NotTo(HaveOccurred())

			entries, err := s.List(ctx, 0)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(entries).To(HaveLen(2))
			g.Expect(entries[0].Message).To(Equal("second"))
			g.Expect(entries[0].Level).To(Equal(models.LevelError))
			g.Expect(entries[0].Details).To(HaveKeyWithValue("fileName", "a.mp3"))
			g.Expect(entries[0].Details).To(HaveKeyWithValue("chatId", float64(42)))
			g.Expect(entries[1].Message).To(Equal("first"))
			g.Expect(entries[1].Details).To(BeNil())
		})
	}
}

func TestListHonoursLimit(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			g := NewWithT(t)
			ctx := context.Background()
			for range 5 {
				_, err := s.Append(ctx, models.NewLogEntry{Level: models.LevelWarn, Message: "tick"})
				g.Expect(err).NotTo(HaveOccurred())
			}
			entries, err := s.List(ctx, 3)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(entries).To(HaveLen(3))
			g.Expect(entries[0].ID).To(BeNumerically(">", entries[2].ID))
		})
	}
}

func TestAppendRejectsInvalidEntries(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			g := NewWithT(t)
			ctx := context.Background()

			_, err := s.Append(ctx, models.NewLogEntry{Level: "debug", Message: "x"})
			g.Expect(err).To(MatchError(ErrInvalidEntry))
			_, err = s.Append(ctx, models.NewLogEntry{Level: models.LevelInfo, Message: "  "})
			g.Expect(err).To(MatchError(ErrInvalidEntry))

			entries, err := s.List(ctx, 10)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(entries).To(BeEmpty())
		})
	}
}

func TestNormalizeLimit(t *testing.T) {
	g := NewWithT(t)
	g.Expect(NormalizeLimit(0)).To(Equal(DefaultLimit))
	g.Expect(NormalizeLimit(-3)).To(Equal(DefaultLimit))
	g.Expect(NormalizeLimit(7)).To(Equal(7))
	g.Expect(NormalizeLimit(MaxLimit + 1)).To(Equal(MaxLimit))
}

func TestObserveSeesStoredEntries(t *testing.T) {
	g := NewWithT(t)
	var seen []models.LogEntry
	s := Observe(NewMemory(), func(e models.LogEntry) { seen = append(seen, e) })

	_, err := s.Append(context.Background(), models.NewLogEntry{Level: models.LevelInfo, Message: "ok"})
	g.Expect(err).NotTo(HaveOccurred())
	_, err = s.Append(context.Background(), models.NewLogEntry{Level: models.LevelInfo})
	g.Expect(err).To(HaveOccurred())

	g.Expect(seen).To(HaveLen(1))
	g.Expect(seen[0].ID).To(Equal(int64(1)))
}

func TestConcurrentAppendsAreAllStored(t *testing.T) {
	const (
		writers   = 32
		perWriter = 20
	)
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			g := NewWithT(t)
			ctx := context.Background()

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				errs []error
			)
			for w := range writers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := range perWriter {
						_, err := s.Append(ctx, models.NewLogEntry{
							Level:   models.LevelError,
							Message: fmt.Sprintf("writer %d entry %d", w, i),
							Details: map[string]any{"writer": w},
						})
						if err != nil {
							mu.Lock()
							errs = append(errs, err)
							mu.Unlock()
						}
					}
				}()
			}
			wg.Wait()

			g.Expect(errs).To(BeEmpty())
			entries, err := s.List(ctx, MaxLimit)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(entries).To(HaveLen(writers * perWriter))
		})
	}
}
