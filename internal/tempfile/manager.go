package tempfile

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Manager hands out unique scratch paths under one directory. A path is unique
// across concurrent callers because it combines a process-wide counter with a
// random suffix.
type Manager struct {
	dir     string
	prefix  string
	counter atomic.Uint64
	mu      sync.Mutex
	live    map[string]struct{}
}

func New(dir, prefix string) (*Manager, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if prefix == "" {
		prefix = "job"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &Manager{
		dir:    dir,
		prefix: prefix,
		live:   make(map[string]struct{}),
	}, nil
}

func (m *Manager) Dir() string {
	return m.dir
}

// Allocate reserves a path ending in ext. The file itself is not created.
func (m *Manager) Allocate(ext string) (string, error) {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate temp suffix: %w", err)
	}
	n := m.counter.Add(1)
	path := filepath.Join(m.dir, fmt.Sprintf("%s_%d_%s%s", m.prefix, n, id.String(), ext))

	m.mu.Lock()
	m.live[path] = struct{}{}
	m.mu.Unlock()
	return path, nil
}

// Release deletes path if it exists. Releasing an unknown, already released or
// never created path is not an error.
func (m *Manager) Release(path string) error {
	if path == "" {
		return nil
	}
	m.mu.Lock()
	delete(m.live, path)
	m.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove temp file %s: %w", path, err)
	}
	return nil
}

// Live returns how many allocated paths have not been released yet.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Sweep removes files with this manager's prefix that are not live, i.e. leftovers
// from a previous process.
func (m *Manager) Sweep() (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read temp dir: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), m.prefix+"_") {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		if _, ok := m.live[path]; ok {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to remove orphaned temp file", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Scope groups the paths of one job so they can be released together.
type Scope struct {
	m     *Manager
	mu    sync.Mutex
	paths []string
}

func (m *Manager) NewScope() *Scope {
	return &Scope{m: m}
}

func (s *Scope) Allocate(ext string) (string, error) {
	path, err := s.m.Allocate(ext)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
	return path, nil
}

// Close releases every path allocated through the scope. It is safe to call more
// than once; later calls have nothing left to release.
func (s *Scope) Close() error {
	s.mu.Lock()
	paths := s.paths
	s.paths = nil
	s.mu.Unlock()

	var errs []error
	for _, p := range paths {
		if err := s.m.Release(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
