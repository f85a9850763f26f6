// Package tempfiles owns every transient file the pipeline creates or
// downloads and guarantees that each one is eventually removed.
package tempfiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pressreel-worker/internal/metrics"
)

// DownloadError is returned when the remote side answers with a non-2xx code.
type DownloadError struct {
	URL        string
	StatusCode int
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.StatusCode)
}

// Transient reports whether retrying the download may succeed.
func (e *DownloadError) Transient() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// Manager is the process-wide registry of tracked temp files. The lock guards
// the registry only; filesystem and network I/O happen outside it.
type Manager struct {
	dir    string
	client *http.Client
	now    func() time.Time

	mu      sync.Mutex
	tracked map[string]string // path -> owner
}

type Option func(*Manager)

func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates the scratch directory if needed.
func NewManager(dir string, opts ...Option) (*Manager, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "pressreel")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	m := &Manager{
		dir:     dir,
		client:  &http.Client{Timeout: 5 * time.Minute},
		now:     time.Now,
		tracked: make(map[string]string),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

func (m *Manager) Dir() string { return m.dir }

// CreatePath returns a new tracked path in the scratch directory. The file
// itself is not created.
func (m *Manager) CreatePath(prefix, ext string) string {
	return m.createPath("", prefix, ext)
}

// Download streams url into a new tracked path. On any failure the partial
// file is removed and untracked before the error is returned.
func (m *Manager) Download(ctx context.Context, url, prefix, ext string) (string, error) {
	return m.download(ctx, "", url, prefix, ext)
}

// Track registers an externally created file. Re-tracking is a no-op.
func (m *Manager) Track(path string) {
	m.track("", path)
}

// Release removes path from the registry and deletes it. Releasing an
// untracked or already removed path is not an error.
func (m *Manager) Release(path string) error {
	m.mu.Lock()
	delete(m.tracked, path)
	n := len(m.tracked)
	m.mu.Unlock()
	metrics.SetTempFilesTracked(n)

	return removeFile(path)
}

// ReleaseAll deletes every tracked file regardless of owner and returns how
// many entries were dropped.
func (m *Manager) ReleaseAll() int {
	m.mu.Lock()
	paths := make([]string, 0, len(m.tracked))
	for p := range m.tracked {
		paths = append(paths, p)
	}
	m.tracked = make(map[string]string)
	m.mu.Unlock()
	metrics.SetTempFilesTracked(0)

	m.removeAll(paths)
	return len(paths)
}

// Tracked returns the number of registered files.
func (m *Manager) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// IsTracked reports whether path is registered.
func (m *Manager) IsTracked(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tracked[path]
	return ok
}

// TrackedBy lists the paths registered by owner.
func (m *Manager) TrackedBy(owner string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for p, o := range m.tracked {
		if o == owner {
			out = append(out, p)
		}
	}
	return out
}

// SweepOrphans deletes untracked regular files in the scratch directory whose
// modification time is older than olderThan. These are left behind by a
// process that died before it could release them.
func (m *Manager) SweepOrphans(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("read scratch dir: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		if m.IsTracked(path) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := removeFile(path); err != nil {
			zap.S().Named("tempfiles").Warnw("sweep remove failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (m *Manager) createPath(owner, prefix, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if prefix == "" {
		prefix = "tmp"
	}
	name := fmt.Sprintf("%s_%d_%s%s", prefix, m.now().UnixNano(), uuid.NewString()[:8], ext)
	path := filepath.Join(m.dir, name)
	m.track(owner, path)
	return path
}

func (m *Manager) track(owner, path string) {
	m.mu.Lock()
	if _, ok := m.tracked[path]; !ok {
		m.tracked[path] = owner
	}
	n := len(m.tracked)
	m.mu.Unlock()
	metrics.SetTempFilesTracked(n)
}

func (m *Manager) download(ctx context.Context, owner, url, prefix, ext string) (string, error) {
	path := m.createPath(owner, prefix, ext)
	if err := m.fetch(ctx, url, path); err != nil {
		if relErr := m.Release(path); relErr != nil {
			zap.S().Named("tempfiles").Warnw("release partial download failed", "path", path, "error", relErr)
		}
		return "", err
	}
	return path, nil
}

func (m *Manager) fetch(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DownloadError{URL: url, StatusCode: resp.StatusCode}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return fmt.Errorf("download %s: %w", url, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func (m *Manager) removeAll(paths []string) {
	for _, p := range paths {
		if err := removeFile(p); err != nil {
			zap.S().Named("tempfiles").Warnw("remove failed", "path", p, "error", err)
		}
	}
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
