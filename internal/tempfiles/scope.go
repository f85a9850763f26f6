package tempfiles

import (
	"context"

	"pressreel-worker/internal/metrics"
)

// Scope is a job's view of the shared Manager. Paths it creates are tagged
// with the job as owner so that ReleaseAll on the scope never touches files
// belonging to other jobs.
type Scope struct {
	m     *Manager
	owner string
}

// Scope returns the handle for one job.
func (m *Manager) Scope(owner string) *Scope {
	return &Scope{m: m, owner: owner}
}

func (s *Scope) Owner() string { return s.owner }

func (s *Scope) CreatePath(prefix, ext string) string {
	return s.m.createPath(s.owner, prefix, ext)
}

func (s *Scope) Download(ctx context.Context, url, prefix, ext string) (string, error) {
	return s.m.download(ctx, s.owner, url, prefix, ext)
}

func (s *Scope) Track(path string) {
	s.m.track(s.owner, path)
}

func (s *Scope) Release(path string) error {
	return s.m.Release(path)
}

// Tracked lists the paths currently registered by this scope.
func (s *Scope) Tracked() []string {
	return s.m.TrackedBy(s.owner)
}

// ReleaseAll deletes every file this scope still tracks.
func (s *Scope) ReleaseAll() int {
	s.m.mu.Lock()
	var paths []string
	for p, o := range s.m.tracked {
		if o == s.owner {
			paths = append(paths, p)
			delete(s.m.tracked, p)
		}
	}
	n := len(s.m.tracked)
	s.m.mu.Unlock()
	metrics.SetTempFilesTracked(n)

	s.m.removeAll(paths)
	return len(paths)
}
