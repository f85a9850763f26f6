package pipeline

import (
	"context"
	"time"

	"pressreel-worker/internal/entity"
	"pressreel-worker/internal/repository"
)

// JobStore is the orchestrator's view of the job record store
// (implementations: postgresql.JobRepository, supabase.JobRepository).
// Both update methods must only apply while the stored status is
// non-terminal and return repository.ErrJobTerminal otherwise.
type JobStore interface {
	GetStatus(ctx context.Context, id string) (entity.Status, error)
	UpdateStatus(ctx context.Context, id string, status entity.Status, stamp repository.Stamp) error
	Complete(ctx context.Context, id string, result entity.Result, stamp repository.Stamp) error
}

type Analyzer interface {
	Analyze(ctx context.Context, script string) (entity.SceneTimeline, error)
}

// Synthesizer returns the URL of the synthesized audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, script, voiceID string) (string, error)
}

// MediaSearcher returns the URL of a stock asset matching keywords.
type MediaSearcher interface {
	Search(ctx context.Context, keywords []string, visualType entity.VisualType) (string, error)
}

// Assembler renders the composite and returns the rendered file path.
type Assembler interface {
	Assemble(ctx context.Context, req entity.AssemblyRequest) (string, error)
}

// Uploader stores a local file durably and returns its public URI.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

type Prober interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

type Thumbnailer interface {
	Thumbnail(ctx context.Context, videoPath, outPath string) error
}

// Collaborators groups the external services the stages call.
type Collaborators struct {
	Analyzer    Analyzer
	Synthesizer Synthesizer
	Media       MediaSearcher
	Assembler   Assembler
	Uploader    Uploader
	Prober      Prober
	Thumbnailer Thumbnailer
}
