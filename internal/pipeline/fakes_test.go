package pipeline_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pressreel-worker/internal/entity"
	"pressreel-worker/internal/errpolicy"
	"pressreel-worker/internal/pipeline"
	"pressreel-worker/internal/repository"
	"pressreel-worker/internal/tempfiles"
)

// ---- store ----

type write struct {
	status entity.Status
	stamp  repository.Stamp
}

type memStore struct {
	mu      sync.Mutex
	status  map[string]entity.Status
	result  map[string]entity.Result
	writes  []write
	history []entity.Status

	// failServerWrites makes every write with a server stamp fail.
	failServerWrites bool
	// failAllWrites makes every write fail.
	failAllWrites bool
}

func newMemStore(ids ...string) *memStore {
	s := &memStore{status: map[string]entity.Status{}, result: map[string]entity.Result{}}
	for _, id := range ids {
		s.status[id] = entity.Processing()
	}
	return s
}

func (s *memStore) GetStatus(ctx context.Context, id string) (entity.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[id]
	if !ok {
		return entity.Status{}, repository.ErrNotFound
	}
	return st, nil
}

func (s *memStore) apply(id string, st entity.Status, stamp repository.Stamp) error {
	if s.failAllWrites || (s.failServerWrites && stamp.IsServer()) {
		return errors.New("metadata service unavailable")
	}
	cur, ok := s.status[id]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.IsTerminal() {
		return repository.ErrJobTerminal
	}
	s.status[id] = st
	s.writes = append(s.writes, write{status: st, stamp: stamp})
	s.history = append(s.history, st)
	return nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id string, st entity.Status, stamp repository.Stamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(id, st, stamp)
}

func (s *memStore) Complete(ctx context.Context, id string, res entity.Result, stamp repository.Stamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.apply(id, entity.Completed(), stamp); err != nil {
		return err
	}
	s.result[id] = res
	return nil
}

// cancel simulates a client setting the job to cancelled.
func (s *memStore) cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = entity.Cancelled()
}

func (s *memStore) persisted() []entity.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.Status(nil), s.history...)
}

func (s *memStore) failedWrites() int {
	n := 0
	for _, st := range s.persisted() {
		if st.IsFailure() {
			n++
		}
	}
	return n
}

// ---- collaborators ----

func validTimeline() entity.SceneTimeline {
	fade := "fade"
	return entity.SceneTimeline{
		Keywords: []string{"City", "night"},
		Scenes: []entity.Scene{
			{Start: 0, Duration: 6, Keywords: []string{"city"}, Mood: "calm", VisualType: entity.VisualBRoll},
			{Start: 6, Duration: 6, Keywords: []string{"city"}, Mood: "calm", VisualType: entity.VisualBRoll, Transition: &fade},
			{Start: 12, Duration: 6, Keywords: []string{"coffee"}, Mood: "warm", VisualType: entity.VisualStaticImage},
			{Start: 18, Duration: 6, Mood: "upbeat", VisualType: entity.VisualOverlay},
			{Start: 24, Duration: 6, Keywords: []string{"sunrise"}, Mood: "hopeful", VisualType: entity.VisualTalkingHead},
		},
	}
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	timeline entity.SceneTimeline
	err      error
	calls    int
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, script string) (entity.SceneTimeline, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.timeline, a.err
}

type fakeSynth struct {
	mu       sync.Mutex
	url      string
	failures int // leading transient failures
	calls    int
}

func (s *fakeSynth) Synthesize(ctx context.Context, script, voiceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return "", errpolicy.MarkTransient(errors.New("tts 503"))
	}
	return s.url, nil
}

type fakeMedia struct {
	mu       sync.Mutex
	base     string
	calls    int
	onSearch func()
}

func (m *fakeMedia) Search(ctx context.Context, keywords []string, vt entity.VisualType) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.onSearch != nil {
		m.onSearch()
	}
	if vt == entity.VisualStaticImage {
		return m.base + "/asset.jpg", nil
	}
	return m.base + "/asset.mp4", nil
}

type fakeAssembler struct {
	mu    sync.Mutex
	calls int
	err   error
	req   entity.AssemblyRequest
}

func (a *fakeAssembler) Assemble(ctx context.Context, req entity.AssemblyRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.req = req
	if a.err != nil {
		return "", a.err
	}
	if err := os.WriteFile(req.OutputPath, []byte("mp4"), 0o644); err != nil {
		return "", err
	}
	return req.OutputPath, nil
}

type fakeUploader struct {
	mu   sync.Mutex
	keys []string
}

func (u *fakeUploader) Upload(ctx context.Context, localPath, key string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.keys = append(u.keys, key)
	return "https://cdn.example.test/" + key, nil
}

type fakeProber struct{}

func (fakeProber) Duration(ctx context.Context, path string) (time.Duration, error) {
	return 30 * time.Second, nil
}

type fakeThumbnailer struct{}

func (fakeThumbnailer) Thumbnail(ctx context.Context, videoPath, outPath string) error {
	return os.WriteFile(outPath, []byte("jpg"), 0o644)
}

// ---- harness ----

type harness struct {
	store     *memStore
	temp      *tempfiles.Manager
	analyzer  *fakeAnalyzer
	synth     *fakeSynth
	media     *fakeMedia
	assembler *fakeAssembler
	uploader  *fakeUploader
	orch      *pipeline.Orchestrator
}

func newHarness(t *testing.T, jobID string) *harness {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	t.Cleanup(srv.Close)

	temp, err := tempfiles.NewManager(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		store:     newMemStore(jobID),
		temp:      temp,
		analyzer:  &fakeAnalyzer{timeline: validTimeline()},
		synth:     &fakeSynth{url: srv.URL + "/voice.mp3"},
		media:     &fakeMedia{base: srv.URL},
		assembler: &fakeAssembler{},
		uploader:  &fakeUploader{},
	}
	h.orch = pipeline.NewOrchestrator(h.store, temp, pipeline.Collaborators{
		Analyzer:    h.analyzer,
		Synthesizer: h.synth,
		Media:       h.media,
		Assembler:   h.assembler,
		Uploader:    h.uploader,
		Prober:      fakeProber{},
		Thumbnailer: fakeThumbnailer{},
	}, errpolicy.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	return h
}

func newJob(id string) *entity.Job {
	return &entity.Job{
		ID:      id,
		Script:  "A short story about a city waking up.",
		VoiceID: "voice-1",
		Tone:    "calm",
		OwnerID: "user-1",
		Status:  entity.Processing(),
	}
}
