package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pressreel-worker/internal/entity"
	"pressreel-worker/internal/repository"
	"pressreel-worker/internal/service"
	httptransport "pressreel-worker/internal/transport/http"
)

// ---- fakes ----

type repoWithJobs struct {
	createID string
	jobs     map[string]*entity.Job
}

func (r *repoWithJobs) Create(ctx context.Context, job *entity.Job) (string, error) {
	now := time.Now().UTC()
	stored := *job
	stored.ID = r.createID
	stored.CreatedAt = now
	stored.UpdatedAt = now

	if r.jobs == nil {
		r.jobs = map[string]*entity.Job{}
	}
	r.jobs[r.createID] = &stored
	return r.createID, nil
}

func (r *repoWithJobs) GetByID(ctx context.Context, id string) (*entity.Job, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return j, nil
}

func (r *repoWithJobs) Cancel(ctx context.Context, id string) error {
	j, ok := r.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if j.Status.IsTerminal() {
		return repository.ErrJobTerminal
	}
	j.Status = entity.Cancelled()
	return nil
}

type queueStub struct {
	enqueuedIDs        []string
	enqueuedPriorities []int
}

func (q *queueStub) Enqueue(ctx context.Context, jobID string, priority int) error {
	q.enqueuedIDs = append(q.enqueuedIDs, jobID)
	q.enqueuedPriorities = append(q.enqueuedPriorities, priority)
	return nil
}

// ---- helpers ----

func newTestRouter(repo service.JobRepository, queue service.JobQueue) http.Handler {
	svc := service.NewJobService(repo, queue)
	h := httptransport.NewHandler(svc)
	return httptransport.Routes(h, nil)
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

const createBody = `{"script":"Three habits that changed my mornings.","voice_id":"voice-1","tone":"calm","owner_id":"user-1","priority":2}`

// ---- tests ----

func TestHTTP_CreateJob_201_ThenProcessing(t *testing.T) {
	id := "33333333-3333-3333-3333-333333333333"

	repo := &repoWithJobs{createID: id}
	queue := &queueStub{}
	router := newTestRouter(repo, queue)

	rr := do(router, http.MethodPost, "/jobs", createBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d, body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json response: %v, body=%s", err, rr.Body.String())
	}
	if resp.ID != id {
		t.Fatalf("expected id=%s, got %s", id, resp.ID)
	}
	if len(queue.enqueuedIDs) != 1 || queue.enqueuedIDs[0] != id {
		t.Fatalf("expected enqueue id=%s, got %#v", id, queue.enqueuedIDs)
	}
	if queue.enqueuedPriorities[0] != 2 {
		t.Fatalf("expected enqueue priority=2, got %#v", queue.enqueuedPriorities)
	}

	rr2 := do(router, http.MethodGet, "/jobs/"+id, "")
	if rr2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr2.Code, rr2.Body.String())
	}

	var got map[string]any
	if err := json.Unmarshal(rr2.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v, body=%s", err, rr2.Body.String())
	}
	if got["status"] != "processing" {
		t.Fatalf("expected status=processing, got %v", got["status"])
	}
	if got["progress"] != float64(0) {
		t.Fatalf("expected progress=0, got %v", got["progress"])
	}
	if got["tone"] != "calm" || got["voice_id"] != "voice-1" || got["owner_id"] != "user-1" {
		t.Fatalf("unexpected job view %v", got)
	}
	if _, ok := got["error"]; ok {
		t.Fatalf("expected no error field, got %v", got["error"])
	}
}

func TestHTTP_CreateJob_400(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"script":`},
		{"missing script", `{"voice_id":"v","tone":"calm","owner_id":"u"}`},
		{"unknown tone", `{"script":"s","voice_id":"v","tone":"sarcastic","owner_id":"u"}`},
		{"priority out of range", `{"script":"s","voice_id":"v","tone":"calm","owner_id":"u","priority":7}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &queueStub{}
			router := newTestRouter(&repoWithJobs{createID: "x"}, queue)

			rr := do(router, http.MethodPost, "/jobs", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d, body=%s", rr.Code, rr.Body.String())
			}
			if len(queue.enqueuedIDs) != 0 {
				t.Fatalf("expected nothing enqueued, got %#v", queue.enqueuedIDs)
			}
		})
	}
}

func TestHTTP_GetJob_FailedCarriesReason(t *testing.T) {
	id := "44444444-4444-4444-4444-444444444444"
	repo := &repoWithJobs{jobs: map[string]*entity.Job{
		id: {ID: id, Status: entity.Failed("analyze: external service unavailable, retries exhausted")},
	}}
	router := newTestRouter(repo, &queueStub{})

	rr := do(router, http.MethodGet, "/jobs/"+id, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if got["status"] != "failed" {
		t.Fatalf("expected failed, got %v", got["status"])
	}
	if got["error"] != "analyze: external service unavailable, retries exhausted" {
		t.Fatalf("unexpected error %v", got["error"])
	}
}

func TestHTTP_GetJob_404(t *testing.T) {
	router := newTestRouter(&repoWithJobs{}, &queueStub{})

	rr := do(router, http.MethodGet, "/jobs/99999999-9999-9999-9999-999999999999", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHTTP_CancelJob(t *testing.T) {
	running := "55555555-5555-5555-5555-555555555555"
	done := "66666666-6666-6666-6666-666666666666"
	repo := &repoWithJobs{jobs: map[string]*entity.Job{
		running: {ID: running, Status: entity.GatheringVisuals()},
		done:    {ID: done, Status: entity.Completed()},
	}}
	router := newTestRouter(repo, &queueStub{})

	if rr := do(router, http.MethodPost, "/jobs/"+running+"/cancel", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if repo.jobs[running].Status != entity.Cancelled() {
		t.Fatalf("expected cancelled, got %s", repo.jobs[running].Status)
	}

	if rr := do(router, http.MethodPost, "/jobs/"+done+"/cancel", ""); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if repo.jobs[done].Status != entity.Completed() {
		t.Fatalf("terminal job must stay completed, got %s", repo.jobs[done].Status)
	}

	if rr := do(router, http.MethodPost, "/jobs/missing/cancel", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHTTP_GetJobResult_409_WhenNotCompleted(t *testing.T) {
	id := "77777777-7777-7777-7777-777777777777"
	repo := &repoWithJobs{jobs: map[string]*entity.Job{
		id: {ID: id, Status: entity.AssemblingVideo()},
	}}
	router := newTestRouter(repo, &queueStub{})

	rr := do(router, http.MethodGet, "/jobs/"+id+"/result", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHTTP_GetJobResult_200_WhenCompleted(t *testing.T) {
	id := "88888888-8888-8888-8888-888888888888"
	video, thumb := "https://cdn.example.test/jobs/x/video.mp4", "https://cdn.example.test/jobs/x/thumb.jpg"
	repo := &repoWithJobs{jobs: map[string]*entity.Job{
		id: {ID: id, Status: entity.Completed(), VideoURI: &video, ThumbnailURI: &thumb},
	}}
	router := newTestRouter(repo, &queueStub{})

	rr := do(router, http.MethodGet, "/jobs/"+id+"/result", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	var got struct {
		VideoURI     string `json:"video_uri"`
		ThumbnailURI string `json:"thumbnail_uri"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got.VideoURI != video || got.ThumbnailURI != thumb {
		t.Fatalf("unexpected result %#v", got)
	}
}

func TestHTTP_Health(t *testing.T) {
	router := newTestRouter(&repoWithJobs{}, &queueStub{})

	rr := do(router, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", rr.Code, rr.Body.String())
	}
}
