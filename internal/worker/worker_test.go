package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressreel-worker/internal/entity"
	"pressreel-worker/internal/repository"
	"pressreel-worker/internal/worker"
)

// ---- processor ----

type repoStub struct {
	jobs map[string]*entity.Job
	err  error
}

func (r *repoStub) GetByID(ctx context.Context, id string) (*entity.Job, error) {
	if r.err != nil {
		return nil, r.err
	}
	j, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return j, nil
}

type runnerStub struct {
	final entity.Status
	err   error
	runs  int
}

func (r *runnerStub) Run(ctx context.Context, job *entity.Job) (entity.Status, error) {
	r.runs++
	return r.final, r.err
}

func TestProcessor_AckDecision(t *testing.T) {
	jobs := map[string]*entity.Job{"j1": {ID: "j1", Status: entity.Processing()}}

	tests := []struct {
		name    string
		repo    *repoStub
		runner  *runnerStub
		wantAck bool
		wantRun int
	}{
		{"completed", &repoStub{jobs: jobs}, &runnerStub{final: entity.Completed()}, true, 1},
		{"failed", &repoStub{jobs: jobs}, &runnerStub{final: entity.Failed("x"), err: errors.New("x")}, true, 1},
		{"cancelled", &repoStub{jobs: jobs}, &runnerStub{final: entity.Cancelled()}, true, 1},
		{"interrupted", &repoStub{jobs: jobs}, &runnerStub{final: entity.GatheringVisuals(), err: context.Canceled}, false, 1},
		{"missing job", &repoStub{jobs: map[string]*entity.Job{}}, &runnerStub{}, true, 0},
		{"store down", &repoStub{err: errors.New("conn refused")}, &runnerStub{}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := worker.NewProcessor(tt.repo, tt.runner)
			ack, _ := p.Process(context.Background(), "j1")
			assert.Equal(t, tt.wantAck, ack)
			assert.Equal(t, tt.wantRun, tt.runner.runs)
		})
	}
}

// ---- pool ----

type queueStub struct {
	mu      sync.Mutex
	pending []string
	acked   []string
	touched int
}

func (q *queueStub) Enqueue(ctx context.Context, jobID string, priority int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, jobID)
	return nil
}

func (q *queueStub) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	q.mu.Lock()
	if len(q.pending) > 0 {
		id := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
		return id, nil
	}
	q.mu.Unlock()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return "", redis.Nil
	}
}

func (q *queueStub) Ack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, jobID)
	return nil
}

func (q *queueStub) Touch(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.touched++
	return nil
}

func (q *queueStub) RequeueStale(ctx context.Context, olderThan time.Duration, max int64) (int64, error) {
	return 0, nil
}

func (q *queueStub) ackedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}

type processorFunc func(ctx context.Context, jobID string) (bool, error)

func (f processorFunc) Process(ctx context.Context, jobID string) (bool, error) { return f(ctx, jobID) }

func TestPool_AcksOnlyFinishedJobs(t *testing.T) {
	q := &queueStub{pending: []string{"done-1", "retry-1", "done-2"}}
	proc := processorFunc(func(ctx context.Context, id string) (bool, error) {
		return id != "retry-1", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		worker.NewPool(q, proc, 2, time.Second).Run(ctx)
		close(finished)
	}()

	require.Eventually(t, func() bool { return len(q.ackedIDs()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-finished

	assert.ElementsMatch(t, []string{"done-1", "done-2"}, q.ackedIDs())
}

func TestPool_WaitsForInFlightJobsOnShutdown(t *testing.T) {
	q := &queueStub{pending: []string{"long"}}
	started := make(chan struct{})
	var observed bool
	proc := processorFunc(func(ctx context.Context, id string) (bool, error) {
		close(started)
		<-ctx.Done()
		observed = true
		return false, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		worker.NewPool(q, proc, 1, time.Second).Run(ctx)
		close(finished)
	}()

	<-started
	cancel()
	<-finished

	assert.True(t, observed)
	assert.Empty(t, q.ackedIDs())
}

func TestPool_HeartbeatsWhileProcessing(t *testing.T) {
	q := &queueStub{pending: []string{"slow"}}
	proc := processorFunc(func(ctx context.Context, id string) (bool, error) {
		time.Sleep(60 * time.Millisecond)
		return true, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.NewPool(q, proc, 1, 10*time.Millisecond).Run(ctx)

	require.Eventually(t, func() bool { return len(q.ackedIDs()) == 1 }, 2*time.Second, 5*time.Millisecond)
	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Greater(t, q.touched, 0)
}
