package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pressreel-worker/internal/service"
)

// JobProcessor runs one claimed job id.
type JobProcessor interface {
	Process(ctx context.Context, jobID string) (ack bool, err error)
}

type Pool struct {
	queue      service.Queue
	processor  JobProcessor
	workers    int
	claimDelay time.Duration
	heartbeat  time.Duration
	log        *zap.SugaredLogger
}

func NewPool(queue service.Queue, processor JobProcessor, workers int, heartbeat time.Duration) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		claimDelay: 5 * time.Second,
		heartbeat:  heartbeat,
		log:        zap.S().Named("worker"),
	}
}

// Run claims jobs until ctx is done, then waits for in-flight jobs to
// observe the cancellation and return.
func (p *Pool) Run(ctx context.Context) {
	p.log.Infow("worker pool started", "workers", p.workers)

	jobCh := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for jobID := range jobCh {
				p.handle(ctx, n, jobID)
			}
		}(i + 1)
	}

	defer func() {
		close(jobCh)
		wg.Wait()
		p.log.Infow("worker pool stopped")
	}()

	// listener: atomically claim from queue -> processing
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
				p.log.Warnw("claim job", "error", err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
				}
			}
			continue
		}
		select {
		case jobCh <- jobID:
		case <-ctx.Done():
			// claimed but never started: stays in processing for the reaper
			return
		}
	}
}

func (p *Pool) handle(ctx context.Context, n int, jobID string) {
	log := p.log.With("worker", n, "job_id", jobID)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go p.keepAlive(hbCtx, jobID)

	ack, err := p.processor.Process(ctx, jobID)
	stopHeartbeat()
	if err != nil {
		log.Warnw("process job", "error", err, "ack", ack)
	}
	if !ack {
		return
	}

	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.queue.Ack(ackCtx, jobID); err != nil {
		log.Errorw("ack job", "error", err)
	}
}

// keepAlive refreshes the claim of a running job so the reaper does not
// hand it to another worker.
func (p *Pool) keepAlive(ctx context.Context, jobID string) {
	t := time.NewTicker(p.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.queue.Touch(ctx, jobID); err != nil && ctx.Err() == nil {
				p.log.Warnw("refresh claim", "job_id", jobID, "error", err)
			}
		}
	}
}
