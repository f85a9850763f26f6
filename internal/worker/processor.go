package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"pressreel-worker/internal/entity"
	"pressreel-worker/internal/repository"
)

type JobRepo interface {
	GetByID(ctx context.Context, id string) (*entity.Job, error)
}

// Runner drives one job to a terminal status (pipeline.Orchestrator).
type Runner interface {
	Run(ctx context.Context, job *entity.Job) (entity.Status, error)
}

type Processor struct {
	repo   JobRepo
	runner Runner
	log    *zap.SugaredLogger
}

func NewProcessor(repo JobRepo, runner Runner) *Processor {
	return &Processor{repo: repo, runner: runner, log: zap.S().Named("worker")}
}

// Process loads and runs one claimed job. ack reports whether the queue
// entry is done with: false leaves it to be delivered again.
func (p *Processor) Process(ctx context.Context, jobID string) (ack bool, err error) {
	start := time.Now()
	log := p.log.With("job_id", jobID)

	job, err := p.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warnw("claimed job does not exist, dropping")
			return true, err
		}
		log.Errorw("load job", "error", err)
		return false, err
	}

	log.Infow("job claimed", "status", job.Status.String(), "owner_id", job.OwnerID)

	final, err := p.runner.Run(ctx, job)
	if !final.IsTerminal() {
		// interrupted by shutdown, or the terminal status could not be
		// persisted: a later delivery settles it
		log.Warnw("job left non-terminal",
			"status", final.String(), "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return false, err
	}

	log.Infow("job finished",
		"status", final.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return true, err
}
