// Package pipeline drives one job through analysis, voiceover, visuals,
// assembly and finalization.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"pressreel-worker/internal/entity"
	"pressreel-worker/internal/errpolicy"
	"pressreel-worker/internal/metrics"
	"pressreel-worker/internal/repository"
	"pressreel-worker/internal/tempfiles"
)

type Orchestrator struct {
	store    JobStore
	temp     *tempfiles.Manager
	c        Collaborators
	policy   errpolicy.Policy
	validate *validator.Validate
	now      func() time.Time
	log      *zap.SugaredLogger
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(store JobStore, temp *tempfiles.Manager, c Collaborators, policy errpolicy.Policy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		temp:     temp,
		c:        c,
		policy:   policy,
		validate: validator.New(),
		now:      time.Now,
		log:      zap.S().Named("pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type stage struct {
	name   string
	status entity.Status
	run    func(ctx context.Context) error
}

// Run drives job to a terminal status and returns the status it ended in.
// Every temp file the run created is released before Run returns, whatever
// the outcome. A non-nil error with a non-terminal status means the run was
// interrupted by ctx and the job should be delivered again.
func (o *Orchestrator) Run(ctx context.Context, job *entity.Job) (entity.Status, error) {
	r := &run{
		o:       o,
		job:     job,
		scope:   o.temp.Scope(job.ID),
		current: job.Status,
		log:     o.log.With("job_id", job.ID),
	}
	start := o.now()
	defer func() {
		if n := r.scope.ReleaseAll(); n > 0 {
			r.log.Debugw("released temp files", "count", n)
		}
	}()

	if job.Status.IsTerminal() {
		r.log.Infow("job already terminal, skipping", "status", job.Status.String())
		return job.Status, nil
	}
	if job.Status.Kind != entity.StatusProcessing {
		// Transient artifacts of the earlier run are gone and stages are never
		// re-entered, so the job cannot be resumed.
		err := fmt.Errorf("pipeline interrupted during %s", job.Status.Kind)
		return r.terminate(ctx, &StageError{Stage: string(job.Status.Kind), Class: errpolicy.Fatal, Err: err}, err.Error())
	}

	stages := []stage{
		{"analyze", entity.Analyzing(), r.analyze},
		{"generate_voiceover", entity.GeneratingVoiceover(), r.generateVoiceover},
		{"gather_visuals", entity.GatheringVisuals(), r.gatherVisuals},
		{"assemble_video", entity.AssemblingVideo(), r.assembleVideo},
		{"finalize", entity.Finalizing(), r.finalize},
	}

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			r.log.Warnw("run interrupted", "status", r.current.String(), "error", err)
			return r.current, err
		}

		observed, err := r.checkpoint(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return r.current, ctx.Err()
			}
			return r.fail(ctx, &StageError{Stage: st.name, Class: errpolicy.Classify(err), Err: err})
		}
		if observed.IsTerminal() {
			return r.stopExternally(observed)
		}

		if err := r.advance(ctx, st.status); err != nil {
			if errors.Is(err, repository.ErrJobTerminal) {
				return r.stopExternally(r.reread(ctx))
			}
			if ctx.Err() != nil {
				return r.current, ctx.Err()
			}
			return r.fail(ctx, &StageError{Stage: st.name, Class: errpolicy.Fatal, Err: err})
		}

		stageStart := o.now()
		err = st.run(ctx)
		elapsed := o.now().Sub(stageStart)
		if err != nil {
			metrics.ObserveStage(st.name, "error", elapsed)
			if errors.Is(err, repository.ErrJobTerminal) {
				return r.stopExternally(r.reread(ctx))
			}
			if ctx.Err() != nil {
				r.log.Warnw("run interrupted", "stage", st.name, "error", err)
				return r.current, ctx.Err()
			}
			return r.fail(ctx, &StageError{Stage: st.name, Class: errpolicy.Classify(err), Err: err})
		}
		metrics.ObserveStage(st.name, "ok", elapsed)
		r.log.Infow("stage done", "stage", st.name, "duration_ms", elapsed.Milliseconds())
	}

	metrics.IncreaseJobsTotal(string(entity.StatusCompleted))
	r.log.Infow("job completed",
		"video_uri", r.result.VideoURI,
		"duration_ms", o.now().Sub(start).Milliseconds(),
	)
	return r.current, nil
}

// run holds the state of one job execution. Artifacts flow from one stage
// to the next through its fields.
type run struct {
	o       *Orchestrator
	job     *entity.Job
	scope   *tempfiles.Scope
	current entity.Status
	log     *zap.SugaredLogger

	timeline  entity.SceneTimeline
	voiceover voiceover
	visuals   []string
	rendered  string
	result    entity.Result
}

type voiceover struct {
	path     string
	duration time.Duration
}

// checkpoint re-reads the authoritative status so that a cancellation
// written by another process is observed before the next stage starts.
func (r *run) checkpoint(ctx context.Context) (entity.Status, error) {
	var observed entity.Status
	err := r.o.policy.Do(ctx, func(ctx context.Context) error {
		s, err := r.o.store.GetStatus(ctx, r.job.ID)
		if err != nil {
			return err
		}
		observed = s
		return nil
	}, nil)
	if err != nil {
		return entity.Status{}, fmt.Errorf("read job status: %w", err)
	}
	return observed, nil
}

func (r *run) reread(ctx context.Context) entity.Status {
	s, err := r.o.store.GetStatus(ctx, r.job.ID)
	if err != nil {
		r.log.Warnw("re-read status after conditional update failed", "error", err)
		return entity.Cancelled()
	}
	return s
}

func (r *run) stopExternally(observed entity.Status) (entity.Status, error) {
	r.log.Infow("job terminated externally, stopping", "status", observed.String(), "last_stage", r.current.String())
	r.current = observed
	metrics.IncreaseJobsTotal(string(observed.Kind))
	return observed, nil
}

// advance persists the next status before its stage starts.
func (r *run) advance(ctx context.Context, next entity.Status) error {
	if !entity.CanTransition(r.current, next) {
		return fmt.Errorf("illegal transition %s -> %s", r.current, next)
	}
	if err := r.o.writeStatus(ctx, r.job.ID, next); err != nil {
		return err
	}
	r.current = next
	return nil
}

func (r *run) fail(ctx context.Context, serr *StageError) (entity.Status, error) {
	return r.terminate(ctx, serr, serr.Reason())
}

func (r *run) terminate(ctx context.Context, serr *StageError, reason string) (entity.Status, error) {
	fields := []interface{}{
		"stage", serr.Stage,
		"class", serr.Class.String(),
		"status", r.current.String(),
		"error", serr.Err,
	}
	if serr.Class == errpolicy.Fatal {
		r.log.Errorw("stage failed", append(fields,
			"owner_id", r.job.OwnerID,
			"voice_id", r.job.VoiceID,
			"tone", r.job.Tone,
			"tracked_files", len(r.scope.Tracked()),
			"error_chain", fmt.Sprintf("%+v", serr.Err),
		)...)
	} else {
		r.log.Warnw("stage failed", fields...)
	}

	failed := entity.Failed(reason)
	if err := r.o.writeStatus(ctx, r.job.ID, failed); err != nil {
		if errors.Is(err, repository.ErrJobTerminal) {
			return r.stopExternally(r.reread(ctx))
		}
		// Cleanup still runs in Run's defer; reconciliation of the stuck
		// record happens outside this process.
		r.log.Errorw("persist failed status", "error", err, "left_at", r.current.String())
		return r.current, errors.Join(serr, err)
	}
	r.current = failed
	metrics.IncreaseJobsTotal(string(entity.StatusFailed))
	return failed, serr
}

// writeStatus persists status with the store's timestamp, falling back once
// to a locally generated timestamp.
func (o *Orchestrator) writeStatus(ctx context.Context, id string, status entity.Status) error {
	return o.twoStep(ctx, "update_status", id, func(stamp repository.Stamp) error {
		return o.store.UpdateStatus(ctx, id, status, stamp)
	})
}

func (o *Orchestrator) complete(ctx context.Context, id string, res entity.Result) error {
	return o.twoStep(ctx, "complete", id, func(stamp repository.Stamp) error {
		return o.store.Complete(ctx, id, res, stamp)
	})
}

func (o *Orchestrator) twoStep(ctx context.Context, op, id string, write func(repository.Stamp) error) error {
	err := write(repository.ServerStamp())
	if err == nil || errors.Is(err, repository.ErrJobTerminal) || errors.Is(err, repository.ErrNotFound) {
		return err
	}
	o.log.Warnw("write with server timestamp failed, retrying with local timestamp",
		"job_id", id, "op", op, "error", err)

	if err2 := write(repository.LocalStamp(o.now())); err2 != nil {
		return fmt.Errorf("%s: local timestamp: %w (server timestamp: %v)", op, err2, err)
	}
	return nil
}
