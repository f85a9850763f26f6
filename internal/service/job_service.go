package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"pressreel-worker/internal/entity"
	"pressreel-worker/internal/repository"
)

var (
	// ErrNotCompleted is returned when a result is requested before the job
	// reached completed.
	ErrNotCompleted = errors.New("job not completed")
)

// ValidationError lists the request fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + strings.Join(e.Fields, "; ")
}

// JobRepository is the record store port used by the API side
// (implementations: postgresql.JobRepository, supabase.JobRepository).
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) (string, error)
	GetByID(ctx context.Context, id string) (*entity.Job, error)
	Cancel(ctx context.Context, id string) error
}

// JobQueue only adds jobs to the queue; see Queue for the worker side.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string, priority int) error
}

type JobService struct {
	repo     JobRepository
	queue    JobQueue
	validate *validator.Validate
	log      *zap.SugaredLogger
}

func NewJobService(repo JobRepository, queue JobQueue) *JobService {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	return &JobService{
		repo:     repo,
		queue:    queue,
		validate: v,
		log:      zap.S().Named("service"),
	}
}

type CreateJobRequest struct {
	Script   string `json:"script" validate:"required,max=10000"`
	ScriptID string `json:"script_id" validate:"omitempty,max=128"`
	VoiceID  string `json:"voice_id" validate:"required,max=128"`
	Tone     string `json:"tone" validate:"required,oneof=neutral energetic calm dramatic humorous"`
	OwnerID  string `json:"owner_id" validate:"required,max=128"`
	Priority *int   `json:"priority" validate:"omitempty,min=0,max=2"`
}

// CreateJob persists a new job in processing and enqueues it.
func (s *JobService) CreateJob(ctx context.Context, req CreateJobRequest) (string, error) {
	req.Script = strings.TrimSpace(req.Script)
	if err := s.validate.Struct(req); err != nil {
		return "", toValidationError(err)
	}

	priority := 1 // normal
	if req.Priority != nil {
		priority = *req.Priority
	}

	job := &entity.Job{
		ScriptID: req.ScriptID,
		Script:   req.Script,
		VoiceID:  req.VoiceID,
		Tone:     req.Tone,
		OwnerID:  req.OwnerID,
		Priority: priority,
		Status:   entity.Processing(),
	}
	id, err := s.repo.Create(ctx, job)
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, id, priority); err != nil {
		return "", fmt.Errorf("enqueue job %s: %w", id, err)
	}

	s.log.Infow("job created", "job_id", id, "owner_id", req.OwnerID, "priority", priority)
	return id, nil
}

func (s *JobService) GetJob(ctx context.Context, id string) (*entity.Job, error) {
	return s.repo.GetByID(ctx, id)
}

// CancelJob cancels a job unless it already reached a terminal status, in
// which case repository.ErrJobTerminal is returned. The running pipeline
// notices the cancellation before its next stage.
func (s *JobService) CancelJob(ctx context.Context, id string) error {
	if err := s.repo.Cancel(ctx, id); err != nil {
		return err
	}
	s.log.Infow("job cancelled", "job_id", id)
	return nil
}

func (s *JobService) GetResult(ctx context.Context, id string) (entity.Result, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return entity.Result{}, err
	}
	if job.Status.Kind != entity.StatusCompleted || job.VideoURI == nil {
		return entity.Result{}, ErrNotCompleted
	}
	res := entity.Result{VideoURI: *job.VideoURI}
	if job.ThumbnailURI != nil {
		res.ThumbnailURI = *job.ThumbnailURI
	}
	return res, nil
}

// IsNotFound reports whether err means the job does not exist.
func IsNotFound(err error) bool { return errors.Is(err, repository.ErrNotFound) }

func toValidationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return &ValidationError{Fields: fields}
}
