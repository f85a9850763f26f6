package postgresql

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pressreel-worker/internal/entity"
	"pressreel-worker/internal/repository"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const nonTerminal = `status NOT IN ('completed', 'failed', 'cancelled')`

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) (string, error) {
	const q = `
INSERT INTO jobs (script_id, script, voice_id, tone, owner_id, priority, status, progress)
VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at, updated_at;
`
	var (
		id       uuid.UUID
		rec      = job.Status.Record()
		progress = job.Status.Progress()
	)
	if err := r.pool.QueryRow(ctx, q,
		job.ScriptID, job.Script, job.VoiceID, job.Tone, job.OwnerID, job.Priority, rec.Status, progress,
	).Scan(&id, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return "", err
	}
	job.ID = id.String()
	return job.ID, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*entity.Job, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, repository.ErrNotFound
	}

	const q = `
SELECT id, COALESCE(script_id, ''), script, voice_id, tone, owner_id, priority, status, error,
       video_uri, thumbnail_uri, created_at, updated_at
FROM jobs
WHERE id = $1;
`
	var (
		job        entity.Job
		rowID      uuid.UUID
		statusText string
		errText    *string
	)
	if err := r.pool.QueryRow(ctx, q, uid).Scan(
		&rowID,
		&job.ScriptID,
		&job.Script,
		&job.VoiceID,
		&job.Tone,
		&job.OwnerID,
		&job.Priority,
		&statusText,
		&errText, // NULL => nil
		&job.VideoURI,
		&job.ThumbnailURI,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	st, err := entity.ParseStatus(statusText, errText)
	if err != nil {
		return nil, err
	}
	job.ID = rowID.String()
	job.Status = st
	return &job, nil
}

func (r *JobRepository) GetStatus(ctx context.Context, id string) (entity.Status, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return entity.Status{}, repository.ErrNotFound
	}

	const q = `SELECT status, error FROM jobs WHERE id = $1;`

	var (
		statusText string
		errText    *string
	)
	if err := r.pool.QueryRow(ctx, q, uid).Scan(&statusText, &errText); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entity.Status{}, repository.ErrNotFound
		}
		return entity.Status{}, err
	}
	return entity.ParseStatus(statusText, errText)
}

// UpdateStatus writes status, its error and derived progress, unless the
// stored job is already terminal.
func (r *JobRepository) UpdateStatus(ctx context.Context, id string, status entity.Status, stamp repository.Stamp) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return repository.ErrNotFound
	}

	const q = `
UPDATE jobs
SET status = $2, error = $3, progress = $4, updated_at = COALESCE($5::timestamptz, now())
WHERE id = $1 AND ` + nonTerminal + `;`

	rec := status.Record()
	tag, err := r.pool.Exec(ctx, q, uid, rec.Status, rec.Error, status.Progress(), localTime(stamp))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrTerminal(ctx, uid)
	}
	return nil
}

func (r *JobRepository) Complete(ctx context.Context, id string, res entity.Result, stamp repository.Stamp) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return repository.ErrNotFound
	}

	const q = `
UPDATE jobs
SET status = 'completed', error = NULL, progress = 1.0, video_uri = $2, thumbnail_uri = $3,
    updated_at = COALESCE($4::timestamptz, now())
WHERE id = $1 AND ` + nonTerminal + `;`

	tag, err := r.pool.Exec(ctx, q, uid, res.VideoURI, res.ThumbnailURI, localTime(stamp))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrTerminal(ctx, uid)
	}
	return nil
}

// Cancel marks a non-terminal job cancelled.
func (r *JobRepository) Cancel(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return repository.ErrNotFound
	}

	const q = `
UPDATE jobs
SET status = 'cancelled', error = NULL, progress = 0, updated_at = now()
WHERE id = $1 AND ` + nonTerminal + `;`

	tag, err := r.pool.Exec(ctx, q, uid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrTerminal(ctx, uid)
	}
	return nil
}

func (r *JobRepository) missOrTerminal(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1);`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return repository.ErrJobTerminal
	}
	return repository.ErrNotFound
}

func localTime(stamp repository.Stamp) *time.Time {
	if stamp.IsServer() {
		return nil
	}
	t := stamp.Local
	return &t
}
