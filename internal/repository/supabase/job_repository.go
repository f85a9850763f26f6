// Package supabase stores job records in a Supabase table through its
// PostgREST API.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	postgrest "github.com/supabase-community/postgrest-go"

	"pressreel-worker/internal/entity"
	"pressreel-worker/internal/repository"
)

const terminalFilter = "(completed,failed,cancelled)"

// jobRow maps to one row of the jobs table.
type jobRow struct {
	ID           string     `json:"id"`
	ScriptID     *string    `json:"script_id,omitempty"`
	Script       string     `json:"script"`
	VoiceID      string     `json:"voice_id"`
	Tone         string     `json:"tone"`
	OwnerID      string     `json:"owner_id"`
	Priority     int        `json:"priority"`
	Status       string     `json:"status"`
	Error        *string    `json:"error"`
	Progress     float64    `json:"progress"`
	VideoURI     *string    `json:"video_uri,omitempty"`
	ThumbnailURI *string    `json:"thumbnail_uri,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

func (r jobRow) toEntity() (*entity.Job, error) {
	st, err := entity.ParseStatus(r.Status, r.Error)
	if err != nil {
		return nil, err
	}
	job := &entity.Job{
		ID:           r.ID,
		Script:       r.Script,
		VoiceID:      r.VoiceID,
		Tone:         r.Tone,
		OwnerID:      r.OwnerID,
		Priority:     r.Priority,
		Status:       st,
		VideoURI:     r.VideoURI,
		ThumbnailURI: r.ThumbnailURI,
	}
	if r.ScriptID != nil {
		job.ScriptID = *r.ScriptID
	}
	if r.CreatedAt != nil {
		job.CreatedAt = *r.CreatedAt
	}
	if r.UpdatedAt != nil {
		job.UpdatedAt = *r.UpdatedAt
	}
	return job, nil
}

type JobRepository struct {
	client *postgrest.Client
	table  string
}

// NewClient builds a PostgREST client authenticated with the service key.
func NewClient(baseURL, serviceKey string) (*postgrest.Client, error) {
	client := postgrest.NewClient(baseURL+"/rest/v1", "", map[string]string{
		"apikey":        serviceKey,
		"Authorization": "Bearer " + serviceKey,
	})
	if client.ClientError != nil {
		return nil, fmt.Errorf("init postgrest client: %w", client.ClientError)
	}
	return client, nil
}

func NewJobRepository(client *postgrest.Client, table string) *JobRepository {
	if table == "" {
		table = "jobs"
	}
	return &JobRepository{client: client, table: table}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	rec := job.Status.Record()
	row := jobRow{
		ID:       job.ID,
		Script:   job.Script,
		VoiceID:  job.VoiceID,
		Tone:     job.Tone,
		OwnerID:  job.OwnerID,
		Priority: job.Priority,
		Status:   rec.Status,
		Error:    rec.Error,
		Progress: job.Status.Progress(),
	}
	if job.ScriptID != "" {
		row.ScriptID = &job.ScriptID
	}

	var created []jobRow
	if _, err := r.client.From(r.table).
		Insert(row, false, "", "representation", "").
		ExecuteTo(&created); err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	if len(created) == 0 {
		return "", fmt.Errorf("insert job %s: no row returned", job.ID)
	}
	if created[0].CreatedAt != nil {
		job.CreatedAt = *created[0].CreatedAt
	}
	if created[0].UpdatedAt != nil {
		job.UpdatedAt = *created[0].UpdatedAt
	}
	return job.ID, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*entity.Job, error) {
	row, err := r.get(id, "*")
	if err != nil {
		return nil, err
	}
	return row.toEntity()
}

func (r *JobRepository) GetStatus(ctx context.Context, id string) (entity.Status, error) {
	row, err := r.get(id, "status,error")
	if err != nil {
		return entity.Status{}, err
	}
	return entity.ParseStatus(row.Status, row.Error)
}

// UpdateStatus writes status, error and progress unless the stored job is
// already terminal. A server stamp leaves updated_at to the table trigger.
func (r *JobRepository) UpdateStatus(ctx context.Context, id string, status entity.Status, stamp repository.Stamp) error {
	rec := status.Record()
	patch := map[string]interface{}{
		"status":   rec.Status,
		"error":    rec.Error,
		"progress": status.Progress(),
	}
	return r.conditionalUpdate(id, withStamp(patch, stamp))
}

func (r *JobRepository) Complete(ctx context.Context, id string, res entity.Result, stamp repository.Stamp) error {
	patch := map[string]interface{}{
		"status":        string(entity.StatusCompleted),
		"error":         nil,
		"progress":      1.0,
		"video_uri":     res.VideoURI,
		"thumbnail_uri": res.ThumbnailURI,
	}
	return r.conditionalUpdate(id, withStamp(patch, stamp))
}

func (r *JobRepository) Cancel(ctx context.Context, id string) error {
	patch := map[string]interface{}{
		"status":     string(entity.StatusCancelled),
		"error":      nil,
		"progress":   0.0,
		"updated_at": time.Now().UTC(),
	}
	return r.conditionalUpdate(id, patch)
}

func (r *JobRepository) conditionalUpdate(id string, patch map[string]interface{}) error {
	if _, err := uuid.Parse(id); err != nil {
		return repository.ErrNotFound
	}
	var updated []jobRow
	if _, err := r.client.From(r.table).
		Update(patch, "representation", "").
		Eq("id", id).
		Not("status", "in", terminalFilter).
		ExecuteTo(&updated); err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if len(updated) > 0 {
		return nil
	}
	if _, err := r.get(id, "id"); err != nil {
		return err
	}
	return repository.ErrJobTerminal
}

func (r *JobRepository) get(id, columns string) (jobRow, error) {
	if _, err := uuid.Parse(id); err != nil {
		return jobRow{}, repository.ErrNotFound
	}
	body, _, err := r.client.From(r.table).
		Select(columns, "", false).
		Eq("id", id).
		Execute()
	if err != nil {
		return jobRow{}, fmt.Errorf("select job %s: %w", id, err)
	}

	var rows []jobRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return jobRow{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	if len(rows) == 0 {
		return jobRow{}, repository.ErrNotFound
	}
	return rows[0], nil
}

func withStamp(patch map[string]interface{}, stamp repository.Stamp) map[string]interface{} {
	if !stamp.IsServer() {
		patch["updated_at"] = stamp.Local
	}
	return patch
}
