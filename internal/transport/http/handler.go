package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"pressreel-worker/internal/repository"
	"pressreel-worker/internal/service"
)

type Handler struct {
	jobSvc *service.JobService
	log    *zap.SugaredLogger
}

func NewHandler(jobSvc *service.JobService) *Handler {
	return &Handler{jobSvc: jobSvc, log: zap.S().Named("http")}
}

type createJobResp struct {
	ID string `json:"id"`
}

type jobResp struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	Error        *string `json:"error,omitempty"`
	Progress     float64 `json:"progress"`
	VoiceID      string  `json:"voice_id"`
	Tone         string  `json:"tone"`
	OwnerID      string  `json:"owner_id"`
	ScriptID     string  `json:"script_id,omitempty"`
	VideoURI     *string `json:"video_uri,omitempty"`
	ThumbnailURI *string `json:"thumbnail_uri,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type resultResp struct {
	VideoURI     string `json:"video_uri"`
	ThumbnailURI string `json:"thumbnail_uri"`
}

// CreateJob godoc
// @Summary Submit a script for video generation
// @Description Persists the job in processing and enqueues it for the pipeline workers.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body service.CreateJobRequest true "job payload (priority: 0=low,1=normal,2=high)"
// @Success 201 {object} createJobResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs [post]
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req service.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	id, err := h.jobSvc.CreateJob(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createJobResp{ID: id})
}

// GetJob godoc
// @Summary Get job status
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} jobResp
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobSvc.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	rec := j.Status.Record()
	writeJSON(w, http.StatusOK, jobResp{
		ID:           j.ID,
		Status:       rec.Status,
		Error:        rec.Error,
		Progress:     j.Progress(),
		VoiceID:      j.VoiceID,
		Tone:         j.Tone,
		OwnerID:      j.OwnerID,
		ScriptID:     j.ScriptID,
		VideoURI:     j.VideoURI,
		ThumbnailURI: j.ThumbnailURI,
		CreatedAt:    j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    j.UpdatedAt.Format(time.RFC3339),
	})
}

// CancelJob godoc
// @Summary Cancel a job
// @Description Cancels the job unless it already completed, failed or was cancelled.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 204
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/cancel [post]
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.jobSvc.CancelJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetJobResult godoc
// @Summary Get the rendered video of a completed job
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} resultResp
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/result [get]
func (h *Handler) GetJobResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.jobSvc.GetResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResp{VideoURI: res.VideoURI, ThumbnailURI: res.ThumbnailURI})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, apiError{Message: "invalid request", Fields: ve.Fields})
	case service.IsNotFound(err):
		writeErr(w, http.StatusNotFound, "job not found")
	case errors.Is(err, repository.ErrJobTerminal):
		writeErr(w, http.StatusConflict, "job already finished")
	case errors.Is(err, service.ErrNotCompleted):
		writeErr(w, http.StatusConflict, "job not completed")
	default:
		h.log.Errorw("request failed", "error", err)
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}
