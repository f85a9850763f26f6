package entity

import (
	"time"
)

// Job is one request to turn a script into a short-form video.
type Job struct {
	ID           string    `json:"id"`
	ScriptID     string    `json:"script_id,omitempty"`
	Script       string    `json:"script"`
	VoiceID      string    `json:"voice_id"`
	Tone         string    `json:"tone"`
	OwnerID      string    `json:"owner_id"`
	Priority     int       `json:"priority"`
	Status       Status    `json:"-"`
	VideoURI     *string   `json:"video_uri,omitempty"`
	ThumbnailURI *string   `json:"thumbnail_uri,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Progress is derived from Status and never stored independently.
func (j *Job) Progress() float64 {
	return ProgressFor(j.Status)
}

// Result holds the externally addressable artifacts of a completed job.
type Result struct {
	VideoURI     string `json:"video_uri"`
	ThumbnailURI string `json:"thumbnail_uri"`
}
