package entity

import (
	"fmt"
	"math"
)

// VisualType selects what kind of asset a scene needs.
type VisualType string

const (
	VisualBRoll       VisualType = "b-roll"
	VisualStaticImage VisualType = "static-image"
	VisualTalkingHead VisualType = "talking-head"
	VisualOverlay     VisualType = "overlay"
)

// Timeline bounds, in seconds.
const (
	MinTotalDuration    = 25.0
	MaxTotalDuration    = 35.0
	MinSceneDuration    = 2.0
	MaxSceneDuration    = 8.0
	ContinuityTolerance = 0.1
)

// Scene is one segment of the analyzed script.
type Scene struct {
	Start       float64    `json:"start" validate:"gte=0"`
	Duration    float64    `json:"duration" validate:"gt=0"`
	Description string     `json:"description"`
	Keywords    []string   `json:"keywords"`
	Mood        string     `json:"mood"`
	VisualType  VisualType `json:"visual_type" validate:"oneof=b-roll static-image talking-head overlay"`
	Transition  *string    `json:"transition,omitempty"`
}

// End is the scene's end time in seconds.
func (s Scene) End() float64 { return s.Start + s.Duration }

// SceneTimeline is the output of the Analyzing stage.
type SceneTimeline struct {
	Scenes   []Scene  `json:"scenes" validate:"dive"`
	Keywords []string `json:"keywords"`
}

// TotalDuration sums every scene's duration.
func (t SceneTimeline) TotalDuration() float64 {
	var total float64
	for _, s := range t.Scenes {
		total += s.Duration
	}
	return total
}

// TimelineError reports a violated timeline invariant.
type TimelineError struct {
	Rule    string
	Message string
}

func (e *TimelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Rule, e.Message)
}

// InvalidInput marks timeline violations as bad generations, not faults.
func (e *TimelineError) InvalidInput() bool { return true }

// Validate checks the total duration window, the per-scene window and
// contiguity between consecutive scenes.
func (t SceneTimeline) Validate() error {
	if len(t.Scenes) == 0 {
		return &TimelineError{Rule: "total_duration", Message: "timeline has no scenes"}
	}

	total := t.TotalDuration()
	if total < MinTotalDuration || total > MaxTotalDuration {
		return &TimelineError{
			Rule:    "total_duration",
			Message: fmt.Sprintf("total duration %.2fs outside allowed window %.0f-%.0fs", total, MinTotalDuration, MaxTotalDuration),
		}
	}

	for i, s := range t.Scenes {
		if s.Duration < MinSceneDuration || s.Duration > MaxSceneDuration {
			return &TimelineError{
				Rule:    "scene_duration",
				Message: fmt.Sprintf("scene %d duration %.2fs outside allowed window %.0f-%.0fs", i+1, s.Duration, MinSceneDuration, MaxSceneDuration),
			}
		}
		if i == 0 {
			continue
		}
		prevEnd := t.Scenes[i-1].End()
		if gap := math.Abs(s.Start - prevEnd); gap >= ContinuityTolerance {
			return &TimelineError{
				Rule:    "continuity",
				Message: fmt.Sprintf("scene %d starts at %.2fs but scene %d ends at %.2fs", i+1, s.Start, i, prevEnd),
			}
		}
	}
	return nil
}

// SceneClip is one scene's asset and timing handed to the encoder.
type SceneClip struct {
	Path       string     `json:"path"`
	Start      float64    `json:"start"`
	Duration   float64    `json:"duration"`
	VisualType VisualType `json:"visual_type"`
	Transition *string    `json:"transition,omitempty"`
}

// AssemblyRequest describes the composite the encoder must render.
type AssemblyRequest struct {
	AudioPath  string      `json:"audio_path"`
	OutputPath string      `json:"output_path"`
	Scenes     []SceneClip `json:"scenes"`
}
