package entity

import (
	"encoding/json"
	"fmt"
)

// StatusKind is the persisted discriminator of a Status.
type StatusKind string

const (
	StatusProcessing          StatusKind = "processing"
	StatusAnalyzing           StatusKind = "analyzing"
	StatusGeneratingVoiceover StatusKind = "generating_voiceover"
	StatusGatheringVisuals    StatusKind = "gathering_visuals"
	StatusAssemblingVideo     StatusKind = "assembling_video"
	StatusFinalizing          StatusKind = "finalizing"
	StatusCompleted           StatusKind = "completed"
	StatusFailed              StatusKind = "failed"
	StatusCancelled           StatusKind = "cancelled"
)

// pipelineOrder is the fixed forward order of non-failure statuses.
var pipelineOrder = []StatusKind{
	StatusProcessing,
	StatusAnalyzing,
	StatusGeneratingVoiceover,
	StatusGatheringVisuals,
	StatusAssemblingVideo,
	StatusFinalizing,
	StatusCompleted,
}

var progressTable = map[StatusKind]float64{
	StatusProcessing:          0.0,
	StatusAnalyzing:           0.1,
	StatusGeneratingVoiceover: 0.3,
	StatusGatheringVisuals:    0.5,
	StatusAssemblingVideo:     0.7,
	StatusFinalizing:          0.9,
	StatusCompleted:           1.0,
	StatusFailed:              0.0,
	StatusCancelled:           0.0,
}

// Status is a closed tagged value. Reason is only meaningful for StatusFailed;
// the constructors keep it empty for every other kind so that == compares
// statuses the way callers observe them.
type Status struct {
	Kind   StatusKind
	Reason string
}

func Processing() Status          { return Status{Kind: StatusProcessing} }
func Analyzing() Status           { return Status{Kind: StatusAnalyzing} }
func GeneratingVoiceover() Status { return Status{Kind: StatusGeneratingVoiceover} }
func GatheringVisuals() Status    { return Status{Kind: StatusGatheringVisuals} }
func AssemblingVideo() Status     { return Status{Kind: StatusAssemblingVideo} }
func Finalizing() Status          { return Status{Kind: StatusFinalizing} }
func Completed() Status           { return Status{Kind: StatusCompleted} }
func Cancelled() Status           { return Status{Kind: StatusCancelled} }

// Failed builds the terminal failure status carrying a human readable reason.
func Failed(reason string) Status { return Status{Kind: StatusFailed, Reason: reason} }

// ProgressFor is total over every status kind; unknown kinds report 0.
func ProgressFor(s Status) float64 {
	return progressTable[s.Kind]
}

// Progress is a convenience for ProgressFor(s).
func (s Status) Progress() float64 { return ProgressFor(s) }

// IsTerminal reports whether no further transition may follow s.
func IsTerminal(s Status) bool {
	switch s.Kind {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal is a convenience for IsTerminal(s).
func (s Status) IsTerminal() bool { return IsTerminal(s) }

// IsFailure is true for every Failed value regardless of its reason.
func (s Status) IsFailure() bool { return s.Kind == StatusFailed }

// Equal treats Failed values with different reasons as distinct.
func (s Status) Equal(o Status) bool { return s == o }

// Rank is the position of s in the forward pipeline order. Failed and
// Cancelled rank after every stage since they may follow any of them.
func (s Status) Rank() int {
	for i, k := range pipelineOrder {
		if k == s.Kind {
			return i
		}
	}
	return len(pipelineOrder)
}

// Next returns the successor of a non-terminal status in the fixed order.
func (s Status) Next() (Status, bool) {
	if s.IsTerminal() {
		return Status{}, false
	}
	r := s.Rank()
	if r+1 >= len(pipelineOrder) {
		return Status{}, false
	}
	return Status{Kind: pipelineOrder[r+1]}, true
}

// CanTransition enforces monotonic forward movement: a terminal status never
// changes, and a non-terminal one may only move to a later stage or to a
// terminal status.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to.IsTerminal() {
		return true
	}
	return to.Rank() > from.Rank()
}

func (s Status) String() string {
	if s.Kind == StatusFailed && s.Reason != "" {
		return fmt.Sprintf("%s(%s)", s.Kind, s.Reason)
	}
	return string(s.Kind)
}

// StatusRecord is the persisted shape of a Status: a discriminator plus an
// optional reason populated only for failures.
type StatusRecord struct {
	Status string  `json:"status"`
	Error  *string `json:"error"`
}

// UnknownStatusError is returned when decoding an unrecognized discriminator.
type UnknownStatusError struct {
	Value string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown job status %q", e.Value)
}

// Record encodes s for persistence.
func (s Status) Record() StatusRecord {
	rec := StatusRecord{Status: string(s.Kind)}
	if s.Kind == StatusFailed {
		reason := s.Reason
		rec.Error = &reason
	}
	return rec
}

// DecodeStatus rebuilds a Status from its persisted record.
func DecodeStatus(rec StatusRecord) (Status, error) {
	kind := StatusKind(rec.Status)
	if _, ok := progressTable[kind]; !ok {
		return Status{}, &UnknownStatusError{Value: rec.Status}
	}
	if kind == StatusFailed {
		reason := ""
		if rec.Error != nil {
			reason = *rec.Error
		}
		return Failed(reason), nil
	}
	return Status{Kind: kind}, nil
}

// ParseStatus decodes a bare discriminator together with a nullable reason.
func ParseStatus(kind string, reason *string) (Status, error) {
	return DecodeStatus(StatusRecord{Status: kind, Error: reason})
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Record())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var rec StatusRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return err
	}
	decoded, err := DecodeStatus(rec)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}
