package pipeline

import (
	"errors"
	"fmt"

	"pressreel-worker/internal/errpolicy"
)

// StageError is a stage-aware failure carrying its policy class.
type StageError struct {
	Stage string
	Class errpolicy.Class
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s (%s): %v", e.Stage, e.Class, e.Err)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Reason is the human readable text persisted on the job. Collaborator
// detail stays in the logs.
func (e *StageError) Reason() string {
	switch e.Class {
	case errpolicy.InvalidInput:
		var inv interface{ InvalidInput() bool }
		if errors.As(e.Err, &inv) {
			if err, ok := inv.(error); ok {
				return fmt.Sprintf("%s: %s", e.Stage, err.Error())
			}
		}
		return fmt.Sprintf("%s: invalid generated content", e.Stage)
	case errpolicy.Transient:
		return fmt.Sprintf("%s: external service unavailable, retries exhausted", e.Stage)
	default:
		return fmt.Sprintf("%s: internal error", e.Stage)
	}
}
