package training

import (
	"errors"
	"fmt"
)

// ErrStepFailure reports a model step that failed. Training stops; steps
// are never retried.
var ErrStepFailure = errors.New("training step failed")

// StepError locates a failed step.
type StepError struct {
	Epoch int
	Step  int    // 1-based within the epoch
	Op    string // "set_input" or "optimization_step"
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("epoch %d step %d: %s: %v", e.Epoch, e.Step, e.Op, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Is matches ErrStepFailure.
func (e *StepError) Is(target error) bool {
	return target == ErrStepFailure
}
