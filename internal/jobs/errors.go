package jobs

import (
	"errors"
	"fmt"
)

// Sentinel errors for job operations.
// These can be checked with errors.Is().
var (
	ErrJobNotFound   = errors.New("job not found")
	ErrJobActive     = errors.New("job is still active")
	ErrInvalidConfig = errors.New("invalid run config")
	ErrJobNotStarted = errors.New("job could not be started")
)

// jobActiveError is returned when an operation needs a terminal job.
func jobActiveError(id string, status Status) error {
	return fmt.Errorf("%w (status: %s): %s", ErrJobActive, status, id)
}

// StepError marks a failure that aborted a pipeline step.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ErrJobCompleted is returned when retrying a job that already finished.
var ErrJobCompleted = errors.New("job already completed")
