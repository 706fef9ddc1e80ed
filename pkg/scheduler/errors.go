package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrSchedulerClosed is returned by Submit after Close
	ErrSchedulerClosed = errors.New("scheduler is closed")
	// ErrNotInitialized is returned by Background helpers bound to a nil scheduler
	ErrNotInitialized = errors.New("scheduler is not initialized")
	// ErrTaskNotFound is returned by Wait for unknown or evicted ids
	ErrTaskNotFound = errors.New("task not found")
	// ErrNilTask is returned when Submit is given a nil body
	ErrNilTask = errors.New("task function is nil")
	// ErrCloseTimeout is returned by Close when running tasks were abandoned
	ErrCloseTimeout = errors.New("timed out waiting for running tasks")
)

// TaskExecutionError wraps the error returned, or the panic raised, by a task body.
type TaskExecutionError struct {
	TaskID string
	Err    error
	Panic  any
}

func (e *TaskExecutionError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("task %s panicked: %v", e.TaskID, e.Panic)
	}
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }
