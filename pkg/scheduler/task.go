package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Priority of a task. Lower values are admitted first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is one of the defined levels
func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

// ParsePriority accepts "high", "medium", "low" or their numeric values.
// An empty string yields PriorityMedium.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "medium", "2":
		return PriorityMedium, nil
	case "high", "1":
		return PriorityHigh, nil
	case "low", "3":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("invalid priority %q", s)
	}
}

// Status of a task
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusNotFound  Status = "not_found"
)

// Terminal reports whether no further transition can happen
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// TaskFunc is the body of a task. Arguments are captured by the closure. ctx
// is cancelled only when shutdown abandons the task.
type TaskFunc func(ctx context.Context) (any, error)

// SubmitOption customises a submission
type SubmitOption func(*task)

// WithPriority sets the task priority (default PriorityMedium)
func WithPriority(p Priority) SubmitOption {
	return func(t *task) {
		if p.Valid() {
			t.priority = p
		}
	}
}

// WithName attaches a human readable name shown in status views and logs
func WithName(name string) SubmitOption {
	return func(t *task) { t.name = name }
}

// OnSuccess registers a callback invoked on the worker after the task completes
func OnSuccess(fn func(result any)) SubmitOption {
	return func(t *task) { t.onSuccess = fn }
}

// OnFailure registers a callback invoked on the worker after the task fails.
// The error is a *TaskExecutionError.
func OnFailure(fn func(err error)) SubmitOption {
	return func(t *task) { t.onFailure = fn }
}

// task is owned by the scheduler; every field below fn is guarded by
// Scheduler.mu.
type task struct {
	id        string
	name      string
	seq       uint64
	priority  Priority
	createdAt time.Time

	fn        TaskFunc
	onSuccess func(any)
	onFailure func(error)

	status     Status
	result     any
	err        error
	startedAt  time.Time
	finishedAt time.Time
	stagingDir string
	observed   bool
	abandoned  bool

	index int // heap position while queued
	done  chan struct{}
}

// TaskStatusView is a read-only copy of a task's state
type TaskStatusView struct {
	ID         string        `json:"id"`
	Name       string        `json:"name,omitempty"`
	Status     Status        `json:"status"`
	Priority   Priority      `json:"priority"`
	Result     any           `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
}

func notFoundView(id string) TaskStatusView {
	return TaskStatusView{ID: id, Status: StatusNotFound}
}

// view must be called with the scheduler lock held
func (t *task) view(now time.Time) TaskStatusView {
	v := TaskStatusView{
		ID:        t.id,
		Name:      t.name,
		Status:    t.status,
		Priority:  t.priority,
		CreatedAt: t.createdAt,
	}
	if !t.startedAt.IsZero() {
		started := t.startedAt
		v.StartedAt = &started
		end := now
		if !t.finishedAt.IsZero() {
			end = t.finishedAt
		}
		v.Elapsed = end.Sub(started)
	}
	if !t.finishedAt.IsZero() {
		finished := t.finishedAt
		v.FinishedAt = &finished
	}
	switch t.status {
	case StatusCompleted:
		v.Result = t.result
	case StatusFailed:
		if t.err != nil {
			v.Error = t.err.Error()
		}
	}
	return v
}

type ctxKey int

const (
	taskIDKey ctxKey = iota
	stagingDirKey
)

// TaskID returns the id of the task whose body is running with ctx
func TaskID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(taskIDKey).(string)
	return id, ok
}

// StagingDir returns the per-task staging directory, present only when the
// scheduler has a task directory configured. It is removed once the task
// finishes.
func StagingDir(ctx context.Context) (string, bool) {
	dir, ok := ctx.Value(stagingDirKey).(string)
	return dir, ok && dir != ""
}
