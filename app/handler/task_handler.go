package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"loadwarden/pkg/logger"
	"loadwarden/pkg/scheduler"
	"loadwarden/pkg/status"

	"github.com/gin-gonic/gin"
)

const (
	defaultWaitTimeout = 30 * time.Second
	maxWaitTimeout     = 5 * time.Minute
)

// TaskScheduler is the part of the scheduler exposed over HTTP
type TaskScheduler interface {
	Status(id string) scheduler.TaskStatusView
	Wait(ctx context.Context, id string) (scheduler.TaskStatusView, error)
	Cancel(id string) bool
	ListActive() []scheduler.TaskStatusView
	CurrentResourceUsage(ctx context.Context) scheduler.ResourceUsage
}

// TaskHandler handles task API requests
type TaskHandler struct {
	scheduler TaskScheduler
	redactor  *status.Redactor
}

// NewTaskHandler creates a new task handler. Task error messages are passed
// through redactor; nil disables redaction.
func NewTaskHandler(s TaskScheduler, redactor *status.Redactor) *TaskHandler {
	return &TaskHandler{scheduler: s, redactor: redactor}
}

func (h *TaskHandler) redact(view scheduler.TaskStatusView) scheduler.TaskStatusView {
	if h.redactor != nil {
		view.Error = h.redactor.Redact(view.Error)
	}
	return view
}

// Status returns the status of a task
// GET /v1/tasks/:task_id
func (h *TaskHandler) Status(c *gin.Context) {
	taskID := c.Param("task_id")
	view := h.scheduler.Status(taskID)
	if view.Status == scheduler.StatusNotFound {
		c.JSON(http.StatusNotFound, view)
		return
	}
	c.JSON(http.StatusOK, h.redact(view))
}

// Wait blocks until the task is terminal or the timeout passes
// GET /v1/tasks/:task_id/wait?timeout=30s
func (h *TaskHandler) Wait(c *gin.Context) {
	timeout := defaultWaitTimeout
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeout"})
			return
		}
		timeout = min(d, maxWaitTimeout)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	view, err := h.scheduler.Wait(ctx, c.Param("task_id"))
	view = h.redact(view)
	switch {
	case errors.Is(err, scheduler.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, view)
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusAccepted, view)
	case err != nil:
		logger.WarnCtx(c.Request.Context(), "wait for task %s aborted: %v", view.ID, err)
		c.JSON(http.StatusRequestTimeout, view)
	default:
		c.JSON(http.StatusOK, view)
	}
}

// Cancel cancels a queued task
// POST /v1/tasks/:task_id/cancel
func (h *TaskHandler) Cancel(c *gin.Context) {
	taskID := c.Param("task_id")
	if h.scheduler.Cancel(taskID) {
		c.JSON(http.StatusOK, gin.H{"id": taskID, "cancelled": true})
		return
	}

	view := h.scheduler.Status(taskID)
	if view.Status == scheduler.StatusNotFound {
		c.JSON(http.StatusNotFound, gin.H{"id": taskID, "cancelled": false, "status": view.Status})
		return
	}
	c.JSON(http.StatusConflict, gin.H{"id": taskID, "cancelled": false, "status": view.Status})
}

// ListActive lists queued and running tasks in admission order
// GET /v1/tasks
func (h *TaskHandler) ListActive(c *gin.Context) {
	tasks := h.scheduler.ListActive()
	for i := range tasks {
		tasks[i] = h.redact(tasks[i])
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"total": len(tasks),
	})
}

// Usage returns process usage and scheduler bookkeeping
// GET /v1/scheduler/usage
func (h *TaskHandler) Usage(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.CurrentResourceUsage(c.Request.Context()))
}
