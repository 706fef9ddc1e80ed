package handler

import (
	"net/http"

	"loadwarden/pkg/lifecycle"

	"github.com/gin-gonic/gin"
)

// Component is anything with a lifecycle state
type Component interface {
	State() lifecycle.State
}

// HealthHandler reports component states
type HealthHandler struct {
	components map[string]Component
}

// NewHealthHandler creates a health handler over named components
func NewHealthHandler(components map[string]Component) *HealthHandler {
	return &HealthHandler{components: components}
}

// Health returns 200 when every component is running
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	states := make(gin.H, len(h.components))
	healthy := true
	for name, comp := range h.components {
		state := comp.State()
		states[name] = state.String()
		if state != lifecycle.Running {
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy":    healthy,
		"components": states,
	})
}
