package router

import (
	"loadwarden/app/handler"
	"loadwarden/app/middleware"

	"github.com/gin-gonic/gin"
)

// Router wires handlers to routes
type Router struct {
	taskHandler       *handler.TaskHandler
	monitoringHandler *handler.MonitoringHandler
	healthHandler     *handler.HealthHandler
	apiKey            string
}

// NewRouter creates a new Router. Any handler may be nil, which drops its
// routes.
func NewRouter(taskHandler *handler.TaskHandler, monitoringHandler *handler.MonitoringHandler, healthHandler *handler.HealthHandler, apiKey string) *Router {
	return &Router{
		taskHandler:       taskHandler,
		monitoringHandler: monitoringHandler,
		healthHandler:     healthHandler,
		apiKey:            apiKey,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	if r.healthHandler != nil {
		engine.GET("/health", r.healthHandler.Health)
	}

	v1 := engine.Group("/v1")
	v1.Use(middleware.Auth(r.apiKey))

	if r.taskHandler != nil {
		tasks := v1.Group("/tasks")
		{
			tasks.GET("", r.taskHandler.ListActive)
			tasks.GET("/:task_id", r.taskHandler.Status)
			tasks.GET("/:task_id/wait", r.taskHandler.Wait)
			tasks.POST("/:task_id/cancel", r.taskHandler.Cancel)
		}
		v1.GET("/scheduler/usage", r.taskHandler.Usage)
	}

	if r.monitoringHandler != nil {
		mon := v1.Group("/monitor")
		{
			mon.GET("/metrics", r.monitoringHandler.GetMetrics)
			mon.GET("/history", r.monitoringHandler.GetHistory)
			mon.GET("/alerts", r.monitoringHandler.GetAlerts)
			mon.GET("/alerts/archive", r.monitoringHandler.GetArchivedAlerts)
			mon.GET("/summary", r.monitoringHandler.GetSummary)
			mon.GET("/stream", r.monitoringHandler.Stream)
		}
	}
}
