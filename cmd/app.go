package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"loadwarden/app/handler"
	"loadwarden/internal/jobs"
	"loadwarden/pkg/cache"
	"loadwarden/pkg/config"
	"loadwarden/pkg/logger"
	"loadwarden/pkg/monitor"
	"loadwarden/pkg/notification"
	"loadwarden/pkg/sampler"
	"loadwarden/pkg/scheduler"
	mysqlstore "loadwarden/pkg/store/mysql"
	redisstore "loadwarden/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// Application manages the lifecycle of the entire application
type Application struct {
	// Infrastructure components
	config      *config.Config
	mysqlRepo   *mysqlstore.Repository
	redisClient *redisstore.RedisClient

	// Core components
	host        *sampler.HostSource
	monitor     *monitor.Monitor
	scheduler   *scheduler.Scheduler
	resultCache *cache.Cache[scheduler.TaskStatusView]
	notifier    *notification.FeishuNotifier

	// Handler layer
	taskHandler       *handler.TaskHandler
	monitoringHandler *handler.MonitoringHandler
	healthHandler     *handler.HealthHandler

	// HTTP server
	httpServer *http.Server
	ginEngine  *gin.Engine

	// Background jobs
	jobsManager *jobs.Manager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Cleanup functions, run in reverse registration order
	cleanupFuncs []func()
}

// NewApplication creates a new Application instance
func NewApplication() *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize initializes all application components
func (app *Application) Initialize() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"Redis", app.initRedis},
		{"MySQL", app.initMySQL},
		{"System Monitor", app.initMonitor},
		{"Task Scheduler", app.initScheduler},
		{"Background Jobs", app.initJobs},
		{"Handler Layer", app.initHandlers},
		{"HTTP Server", app.initHTTPServer},
	}

	for _, step := range steps {
		logger.InfoCtx(app.ctx, "Initializing %s...", step.name)
		if err := step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		logger.InfoCtx(app.ctx, "%s initialized successfully", step.name)
	}

	logger.InfoCtx(app.ctx, "Application initialization completed")
	return nil
}

// Start starts all application components
func (app *Application) Start() error {
	logger.InfoCtx(app.ctx, "Starting application components...")

	// 1. Monitor first so the history has a sample before tasks are admitted
	if err := app.monitor.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start system monitor: %w", err)
	}

	// 2. Scheduler
	if err := app.scheduler.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start task scheduler: %w", err)
	}

	// 3. Background jobs
	if app.jobsManager != nil {
		app.jobsManager.Start()
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.jobsManager.Wait()
		}()
	}

	// 4. HTTP server
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		logger.InfoCtx(app.ctx, "HTTP server listening on: %s", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.FatalCtx(app.ctx, "HTTP server error: %v", err)
		}
	}()

	logger.InfoCtx(app.ctx, "All components started successfully")
	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown(timeout time.Duration) error {
	logger.InfoCtx(app.ctx, "Starting graceful shutdown (timeout: %v)...", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. Stop accepting requests
	logger.InfoCtx(app.ctx, "Shutting down HTTP server...")
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.ErrorCtx(app.ctx, "HTTP server shutdown error: %v", err)
	}

	// 2. Stop background jobs
	app.cancel()
	if app.jobsManager != nil {
		app.jobsManager.Stop()
	}

	// 3. Drain the scheduler with half of the budget
	var shutdownErr error
	if err := app.scheduler.Close(timeout / 2); err != nil {
		logger.WarnCtx(app.ctx, "Task scheduler closed with error: %v", err)
		if !errors.Is(err, scheduler.ErrCloseTimeout) {
			shutdownErr = err
		}
	}

	// 4. Stop the monitor; this saves the history one last time
	if err := app.monitor.Stop(shutdownCtx); err != nil {
		logger.ErrorCtx(app.ctx, "System monitor stop error: %v", err)
	}

	// 5. Wait for goroutines owned by the application
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.InfoCtx(app.ctx, "All background goroutines completed")
	case <-shutdownCtx.Done():
		logger.WarnCtx(app.ctx, "Shutdown timeout, some goroutines may not have completed")
	}

	// 6. Cleanup functions
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		app.cleanupFuncs[i]()
	}

	logger.InfoCtx(app.ctx, "Graceful shutdown completed")
	return shutdownErr
}

// registerCleanup registers cleanup function
func (app *Application) registerCleanup(cleanup func()) {
	app.cleanupFuncs = append(app.cleanupFuncs, cleanup)
}
