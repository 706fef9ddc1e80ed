package main

import (
	"context"
	"time"

	"loadwarden/internal/jobs"
	"loadwarden/pkg/cache"
	"loadwarden/pkg/lock"
	"loadwarden/pkg/logger"
	"loadwarden/pkg/scheduler"
	mysqlstore "loadwarden/pkg/store/mysql"

	"github.com/go-redis/redis/v8"
)

const (
	taskPruneInterval    = time.Minute
	cacheCleanupInterval = 5 * time.Minute
	alertCleanupInterval = 6 * time.Hour
	alertCleanupLockKey  = "loadwarden:lock:alert-cleanup"
)

func (app *Application) initJobs() error {
	manager := jobs.NewManager(app.ctx)

	manager.Register(newTaskPruneJob(taskPruneInterval, app.scheduler, app.config.Scheduler.TerminalRetention))
	manager.Register(newResultCacheCleanupJob(cacheCleanupInterval, app.resultCache))

	if app.mysqlRepo != nil {
		// Replicas share the archive; a Redis lease keeps the cleanup single.
		var client *redis.Client
		if app.redisClient != nil {
			client = app.redisClient.GetClient()
		}
		cleanupLock := lock.NewRedisLock(client, alertCleanupLockKey, 10*time.Minute)
		manager.Register(newAlertCleanupJob(alertCleanupInterval, app.mysqlRepo.Alert, app.config.Monitor.AlertRetention, cleanupLock))
	}

	app.jobsManager = manager
	return nil
}

// taskPruneJob evicts old terminal tasks from the scheduler registry.
type taskPruneJob struct {
	interval  time.Duration
	scheduler *scheduler.Scheduler
	retention time.Duration
}

func newTaskPruneJob(interval time.Duration, s *scheduler.Scheduler, retention time.Duration) jobs.Job {
	return &taskPruneJob{interval: interval, scheduler: s, retention: retention}
}

func (j *taskPruneJob) Name() string            { return "task-prune" }
func (j *taskPruneJob) Interval() time.Duration { return j.interval }
func (j *taskPruneJob) SkipInitialRun() bool    { return true }

func (j *taskPruneJob) Run(ctx context.Context) error {
	if n := j.scheduler.PruneTerminal(j.retention); n > 0 {
		logger.DebugCtx(ctx, "pruned %d terminal tasks", n)
	}
	return nil
}

// resultCacheCleanupJob drops expired in-memory result cache entries. Redis
// expires its own keys.
type resultCacheCleanupJob struct {
	interval time.Duration
	cache    *cache.Cache[scheduler.TaskStatusView]
}

func newResultCacheCleanupJob(interval time.Duration, c *cache.Cache[scheduler.TaskStatusView]) jobs.Job {
	return &resultCacheCleanupJob{interval: interval, cache: c}
}

func (j *resultCacheCleanupJob) Name() string            { return "result-cache-cleanup" }
func (j *resultCacheCleanupJob) Interval() time.Duration { return j.interval }
func (j *resultCacheCleanupJob) SkipInitialRun() bool    { return true }

func (j *resultCacheCleanupJob) Run(ctx context.Context) error {
	if n := j.cache.RemoveExpired(); n > 0 {
		logger.DebugCtx(ctx, "removed %d expired task results", n)
	}
	return nil
}

// alertCleanupJob enforces the alert archive retention.
type alertCleanupJob struct {
	interval  time.Duration
	alerts    *mysqlstore.AlertRepository
	retention time.Duration
	lock      lock.Locker
}

func newAlertCleanupJob(interval time.Duration, alerts *mysqlstore.AlertRepository, retention time.Duration, l lock.Locker) jobs.Job {
	return &alertCleanupJob{interval: interval, alerts: alerts, retention: retention, lock: l}
}

func (j *alertCleanupJob) Name() string            { return "alert-archive-cleanup" }
func (j *alertCleanupJob) Interval() time.Duration { return j.interval }

func (j *alertCleanupJob) Run(ctx context.Context) error {
	acquired, err := j.lock.TryLock(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		logger.DebugCtx(ctx, "another instance is cleaning the alert archive, skipping this cycle")
		return nil
	}
	defer func() {
		if err := j.lock.Unlock(ctx); err != nil {
			logger.WarnCtx(ctx, "failed to release alert cleanup lock: %v", err)
		}
	}()

	deleted, err := j.alerts.CleanupBefore(ctx, time.Now().Add(-j.retention))
	if err != nil {
		return err
	}
	if deleted > 0 {
		logger.InfoCtx(ctx, "deleted %d archived alerts older than %v", deleted, j.retention)
	}
	return nil
}
