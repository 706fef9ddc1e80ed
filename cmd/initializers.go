package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"loadwarden/app/handler"
	"loadwarden/app/router"
	"loadwarden/pkg/cache"
	"loadwarden/pkg/config"
	"loadwarden/pkg/logger"
	"loadwarden/pkg/monitor"
	"loadwarden/pkg/notification"
	"loadwarden/pkg/resource"
	"loadwarden/pkg/sampler"
	"loadwarden/pkg/scheduler"
	"loadwarden/pkg/status"
	filestore "loadwarden/pkg/store/file"
	mysqlstore "loadwarden/pkg/store/mysql"
	redisstore "loadwarden/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

const (
	resultCachePrefix = "loadwarden:task-result:"
	alertArchiveWrite = 5 * time.Second
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(app.config.Logger); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.InfoCtx(app.ctx, "Logging system has been closed")
		_ = logger.Sync()
	})
	return nil
}

// initRedis initializes Redis
func (app *Application) initRedis() error {
	if !app.config.Redis.Enabled {
		logger.InfoCtx(app.ctx, "Redis not enabled, result cache stays in memory")
		return nil
	}

	client, err := redisstore.NewRedisClient(app.ctx, app.config.Redis)
	if err != nil {
		return err
	}

	app.redisClient = client
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})
	return nil
}

// initMySQL initializes MySQL
func (app *Application) initMySQL() error {
	if !app.config.MySQL.Enabled {
		logger.InfoCtx(app.ctx, "MySQL not enabled, alert archive disabled")
		return nil
	}

	repo, err := mysqlstore.NewRepository(app.ctx, app.config.MySQL)
	if err != nil {
		return err
	}

	app.mysqlRepo = repo
	app.registerCleanup(func() {
		repo.Close()
		logger.InfoCtx(app.ctx, "MySQL connection has been closed")
	})
	return nil
}

// historyStore picks the persistence backend named by monitor.history_store
func (app *Application) historyStore() (monitor.HistoryStore, error) {
	switch app.config.Monitor.HistoryStore {
	case "file":
		return filestore.NewHistoryStore(app.config.Monitor.MetricsDirectory), nil
	case "redis":
		if app.redisClient == nil {
			return nil, fmt.Errorf("history store redis requires redis.enabled")
		}
		return redisstore.NewHistoryStore(app.redisClient), nil
	case "mysql":
		if app.mysqlRepo == nil {
			return nil, fmt.Errorf("history store mysql requires mysql.enabled")
		}
		return app.mysqlRepo.History, nil
	default:
		return nil, fmt.Errorf("unknown history store %q", app.config.Monitor.HistoryStore)
	}
}

// initMonitor initializes the host sampler and the system monitor
func (app *Application) initMonitor() error {
	mc := app.config.Monitor

	app.host = sampler.NewHostSource(sampler.HostConfig{
		DiskPath:    mc.DiskPath,
		Accelerator: sampler.NewNvidiaSMI(),
	})

	store, err := app.historyStore()
	if err != nil {
		return err
	}

	app.monitor = monitor.New(monitor.Config{
		Interval:      mc.IntervalDuration(),
		HistorySize:   mc.HistorySize,
		AlertCapacity: mc.AlertCapacity,
		PersistEvery:  mc.PersistEvery,
		Restore:       mc.RestoreHistory,
		Limits:        resource.LimitsFromConfig(mc.ResourceLimits),
		Thresholds:    resource.LimitsFromConfig(mc.OptimizationThresholds),
	}, app.host, monitor.WithStore(store))
	logger.InfoCtx(app.ctx, "Metrics history persisted to %s store", store.Name())

	app.notifier = notification.NewFeishuNotifier(app.config.Notification.FeishuWebhookURL)
	if app.notifier.Enabled() {
		app.monitor.OnAlert(app.notifier.Hook())
	}
	if app.mysqlRepo != nil {
		app.monitor.OnAlert(app.mysqlRepo.Alert.Hook(alertArchiveWrite))
	}

	if url := app.config.Notification.NATSURL; url != "" {
		nc, err := notification.ConnectNATS(url)
		if err != nil {
			return err
		}
		app.registerCleanup(func() {
			if err := nc.Drain(); err != nil {
				nc.Close()
			}
			logger.InfoCtx(app.ctx, "NATS connection has been closed")
		})
		app.monitor.OnAlert(notification.NewNATSNotifier(nc, app.config.Notification.NATSSubject).Hook())
		logger.InfoCtx(app.ctx, "Alerts published to NATS at %s", url)
	}
	return nil
}

// initScheduler initializes the task scheduler and its result cache
func (app *Application) initScheduler() error {
	cfg := scheduler.FromConfig(app.config.Scheduler)

	app.resultCache = cache.New[scheduler.TaskStatusView](resultCachePrefix, cfg.ResultTTL)
	if app.redisClient != nil {
		app.resultCache.WithRedis(app.redisClient.GetClient())
	}

	app.scheduler = scheduler.New(cfg,
		scheduler.WithUsageSource(app.host),
		scheduler.WithProcessProbe(app.host),
		scheduler.WithResultStore(app.resultCache),
	)

	// Under CPU pressure the monitor shrinks the worker pool; under memory
	// pressure it drops cached results.
	app.monitor.RegisterPool(app.scheduler.Pool())
	app.monitor.RegisterCache(app.resultCache)
	app.scheduler.RegisterOptimizationStrategy(resource.CategoryMemory, releaseResultCache(app.resultCache))
	return nil
}

// initHandlers initializes the HTTP handlers
func (app *Application) initHandlers() error {
	app.taskHandler = handler.NewTaskHandler(app.scheduler, status.NewRedactor())

	var archive handler.AlertArchive
	if app.mysqlRepo != nil {
		archive = app.mysqlRepo.Alert
	}
	app.monitoringHandler = handler.NewMonitoringHandler(app.monitor, archive)

	app.healthHandler = handler.NewHealthHandler(map[string]handler.Component{
		"scheduler": app.scheduler,
		"monitor":   app.monitor,
	})
	return nil
}

// initHTTPServer initializes the ops HTTP server
func (app *Application) initHTTPServer() error {
	r := router.NewRouter(app.taskHandler, app.monitoringHandler, app.healthHandler, app.config.Server.APIKey)

	gin.SetMode(app.config.Server.Mode)
	app.ginEngine = gin.New()
	r.Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.ginEngine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// releaseResultCache drops cached task results when the scheduler finds
// memory above its hard limit.
func releaseResultCache(c *cache.Cache[scheduler.TaskStatusView]) resource.Strategy {
	return func(ctx context.Context) error {
		size := c.Size()
		c.Clear()
		logger.InfoCtx(ctx, "released %d cached task results under memory pressure", size)
		return nil
	}
}
