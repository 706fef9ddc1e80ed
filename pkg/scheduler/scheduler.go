// Package scheduler runs background tasks on a bounded worker pool, admitting
// queued work by priority only while host CPU and memory stay under their
// limits.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"loadwarden/pkg/config"
	"loadwarden/pkg/lifecycle"
	"loadwarden/pkg/logger"
	"loadwarden/pkg/resource"
	"loadwarden/pkg/sampler"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the scheduler limits and loop timing
type Config struct {
	MaxMemoryPercent   float64
	MaxCPUPercent      float64
	MaxWorkerThreads   int
	MaxConcurrentTasks int
	TaskDirectory      string
	PollInterval       time.Duration
	PressureBackoff    time.Duration
	ResultTTL          time.Duration
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		MaxMemoryPercent:   80,
		MaxCPUPercent:      90,
		MaxWorkerThreads:   4,
		MaxConcurrentTasks: 10,
		PollInterval:       100 * time.Millisecond,
		PressureBackoff:    time.Second,
		ResultTTL:          time.Hour,
	}
}

// FromConfig converts the YAML scheduler section
func FromConfig(c config.SchedulerConfig) Config {
	return Config{
		MaxMemoryPercent:   c.MaxMemoryPercent,
		MaxCPUPercent:      c.MaxCPUPercent,
		MaxWorkerThreads:   c.MaxWorkerThreads,
		MaxConcurrentTasks: c.MaxConcurrentTasks,
		TaskDirectory:      c.TaskDirectory,
		PollInterval:       c.PollInterval(),
		PressureBackoff:    c.PressureBackoff(),
		ResultTTL:          c.ResultCacheTTL,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxMemoryPercent <= 0 {
		c.MaxMemoryPercent = def.MaxMemoryPercent
	}
	if c.MaxCPUPercent <= 0 {
		c.MaxCPUPercent = def.MaxCPUPercent
	}
	if c.MaxWorkerThreads <= 0 {
		c.MaxWorkerThreads = def.MaxWorkerThreads
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = def.MaxConcurrentTasks
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.PressureBackoff <= 0 {
		c.PressureBackoff = def.PressureBackoff
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = def.ResultTTL
	}
	return c
}

// ProcessProbe reads statistics of the current process
type ProcessProbe interface {
	Process(ctx context.Context) (*sampler.ProcessStats, error)
}

// ResultStore keeps status views of pruned, already observed tasks so late
// Status calls still find them. *cache.Cache[TaskStatusView] satisfies it.
type ResultStore interface {
	Set(key string, value TaskStatusView, ttl time.Duration)
	Get(key string) (TaskStatusView, bool)
}

// ResourceUsage is the scheduler's view of process load and its own bookkeeping
type ResourceUsage struct {
	MemoryRSS     uint64  `json:"memory_rss"`
	CPUPercent    float64 `json:"cpu_percent"`
	Threads       int32   `json:"threads"`
	Goroutines    int     `json:"goroutines"`
	QueueDepth    int     `json:"queue_depth"`
	ActiveTasks   int     `json:"active_tasks"`
	PoolSize      int     `json:"pool_size"`
	MaxConcurrent int     `json:"max_concurrent"`
}

// Option customises a Scheduler
type Option func(*Scheduler)

// WithUsageSource sets the signal sampled before each admission cycle
func WithUsageSource(src resource.UsageSource) Option {
	return func(s *Scheduler) { s.usage = src }
}

// WithProcessProbe sets the probe behind CurrentResourceUsage
func WithProcessProbe(p ProcessProbe) Option {
	return func(s *Scheduler) { s.process = p }
}

// WithResultStore sets the store that receives pruned task views
func WithResultStore(rs ResultStore) Option {
	return func(s *Scheduler) { s.results = rs }
}

// Scheduler is the resource-aware background task scheduler.
type Scheduler struct {
	cfg        Config
	limits     resource.Limits
	usage      resource.UsageSource
	process    ProcessProbe
	results    ResultStore
	strategies *resource.StrategyRegistry
	pool       *workerPool
	wake       chan struct{}
	log        *zap.Logger

	// mu guards the registry, the queue and every task field
	mu        sync.Mutex
	tasks     map[string]*task
	queue     taskQueue
	running   int
	seq       uint64
	state     lifecycle.State
	closed    bool
	restarted bool
	pressured bool

	stopLoop  context.CancelFunc
	loopDone  chan struct{}
	stopped   chan struct{}
	cancelRun context.CancelFunc
	inflight  *sync.WaitGroup
}

// New creates a stopped scheduler. Without WithUsageSource it samples the
// host through gopsutil.
func New(cfg Config, opts ...Option) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		cfg: cfg,
		limits: resource.Limits{
			resource.CategoryCPU:    cfg.MaxCPUPercent,
			resource.CategoryMemory: cfg.MaxMemoryPercent,
		},
		strategies: resource.NewStrategyRegistry(),
		pool:       newWorkerPool(cfg.MaxWorkerThreads),
		wake:       make(chan struct{}, 1),
		tasks:      make(map[string]*task),
		log:        logger.Named("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.usage == nil || s.process == nil {
		host := sampler.NewHostSource(sampler.HostConfig{})
		if s.usage == nil {
			s.usage = host
		}
		if s.process == nil {
			s.process = host
		}
	}
	return s
}

// Pool exposes the worker pool so the monitor can shrink it under CPU pressure
func (s *Scheduler) Pool() resource.Resizable {
	return s.pool
}

// State returns the lifecycle state
func (s *Scheduler) State() lifecycle.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the admission loop. Tasks submitted before the first Start
// are kept; a restart after Close begins with an empty registry.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.TaskDirectory != "" {
		if err := os.MkdirAll(s.cfg.TaskDirectory, 0o755); err != nil {
			return fmt.Errorf("failed to create task directory: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != lifecycle.Stopped {
		return fmt.Errorf("scheduler is already %s", s.state)
	}
	if s.restarted {
		s.tasks = make(map[string]*task)
		s.queue = nil
		s.running = 0
	}
	s.restarted = true
	s.closed = false
	s.pressured = false

	base := context.WithoutCancel(ctx)
	loopCtx, stopLoop := context.WithCancel(base)
	runCtx, cancelRun := context.WithCancel(base)
	s.stopLoop, s.cancelRun = stopLoop, cancelRun
	s.loopDone = make(chan struct{})
	s.stopped = make(chan struct{})
	s.inflight = &sync.WaitGroup{}
	s.state = lifecycle.Running

	s.log.Info("task scheduler started",
		zap.Int("workers", s.pool.Size()),
		zap.Int("max_concurrent", s.cfg.MaxConcurrentTasks),
		zap.Float64("max_cpu_percent", s.cfg.MaxCPUPercent),
		zap.Float64("max_memory_percent", s.cfg.MaxMemoryPercent))

	go s.loop(loopCtx, runCtx, s.loopDone)
	return nil
}

// Close stops admission, cancels queued tasks and waits up to timeout for
// running ones (timeout <= 0 waits indefinitely). Tasks still running after
// the timeout are abandoned: their context is cancelled and their callbacks
// never fire. Submit fails with ErrSchedulerClosed afterwards. A Close that
// arrives while another is draining waits for that one to finish and
// returns nil.
func (s *Scheduler) Close(timeout time.Duration) error {
	s.mu.Lock()
	switch s.state {
	case lifecycle.Stopping:
		stopped := s.stopped
		s.mu.Unlock()
		<-stopped
		return nil
	case lifecycle.Stopped:
		s.closed = true
		s.mu.Unlock()
		return nil
	}
	s.state = lifecycle.Stopping
	s.closed = true
	stopLoop, loopDone, cancelRun, inflight, stopped := s.stopLoop, s.loopDone, s.cancelRun, s.inflight, s.stopped
	s.mu.Unlock()

	stopLoop()
	<-loopDone

	now := time.Now()
	s.mu.Lock()
	cancelled := 0
	for s.queue.Len() > 0 {
		t := heap.Pop(&s.queue).(*task)
		s.finishCancelled(t, now)
		cancelled++
	}
	s.mu.Unlock()
	if cancelled > 0 {
		s.log.Info("cancelled queued tasks on shutdown", zap.Int("count", cancelled))
	}

	var err error
	if !waitTimeout(inflight, timeout) {
		s.mu.Lock()
		abandoned := 0
		for _, t := range s.tasks {
			if t.status == StatusRunning && !t.abandoned {
				t.abandoned = true
				s.running--
				s.pool.release()
				abandoned++
			}
		}
		s.mu.Unlock()
		s.log.Warn("abandoning running tasks after shutdown timeout",
			zap.Int("count", abandoned), zap.Duration("timeout", timeout))
		err = fmt.Errorf("%w: %d abandoned after %s", ErrCloseTimeout, abandoned, timeout)
	}
	cancelRun()

	s.mu.Lock()
	s.state = lifecycle.Stopped
	s.mu.Unlock()
	close(stopped)
	s.log.Info("task scheduler stopped")
	return err
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	if timeout <= 0 {
		wg.Wait()
		return true
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Submit enqueues fn and returns its id. It never blocks.
func (s *Scheduler) Submit(fn TaskFunc, opts ...SubmitOption) (string, error) {
	if fn == nil {
		return "", ErrNilTask
	}
	t := &task{
		id:        newTaskID(),
		priority:  PriorityMedium,
		createdAt: time.Now(),
		fn:        fn,
		status:    StatusQueued,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	s.mu.Lock()
	if s.closed || s.state == lifecycle.Stopping {
		s.mu.Unlock()
		return "", ErrSchedulerClosed
	}
	s.seq++
	t.seq = s.seq
	s.tasks[t.id] = t
	heap.Push(&s.queue, t)
	s.mu.Unlock()

	s.log.Debug("task submitted",
		zap.String("task_id", t.id),
		zap.String("name", t.name),
		zap.Stringer("priority", t.priority))
	s.notify()
	return t.id, nil
}

func newTaskID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Status returns the current view of a task. Reading a terminal task marks it
// observed, which makes it eligible for PruneTerminal.
func (s *Scheduler) Status(id string) TaskStatusView {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		if t.status.Terminal() {
			t.observed = true
		}
		v := t.view(time.Now())
		s.mu.Unlock()
		return v
	}
	s.mu.Unlock()

	if s.results != nil {
		if v, ok := s.results.Get(id); ok {
			return v
		}
	}
	return notFoundView(id)
}

// Wait blocks until the task is terminal or ctx is done.
func (s *Scheduler) Wait(ctx context.Context, id string) (TaskStatusView, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		v := s.Status(id)
		if v.Status == StatusNotFound {
			return v, ErrTaskNotFound
		}
		return v, nil
	}

	select {
	case <-t.done:
		return s.Status(id), nil
	case <-ctx.Done():
		return s.Status(id), ctx.Err()
	}
}

// Cancel cancels a queued task. It returns false for running, terminal or
// unknown tasks; a task already popped by admission counts as running.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.status != StatusQueued {
		return false
	}
	heap.Remove(&s.queue, t.index)
	s.finishCancelled(t, time.Now())
	s.log.Debug("task cancelled", zap.String("task_id", id))
	return true
}

// finishCancelled must be called with s.mu held and t already off the queue
func (s *Scheduler) finishCancelled(t *task, now time.Time) {
	t.status = StatusCancelled
	t.finishedAt = now
	close(t.done)
}

// ListActive returns every queued or running task in admission order.
func (s *Scheduler) ListActive() []TaskStatusView {
	s.mu.Lock()
	active := make([]*task, 0, s.queue.Len()+s.running)
	for _, t := range s.tasks {
		if !t.status.Terminal() {
			active = append(active, t)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].priority != active[j].priority {
			return active[i].priority < active[j].priority
		}
		return active[i].seq < active[j].seq
	})
	now := time.Now()
	views := make([]TaskStatusView, 0, len(active))
	for _, t := range active {
		views = append(views, t.view(now))
	}
	s.mu.Unlock()
	return views
}

// RegisterOptimizationStrategy appends fn to the strategies run when the
// scheduler finds category above its limit.
func (s *Scheduler) RegisterOptimizationStrategy(category resource.Category, fn resource.Strategy) {
	s.strategies.Register(category, fn)
}

// CurrentResourceUsage reports process statistics plus queue bookkeeping. A
// failed process probe falls back to Go runtime figures.
func (s *Scheduler) CurrentResourceUsage(ctx context.Context) ResourceUsage {
	s.mu.Lock()
	usage := ResourceUsage{
		QueueDepth:    s.queue.Len(),
		ActiveTasks:   s.running,
		MaxConcurrent: s.cfg.MaxConcurrentTasks,
	}
	s.mu.Unlock()
	usage.PoolSize = s.pool.Size()
	usage.Goroutines = runtime.NumGoroutine()

	proc, err := s.process.Process(ctx)
	if err != nil || proc == nil {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		usage.MemoryRSS = ms.Sys
		return usage
	}
	usage.MemoryRSS = proc.RSS
	usage.CPUPercent = proc.CPUPercent
	usage.Threads = proc.Threads
	return usage
}

// PruneTerminal evicts observed terminal tasks finished more than olderThan
// ago and returns the number evicted. Unobserved tasks stay in the registry
// whatever their age. The result store, when set, receives a copy of each
// evicted view for late Status calls; it may drop them at any time.
func (s *Scheduler) PruneTerminal(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	s.mu.Lock()
	var evicted []TaskStatusView
	pruned := 0
	for id, t := range s.tasks {
		if !t.status.Terminal() || !t.observed || t.finishedAt.After(cutoff) {
			continue
		}
		if s.results != nil {
			evicted = append(evicted, t.view(t.finishedAt))
		}
		delete(s.tasks, id)
		pruned++
	}
	s.mu.Unlock()

	for _, v := range evicted {
		s.results.Set(v.ID, v, s.cfg.ResultTTL)
	}
	if pruned > 0 {
		s.log.Debug("pruned terminal tasks", zap.Int("count", pruned))
	}
	return pruned
}

func (s *Scheduler) loop(ctx, runCtx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()

	for {
		pressured := s.cycle(ctx, runCtx)

		wait := s.cfg.PollInterval
		if pressured {
			wait = s.cfg.PressureBackoff
		}
		timer.Reset(wait)

		if pressured {
			// back off for the full period; submissions do not cut it short
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// cycle runs one admission pass and reports whether resource pressure
// blocked it.
func (s *Scheduler) cycle(ctx, runCtx context.Context) (pressured bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("admission cycle panicked", zap.Any("panic", r))
		}
	}()

	s.mu.Lock()
	queued := s.queue.Len()
	s.mu.Unlock()

	// strategies run on pressure even while the queue is idle
	if over := s.overLimit(ctx, queued > 0); len(over) > 0 {
		for _, category := range over {
			s.strategies.Run(ctx, category)
		}
		return true
	}

	if queued > 0 {
		s.admit(runCtx)
	}
	return false
}

// overLimit samples usage and returns the categories above their hard limit.
// A failed sample admits rather than stalling the queue.
func (s *Scheduler) overLimit(ctx context.Context, pending bool) []resource.Category {
	usage, err := s.usage.Usage(ctx)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
		case pending:
			s.log.Warn("resource usage sampling failed, admitting anyway", zap.Error(err))
		default:
			s.log.Debug("resource usage sampling failed", zap.Error(err))
		}
		return nil
	}

	var over []resource.Category
	if s.limits.Exceeded(resource.CategoryCPU, usage.CPUPercent) {
		over = append(over, resource.CategoryCPU)
	}
	if s.limits.Exceeded(resource.CategoryMemory, usage.MemoryPercent) {
		over = append(over, resource.CategoryMemory)
	}

	s.mu.Lock()
	was := s.pressured
	s.pressured = len(over) > 0
	s.mu.Unlock()

	switch {
	case len(over) > 0 && !was:
		s.log.Warn("resource pressure, pausing admission",
			zap.Float64("cpu_percent", usage.CPUPercent),
			zap.Float64("memory_percent", usage.MemoryPercent))
	case len(over) == 0 && was:
		s.log.Info("resource pressure cleared, resuming admission",
			zap.Float64("cpu_percent", usage.CPUPercent),
			zap.Float64("memory_percent", usage.MemoryPercent))
	}
	return over
}

// admit pops tasks while both the concurrency cap and the pool have room. At
// the cap it admits nothing and the loop retries after the short poll.
func (s *Scheduler) admit(runCtx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var batch []*task
	for s.queue.Len() > 0 && s.running < s.cfg.MaxConcurrentTasks && s.pool.tryAcquire() {
		t := heap.Pop(&s.queue).(*task)
		t.status = StatusRunning
		t.startedAt = now
		if s.cfg.TaskDirectory != "" {
			t.stagingDir = filepath.Join(s.cfg.TaskDirectory, t.id)
		}
		s.running++
		batch = append(batch, t)
	}
	wg := s.inflight
	wg.Add(len(batch))
	s.mu.Unlock()

	for _, t := range batch {
		s.log.Debug("task admitted", zap.String("task_id", t.id), zap.Stringer("priority", t.priority))
		go s.execute(runCtx, wg, t)
	}
}

func (s *Scheduler) execute(runCtx context.Context, wg *sync.WaitGroup, t *task) {
	defer wg.Done()

	ctx := context.WithValue(runCtx, taskIDKey, t.id)
	if t.stagingDir != "" {
		if err := os.MkdirAll(t.stagingDir, 0o755); err != nil {
			s.log.Warn("failed to create staging directory", zap.String("task_id", t.id), zap.Error(err))
		} else {
			ctx = context.WithValue(ctx, stagingDirKey, t.stagingDir)
		}
	}

	result, err := runBody(ctx, t)

	s.mu.Lock()
	t.finishedAt = time.Now()
	if err != nil {
		t.status = StatusFailed
		t.err = err
	} else {
		t.status = StatusCompleted
		t.result = result
	}
	abandoned := t.abandoned
	if !abandoned {
		s.running--
	}
	close(t.done)
	s.mu.Unlock()

	if !abandoned {
		s.pool.release()
		s.notify()
	}
	if t.stagingDir != "" {
		if rmErr := os.RemoveAll(t.stagingDir); rmErr != nil {
			s.log.Warn("failed to remove staging directory", zap.String("task_id", t.id), zap.Error(rmErr))
		}
	}

	if err != nil {
		s.log.Warn("task failed", zap.String("task_id", t.id), zap.String("name", t.name), zap.Error(err))
	}
	if abandoned {
		return
	}
	s.invokeCallback(t, result, err)
}

func runBody(ctx context.Context, t *task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskExecutionError{TaskID: t.id, Panic: r}
		}
	}()
	result, err = t.fn(ctx)
	if err != nil {
		err = &TaskExecutionError{TaskID: t.id, Err: err}
	}
	return result, err
}

func (s *Scheduler) invokeCallback(t *task, result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task callback panicked", zap.String("task_id", t.id), zap.Any("panic", r))
		}
	}()
	if err != nil {
		if t.onFailure != nil {
			t.onFailure(err)
		}
		return
	}
	if t.onSuccess != nil {
		t.onSuccess(result)
	}
}
