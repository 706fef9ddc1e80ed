// Package monitor samples system metrics on a fixed interval, keeps a bounded
// history and alert list, and triggers proactive mitigation when soft
// thresholds are crossed.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"loadwarden/pkg/lifecycle"
	"loadwarden/pkg/logger"
	"loadwarden/pkg/resource"
	"loadwarden/pkg/ring"
	"loadwarden/pkg/sampler"

	"go.uber.org/zap"
)

// ErrNoSnapshot is returned by Usage before the first sample is taken.
var ErrNoSnapshot = errors.New("no metrics snapshot available yet")

// Config monitor configuration
type Config struct {
	Interval      time.Duration
	HistorySize   int
	AlertCapacity int
	PersistEvery  int
	// Restore reloads the persisted history on Start.
	Restore    bool
	Limits     resource.Limits
	Thresholds resource.Limits
}

// DefaultConfig returns the default monitor configuration
func DefaultConfig() Config {
	return Config{
		Interval:      60 * time.Second,
		HistorySize:   1000,
		AlertCapacity: 100,
		PersistEvery:  10,
		Limits: resource.Limits{
			resource.CategoryCPU:    90,
			resource.CategoryMemory: 85,
			resource.CategoryDisk:   90,
			resource.CategorySwap:   80,
		},
		Thresholds: resource.Limits{
			resource.CategoryCPU:    75,
			resource.CategoryMemory: 70,
			resource.CategoryDisk:   80,
		},
	}
}

// HistoryStore persists the metrics history. Save overwrites wholesale.
type HistoryStore interface {
	Name() string
	Save(ctx context.Context, history []sampler.Snapshot) error
	Load(ctx context.Context) ([]sampler.Snapshot, error)
}

// PersistenceError reports a failed history save.
type PersistenceError struct {
	Store string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist metrics history to %s: %v", e.Store, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Summary is a projection of the latest snapshot. Nil fields were not sampled.
type Summary struct {
	CPUPercent    *float64  `json:"cpu_percent"`
	MemoryPercent *float64  `json:"memory_percent"`
	DiskPercent   *float64  `json:"disk_percent"`
	SwapPercent   *float64  `json:"swap_percent"`
	Timestamp     time.Time `json:"timestamp"`
}

// Option customises a Monitor
type Option func(*Monitor)

// WithStore sets the history store
func WithStore(store HistoryStore) Option {
	return func(m *Monitor) { m.store = store }
}

// WithPriorityLowering replaces the CPU mitigation that renices the process.
func WithPriorityLowering(fn func() error) Option {
	return func(m *Monitor) { m.lowerPriority = fn }
}

// WithMemoryRelease replaces the GC pass run under memory pressure.
func WithMemoryRelease(fn func()) Option {
	return func(m *Monitor) { m.releaseMemory = fn }
}

// Monitor is the system metrics monitor.
type Monitor struct {
	cfg    Config
	source sampler.Source
	store  HistoryStore

	mu       sync.RWMutex
	history  *ring.Buffer[sampler.Snapshot]
	alerts   *ring.Buffer[Alert]
	samples  int
	hooks    []AlertHook
	caches   []resource.Clearable
	pool     resource.Resizable
	releaser sampler.CacheReleaser

	strategies    *resource.StrategyRegistry
	lowerPriority func() error
	releaseMemory func()

	stateMu sync.Mutex
	state   lifecycle.State
	cancel  context.CancelFunc
	done    chan struct{}

	log *zap.Logger
}

// New creates a monitor reading from source.
func New(cfg Config, source sampler.Source, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.AlertCapacity <= 0 {
		cfg.AlertCapacity = def.AlertCapacity
	}
	if cfg.PersistEvery <= 0 {
		cfg.PersistEvery = def.PersistEvery
	}
	if cfg.Limits == nil {
		cfg.Limits = def.Limits
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = def.Thresholds
	}

	m := &Monitor{
		cfg:           cfg,
		source:        source,
		history:       ring.New[sampler.Snapshot](cfg.HistorySize),
		alerts:        ring.New[Alert](cfg.AlertCapacity),
		strategies:    resource.NewStrategyRegistry(),
		lowerPriority: lowerProcessPriority,
		releaseMemory: freeOSMemory,
		log:           logger.Named("monitor"),
	}
	if hs, ok := source.(interface{ AcceleratorProbe() sampler.Accelerator }); ok {
		if r, ok := hs.AcceleratorProbe().(sampler.CacheReleaser); ok {
			m.releaser = r
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state
func (m *Monitor) State() lifecycle.State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// Start launches the sampling loop. Runtime state starts empty unless
// Config.Restore is set.
func (m *Monitor) Start(ctx context.Context) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.state != lifecycle.Stopped {
		return fmt.Errorf("monitor is already %s", m.state)
	}

	m.mu.Lock()
	m.history.Reset()
	m.alerts.Reset()
	m.samples = 0
	m.mu.Unlock()

	if m.cfg.Restore {
		if err := m.Restore(ctx); err != nil {
			m.log.Warn("failed to restore metrics history", zap.Error(err))
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.state = lifecycle.Running

	m.log.Info("system monitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Int("history_size", m.cfg.HistorySize))

	go m.loop(loopCtx, m.done)
	return nil
}

// Stop stops the loop, waits for the running iteration and saves the history
// one last time.
func (m *Monitor) Stop(ctx context.Context) error {
	m.stateMu.Lock()
	if m.state != lifecycle.Running {
		m.stateMu.Unlock()
		return nil
	}
	m.state = lifecycle.Stopping
	cancel, done := m.cancel, m.done
	m.stateMu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		m.log.Warn("monitor loop did not exit before shutdown deadline")
	}

	m.persist(ctx)

	m.stateMu.Lock()
	m.state = lifecycle.Stopped
	m.stateMu.Unlock()
	m.log.Info("system monitor stopped")
	return nil
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.Tick(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs a single monitoring iteration. Panics are recovered and logged so
// the loop never exits because of a bad sample. Used directly by tests.
func (m *Monitor) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("monitoring iteration panicked", zap.Any("panic", r))
		}
	}()

	snap := sampler.Collect(ctx, m.source)
	if len(snap.FieldErrors) > 0 {
		m.log.Debug("partial metrics sample", zap.Any("field_errors", snap.FieldErrors))
	}

	if m.record(snap) {
		m.persist(ctx)
	}
	m.checkLimits(ctx, snap)
	m.checkThresholds(ctx, snap)
}

// record appends snap and reports whether a periodic save is due.
func (m *Monitor) record(snap sampler.Snapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history.Push(snap)
	m.samples++
	return m.samples%m.cfg.PersistEvery == 0
}

func (m *Monitor) persist(ctx context.Context) {
	if m.store == nil {
		return
	}
	history := m.History(0)
	if len(history) == 0 {
		return
	}
	if err := m.store.Save(ctx, history); err != nil {
		perr := &PersistenceError{Store: m.store.Name(), Err: err}
		m.log.Error("metrics persistence failed", zap.Error(perr))
		return
	}
	m.log.Debug("metrics history persisted", zap.String("store", m.store.Name()), zap.Int("snapshots", len(history)))
}

// Restore replaces the in-memory history with the persisted one, keeping the
// newest HistorySize entries.
func (m *Monitor) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	history, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history.Reset()
	for _, snap := range history {
		m.history.Push(snap)
	}
	m.log.Info("metrics history restored", zap.Int("snapshots", m.history.Len()))
	return nil
}

// CurrentMetrics samples synchronously without waiting for the next tick.
func (m *Monitor) CurrentMetrics(ctx context.Context) sampler.Snapshot {
	return sampler.Collect(ctx, m.source)
}

// History returns the newest limit snapshots, newest last. limit <= 0 returns all.
func (m *Monitor) History(limit int) []sampler.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.Last(limit)
}

// Alerts returns the newest limit alerts, newest last. limit <= 0 returns all.
func (m *Monitor) Alerts(limit int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.alerts.Last(limit)
}

func (m *Monitor) latest() (sampler.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.Newest()
}

// ResourceSummary projects the latest snapshot, sampling once if the history
// is still empty.
func (m *Monitor) ResourceSummary(ctx context.Context) Summary {
	snap, ok := m.latest()
	if !ok {
		snap = m.CurrentMetrics(ctx)
	}

	percent := func(field string) *float64 {
		if v, ok := snap.Percent(field); ok {
			return &v
		}
		return nil
	}
	return Summary{
		CPUPercent:    percent(sampler.FieldCPU),
		MemoryPercent: percent(sampler.FieldMemory),
		DiskPercent:   percent(sampler.FieldDisk),
		SwapPercent:   percent(sampler.FieldSwap),
		Timestamp:     snap.Timestamp,
	}
}

// Usage implements resource.UsageSource from the latest snapshot.
func (m *Monitor) Usage(ctx context.Context) (resource.Usage, error) {
	snap, ok := m.latest()
	if !ok {
		return resource.Usage{}, ErrNoSnapshot
	}
	usage := resource.Usage{SampledAt: snap.Timestamp}
	if snap.CPU != nil {
		usage.CPUPercent = snap.CPU.Percent
	}
	if snap.Memory != nil {
		usage.MemoryPercent = snap.Memory.Percent
	}
	return usage, nil
}
