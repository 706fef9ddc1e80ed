package monitor

import (
	"context"
	"runtime"
	"runtime/debug"

	"loadwarden/pkg/resource"
	"loadwarden/pkg/sampler"

	"go.uber.org/zap"
)

// RegisterStrategy appends a mitigation callback run after the built-in
// mitigation of category.
func (m *Monitor) RegisterStrategy(category resource.Category, fn resource.Strategy) {
	m.strategies.Register(category, fn)
}

// RegisterCache adds an application cache dropped under memory pressure.
func (m *Monitor) RegisterCache(c resource.Clearable) {
	if c == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches = append(m.caches, c)
}

// RegisterPool sets the worker pool shrunk under CPU pressure.
func (m *Monitor) RegisterPool(p resource.Resizable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pool = p
}

// SetAcceleratorReleaser sets the hook that drops accelerator allocator caches.
func (m *Monitor) SetAcceleratorReleaser(r sampler.CacheReleaser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaser = r
}

// checkThresholds runs mitigation for every category whose soft threshold
// was crossed by snap.
func (m *Monitor) checkThresholds(ctx context.Context, snap sampler.Snapshot) {
	for _, category := range sortedCategories(m.cfg.Thresholds) {
		value, ok := snap.Percent(string(category))
		if !ok || !m.cfg.Thresholds.Exceeded(category, value) {
			continue
		}
		m.log.Info("optimization threshold crossed",
			zap.String("category", string(category)),
			zap.Float64("value", value),
			zap.Float64("threshold", m.cfg.Thresholds[category]))
		m.mitigate(ctx, category)
	}
}

func (m *Monitor) mitigate(ctx context.Context, category resource.Category) {
	switch category {
	case resource.CategoryMemory:
		m.optimizeMemory(ctx)
	case resource.CategoryCPU:
		m.optimizeCPU()
	}
	m.strategies.Run(ctx, category)
}

func (m *Monitor) optimizeMemory(ctx context.Context) {
	m.releaseMemory()

	m.mu.RLock()
	releaser := m.releaser
	caches := append([]resource.Clearable(nil), m.caches...)
	m.mu.RUnlock()

	if releaser != nil {
		if err := releaser.ReleaseCache(ctx); err != nil {
			m.log.Warn("failed to release accelerator cache", zap.Error(err))
		}
	}
	for _, c := range caches {
		clearCache(m, c)
	}
}

func clearCache(m *Monitor, c resource.Clearable) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("cache clear panicked", zap.Any("panic", r))
		}
	}()
	c.Clear()
}

func (m *Monitor) optimizeCPU() {
	if err := m.lowerPriority(); err != nil {
		m.log.Debug("could not lower process priority", zap.Error(err))
	}

	m.mu.RLock()
	pool := m.pool
	m.mu.RUnlock()
	if pool == nil {
		return
	}
	current := pool.Size()
	if current <= 1 {
		return
	}
	size := pool.Resize(current - 1)
	m.log.Info("worker pool shrunk under cpu pressure", zap.Int("from", current), zap.Int("to", size))
}

func freeOSMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}
