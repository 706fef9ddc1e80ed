package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"loadwarden/pkg/resource"
	"loadwarden/pkg/sampler"

	"go.uber.org/zap"
)

// Alert is raised when a sampled metric exceeds its hard limit.
type Alert struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Limit     float64   `json:"limit"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertHook is notified of every new alert from the monitoring goroutine.
// Hooks must not block; slow sinks should hand off to their own goroutine.
type AlertHook func(ctx context.Context, alert Alert)

// OnAlert registers a hook
func (m *Monitor) OnAlert(hook AlertHook) {
	if hook == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

func sortedCategories(l resource.Limits) []resource.Category {
	out := make([]resource.Category, 0, len(l))
	for c := range l {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// checkLimits appends an alert for every category above its hard limit.
// It only observes; throttling is the scheduler's job.
func (m *Monitor) checkLimits(ctx context.Context, snap sampler.Snapshot) {
	for _, category := range sortedCategories(m.cfg.Limits) {
		value, ok := snap.Percent(string(category))
		if !ok || !m.cfg.Limits.Exceeded(category, value) {
			continue
		}
		limit := m.cfg.Limits[category]
		alert := Alert{
			Type:      string(category),
			Message:   fmt.Sprintf("%s usage %.1f%% exceeds limit %.1f%%", category, value, limit),
			Value:     value,
			Limit:     limit,
			Timestamp: snap.Timestamp,
		}
		m.raise(ctx, alert)
	}
}

func (m *Monitor) raise(ctx context.Context, alert Alert) {
	m.mu.Lock()
	m.alerts.Push(alert)
	hooks := append([]AlertHook(nil), m.hooks...)
	m.mu.Unlock()

	m.log.Warn("resource limit exceeded",
		zap.String("type", alert.Type),
		zap.Float64("value", alert.Value),
		zap.Float64("limit", alert.Limit))

	for _, hook := range hooks {
		m.callHook(ctx, hook, alert)
	}
}

func (m *Monitor) callHook(ctx context.Context, hook AlertHook, alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("alert hook panicked", zap.Any("panic", r))
		}
	}()
	hook(ctx, alert)
}
