// Package resource holds the resource vocabulary shared by the scheduler and
// the system monitor: categories, usage readings and mitigation strategies.
package resource

import (
	"context"
	"time"
)

// Category identifies a class of resource under pressure.
type Category string

const (
	CategoryCPU    Category = "cpu"
	CategoryMemory Category = "memory"
	CategoryDisk   Category = "disk"
	CategorySwap   Category = "swap"
)

// Usage is a best-effort reading of host pressure used for admission.
type Usage struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	SampledAt     time.Time `json:"sampled_at"`
}

// UsageSource produces the usage signal consulted before admitting a task.
type UsageSource interface {
	Usage(ctx context.Context) (Usage, error)
}

// UsageSourceFunc adapts a function to UsageSource.
type UsageSourceFunc func(ctx context.Context) (Usage, error)

func (f UsageSourceFunc) Usage(ctx context.Context) (Usage, error) {
	return f(ctx)
}

// Limits maps a category to a percentage ceiling.
type Limits map[Category]float64

// LimitsFromConfig converts a config override map into Limits.
func LimitsFromConfig(m map[string]float64) Limits {
	out := make(Limits, len(m))
	for k, v := range m {
		out[Category(k)] = v
	}
	return out
}

// Exceeded reports whether value is strictly above the limit for category.
// Categories without a limit are never exceeded.
func (l Limits) Exceeded(category Category, value float64) bool {
	limit, ok := l[category]
	if !ok {
		return false
	}
	return value > limit
}

// Resizable is a worker pool whose size can be adjusted at runtime.
type Resizable interface {
	Size() int
	Resize(n int) int
}

// Clearable is an application cache that can be dropped under memory pressure.
type Clearable interface {
	Clear()
}
