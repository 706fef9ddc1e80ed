package resource

import (
	"context"
	"fmt"
	"sync"

	"loadwarden/pkg/logger"

	"go.uber.org/zap"
)

// Strategy is a mitigation callback that reduces pressure for a category.
type Strategy func(ctx context.Context) error

// StrategyError reports a failed mitigation callback.
type StrategyError struct {
	Category Category
	Index    int
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("optimization strategy %d for %s failed: %v", e.Index, e.Category, e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// StrategyRegistry keeps mitigation callbacks per category in registration order.
type StrategyRegistry struct {
	mu         sync.RWMutex
	strategies map[Category][]Strategy
}

// NewStrategyRegistry creates an empty registry
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{strategies: make(map[Category][]Strategy)}
}

// Register appends fn to the category's list. There is no removal.
func (r *StrategyRegistry) Register(category Category, fn Strategy) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[category] = append(r.strategies[category], fn)
}

// Count returns how many strategies are registered for category.
func (r *StrategyRegistry) Count(category Category) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strategies[category])
}

// Run invokes every strategy of category in order. A failing or panicking
// strategy is logged and the rest still run; the collected failures are
// returned for callers that want them.
func (r *StrategyRegistry) Run(ctx context.Context, category Category) []error {
	r.mu.RLock()
	list := append([]Strategy(nil), r.strategies[category]...)
	r.mu.RUnlock()

	var errs []error
	for i, fn := range list {
		if err := runStrategy(ctx, fn); err != nil {
			serr := &StrategyError{Category: category, Index: i, Err: err}
			logger.Warn("optimization strategy failed",
				zap.String("category", string(category)),
				zap.Int("index", i),
				zap.Error(err))
			errs = append(errs, serr)
		}
	}
	return errs
}

func runStrategy(ctx context.Context, fn Strategy) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
