package health

import (
	"context"
	"fmt"

	"github.com/exaado/assetcache/cache"
)

// StoreCheckerConfig configures NewStoreChecker.
type StoreCheckerConfig struct {
	// Store returns the open store, or nil before it is opened.
	Store func() cache.Store

	// Active reports whether requests are routed through the cache.
	// Nil means always active.
	Active func() bool

	// MaxItems is the capacity bound. Zero disables the size check.
	MaxItems int
}

// StoreChecker reports the cache store as:
//   - Unhealthy when it is not open or cannot be enumerated,
//   - Degraded when the cache is not active yet or holds more than MaxItems,
//   - Healthy otherwise.
type StoreChecker struct {
	config StoreCheckerConfig
}

// NewStoreChecker creates a store checker.
func NewStoreChecker(config StoreCheckerConfig) *StoreChecker {
	return &StoreChecker{config: config}
}

// Name returns "store".
func (c *StoreChecker) Name() string {
	return "store"
}

// Check enumerates the store.
func (c *StoreChecker) Check(ctx context.Context) Result {
	var store cache.Store
	if c.config.Store != nil {
		store = c.config.Store()
	}
	if store == nil {
		return Unhealthy("store not open", ErrStoreUnavailable)
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		return Unhealthy("store not readable", fmt.Errorf("%w: %w", ErrCheckFailed, err))
	}

	details := map[string]any{"entries": len(keys)}
	if c.config.MaxItems > 0 {
		details["max_items"] = c.config.MaxItems
	}

	if c.config.Active != nil && !c.config.Active() {
		return Degraded("cache installed but not active").WithDetails(details)
	}
	if c.config.MaxItems > 0 && len(keys) > c.config.MaxItems {
		return Degraded(fmt.Sprintf("store holds %d entries, over capacity", len(keys))).WithDetails(details)
	}
	return Healthy("store readable").WithDetails(details)
}

var _ Checker = (*StoreChecker)(nil)
