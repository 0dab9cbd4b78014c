// Package resilience bounds concurrent background work.
//
// Bulkhead caps how many cache write-backs run at once so that a burst of
// refreshes cannot pile up unbounded goroutines against the store. By default
// it waits for a slot instead of dropping work:
//
//	b := resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 8})
//	err := b.Execute(ctx, func(ctx context.Context) error {
//	    return store.Put(ctx, key, entry)
//	})
package resilience
