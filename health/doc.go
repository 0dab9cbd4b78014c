// Package health reports whether the asset cache can serve requests.
//
// A Checker reports one component's Status: Healthy, Degraded or Unhealthy.
// An Aggregator runs registered checkers concurrently under a timeout and
// folds their results into one status, which the HTTP handlers expose as
// liveness (/healthz), readiness (/readyz) and a JSON report (/health).
//
//	agg := health.NewAggregator()
//	agg.Register(health.NewStoreChecker(health.StoreCheckerConfig{
//	    Store:    w.Store,
//	    Active:   func() bool { return w.State() == worker.StateActive },
//	    MaxItems: cache.MaxItems,
//	}))
//	health.RegisterHandlers(mux, agg)
package health
