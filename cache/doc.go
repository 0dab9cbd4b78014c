// Package cache provides a stale-while-revalidate cache for remote image assets.
//
// It provides a Store interface with memory and bbolt implementations, a
// freshness Policy, oldest-first eviction to a fixed entry bound, and
// Transport, an http.RoundTripper that serves in-scope GET requests from the
// store while refreshing it from the network in the background.
package cache
