// Package observe provides logging, metrics and tracing for the asset cache.
//
// It is a pure instrumentation library: it performs no fetching and no
// storage, and does no I/O beyond exporter setup. The cache Transport and the
// HTTP server consume the Logger, Metrics and Tracer it builds.
package observe
