package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records cache and upstream activity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordOutcome records how an intercepted request was answered.
	RecordOutcome(ctx context.Context, meta RequestMeta, outcome string, duration time.Duration)

	// RecordUpstream records one network round trip. status is 0 on error.
	RecordUpstream(ctx context.Context, meta RequestMeta, status int, duration time.Duration, err error)

	// RecordStoreError records a failed store operation (get, put, keys, delete).
	RecordStoreError(ctx context.Context, op string)

	// RecordEviction records entries removed by one eviction pass.
	RecordEviction(ctx context.Context, removed int)
}

type metricsImpl struct {
	requests       metric.Int64Counter
	requestDur     metric.Float64Histogram
	upstream       metric.Int64Counter
	upstreamErrs   metric.Int64Counter
	upstreamDur    metric.Float64Histogram
	storeErrors    metric.Int64Counter
	evictions      metric.Int64Counter
	evictionPasses metric.Int64Counter
}

// NewMetrics creates Metrics backed by meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{}
	var err error

	if m.requests, err = meter.Int64Counter(
		"asset.requests.total",
		metric.WithDescription("Intercepted requests by outcome"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.requestDur, err = meter.Float64Histogram(
		"asset.request.duration_ms",
		metric.WithDescription("Time to answer an intercepted request"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.upstream, err = meter.Int64Counter(
		"asset.upstream.total",
		metric.WithDescription("Network round trips"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}

	if m.upstreamErrs, err = meter.Int64Counter(
		"asset.upstream.errors",
		metric.WithDescription("Network round trips that failed"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	if m.upstreamDur, err = meter.Float64Histogram(
		"asset.upstream.duration_ms",
		metric.WithDescription("Network round trip duration"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.storeErrors, err = meter.Int64Counter(
		"asset.store.errors",
		metric.WithDescription("Failed store operations"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	if m.evictions, err = meter.Int64Counter(
		"asset.evictions.total",
		metric.WithDescription("Entries removed to stay within capacity"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}

	if m.evictionPasses, err = meter.Int64Counter(
		"asset.eviction.passes",
		metric.WithDescription("Eviction passes run after store writes"),
		metric.WithUnit("{pass}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metricsImpl) RecordOutcome(ctx context.Context, meta RequestMeta, outcome string, duration time.Duration) {
	opt := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("server.address", meta.Host),
	)
	m.requests.Add(ctx, 1, opt)
	m.requestDur.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

func (m *metricsImpl) RecordUpstream(ctx context.Context, meta RequestMeta, status int, duration time.Duration, err error) {
	opt := metric.WithAttributes(
		attribute.String("server.address", meta.Host),
		attribute.Int("http.response.status_code", status),
	)
	m.upstream.Add(ctx, 1, opt)
	if err != nil {
		m.upstreamErrs.Add(ctx, 1, opt)
	}
	m.upstreamDur.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

func (m *metricsImpl) RecordStoreError(ctx context.Context, op string) {
	m.storeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *metricsImpl) RecordEviction(ctx context.Context, removed int) {
	m.evictionPasses.Add(ctx, 1)
	if removed > 0 {
		m.evictions.Add(ctx, int64(removed))
	}
}

// NopMetrics returns Metrics that records nothing.
func NopMetrics() Metrics {
	return noopMetrics{}
}

type noopMetrics struct{}

func (noopMetrics) RecordOutcome(context.Context, RequestMeta, string, time.Duration)       {}
func (noopMetrics) RecordUpstream(context.Context, RequestMeta, int, time.Duration, error) {}
func (noopMetrics) RecordStoreError(context.Context, string)                              {}
func (noopMetrics) RecordEviction(context.Context, int)                                   {}
