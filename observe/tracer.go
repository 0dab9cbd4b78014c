package observe

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Span names.
const (
	SpanRequest  = "asset.request"
	SpanUpstream = "asset.upstream"
)

// RequestMeta describes an intercepted request for telemetry purposes.
type RequestMeta struct {
	Method string // HTTP method
	URL    string // Absolute request URL
	Host   string // URL host
	Key    string // Store key (empty for bypassed requests)
}

// NewRequestMeta builds RequestMeta from req.
func NewRequestMeta(req *http.Request, key string) RequestMeta {
	meta := RequestMeta{Key: key}
	if req == nil {
		return meta
	}
	meta.Method = req.Method
	if req.URL != nil {
		meta.URL = req.URL.String()
		meta.Host = req.URL.Host
	}
	return meta
}

func (m RequestMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", m.Method),
		attribute.String("server.address", m.Host),
	}
	if m.Key != "" {
		attrs = append(attrs, attribute.String("cache.key", m.Key))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with request-scoped span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a span called name for the request.
	StartSpan(ctx context.Context, name string, meta RequestMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return NopTracer()
	}
	return &tracerImpl{tracer: t}
}

// StartSpan starts a client span with request attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, name string, meta RequestMeta) (context.Context, trace.Span) {
	attrs := append(meta.attributes(), attribute.String("url.full", meta.URL))
	return t.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// NopTracer returns a tracer that records nothing.
func NopTracer() Tracer {
	return &noopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

type noopTracer struct {
	noop trace.Tracer
}

func (t *noopTracer) StartSpan(ctx context.Context, name string, _ RequestMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, name)
}

func (t *noopTracer) EndSpan(span trace.Span, _ error) {
	span.End()
}
