package observe

import (
	"net/http"
	"time"
)

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip calls f(req).
func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Middleware wraps the network leg with tracing, metrics, and logging.
//
// Contract:
//   - Concurrency: WrapTransport returns a RoundTripper safe for concurrent use
//     when next is.
//   - Context: the span context is propagated through the request.
//   - Errors: errors and responses from next are returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given observability components.
// Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// WrapTransport instruments every round trip made through next.
func (m *Middleware) WrapTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		meta := NewRequestMeta(req, "")
		ctx, span := m.tracer.StartSpan(req.Context(), SpanUpstream, meta)

		start := time.Now()
		resp, err := next.RoundTrip(req.WithContext(ctx))
		duration := time.Since(start)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}

		m.tracer.EndSpan(span, err)
		m.metrics.RecordUpstream(ctx, meta, status, duration, err)

		fields := []Field{
			F("duration_ms", float64(duration.Microseconds())/1000),
			F("status", status),
		}
		log := m.logger.WithRequest(meta)
		if err != nil {
			log.Warn(ctx, "upstream request failed", append(fields, F("error", err))...)
		} else {
			log.Debug(ctx, "upstream request completed", fields...)
		}

		return resp, err
	})
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}
