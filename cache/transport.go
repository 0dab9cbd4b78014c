package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/exaado/assetcache/observe"
	"github.com/exaado/assetcache/resilience"
)

// MarkHeader is set on responses when WithMarkResponses is enabled.
const MarkHeader = "X-Asset-Cache"

// Outcome is how an intercepted request was answered.
type Outcome int

const (
	// OutcomeBypassed means the request was out of scope and went straight
	// to the network.
	OutcomeBypassed Outcome = iota
	// OutcomeServedFromCache means a fresh entry answered the request.
	OutcomeServedFromCache
	// OutcomeServedFromNetwork means the network answered the request.
	OutcomeServedFromNetwork
	// OutcomeServedStaleFallback means the network failed and a stale entry
	// answered the request.
	OutcomeServedStaleFallback
	// OutcomeFailed means no response could be obtained.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBypassed:
		return "bypassed"
	case OutcomeServedFromCache:
		return "served_from_cache"
	case OutcomeServedFromNetwork:
		return "served_from_network"
	case OutcomeServedStaleFallback:
		return "served_stale_fallback"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (o Outcome) mark() string {
	switch o {
	case OutcomeServedFromCache:
		return "HIT"
	case OutcomeServedStaleFallback:
		return "STALE"
	default:
		return "MISS"
	}
}

// Option configures a Transport.
type Option func(*Transport)

// WithNext sets the RoundTripper used for network fetches.
// Default: http.DefaultTransport
func WithNext(next http.RoundTripper) Option {
	return func(t *Transport) {
		if next != nil {
			t.next = next
		}
	}
}

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(t *Transport) { t.policy = p }
}

// WithScope overrides DefaultScope.
func WithScope(s Scope) Option {
	return func(t *Transport) { t.scope = s }
}

// WithKeyer overrides DefaultKeyer.
func WithKeyer(k Keyer) Option {
	return func(t *Transport) {
		if k != nil {
			t.keyer = k
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observe.Metrics) Option {
	return func(t *Transport) {
		if m != nil {
			t.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tr observe.Tracer) Option {
	return func(t *Transport) {
		if tr != nil {
			t.tracer = tr
		}
	}
}

// WithClock sets the time source used for stamping and freshness.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) {
		if now != nil {
			t.now = now
		}
	}
}

// WithWriteLimiter bounds concurrent background write-backs.
func WithWriteLimiter(b *resilience.Bulkhead) Option {
	return func(t *Transport) {
		if b != nil {
			t.writes = b
		}
	}
}

// WithMarkResponses sets MarkHeader (HIT, MISS or STALE) on in-scope responses.
func WithMarkResponses(on bool) Option {
	return func(t *Transport) { t.mark = on }
}

// Transport is an http.RoundTripper that answers in-scope GET requests with a
// stale-while-revalidate policy over a Store.
//
// For each in-scope request it starts a network fetch and reads the store at
// the same time. A fresh entry is returned at once and the fetch only
// refreshes the store. A stale entry or a miss waits for the network; a stale
// entry is still returned if the network fails. Every successful (2xx) fetch
// is written back and followed by one eviction pass, off the caller's path.
//
// Background fetches are never cancelled and no timeout is added; the next
// RoundTripper's own limits apply.
type Transport struct {
	store   Store
	next    http.RoundTripper
	policy  Policy
	scope   Scope
	keyer   Keyer
	logger  observe.Logger
	metrics observe.Metrics
	tracer  observe.Tracer
	now     func() time.Time
	writes  *resilience.Bulkhead
	mark    bool

	bg sync.WaitGroup
}

// NewTransport creates a Transport over store.
func NewTransport(store Store, opts ...Option) (*Transport, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	t := &Transport{
		store:   store,
		next:    http.DefaultTransport,
		policy:  DefaultPolicy(),
		scope:   DefaultScope(),
		keyer:   NewDefaultKeyer(),
		logger:  observe.NopLogger(),
		metrics: observe.NopMetrics(),
		tracer:  observe.NopTracer(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.writes == nil {
		t.writes = resilience.NewBulkhead(resilience.BulkheadConfig{})
	}
	return t, nil
}

// Store returns the store the Transport reads and writes.
func (t *Transport) Store() Store {
	return t.store
}

// Policy returns the active freshness and capacity policy.
func (t *Transport) Policy() Policy {
	return t.policy
}

// Wait blocks until every background fetch, write-back and eviction started
// so far has finished.
func (t *Transport) Wait() {
	t.bg.Wait()
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	if !t.scope.Eligible(req) {
		return t.bypass(req, start)
	}

	key, err := t.keyer.Key(req)
	if err != nil {
		t.logger.WithRequest(observe.NewRequestMeta(req, "")).
			Debug(req.Context(), "request not keyable, bypassing cache", observe.F("error", err))
		return t.bypass(req, start)
	}

	meta := observe.NewRequestMeta(req, key)
	log := t.logger.WithRequest(meta)
	ctx, span := t.tracer.StartSpan(req.Context(), observe.SpanRequest, meta)

	fetched := t.fetch(ctx, req, key, log)
	cached := t.lookup(ctx, key, log)

	resp, outcome, err := t.respond(ctx, req, cached, fetched, log)

	t.tracer.EndSpan(span, err)
	t.metrics.RecordOutcome(ctx, meta, outcome.String(), time.Since(start))
	log.Debug(ctx, "asset request answered", observe.F("outcome", outcome.String()))

	if err != nil {
		return nil, err
	}
	if t.mark {
		resp.Header.Set(MarkHeader, outcome.mark())
	}
	return resp, nil
}

func (t *Transport) bypass(req *http.Request, start time.Time) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	t.metrics.RecordOutcome(req.Context(), observe.NewRequestMeta(req, ""), OutcomeBypassed.String(), time.Since(start))
	return resp, err
}

// respond picks what to return once the store has been read.
func (t *Transport) respond(
	ctx context.Context,
	req *http.Request,
	cached *Entry,
	fetched *pendingFetch,
	log observe.Logger,
) (*http.Response, Outcome, error) {
	switch {
	case cached == nil:
		r, err := await(ctx, fetched)
		if err != nil {
			return nil, OutcomeFailed, err
		}
		if r.err == nil {
			return r.resp, OutcomeServedFromNetwork, nil
		}

		log.Warn(ctx, "network fetch failed with nothing cached, passing through", observe.F("error", r.err))
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, OutcomeFailed, err
		}
		return resp, OutcomeServedFromNetwork, nil

	case t.policy.Fresh(cached, t.now()):
		fetched.abandon()
		return cached.Response(req), OutcomeServedFromCache, nil

	default:
		r, err := await(ctx, fetched)
		if err != nil {
			return nil, OutcomeFailed, err
		}
		if r.err == nil {
			return r.resp, OutcomeServedFromNetwork, nil
		}

		log.Info(ctx, "network fetch failed, serving stale entry", observe.F("error", r.err))
		return cached.Response(req), OutcomeServedStaleFallback, nil
	}
}

// await waits for the fetch result or for the caller to give up. A caller
// that gives up abandons the result to the fetching goroutine.
func await(ctx context.Context, fetched *pendingFetch) (fetchResult, error) {
	select {
	case r := <-fetched.out:
		return r, nil
	case <-ctx.Done():
		fetched.abandon()
		return fetchResult{}, ctx.Err()
	}
}

type fetchResult struct {
	resp *http.Response
	err  error
}

// pendingFetch is an in-flight network fetch. Its result goes either to the
// caller or, once abandoned, back to the fetching goroutine for cleanup.
type pendingFetch struct {
	out       chan fetchResult
	abandoned chan struct{}
	once      sync.Once
}

func newPendingFetch() *pendingFetch {
	return &pendingFetch{
		out:       make(chan fetchResult),
		abandoned: make(chan struct{}),
	}
}

// abandon tells the fetching goroutine that nobody will receive its result.
func (p *pendingFetch) abandon() {
	p.once.Do(func() { close(p.abandoned) })
}

// deliver hands r to the caller, or releases it if the caller abandoned it.
func (p *pendingFetch) deliver(r fetchResult, log observe.Logger) {
	select {
	case p.out <- r:
	case <-p.abandoned:
		if r.err != nil {
			log.Debug(context.Background(), "background refresh failed", observe.F("error", r.err))
			return
		}
		_ = r.resp.Body.Close()
	}
}

// fetch starts the network fetch for req. The fetch runs detached from the
// caller's cancellation; a 2xx result is buffered, handed back, and written
// to the store in the background.
func (t *Transport) fetch(ctx context.Context, req *http.Request, key string, log observe.Logger) *pendingFetch {
	p := newPendingFetch()
	detached := context.WithoutCancel(ctx)
	outreq := req.Clone(detached)

	t.bg.Add(1)
	go func() {
		defer t.bg.Done()

		resp, err := t.next.RoundTrip(outreq)
		if err != nil {
			p.deliver(fetchResult{err: err}, log)
			return
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			p.deliver(fetchResult{err: fmt.Errorf("read response body: %w", err)}, log)
			return
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body = io.NopCloser(bytes.NewReader(body))
			resp.ContentLength = int64(len(body))
			resp.Request = req
			p.deliver(fetchResult{resp: resp}, log)
			return
		}

		entry := NewEntry(key, resp, body, t.now())
		t.writeBack(detached, key, entry, log)
		p.deliver(fetchResult{resp: entry.Response(req)}, log)
	}()

	return p
}

// lookup reads key from the store. Store failures count as a miss.
func (t *Transport) lookup(ctx context.Context, key string, log observe.Logger) *Entry {
	entry, err := t.store.Get(ctx, key)
	if err != nil {
		t.storeFailed(ctx, "get", err, log)
		return nil
	}
	return entry
}

// writeBack stores entry and then runs one eviction pass, off the request path.
func (t *Transport) writeBack(ctx context.Context, key string, entry *Entry, log observe.Logger) {
	t.bg.Add(1)
	go func() {
		defer t.bg.Done()

		err := t.writes.Execute(ctx, func(ctx context.Context) error {
			if err := t.store.Put(ctx, key, entry); err != nil {
				t.storeFailed(ctx, "put", err, log)
				return nil
			}

			removed, err := Evict(ctx, t.store, t.policy.MaxItems)
			t.metrics.RecordEviction(ctx, removed)
			if err != nil {
				t.storeFailed(ctx, "evict", err, log)
			}
			if removed > 0 {
				log.Debug(ctx, "evicted oldest entries", observe.F("removed", removed))
			}
			return nil
		})
		if err != nil {
			log.Warn(ctx, "write-back skipped", observe.F("error", err))
		}
	}()
}

func (t *Transport) storeFailed(ctx context.Context, op string, err error, log observe.Logger) {
	t.metrics.RecordStoreError(ctx, op)
	log.Warn(ctx, "cache store operation failed", observe.F("op", op), observe.F("error", err))
}

var _ http.RoundTripper = (*Transport)(nil)
