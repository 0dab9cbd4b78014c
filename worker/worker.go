// Package worker owns the cache lifecycle: it installs the current versioned
// store, sweeps stores left by older versions on activation, and routes
// requests through the cache once active.
//
// Bumping StoreName is the only invalidation mechanism. Old stores are removed
// at the next activation, not when the new version is deployed.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/exaado/assetcache/cache"
	"github.com/exaado/assetcache/observe"
)

// StoreName is the current versioned store name.
const StoreName = "exaado-images-v1"

// MessageSkipWaiting asks a waiting worker to activate immediately.
const MessageSkipWaiting = "SKIP_WAITING"

// maxConcurrentDrops bounds the activation sweep.
const maxConcurrentDrops = 4

// Sentinel errors.
var (
	ErrNilStoreSet    = errors.New("worker: store set is nil")
	ErrNotInstalled   = errors.New("worker: not installed")
	ErrUnknownMessage = errors.New("worker: unknown message type")
	ErrInvalidMessage = errors.New("worker: invalid message")
	ErrClosed         = errors.New("worker: closed")
)

// State is a lifecycle phase.
type State int32

const (
	// StateNew is a worker that has not been started.
	StateNew State = iota

	// StateInstalling opens the versioned store.
	StateInstalling

	// StateWaiting is installed and passes requests straight to the
	// network until a SKIP_WAITING message arrives.
	StateWaiting

	// StateActivating deletes stores from other versions.
	StateActivating

	// StateActive serves requests through the cache.
	StateActive

	// StateRedundant is a closed worker. It cannot be restarted.
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// Message is an inbound control message, e.g. {"type":"SKIP_WAITING"}.
type Message struct {
	Type string `json:"type"`
}

// ParseMessage decodes a JSON control message.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg, nil
}

// Status is a point-in-time view of the worker.
type Status struct {
	State     string `json:"state"`
	StoreName string `json:"store_name"`
	Entries   int    `json:"entries"`
	MaxItems  int    `json:"max_items"`
}

// Option configures a Worker.
type Option func(*Worker)

// WithNext sets the network RoundTripper used both for pass-through and by
// the cache once active.
func WithNext(next http.RoundTripper) Option {
	return func(w *Worker) {
		if next != nil {
			w.next = next
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithStoreName overrides StoreName.
func WithStoreName(name string) Option {
	return func(w *Worker) { w.name = name }
}

// WithWaitForSkip keeps Start from activating; the worker then stays waiting
// until it receives MessageSkipWaiting.
func WithWaitForSkip(wait bool) Option {
	return func(w *Worker) { w.waitForSkip = wait }
}

// WithTransportOptions passes options to the cache.Transport built on Install.
func WithTransportOptions(opts ...cache.Option) Option {
	return func(w *Worker) {
		w.transportOpts = append(w.transportOpts, opts...)
	}
}

// Worker is an http.RoundTripper that passes requests straight to the
// network until it is active, and through the cache afterwards.
//
// Contract:
// - Concurrency: safe for concurrent use. Lifecycle calls are serialized.
// - Errors: store failures during the sweep are logged, never fatal.
type Worker struct {
	set           cache.StoreSet
	name          string
	next          http.RoundTripper
	logger        observe.Logger
	waitForSkip   bool
	transportOpts []cache.Option

	mu        sync.Mutex
	state     atomic.Int32
	store     cache.Store
	transport *cache.Transport

	// active is non-nil once the worker has claimed requests.
	active atomic.Pointer[cache.Transport]
}

// New creates a Worker over set.
func New(set cache.StoreSet, opts ...Option) (*Worker, error) {
	if set == nil {
		return nil, ErrNilStoreSet
	}

	w := &Worker{
		set:    set,
		name:   StoreName,
		next:   http.DefaultTransport,
		logger: observe.NopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := cache.ValidateStoreName(w.name); err != nil {
		return nil, err
	}
	return w, nil
}

// State returns the current lifecycle phase.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// StoreName returns the versioned store this worker owns.
func (w *Worker) StoreName() string {
	return w.name
}

// Store returns the open store, or nil before Install.
func (w *Worker) Store() cache.Store {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.store
}

// Transport returns the cache transport, or nil before Install.
func (w *Worker) Transport() *cache.Transport {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.transport
}

// Start installs the worker and, unless WithWaitForSkip is set, activates it.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return err
	}
	if w.waitForSkip {
		w.logger.Info(ctx, "installed, waiting for skip-waiting message", observe.F("store", w.name))
		return nil
	}
	return w.Activate(ctx)
}

// Install opens the current store and prepares the cache transport.
// Calling it again after a successful install is a no-op.
func (w *Worker) Install(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.State() {
	case StateRedundant:
		return ErrClosed
	case StateNew:
	default:
		return nil
	}

	w.state.Store(int32(StateInstalling))

	store, err := w.set.Open(ctx, w.name)
	if err != nil {
		w.state.Store(int32(StateNew))
		return fmt.Errorf("worker: open store %q: %w", w.name, err)
	}

	opts := append([]cache.Option{cache.WithNext(w.next), cache.WithLogger(w.logger)}, w.transportOpts...)
	transport, err := cache.NewTransport(store, opts...)
	if err != nil {
		w.state.Store(int32(StateNew))
		return err
	}

	w.store = store
	w.transport = transport
	w.state.Store(int32(StateWaiting))
	return nil
}

// Activate removes every store other than the current one, then claims
// requests: from the moment it returns, RoundTrip goes through the cache.
// Activating an active worker is a no-op.
func (w *Worker) Activate(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.State() {
	case StateRedundant:
		return ErrClosed
	case StateActive:
		return nil
	case StateWaiting:
	default:
		return ErrNotInstalled
	}

	w.state.Store(int32(StateActivating))
	w.sweep(ctx)

	w.active.Store(w.transport)
	w.state.Store(int32(StateActive))
	w.logger.Info(ctx, "activated", observe.F("store", w.name))
	return nil
}

// sweep drops every store whose name is not the current one.
func (w *Worker) sweep(ctx context.Context) {
	names, err := w.set.Names(ctx)
	if err != nil {
		w.logger.Warn(ctx, "list stores failed, skipping cleanup", observe.F("error", err))
		return
	}

	var g errgroup.Group
	g.SetLimit(maxConcurrentDrops)
	for _, name := range names {
		if name == w.name {
			continue
		}
		g.Go(func() error {
			if err := w.set.Drop(ctx, name); err != nil {
				w.logger.Warn(ctx, "drop old store failed", observe.F("store", name), observe.F("error", err))
				return err
			}
			w.logger.Info(ctx, "dropped old store", observe.F("store", name))
			return nil
		})
	}
	_ = g.Wait()
}

// HandleMessage dispatches an inbound control message.
func (w *Worker) HandleMessage(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageSkipWaiting:
		return w.Activate(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

// RoundTrip implements http.RoundTripper.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	if t := w.active.Load(); t != nil {
		return t.RoundTrip(req)
	}
	return w.next.RoundTrip(req)
}

// Status reports the lifecycle phase and current store size.
func (w *Worker) Status(ctx context.Context) (Status, error) {
	st := Status{
		State:     w.State().String(),
		StoreName: w.name,
		MaxItems:  cache.MaxItems,
	}
	if t := w.Transport(); t != nil {
		st.MaxItems = t.Policy().MaxItems
	}

	store := w.Store()
	if store == nil {
		return st, nil
	}
	keys, err := store.Keys(ctx)
	if err != nil {
		return st, fmt.Errorf("worker: list keys: %w", err)
	}
	st.Entries = len(keys)
	return st, nil
}

// Close stops routing through the cache and waits for pending background
// work. The worker cannot be restarted.
func (w *Worker) Close() error {
	w.mu.Lock()
	w.active.Store(nil)
	w.state.Store(int32(StateRedundant))
	transport := w.transport
	w.mu.Unlock()

	if transport != nil {
		transport.Wait()
	}
	return nil
}

var _ http.RoundTripper = (*Worker)(nil)
