package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/exaado/assetcache/cache"
	"github.com/exaado/assetcache/observe"
)

const assetURL = "https://exaado.plebits.com/uploads/course_123.jpg"

func network(calls *atomic.Int32) http.RoundTripper {
	return observe.RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("img")),
			Request:    req,
		}, nil
	})
}

func get(t *testing.T, rt http.RoundTripper) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, assetURL, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip failed: %v", err)
	}
	_ = resp.Body.Close()
}

func TestNew_NilSet(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrNilStoreSet) {
		t.Errorf("New(nil) error = %v, want ErrNilStoreSet", err)
	}
}

func TestNew_InvalidStoreName(t *testing.T) {
	if _, err := New(cache.NewMemoryStoreSet(), WithStoreName("")); !errors.Is(err, cache.ErrInvalidStore) {
		t.Errorf("New() error = %v, want cache.ErrInvalidStore", err)
	}
}

func TestStart_ActivatesAndSweeps(t *testing.T) {
	ctx := context.Background()
	set := cache.NewMemoryStoreSet()
	for _, name := range []string{"exaado-images-v0", "other-cache", StoreName} {
		if _, err := set.Open(ctx, name); err != nil {
			t.Fatalf("Open(%q) failed: %v", name, err)
		}
	}

	w, err := New(set)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if w.State() != StateActive {
		t.Errorf("State() = %v, want %v", w.State(), StateActive)
	}
	names, _ := set.Names(ctx)
	if !slices.Equal(names, []string{StoreName}) {
		t.Errorf("stores after activation = %v, want [%s]", names, StoreName)
	}
}

func TestWorker_PassThroughUntilActive(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32

	w, _ := New(cache.NewMemoryStoreSet(), WithNext(network(&calls)), WithWaitForSkip(true))
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if w.State() != StateWaiting {
		t.Fatalf("State() = %v, want %v", w.State(), StateWaiting)
	}

	get(t, w)
	if n := len(mustKeys(t, w)); n != 0 {
		t.Errorf("waiting worker stored %d entries, want 0", n)
	}

	if err := w.HandleMessage(ctx, Message{Type: MessageSkipWaiting}); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if w.State() != StateActive {
		t.Fatalf("State() = %v, want %v", w.State(), StateActive)
	}

	get(t, w)
	w.Transport().Wait()
	if n := len(mustKeys(t, w)); n != 1 {
		t.Errorf("active worker stored %d entries, want 1", n)
	}
}

func mustKeys(t *testing.T, w *Worker) []string {
	t.Helper()
	keys, err := w.Store().Keys(context.Background())
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	return keys
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()

	w, _ := New(cache.NewMemoryStoreSet())
	if err := w.HandleMessage(ctx, Message{Type: MessageSkipWaiting}); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("skip before install error = %v, want ErrNotInstalled", err)
	}

	if err := w.HandleMessage(ctx, Message{Type: "CLAIM"}); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("unknown message error = %v, want ErrUnknownMessage", err)
	}

	if err := w.Install(ctx); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	for range 2 {
		if err := w.HandleMessage(ctx, Message{Type: MessageSkipWaiting}); err != nil {
			t.Errorf("skip waiting error = %v, want nil", err)
		}
	}
}

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"SKIP_WAITING"}`))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if msg.Type != MessageSkipWaiting {
		t.Errorf("Type = %q, want %q", msg.Type, MessageSkipWaiting)
	}

	if _, err := ParseMessage([]byte(`not json`)); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("ParseMessage(garbage) error = %v, want ErrInvalidMessage", err)
	}
}

// failingSet fails Drop for one name.
type failingSet struct {
	*cache.MemoryStoreSet
	failOn string
}

func (s failingSet) Drop(ctx context.Context, name string) error {
	if name == s.failOn {
		return errors.New("locked")
	}
	return s.MemoryStoreSet.Drop(ctx, name)
}

func TestActivate_SweepFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	set := failingSet{MemoryStoreSet: cache.NewMemoryStoreSet(), failOn: "exaado-images-v0"}
	_, _ = set.Open(ctx, "exaado-images-v0")
	_, _ = set.Open(ctx, "exaado-images-beta")

	w, _ := New(set)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if w.State() != StateActive {
		t.Errorf("State() = %v, want %v", w.State(), StateActive)
	}

	names, _ := set.Names(ctx)
	if !slices.Equal(names, []string{"exaado-images-v0", StoreName}) {
		t.Errorf("stores = %v, want only the undeletable one left beside %s", names, StoreName)
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	w, _ := New(cache.NewMemoryStoreSet(), WithNext(network(&calls)))

	st, err := w.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.State != "new" || st.Entries != 0 {
		t.Errorf("Status() before start = %+v", st)
	}

	_ = w.Start(ctx)
	get(t, w)
	w.Transport().Wait()

	st, _ = w.Status(ctx)
	if st.State != "active" || st.Entries != 1 || st.StoreName != StoreName || st.MaxItems != cache.MaxItems {
		t.Errorf("Status() after fetch = %+v", st)
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	w, _ := New(cache.NewMemoryStoreSet(), WithNext(network(&calls)))
	_ = w.Start(ctx)

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if w.State() != StateRedundant {
		t.Errorf("State() = %v, want %v", w.State(), StateRedundant)
	}
	if err := w.Activate(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Activate after Close error = %v, want ErrClosed", err)
	}

	// Requests still pass through after close.
	get(t, w)
	if n := len(mustKeys(t, w)); n != 0 {
		t.Errorf("closed worker stored %d entries", n)
	}
}

func TestState_String(t *testing.T) {
	if got := StateActivating.String(); got != "activating" {
		t.Errorf("StateActivating.String() = %q", got)
	}
	if got := State(42).String(); got != "unknown" {
		t.Errorf("State(42).String() = %q", got)
	}
}
