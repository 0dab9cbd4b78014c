package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBulkhead_DefaultMaxConcurrent(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{})
	if got := b.Metrics().MaxConcurrent; got != 8 {
		t.Fatalf("MaxConcurrent = %d, want 8", got)
	}
}

func TestBulkhead_FailFastWhenFull(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: -1})
	ctx := context.Background()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if err := b.Acquire(ctx); !errors.Is(err, ErrBulkheadFull) {
		t.Fatalf("expected ErrBulkheadFull, got %v", err)
	}
	if got := b.Metrics().Rejected; got != 1 {
		t.Errorf("Rejected = %d, want 1", got)
	}
	b.Release()
}

func TestBulkhead_WaitsForSlotByDefault(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	ctx := context.Background()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	acquired := make(chan error, 1)
	go func() { acquired <- b.Acquire(ctx) }()

	select {
	case err := <-acquired:
		t.Fatalf("second Acquire returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	b.Release()

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("second Acquire failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("second Acquire never got a slot")
	}
	b.Release()
}

func TestBulkhead_BoundedWait(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: 10 * time.Millisecond})
	ctx := context.Background()

	_ = b.Acquire(ctx)
	defer b.Release()

	if err := b.Acquire(ctx); !errors.Is(err, ErrBulkheadFull) {
		t.Fatalf("expected ErrBulkheadFull, got %v", err)
	}
}

func TestBulkhead_ContextCancelled(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	_ = b.Acquire(context.Background())
	defer b.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBulkhead_ExecuteLimitsConcurrency(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 3})

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), func(context.Context) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				current.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > 3 {
		t.Fatalf("peak concurrency = %d, want <= 3", got)
	}
	if m := b.Metrics(); m.Active != 0 {
		t.Errorf("Active after completion = %d, want 0", m.Active)
	}
}
