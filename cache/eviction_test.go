package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"testing"
	"time"
)

func TestSelectForEviction(t *testing.T) {
	tests := []struct {
		name   string
		stamps []Stamp
		limit  int
		want   []string
	}{
		{
			name:   "under limit",
			stamps: []Stamp{{"a", 1}, {"b", 2}},
			limit:  3,
			want:   nil,
		},
		{
			name:   "at limit",
			stamps: []Stamp{{"a", 1}, {"b", 2}},
			limit:  2,
			want:   nil,
		},
		{
			name:   "oldest first",
			stamps: []Stamp{{"c", 30}, {"a", 10}, {"b", 20}},
			limit:  1,
			want:   []string{"a", "b"},
		},
		{
			name:   "missing timestamp goes first",
			stamps: []Stamp{{"old", 5}, {"unknown", 0}, {"new", 50}},
			limit:  2,
			want:   []string{"unknown"},
		},
		{
			name:   "ties keep enumeration order",
			stamps: []Stamp{{"x", 7}, {"y", 7}, {"z", 7}},
			limit:  1,
			want:   []string{"x", "y"},
		},
		{
			name:   "negative limit evicts everything",
			stamps: []Stamp{{"a", 1}},
			limit:  -1,
			want:   []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectForEviction(tt.stamps, tt.limit)
			if !slices.Equal(got, tt.want) {
				t.Errorf("SelectForEviction() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectForEviction_DoesNotReorderInput(t *testing.T) {
	stamps := []Stamp{{"c", 3}, {"a", 1}, {"b", 2}}
	_ = SelectForEviction(stamps, 1)
	if stamps[0].Key != "c" || stamps[1].Key != "a" || stamps[2].Key != "b" {
		t.Errorf("input reordered: %v", stamps)
	}
}

func fill(t *testing.T, store Store, n int, base time.Time) {
	t.Helper()
	for i := range n {
		key := fmt.Sprintf("GET https://exaado.plebits.com/course_%d.jpg", i)
		resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}}
		if err := store.Put(context.Background(), key, NewEntry(key, resp, nil, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
}

func TestEvict(t *testing.T) {
	store := NewMemoryStore()
	fill(t, store, MaxItems+1, time.Unix(1_700_000_000, 0))

	removed, err := Evict(context.Background(), store, MaxItems)
	if err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if store.Len() != MaxItems {
		t.Errorf("Len() = %d, want %d", store.Len(), MaxItems)
	}
	if e, _ := store.Get(context.Background(), "GET https://exaado.plebits.com/course_0.jpg"); e != nil {
		t.Error("oldest entry was not evicted")
	}
}

func TestEvict_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	fill(t, store, 10, time.Unix(1_700_000_000, 0))

	if _, err := Evict(context.Background(), store, 4); err != nil {
		t.Fatalf("first Evict failed: %v", err)
	}
	before, _ := store.Keys(context.Background())

	removed, err := Evict(context.Background(), store, 4)
	if err != nil {
		t.Fatalf("second Evict failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("second pass removed %d entries, want 0", removed)
	}
	after, _ := store.Keys(context.Background())
	if !slices.Equal(before, after) {
		t.Errorf("keys changed on second pass: %v -> %v", before, after)
	}
}

// keysOnlyStore hides the Stamper fast path.
type keysOnlyStore struct {
	inner     *MemoryStore
	deleteErr error
}

func (s keysOnlyStore) Get(ctx context.Context, key string) (*Entry, error) {
	return s.inner.Get(ctx, key)
}

func (s keysOnlyStore) Put(ctx context.Context, key string, e *Entry) error {
	return s.inner.Put(ctx, key, e)
}

func (s keysOnlyStore) Keys(ctx context.Context) ([]string, error) {
	return s.inner.Keys(ctx)
}

func (s keysOnlyStore) Delete(ctx context.Context, key string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.inner.Delete(ctx, key)
}

func TestReadStamps_WithoutStamper(t *testing.T) {
	inner := NewMemoryStore()
	fill(t, inner, 3, time.Unix(1_700_000_000, 0))
	_ = inner.Put(context.Background(), "GET https://exaado.plebits.com/course_x.jpg", &Entry{Header: http.Header{}})

	stamps, err := ReadStamps(context.Background(), keysOnlyStore{inner: inner})
	if err != nil {
		t.Fatalf("ReadStamps failed: %v", err)
	}
	if len(stamps) != 4 {
		t.Fatalf("got %d stamps, want 4", len(stamps))
	}
	if stamps[3].CapturedAt != 0 {
		t.Errorf("unstamped entry CapturedAt = %d, want 0", stamps[3].CapturedAt)
	}
}

func TestEvict_DeleteErrorsAreJoined(t *testing.T) {
	inner := NewMemoryStore()
	fill(t, inner, 3, time.Unix(1_700_000_000, 0))
	boom := errors.New("delete failed")

	removed, err := Evict(context.Background(), keysOnlyStore{inner: inner, deleteErr: boom}, 1)
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Evict error = %v, want wrapping %v", err, boom)
	}
}

func TestEvict_NilStore(t *testing.T) {
	if _, err := Evict(context.Background(), nil, 1); !errors.Is(err, ErrNilStore) {
		t.Errorf("Evict(nil) error = %v, want ErrNilStore", err)
	}
}
