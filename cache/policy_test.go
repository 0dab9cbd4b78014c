package cache

import (
	"net/http"
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.MaxAge != 7*24*time.Hour {
		t.Errorf("MaxAge = %v, want 7 days", p.MaxAge)
	}
	if p.MaxItems != 60 {
		t.Errorf("MaxItems = %d, want 60", p.MaxItems)
	}
}

func TestPolicy_Fresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := DefaultPolicy()

	stamped := func(age time.Duration) *Entry {
		return &Entry{CapturedAt: now.Add(-age).UnixMilli(), Header: http.Header{}}
	}

	tests := []struct {
		name  string
		entry *Entry
		want  bool
	}{
		{"just captured", stamped(0), true},
		{"one hour", stamped(time.Hour), true},
		{"exactly max age", stamped(MaxAge), true},
		{"one ms past max age", stamped(MaxAge + time.Millisecond), false},
		{"eight days", stamped(8 * 24 * time.Hour), false},
		{"captured in the future", stamped(-time.Hour), true},
		{"no timestamp", &Entry{Header: http.Header{}}, false},
		{"header timestamp", &Entry{Header: http.Header{CapturedAtHeader: []string{"1772366400000"}}}, true},
		{"garbage header", &Entry{Header: http.Header{CapturedAtHeader: []string{"yesterday"}}}, false},
		{"nil entry", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Fresh(tt.entry, now); got != tt.want {
				t.Errorf("Fresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicy_FreshIsMonotonic(t *testing.T) {
	captured := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	e := &Entry{CapturedAt: captured.UnixMilli(), Header: http.Header{}}
	p := DefaultPolicy()

	wasFresh := true
	for h := 0; h <= 24*9; h += 6 {
		fresh := p.Fresh(e, captured.Add(time.Duration(h)*time.Hour))
		if fresh && !wasFresh {
			t.Fatalf("entry became fresh again at +%dh", h)
		}
		wasFresh = fresh
	}
	if wasFresh {
		t.Error("entry still fresh after nine days")
	}
}
