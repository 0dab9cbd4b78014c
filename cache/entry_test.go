package cache

import (
	"io"
	"net/http"
	"strconv"
	"testing"
	"time"
)

func TestNewEntry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 Fine",
		Header:     http.Header{"Content-Type": []string{"image/png"}},
	}

	e := NewEntry("k", resp, []byte("png"), now)

	if e.CapturedAt != now.UnixMilli() {
		t.Errorf("CapturedAt = %d, want %d", e.CapturedAt, now.UnixMilli())
	}
	if got := e.Header.Get(CapturedAtHeader); got != strconv.FormatInt(now.UnixMilli(), 10) {
		t.Errorf("%s = %q", CapturedAtHeader, got)
	}
	if e.StatusText != "Fine" {
		t.Errorf("StatusText = %q, want %q", e.StatusText, "Fine")
	}
	if resp.Header.Get(CapturedAtHeader) != "" {
		t.Error("NewEntry must not modify the response headers")
	}
}

func TestEntry_Response(t *testing.T) {
	e := &Entry{
		Body:   []byte("payload"),
		Header: http.Header{"Content-Type": []string{"image/jpeg"}},
		Status: http.StatusOK,
	}
	req, _ := http.NewRequest(http.MethodGet, "https://exaado.plebits.com/course_1.jpg", nil)

	for range 2 {
		resp := e.Response(req)
		if resp.Status != "200 OK" {
			t.Errorf("Status = %q, want %q", resp.Status, "200 OK")
		}
		if resp.Request != req {
			t.Error("Response should carry the request")
		}
		body, _ := io.ReadAll(resp.Body)
		if string(body) != "payload" {
			t.Errorf("body = %q, want %q", body, "payload")
		}
		resp.Header.Set("X-Mutated", "1")
	}
	if e.Header.Get("X-Mutated") != "" {
		t.Error("Response header shares storage with entry")
	}
}

func TestEntry_Age(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	e := &Entry{CapturedAt: now.Add(-90 * time.Minute).UnixMilli()}
	age, ok := e.Age(now)
	if !ok || age != 90*time.Minute {
		t.Errorf("Age() = %v, %v; want 90m, true", age, ok)
	}

	if _, ok := (&Entry{}).Age(now); ok {
		t.Error("Age() of unstamped entry should be unknown")
	}
}
