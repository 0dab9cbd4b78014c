package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// CapturedAtHeader carries an entry's capture time, in epoch milliseconds,
// on every response written to and served from the store.
const CapturedAtHeader = "X-Asset-Cached-At"

// Entry is one stored network response.
type Entry struct {
	// Key is the request identity the entry is stored under.
	Key string `json:"key"`

	// Body is the full response payload.
	Body []byte `json:"body"`

	// Header holds the response headers, including CapturedAtHeader.
	Header http.Header `json:"header"`

	// Status is the HTTP status code.
	Status int `json:"status"`

	// StatusText is the reason phrase, e.g. "OK".
	StatusText string `json:"status_text"`

	// CapturedAt is when the entry was written, in epoch milliseconds.
	// Zero means the age is unknown.
	CapturedAt int64 `json:"captured_at"`
}

// NewEntry captures resp under key, stamped with now. The caller owns body,
// which must already hold the complete payload of resp.
func NewEntry(key string, resp *http.Response, body []byte, now time.Time) *Entry {
	captured := now.UnixMilli()

	header := resp.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set(CapturedAtHeader, strconv.FormatInt(captured, 10))

	return &Entry{
		Key:        key,
		Body:       body,
		Header:     header,
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		CapturedAt: captured,
	}
}

// Timestamp returns the entry's capture time. When the field is unset it falls
// back to CapturedAtHeader; ok is false if neither is usable.
func (e *Entry) Timestamp() (ms int64, ok bool) {
	if e == nil {
		return 0, false
	}
	if e.CapturedAt > 0 {
		return e.CapturedAt, true
	}
	v := e.Header.Get(CapturedAtHeader)
	if v == "" {
		return 0, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return 0, false
	}
	return ms, true
}

// Age returns how long ago the entry was captured, and false if unknown.
func (e *Entry) Age(now time.Time) (time.Duration, bool) {
	ms, ok := e.Timestamp()
	if !ok {
		return 0, false
	}
	return time.Duration(now.UnixMilli()-ms) * time.Millisecond, true
}

// Response rebuilds an *http.Response for req from the entry.
// Each call returns an independent body reader.
func (e *Entry) Response(req *http.Request) *http.Response {
	text := e.StatusText
	if text == "" {
		text = http.StatusText(e.Status)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, text),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        e.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// statusText extracts the reason phrase from resp.Status ("200 OK" -> "OK").
func statusText(resp *http.Response) string {
	prefix := strconv.Itoa(resp.StatusCode) + " "
	if len(resp.Status) > len(prefix) && resp.Status[:len(prefix)] == prefix {
		return resp.Status[len(prefix):]
	}
	return http.StatusText(resp.StatusCode)
}
