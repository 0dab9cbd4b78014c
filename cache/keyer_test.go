package cache

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func TestDefaultKeyer_Key(t *testing.T) {
	k := NewDefaultKeyer()

	req, _ := http.NewRequest(http.MethodGet, "https://exaado.plebits.com/uploads/course_1.jpg?w=200#top", nil)
	key, err := k.Key(req)
	if err != nil {
		t.Fatalf("Key failed: %v", err)
	}
	want := "GET https://exaado.plebits.com/uploads/course_1.jpg?w=200"
	if key != want {
		t.Errorf("Key() = %q, want %q", key, want)
	}
	if req.URL.Fragment != "top" {
		t.Error("Key must not modify the request URL")
	}
}

func TestDefaultKeyer_Deterministic(t *testing.T) {
	k := NewDefaultKeyer()
	a, _ := http.NewRequest(http.MethodGet, "https://exaado.plebits.com/course_1.jpg", nil)
	b, _ := http.NewRequest(http.MethodGet, "https://exaado.plebits.com/course_1.jpg", nil)
	b.Header.Set("Accept", "image/webp")

	ka, _ := k.Key(a)
	kb, _ := k.Key(b)
	if ka != kb {
		t.Errorf("keys differ for same method and URL: %q vs %q", ka, kb)
	}
}

func TestDefaultKeyer_Errors(t *testing.T) {
	k := NewDefaultKeyer()

	if _, err := k.Key(nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Key(nil) error = %v, want ErrInvalidKey", err)
	}

	long := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Scheme: "https", Host: "exaado.plebits.com", Path: "/" + strings.Repeat("a", MaxKeyLength)},
	}
	if _, err := k.Key(long); !errors.Is(err, ErrKeyTooLong) {
		t.Errorf("Key(long) error = %v, want ErrKeyTooLong", err)
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr error
	}{
		{"GET https://exaado.plebits.com/course_1.jpg", nil},
		{"", ErrInvalidKey},
		{"   ", ErrInvalidKey},
		{"GET /a\nb", ErrInvalidKey},
		{strings.Repeat("k", MaxKeyLength+1), ErrKeyTooLong},
	}
	for _, tt := range tests {
		if err := ValidateKey(tt.key); !errors.Is(err, tt.wantErr) {
			t.Errorf("ValidateKey(%.20q) = %v, want %v", tt.key, err, tt.wantErr)
		}
	}
}
