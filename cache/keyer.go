package cache

import (
	"fmt"
	"net/http"
)

// Keyer derives the store key for a request.
//
// Contract:
// - Determinism: the same method and URL must produce the same key.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	Key(req *http.Request) (string, error)
}

// DefaultKeyer keys requests by method and absolute URL.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key returns "<METHOD> <URL>", e.g.
// "GET https://exaado.plebits.com/uploads/course_1.jpg".
// Fragments never reach the network, so they are dropped.
func (k *DefaultKeyer) Key(req *http.Request) (string, error) {
	if req == nil || req.URL == nil {
		return "", ErrInvalidKey
	}
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	key := fmt.Sprintf("%s %s", method, u.String())
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

var _ Keyer = (*DefaultKeyer)(nil)
