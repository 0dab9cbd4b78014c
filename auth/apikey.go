package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultAPIKeyHeader carries API keys.
const DefaultAPIKeyHeader = "X-API-Key"

// APIKey is a registered control-plane key. Only the SHA-256 hash of the
// secret is kept.
type APIKey struct {
	// ID identifies the key in logs.
	ID string `yaml:"id"`

	// Hash is the hex SHA-256 of the key (see HashAPIKey).
	Hash string `yaml:"hash"`

	// Principal is the identity the key authenticates as. Defaults to ID.
	Principal string `yaml:"principal"`

	// Roles are granted to the key.
	Roles []string `yaml:"roles"`

	// ExpiresAt is when the key stops working (zero = never).
	ExpiresAt time.Time `yaml:"expires_at"`
}

// APIKeyAuthenticator validates API keys against an in-memory key set.
type APIKeyAuthenticator struct {
	header string
	now    func() time.Time

	mu   sync.RWMutex
	keys map[string]APIKey // keyed by hash
}

// NewAPIKeyAuthenticator creates an authenticator for keys.
// header defaults to DefaultAPIKeyHeader.
func NewAPIKeyAuthenticator(header string, keys ...APIKey) *APIKeyAuthenticator {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	a := &APIKeyAuthenticator{
		header: header,
		now:    time.Now,
		keys:   make(map[string]APIKey, len(keys)),
	}
	for _, k := range keys {
		a.Add(k)
	}
	return a
}

// Add registers key, replacing any key with the same hash.
func (a *APIKeyAuthenticator) Add(key APIKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys[strings.ToLower(key.Hash)] = key
}

// Remove unregisters the key with the given hash.
func (a *APIKeyAuthenticator) Remove(hash string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.keys, strings.ToLower(hash))
}

// Name returns "api_key".
func (a *APIKeyAuthenticator) Name() string {
	return "api_key"
}

// Supports returns true if the request carries the API key header.
func (a *APIKeyAuthenticator) Supports(h http.Header) bool {
	return h.Get(a.header) != ""
}

// Authenticate validates the API key.
func (a *APIKeyAuthenticator) Authenticate(_ context.Context, h http.Header) (*AuthResult, error) {
	raw := strings.TrimSpace(h.Get(a.header))
	if raw == "" {
		return AuthFailure(ErrMissingCredentials, "api_key"), nil
	}

	key, ok := a.lookup(HashAPIKey(raw))
	if !ok {
		return AuthFailure(ErrInvalidCredentials, "api_key"), nil
	}
	if !key.ExpiresAt.IsZero() && a.now().After(key.ExpiresAt) {
		return AuthFailure(ErrTokenExpired, "api_key"), nil
	}

	principal := key.Principal
	if principal == "" {
		principal = key.ID
	}
	return AuthSuccess(&Identity{
		Principal: principal,
		Roles:     key.Roles,
		Method:    AuthMethodAPIKey,
		ExpiresAt: key.ExpiresAt,
		Claims:    map[string]any{"key_id": key.ID},
	}), nil
}

// lookup compares hash against every registered key in constant time.
func (a *APIKeyAuthenticator) lookup(hash string) (APIKey, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var found APIKey
	ok := false
	for stored, key := range a.keys {
		if ConstantTimeCompare(stored, hash) {
			found, ok = key, true
		}
	}
	return found, ok
}

// HashAPIKey hashes an API key using SHA-256 for storage.
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// ConstantTimeCompare performs constant-time comparison of two strings.
func ConstantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

var _ Authenticator = (*APIKeyAuthenticator)(nil)
