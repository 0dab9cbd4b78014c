package cache

import (
	"context"
	"errors"
	"strings"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 4096

// Sentinel errors for cache operations.
var (
	ErrNilStore     = errors.New("cache: store is nil")
	ErrInvalidKey   = errors.New("cache: key is invalid")
	ErrKeyTooLong   = errors.New("cache: key exceeds max length")
	ErrInvalidStore = errors.New("cache: store name is invalid")
)

// Store is a single named key-value store of captured responses.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Atomicity: Put is atomic per key; there are no cross-key transactions.
// - Errors: Get returns (nil, nil) on miss. Any method may fail with an I/O
//   error; callers treat failures as a miss or a no-op.
type Store interface {
	// Get returns the entry stored under key, or nil if there is none.
	Get(ctx context.Context, key string) (*Entry, error)

	// Put stores entry under key, replacing any previous entry.
	Put(ctx context.Context, key string, entry *Entry) error

	// Keys returns every stored key in the store's enumeration order.
	Keys(ctx context.Context) ([]string, error)

	// Delete removes key. Idempotent - no error on miss.
	Delete(ctx context.Context, key string) error
}

// Stamp pairs a stored key with its capture time in epoch milliseconds.
// CapturedAt is zero when the entry carries no timestamp.
type Stamp struct {
	Key        string
	CapturedAt int64
}

// Stamper is implemented by stores that can list capture times without
// loading entry bodies. Stamps are returned in enumeration order.
type Stamper interface {
	Stamps(ctx context.Context) ([]Stamp, error)
}

// StoreSet manages independently named stores.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Open creates the named store if it does not exist.
// - Drop is idempotent and discards every entry of the named store.
type StoreSet interface {
	Open(ctx context.Context, name string) (Store, error)
	Names(ctx context.Context) ([]string, error)
	Drop(ctx context.Context, name string) error
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}

// ValidateStoreName checks that name can identify a store.
func ValidateStoreName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "\n\r") {
		return ErrInvalidStore
	}
	return nil
}
