// Package boltstore provides a durable cache.StoreSet backed by bbolt.
//
// Each named store is a top-level bucket; entries are JSON documents keyed by
// the request key. Keys enumerate in byte order, which is also the tie-break
// order used by eviction.
package boltstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/exaado/assetcache/cache"
)

// DefaultOpenTimeout is how long Open waits for the file lock.
const DefaultOpenTimeout = time.Second

// ErrNilDB is returned when a Set is built around a nil database.
var ErrNilDB = errors.New("boltstore: db is nil")

// Options configures Open.
type Options struct {
	// Timeout bounds the wait for the database file lock.
	// Default: DefaultOpenTimeout
	Timeout time.Duration

	// Mode is the permission used when creating the file.
	// Default: 0o600
	Mode os.FileMode
}

// Set is a cache.StoreSet stored in a single bbolt file.
//
// Contract:
// - Concurrency: safe for concurrent use; bbolt serializes writers.
// - Durability: every Put and Delete is committed before it returns.
type Set struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path.
func Open(path string, opts *Options) (*Set, error) {
	timeout := DefaultOpenTimeout
	mode := os.FileMode(0o600)
	if opts != nil {
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		if opts.Mode != 0 {
			mode = opts.Mode
		}
	}

	db, err := bolt.Open(path, mode, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	return &Set{db: db}, nil
}

// New wraps an already open database.
func New(db *bolt.DB) (*Set, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	return &Set{db: db}, nil
}

// Close closes the underlying database.
func (s *Set) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Set) Path() string {
	return s.db.Path()
}

// Open returns the store called name, creating its bucket if needed.
func (s *Set) Open(ctx context.Context, name string) (cache.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cache.ValidateStoreName(name); err != nil {
		return nil, err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: create %q: %w", name, err)
	}
	return &Store{db: s.db, bucket: []byte(name)}, nil
}

// Names returns every store name in byte order.
func (s *Set) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: list stores: %w", err)
	}
	return names, nil
}

// Drop deletes the store called name and all its entries. Idempotent.
func (s *Set) Drop(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(name)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(name))
	})
	if err != nil {
		return fmt.Errorf("boltstore: drop %q: %w", name, err)
	}
	return nil
}

// Store is one bucket of a Set. A dropped bucket reads as empty and is
// recreated by the next Put.
type Store struct {
	db     *bolt.DB
	bucket []byte
}

// Get decodes the entry under key, or returns nil on miss.
func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			// v is only valid inside the transaction
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: get %q: %w", key, err)
	}
	if data == nil {
		return nil, nil
	}

	var entry cache.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("boltstore: decode %q: %w", key, err)
	}
	return &entry, nil
}

// Put encodes entry and stores it under key.
func (s *Store) Put(ctx context.Context, key string, entry *cache.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("boltstore: encode %q: %w", key, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("boltstore: put %q: %w", key, err)
	}
	return nil
}

// Keys returns every key in byte order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: list keys: %w", err)
	}
	return keys, nil
}

// stampView is the subset of an encoded entry eviction needs.
type stampView struct {
	Header     http.Header `json:"header"`
	CapturedAt int64       `json:"captured_at"`
}

// Stamps returns the capture time of every entry in byte order of keys.
// Entries that fail to decode are reported with no timestamp so that
// eviction removes them first.
func (s *Store) Stamps(ctx context.Context) ([]cache.Stamp, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var stamps []cache.Stamp
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var view stampView
			var ms int64
			if json.Unmarshal(v, &view) == nil {
				ms, _ = (&cache.Entry{Header: view.Header, CapturedAt: view.CapturedAt}).Timestamp()
			}
			stamps = append(stamps, cache.Stamp{Key: string(k), CapturedAt: ms})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: list stamps: %w", err)
	}
	return stamps, nil
}

// Delete removes key. Idempotent.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("boltstore: delete %q: %w", key, err)
	}
	return nil
}

// Len returns the number of entries in the store.
func (s *Store) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(s.bucket); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

var (
	_ cache.StoreSet = (*Set)(nil)
	_ cache.Store    = (*Store)(nil)
	_ cache.Stamper  = (*Store)(nil)
)
