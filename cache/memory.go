package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store. Keys enumerate in insertion order;
// overwriting a key moves it to the end.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
	}
}

// Get returns a copy of the entry under key, or nil on miss.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	return cloneEntry(entry), nil
}

// Put stores a copy of entry under key.
func (s *MemoryStore) Put(_ context.Context, key string, entry *Entry) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; exists {
		s.removeFromOrder(key)
	}
	s.entries[key] = cloneEntry(entry)
	s.order = append(s.order, key)
	return nil
}

// Keys returns all keys in insertion order.
func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, len(s.order))
	copy(keys, s.order)
	return keys, nil
}

// Stamps returns the capture time of every entry in insertion order.
func (s *MemoryStore) Stamps(_ context.Context) ([]Stamp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stamps := make([]Stamp, 0, len(s.order))
	for _, key := range s.order {
		ms, _ := s.entries[key].Timestamp()
		stamps = append(stamps, Stamp{Key: key, CapturedAt: ms})
	}
	return stamps, nil
}

// Delete removes key. Idempotent - no error on miss.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		s.removeFromOrder(key)
	}
	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) removeFromOrder(key string) {
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func cloneEntry(e *Entry) *Entry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Body != nil {
		c.Body = append([]byte(nil), e.Body...)
	}
	c.Header = e.Header.Clone()
	return &c
}

// MemoryStoreSet is an in-memory StoreSet.
type MemoryStoreSet struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

// NewMemoryStoreSet creates an empty set of in-memory stores.
func NewMemoryStoreSet() *MemoryStoreSet {
	return &MemoryStoreSet{
		stores: make(map[string]*MemoryStore),
	}
}

// Open returns the store called name, creating it if needed.
func (m *MemoryStoreSet) Open(_ context.Context, name string) (Store, error) {
	if err := ValidateStoreName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stores[name]
	if !ok {
		s = NewMemoryStore()
		m.stores[name] = s
	}
	return s, nil
}

// Names returns the names of all stores, sorted.
func (m *MemoryStoreSet) Names(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Drop discards the store called name. Idempotent.
func (m *MemoryStoreSet) Drop(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.stores, name)
	m.mu.Unlock()
	return nil
}

var (
	_ Store    = (*MemoryStore)(nil)
	_ Stamper  = (*MemoryStore)(nil)
	_ StoreSet = (*MemoryStoreSet)(nil)
)
