package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// SelectForEviction returns the keys to remove so that at most limit entries
// remain, oldest first. Entries without a timestamp count as the oldest.
// Entries with equal timestamps keep the order in which stamps lists them.
// It returns nil when no eviction is needed.
func SelectForEviction(stamps []Stamp, limit int) []string {
	if limit < 0 {
		limit = 0
	}
	excess := len(stamps) - limit
	if excess <= 0 {
		return nil
	}

	ordered := make([]Stamp, len(stamps))
	copy(ordered, stamps)
	sort.SliceStable(ordered, func(i, j int) bool {
		return stampTime(ordered[i]) < stampTime(ordered[j])
	})

	selected := make([]string, 0, excess)
	for _, s := range ordered[:excess] {
		selected = append(selected, s.Key)
	}
	return selected
}

func stampTime(s Stamp) int64 {
	if s.CapturedAt < 0 {
		return 0
	}
	return s.CapturedAt
}

// ReadStamps lists the capture time of every entry in store. It uses Stamper
// when the store implements it, and Keys plus Get otherwise. Keys that vanish
// between the two calls are skipped.
func ReadStamps(ctx context.Context, store Store) ([]Stamp, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if s, ok := store.(Stamper); ok {
		return s.Stamps(ctx)
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: list keys: %w", err)
	}

	stamps := make([]Stamp, 0, len(keys))
	for _, key := range keys {
		entry, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("cache: read %q: %w", key, err)
		}
		if entry == nil {
			continue
		}
		ms, _ := entry.Timestamp()
		stamps = append(stamps, Stamp{Key: key, CapturedAt: ms})
	}
	return stamps, nil
}

// Evict removes the oldest entries of store until at most limit remain and
// returns how many were removed. Running it again with no intervening writes
// removes nothing. Concurrent passes may pick overlapping keys; Delete is
// idempotent, so the bound is approximate under concurrency.
func Evict(ctx context.Context, store Store, limit int) (int, error) {
	stamps, err := ReadStamps(ctx, store)
	if err != nil {
		return 0, err
	}

	victims := SelectForEviction(stamps, limit)
	removed := 0
	var errs []error
	for _, key := range victims {
		if err := store.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("cache: delete %q: %w", key, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
