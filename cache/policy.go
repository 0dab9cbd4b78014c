package cache

import "time"

// Store bounds. Both are process-wide constants.
const (
	// MaxItems is the maximum number of entries kept in the store.
	MaxItems = 60

	// MaxAge is how long an entry is served without waiting on the network.
	MaxAge = 7 * 24 * time.Hour
)

// Policy configures freshness and capacity.
type Policy struct {
	// MaxAge is the age up to which an entry is fresh (inclusive).
	MaxAge time.Duration

	// MaxItems bounds the store size after every write.
	MaxItems int
}

// DefaultPolicy returns the compiled-in policy.
// MaxAge: 7 days, MaxItems: 60
func DefaultPolicy() Policy {
	return Policy{
		MaxAge:   MaxAge,
		MaxItems: MaxItems,
	}
}

// Fresh reports whether e can be served without waiting on the network.
// Entries without a timestamp are never fresh.
func (p Policy) Fresh(e *Entry, now time.Time) bool {
	ms, ok := e.Timestamp()
	if !ok {
		return false
	}
	return now.UnixMilli()-ms <= p.MaxAge.Milliseconds()
}
