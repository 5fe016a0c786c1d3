package cache

import (
	"context"
	"time"
)

// Backend is the raw key/value store behind the record cache. Implementations
// must be safe for concurrent use. A missing or expired key is reported as
// (nil, false, nil); errors are reserved for an unreachable or failing store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Outcome classifies a cache lookup.
type Outcome int

const (
	// Miss means the key was absent, expired or held an unreadable value.
	Miss Outcome = iota
	// Hit means a decoded value was returned.
	Hit
	// Degraded means the backend failed or timed out. Callers treat it as a miss.
	Degraded
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case Degraded:
		return "degraded"
	default:
		return "miss"
	}
}

// Observer receives one notification per cache operation. op is one of
// get, set or invalidate; result is an Outcome string for gets and
// ok/error for writes.
type Observer interface {
	ObserveCache(op, result string)
}
