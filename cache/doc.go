// Package cache provides the best-effort read-through cache used for record
// read projections.
//
// # Overview
//
// The package exports three pieces:
//
//   - Backend: a raw byte store with per-key TTL (in-process sturdyc or Redis)
//   - KeySerializer: builds stable cache keys such as record:42
//   - RecordCache: the policy layer the orchestrator talks to
//
// RecordCache never fails its caller. Every backend call is bounded by a short
// timeout; errors and timeouts are logged and reported as a Degraded outcome
// on reads or a false result on writes, so the store stays the only source of
// errors a request can observe.
//
// # Basic Usage
//
//	rc, err := cache.New(cache.DefaultConfig(), cache.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	view, outcome := rc.Get(ctx, 42)
//	if outcome != cache.Hit {
//		// read from the store, then rc.Set(ctx, view)
//	}
//
// # Invalidation
//
// Writers call Invalidate after a committed update or delete. Entries are
// never updated in place; the next read repopulates them. A failed
// invalidation leaves the entry readable until its TTL expires, which bounds
// staleness to the configured TTL (five minutes by default).
//
// Reads can skip the cache entirely with WithoutCache(ctx).
package cache
