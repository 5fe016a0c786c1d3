// Package orchestrator coordinates a write or read across the record store,
// the read cache and the search index.
//
// The store is authoritative and is the only dependency whose failure reaches
// the caller. After a committed write the cache entry is invalidated, never
// updated in place, and an index task is enqueued. Both steps are best effort:
// a failed invalidation leaves the entry stale for at most the cache TTL, and
// a failed enqueue leaves the index behind until the next reconciliation.
//
// Deletes try to remove the index document synchronously and fall back to a
// queued remove task, so a ghost search hit is retried rather than forgotten.
package orchestrator
