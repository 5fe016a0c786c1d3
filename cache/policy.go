package cache

import (
	"context"
	"time"

	"github.com/goliatone/go-record-service/record"
	"github.com/rs/zerolog"
)

const (
	// DefaultTTL is the lifetime of a cached record projection.
	DefaultTTL = 5 * time.Minute
	// DefaultTimeout bounds every backend call made by RecordCache.
	DefaultTimeout = 100 * time.Millisecond
)

// RecordCache is the read-through policy used for record projections.
// It never returns an error: backend failures are logged, counted and
// reported as Degraded (reads) or false (writes).
type RecordCache struct {
	backend  Backend
	keys     KeySerializer
	ttl      time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	observer Observer
}

// Option configures a RecordCache.
type Option func(*RecordCache)

// WithTTL sets the TTL applied to every stored projection.
func WithTTL(ttl time.Duration) Option {
	return func(c *RecordCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithTimeout sets the per-call backend timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *RecordCache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for degraded operations.
func WithLogger(l zerolog.Logger) Option {
	return func(c *RecordCache) {
		c.logger = l
	}
}

// WithObserver registers a metrics observer.
func WithObserver(o Observer) Option {
	return func(c *RecordCache) {
		c.observer = o
	}
}

// WithKeySerializer overrides the key builder.
func WithKeySerializer(s KeySerializer) Option {
	return func(c *RecordCache) {
		if s != nil {
			c.keys = s
		}
	}
}

// NewRecordCache wraps backend. A nil backend yields a cache that always
// misses and never stores, which is how caching is disabled.
func NewRecordCache(backend Backend, opts ...Option) *RecordCache {
	c := &RecordCache{
		backend: backend,
		keys:    NewDefaultKeySerializer(),
		ttl:     DefaultTTL,
		timeout: DefaultTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether a backend is configured.
func (c *RecordCache) Enabled() bool {
	return c != nil && c.backend != nil
}

// TTL returns the lifetime applied to stored projections.
func (c *RecordCache) TTL() time.Duration {
	return c.ttl
}

func (c *RecordCache) key(id int64) string {
	return c.keys.SerializeKey(RecordKeyClass, id)
}

// Get looks up the projection of record id.
func (c *RecordCache) Get(ctx context.Context, id int64) (record.View, Outcome) {
	if !c.Enabled() {
		return record.View{}, Miss
	}

	key := c.key(id)
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, ok, err := c.backend.Get(callCtx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache get failed, reading from store")
		c.observe("get", Degraded.String())
		return record.View{}, Degraded
	}
	if !ok {
		c.observe("get", Miss.String())
		return record.View{}, Miss
	}

	view, err := decodeView(data)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		if derr := c.backend.Delete(callCtx, key); derr != nil {
			c.logger.Debug().Err(derr).Str("key", key).Msg("cache delete of bad entry failed")
		}
		c.observe("get", Miss.String())
		return record.View{}, Miss
	}

	c.observe("get", Hit.String())
	return view, Hit
}

// Set stores view under its record key. It reports whether the write landed.
func (c *RecordCache) Set(ctx context.Context, view record.View) bool {
	if !c.Enabled() {
		return false
	}

	key := c.key(view.ID)
	data, err := encodeView(view)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache encode failed")
		c.observe("set", "error")
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.backend.Set(callCtx, key, data, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache set failed")
		c.observe("set", "error")
		return false
	}
	c.observe("set", "ok")
	return true
}

// Invalidate removes the projection of record id. A false result means the
// entry may be served stale until its TTL expires.
func (c *RecordCache) Invalidate(ctx context.Context, id int64) bool {
	if !c.Enabled() {
		return true
	}

	key := c.key(id)
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.backend.Delete(callCtx, key); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Dur("stale_for", c.ttl).Msg("cache invalidation failed")
		c.observe("invalidate", "error")
		return false
	}
	c.observe("invalidate", "ok")
	return true
}

// Close releases the backend.
func (c *RecordCache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.backend.Close()
}

func (c *RecordCache) observe(op, result string) {
	if c.observer != nil {
		c.observer.ObserveCache(op, result)
	}
}
