package cacheinfra

import (
	"context"
	"time"

	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the sturdyc cache adapter.
// It encapsulates the core sturdyc options needed for cache initialization.
type Config struct {
	// Capacity defines the maximum number of entries that the cache can store.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	// Higher values improve concurrency but increase memory overhead.
	// Must be greater than 0. Default: 256
	NumShards int

	// TTL is the upper bound on how long sturdyc keeps an entry. Per-key TTLs
	// passed to Set are enforced on read and never exceed it.
	// Must be greater than 0.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the cache reaches its capacity. Must be between 1-100.
	// Default: 10 (evict 10% of entries)
	EvictionPercentage int

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
		EvictionInterval:   0, // Use default
	}
}

// ToSturdycOptions converts the Config to sturdyc.Option slice.
// Capacity, NumShards, TTL and EvictionPercentage are passed directly
// to sturdyc.New() and are not included in the options.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate checks if the configuration values are valid.
// Returns an error if any configuration parameter is invalid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// entry is what sturdyc stores. The expiry travels with the value so that
// callers can ask for a TTL shorter than the client-wide one.
type entry struct {
	Value     []byte
	ExpiresAt time.Time
}

// SturdycBackend is an in-process byte cache backed by a sturdyc client.
type SturdycBackend struct {
	client *sturdyc.Client[entry]
	ttl    time.Duration
	now    func() time.Time
}

// NewSturdycBackend validates cfg and initializes a sturdyc client with it.
//
// Version compatibility note: This implementation assumes sturdyc v1.x API.
func NewSturdycBackend(cfg Config) (*SturdycBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[entry](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &SturdycBackend{client: client, ttl: cfg.TTL, now: time.Now}, nil
}

// Get returns the stored bytes for key. Entries past their own expiry are
// removed and reported as missing.
func (s *SturdycBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	e, ok := s.client.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.ExpiresAt.IsZero() && !s.now().Before(e.ExpiresAt) {
		s.client.Delete(key)
		return nil, false, nil
	}
	return e.Value, true, nil
}

// Set stores value under key for ttl, capped at the client TTL.
func (s *SturdycBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 || ttl > s.ttl {
		ttl = s.ttl
	}

	buf := make([]byte, len(value))
	copy(buf, value)
	s.client.Set(key, entry{Value: buf, ExpiresAt: s.now().Add(ttl)})
	return nil
}

// Delete removes a single entry. Deleting an absent key is not an error.
func (s *SturdycBackend) Delete(ctx context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// Close is a no-op; sturdyc holds no external resources.
func (s *SturdycBackend) Close() error {
	return nil
}
