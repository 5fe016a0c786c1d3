package cache

import (
	"time"

	"github.com/goliatone/go-record-service/internal/cacheinfra"
)

// Supported cache drivers.
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// ConfigError is returned when a cache configuration is invalid.
type ConfigError = cacheinfra.ConfigError

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	Driver             string
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
	EvictionInterval   time.Duration
	Timeout            time.Duration
	Redis              RedisConfig
}

// RedisConfig holds the connection settings of the Redis driver.
type RedisConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	cfg := convertFromInternal(cacheinfra.DefaultConfig())
	cfg.Driver = DriverMemory
	cfg.Timeout = DefaultTimeout
	cfg.Redis = RedisConfig{Addr: "localhost:6379"}
	return cfg
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	if c.Timeout < 0 {
		return &ConfigError{Field: "Timeout", Message: "must be non-negative"}
	}

	switch c.Driver {
	case DriverNone:
		return nil
	case DriverMemory, "":
		return c.toInternal().Validate()
	case DriverRedis:
		if c.TTL <= 0 {
			return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
		}
		return c.Redis.toInternal().Validate()
	default:
		return &ConfigError{Field: "Driver", Message: "must be one of none, memory, redis"}
	}
}

// NewBackend constructs the backend selected by cfg.Driver. The none driver
// returns a nil Backend, which NewRecordCache treats as disabled.
func NewBackend(cfg Config) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case DriverNone:
		return nil, nil
	case DriverRedis:
		return cacheinfra.NewRedisBackend(cfg.Redis.toInternal())
	default:
		return cacheinfra.NewSturdycBackend(cfg.toInternal())
	}
}

// New builds a RecordCache from cfg, applying its TTL and timeout before opts.
func New(cfg Config, opts ...Option) (*RecordCache, error) {
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}
	base := []Option{WithTTL(cfg.TTL), WithTimeout(cfg.Timeout)}
	return NewRecordCache(backend, append(base, opts...)...), nil
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func (r RedisConfig) toInternal() cacheinfra.RedisConfig {
	return cacheinfra.RedisConfig{
		Addr:         r.Addr,
		Username:     r.Username,
		Password:     r.Password,
		DB:           r.DB,
		PoolSize:     r.PoolSize,
		DialTimeout:  r.DialTimeout,
		ReadTimeout:  r.ReadTimeout,
		WriteTimeout: r.WriteTimeout,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
