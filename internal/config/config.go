// Package config loads service configuration from YAML, environment and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-record-service/cache"
	"github.com/goliatone/go-record-service/index"
	"github.com/goliatone/go-record-service/internal/logging"
	"github.com/goliatone/go-record-service/orchestrator"
	"github.com/goliatone/go-record-service/queue"
	"github.com/goliatone/go-record-service/reconcile"
	"github.com/goliatone/go-record-service/store"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RECORDSVC_CACHE_DRIVER.
const EnvPrefix = "RECORDSVC"

// Index drivers.
const (
	IndexMemory  = "memory"
	IndexElastic = "elasticsearch"
)

// Queue drivers and retry policies.
const (
	QueueMemory = "memory"
	QueueSQL    = "sql"

	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// Config is the full service configuration.
type Config struct {
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
	Cache      Cache      `mapstructure:"cache"`
	Index      Index      `mapstructure:"index"`
	Queue      Queue      `mapstructure:"queue"`
	Reconcile  Reconcile  `mapstructure:"reconcile"`
	Log        Log        `mapstructure:"log"`
	Pagination Pagination `mapstructure:"pagination"`
}

type Server struct {
	Address         string        `mapstructure:"address"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Database struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	PingAttempts    uint          `mapstructure:"ping_attempts"`
}

type Cache struct {
	Driver             string        `mapstructure:"driver"`
	TTL                time.Duration `mapstructure:"ttl"`
	Timeout            time.Duration `mapstructure:"timeout"`
	Capacity           int           `mapstructure:"capacity"`
	NumShards          int           `mapstructure:"num_shards"`
	EvictionPercentage int           `mapstructure:"eviction_percentage"`
	EvictionInterval   time.Duration `mapstructure:"eviction_interval"`
	Redis              Redis         `mapstructure:"redis"`
}

type Redis struct {
	Addr         string        `mapstructure:"addr"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type Index struct {
	Driver    string        `mapstructure:"driver"`
	Addresses []string      `mapstructure:"addresses"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	Name      string        `mapstructure:"name"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type Queue struct {
	Driver         string        `mapstructure:"driver"`
	Capacity       int           `mapstructure:"capacity"`
	Workers        int           `mapstructure:"workers"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	Backoff        string        `mapstructure:"backoff"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay  time.Duration `mapstructure:"max_retry_delay"`
	Lease          time.Duration `mapstructure:"lease"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
}

type Reconcile struct {
	// Interval between background passes; zero disables them.
	Interval time.Duration `mapstructure:"interval"`
	Rate     float64       `mapstructure:"rate"`
	Burst    int           `mapstructure:"burst"`
	PageSize int           `mapstructure:"page_size"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Path   string `mapstructure:"path"`
}

type Pagination struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	cc := cache.DefaultConfig()

	defaults := map[string]any{
		"server.address":          ":8080",
		"server.request_timeout":  10 * time.Second,
		"server.read_timeout":     10 * time.Second,
		"server.write_timeout":    15 * time.Second,
		"server.idle_timeout":     60 * time.Second,
		"server.shutdown_timeout": 30 * time.Second,

		"database.driver":            store.DriverSQLite,
		"database.dsn":               "file:records.db?_foreign_keys=on",
		"database.max_open_conns":    25,
		"database.max_idle_conns":    5,
		"database.conn_max_lifetime": 5 * time.Minute,
		"database.ping_attempts":     5,

		"cache.driver":              cc.Driver,
		"cache.ttl":                 cache.DefaultTTL,
		"cache.timeout":             cc.Timeout,
		"cache.capacity":            cc.Capacity,
		"cache.num_shards":          cc.NumShards,
		"cache.eviction_percentage": cc.EvictionPercentage,
		"cache.eviction_interval":   cc.EvictionInterval,
		"cache.redis.addr":          cc.Redis.Addr,
		"cache.redis.username":      "",
		"cache.redis.password":      "",
		"cache.redis.db":            0,
		"cache.redis.pool_size":     0,
		"cache.redis.dial_timeout":  time.Duration(0),
		"cache.redis.read_timeout":  time.Duration(0),
		"cache.redis.write_timeout": time.Duration(0),

		"index.driver":    IndexMemory,
		"index.addresses": []string{"http://localhost:9200"},
		"index.username":  "",
		"index.password":  "",
		"index.name":      index.DefaultName,
		"index.timeout":   index.DefaultTimeout,

		"queue.driver":          QueueMemory,
		"queue.capacity":        queue.DefaultCapacity,
		"queue.workers":         queue.DefaultWorkers,
		"queue.max_attempts":    queue.DefaultMaxAttempts,
		"queue.backoff":         BackoffConstant,
		"queue.retry_delay":     queue.DefaultRetryDelay,
		"queue.max_retry_delay": time.Minute,
		"queue.lease":           queue.DefaultLease,
		"queue.poll_interval":   queue.DefaultPollInterval,
		"queue.enqueue_timeout": orchestrator.DefaultEnqueueTimeout,

		"reconcile.interval":  time.Duration(0),
		"reconcile.rate":      50.0,
		"reconcile.burst":     10,
		"reconcile.page_size": reconcile.DefaultPageSize,

		"log.level":  "info",
		"log.format": logging.FormatJSON,
		"log.path":   "",

		"pagination.default_limit": orchestrator.DefaultPageSize,
		"pagination.max_limit":     orchestrator.DefaultMaxPageSize,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// NewViper returns a viper instance wired for RECORDSVC_ environment overrides
// with all defaults registered. Flags bound on it take precedence over both.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Default returns the configuration with no file, env or flag overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		// defaults are static; failing here is a programming error
		panic(err)
	}
	return cfg
}

// Load reads path (optional) into v and returns the validated configuration.
// A nil v uses NewViper.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = NewViper()
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Server),
		validation.Field(&c.Database),
		validation.Field(&c.Index),
		validation.Field(&c.Queue),
		validation.Field(&c.Reconcile),
		validation.Field(&c.Log),
		validation.Field(&c.Pagination),
	)
	if err != nil {
		return err
	}
	if cerr := c.CacheConfig().Validate(); cerr != nil {
		return fmt.Errorf("cache: %w", cerr)
	}
	return nil
}

// ValidateWorker checks that a worker running apart from the API writes to
// an index the API can read.
func (c Config) ValidateWorker() error {
	if c.Index.Driver == IndexMemory {
		return fmt.Errorf("worker: index driver %q is local to this process, use %q", IndexMemory, IndexElastic)
	}
	return nil
}

func (s Server) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Address, validation.Required),
		validation.Field(&s.RequestTimeout, validation.Min(time.Duration(0))),
		validation.Field(&s.ShutdownTimeout, validation.Min(time.Duration(0))),
	)
}

func (d Database) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required, validation.In(store.DriverPostgres, store.DriverSQLite)),
		validation.Field(&d.DSN, validation.Required),
	)
}

func (i Index) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.Driver, validation.Required, validation.In(IndexMemory, IndexElastic)),
		validation.Field(&i.Addresses, validation.When(i.Driver == IndexElastic, validation.Required)),
		validation.Field(&i.Timeout, validation.Min(time.Duration(0))),
	)
}

func (q Queue) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Driver, validation.Required, validation.In(QueueMemory, QueueSQL)),
		validation.Field(&q.Workers, validation.Min(1)),
		validation.Field(&q.MaxAttempts, validation.Min(1)),
		validation.Field(&q.Backoff, validation.In(BackoffConstant, BackoffExponential)),
		validation.Field(&q.RetryDelay, validation.Min(time.Duration(0))),
		validation.Field(&q.Lease, validation.When(q.Driver == QueueSQL, validation.Required)),
	)
}

func (r Reconcile) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Interval, validation.Min(time.Duration(0))),
		validation.Field(&r.Rate, validation.Min(0.0)),
		validation.Field(&r.PageSize, validation.Min(1)),
	)
}

func (l Log) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.By(func(any) error {
			_, err := logging.ParseLevel(l.Level)
			return err
		})),
		validation.Field(&l.Format, validation.In(logging.FormatJSON, logging.FormatConsole)),
	)
}

func (p Pagination) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.DefaultLimit, validation.Required, validation.Min(1)),
		validation.Field(&p.MaxLimit, validation.Required, validation.Min(1)),
	)
	if err != nil {
		return err
	}
	if p.DefaultLimit > p.MaxLimit {
		return errors.New("pagination: default_limit must not exceed max_limit")
	}
	return nil
}

// CacheConfig maps the cache section onto the cache package.
func (c Config) CacheConfig() cache.Config {
	return cache.Config{
		Driver:             c.Cache.Driver,
		Capacity:           c.Cache.Capacity,
		NumShards:          c.Cache.NumShards,
		TTL:                c.Cache.TTL,
		EvictionPercentage: c.Cache.EvictionPercentage,
		EvictionInterval:   c.Cache.EvictionInterval,
		Timeout:            c.Cache.Timeout,
		Redis: cache.RedisConfig{
			Addr:         c.Cache.Redis.Addr,
			Username:     c.Cache.Redis.Username,
			Password:     c.Cache.Redis.Password,
			DB:           c.Cache.Redis.DB,
			PoolSize:     c.Cache.Redis.PoolSize,
			DialTimeout:  c.Cache.Redis.DialTimeout,
			ReadTimeout:  c.Cache.Redis.ReadTimeout,
			WriteTimeout: c.Cache.Redis.WriteTimeout,
		},
	}
}

// StoreConfig maps the database section onto the store package.
func (c Config) StoreConfig(logger zerolog.Logger) store.Config {
	return store.Config{
		Driver:          c.Database.Driver,
		DSN:             c.Database.DSN,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		PingAttempts:    c.Database.PingAttempts,
		Logger:          logger,
	}
}

// ElasticConfig maps the index section onto the Elasticsearch backend.
func (c Config) ElasticConfig() index.ElasticConfig {
	return index.ElasticConfig{
		Addresses: c.Index.Addresses,
		Username:  c.Index.Username,
		Password:  c.Index.Password,
		Index:     c.Index.Name,
	}
}

// LoggingConfig maps the log section onto the logging package.
func (c Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format, Path: c.Log.Path}
}
