// Package di wires the record service components from configuration and owns
// their lifecycle.
package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-record-service/cache"
	"github.com/goliatone/go-record-service/index"
	"github.com/goliatone/go-record-service/internal/api"
	"github.com/goliatone/go-record-service/internal/config"
	"github.com/goliatone/go-record-service/internal/metrics"
	"github.com/goliatone/go-record-service/orchestrator"
	"github.com/goliatone/go-record-service/queue"
	"github.com/goliatone/go-record-service/reconcile"
	"github.com/goliatone/go-record-service/store"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"
)

// Container provides dependency injection for the record service.
// It builds every component once and closes them in reverse order.
type Container struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Recorder

	db         *bun.DB
	store      *store.BunStore
	cache      *cache.RecordCache
	backend    index.Backend
	searcher   *index.Searcher
	queue      queue.Queue
	pool       *queue.Pool
	service    *orchestrator.Service
	reconciler *reconcile.Reconciler

	closers []func() error
}

// Option customises a Container before components are built.
type Option func(*Container)

// WithLogger sets the root logger. Components get a child logger each.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Container) {
		c.logger = l
	}
}

// WithDB supplies an open database instead of dialing cfg.Database.
// The caller keeps ownership.
func WithDB(db *bun.DB) Option {
	return func(c *Container) {
		c.db = db
	}
}

// WithIndexBackend replaces the configured index backend.
func WithIndexBackend(b index.Backend) Option {
	return func(c *Container) {
		c.backend = b
	}
}

// NewContainer builds every component from cfg. Nothing runs until Run.
func NewContainer(ctx context.Context, cfg *config.Config, opts ...Option) (*Container, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Container{cfg: cfg, logger: zerolog.Nop(), metrics: metrics.New()}
	for _, opt := range opts {
		opt(c)
	}

	steps := []func(context.Context) error{
		c.buildStore,
		c.buildCache,
		c.buildIndex,
		c.buildQueue,
		c.buildService,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			if cerr := c.Close(); cerr != nil {
				c.logger.Error().Err(cerr).Msg("cleanup after failed build")
			}
			return nil, err
		}
	}
	return c, nil
}

// NewContainerWithDefaults creates a container using the default configuration.
func NewContainerWithDefaults(ctx context.Context, opts ...Option) (*Container, error) {
	return NewContainer(ctx, config.Default(), opts...)
}

func (c *Container) component(name string) zerolog.Logger {
	return c.logger.With().Str("component", name).Logger()
}

func (c *Container) buildStore(ctx context.Context) error {
	if c.db == nil {
		db, err := store.Open(ctx, c.cfg.StoreConfig(c.component("database")))
		if err != nil {
			return err
		}
		c.db = db
		c.closers = append(c.closers, db.Close)
	}
	c.store = store.New(c.db)
	return nil
}

func (c *Container) buildCache(context.Context) error {
	rc, err := cache.New(c.cfg.CacheConfig(),
		cache.WithLogger(c.component("cache")),
		cache.WithObserver(c.metrics),
	)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	c.cache = rc
	c.closers = append(c.closers, rc.Close)
	if !rc.Enabled() {
		c.logger.Warn().Msg("record cache disabled")
	}
	return nil
}

func (c *Container) buildIndex(context.Context) error {
	if c.backend == nil {
		switch c.cfg.Index.Driver {
		case config.IndexElastic:
			es, err := index.NewElasticIndex(c.cfg.ElasticConfig(), c.component("elasticsearch"))
			if err != nil {
				return err
			}
			c.backend = es
		default:
			c.backend = index.NewMemoryIndex()
		}
	}
	c.searcher = index.NewSearcher(c.backend,
		index.WithTimeout(c.cfg.Index.Timeout),
		index.WithLogger(c.component("index")),
		index.WithObserver(c.metrics),
	)
	c.closers = append(c.closers, c.searcher.Close)
	return nil
}

func (c *Container) buildQueue(context.Context) error {
	qc := c.cfg.Queue
	switch qc.Driver {
	case config.QueueSQL:
		c.queue = queue.NewSQLQueue(c.db,
			queue.WithLease(qc.Lease),
			queue.WithPollInterval(qc.PollInterval),
		)
	default:
		c.queue = queue.NewMemoryQueue(qc.Capacity)
	}
	c.closers = append(c.closers, c.queue.Close)

	c.pool = queue.NewPool(c.queue, queue.IndexHandler(c.searcher, queue.WithSource(c.store)),
		queue.WithWorkers(qc.Workers),
		queue.WithMaxAttempts(qc.MaxAttempts),
		queue.WithBackOff(retryPolicy(qc)),
		queue.WithPoolLogger(c.component("worker")),
		queue.WithPoolObserver(c.metrics),
	)
	return nil
}

func (c *Container) buildService(context.Context) error {
	c.service = orchestrator.New(c.store, c.cache, c.searcher, c.queue,
		orchestrator.WithLogger(c.component("orchestrator")),
		orchestrator.WithObserver(c.metrics),
		orchestrator.WithPageSizes(c.cfg.Pagination.DefaultLimit, c.cfg.Pagination.MaxLimit),
		orchestrator.WithEnqueueTimeout(c.cfg.Queue.EnqueueTimeout),
		orchestrator.WithMaxAttempts(c.cfg.Queue.MaxAttempts),
	)

	rc := c.cfg.Reconcile
	c.reconciler = reconcile.New(c.store, c.queue,
		reconcile.WithPageSize(rc.PageSize),
		reconcile.WithRate(rc.Rate, rc.Burst),
		reconcile.WithInterval(rc.Interval),
		reconcile.WithLogger(c.component("reconcile")),
	)
	return nil
}

// retryPolicy maps the queue section onto a backoff factory.
func retryPolicy(qc config.Queue) func() backoff.BackOff {
	delay := qc.RetryDelay
	if delay <= 0 {
		delay = queue.DefaultRetryDelay
	}
	if qc.Backoff != config.BackoffExponential {
		return func() backoff.BackOff { return backoff.NewConstantBackOff(delay) }
	}
	maxDelay := qc.MaxRetryDelay
	if maxDelay < delay {
		maxDelay = delay
	}
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = delay
		b.MaxInterval = maxDelay
		return b
	}
}

// InitSchema creates the relational tables and, for Elasticsearch, the index.
func (c *Container) InitSchema(ctx context.Context) error {
	if err := store.CreateSchema(ctx, c.db); err != nil {
		return err
	}
	if c.cfg.Queue.Driver == config.QueueSQL {
		if err := queue.CreateSchema(ctx, c.db); err != nil {
			return err
		}
	}
	if es, ok := c.backend.(*index.ElasticIndex); ok {
		if err := es.EnsureIndex(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Reindex enqueues every stored record, optionally recreating the index first.
// Workers must be running (here or in another process) for the tasks to apply.
func (c *Container) Reindex(ctx context.Context, reset bool) (reconcile.Result, error) {
	if reset {
		r, ok := c.backend.(index.Resetter)
		if !ok {
			return reconcile.Result{}, errors.New("index backend does not support reset")
		}
		if err := r.Reset(ctx); err != nil {
			return reconcile.Result{}, fmt.Errorf("reset index: %w", err)
		}
		c.logger.Info().Msg("search index reset")
	}
	return c.reconciler.Run(ctx)
}

// Run starts the worker pool and the periodic reconciler and blocks until ctx
// is cancelled or the pool fails.
func (c *Container) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.pool.Run(gctx)
	})
	g.Go(func() error {
		return c.reconciler.Start(gctx)
	})
	return g.Wait()
}

// Ping checks the database. Used by readiness probes.
func (c *Container) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Handler builds the HTTP API with the standard middleware stack.
func (c *Container) Handler(requestTimeout time.Duration, mw ...func(http.Handler) http.Handler) http.Handler {
	middlewares := append([]func(http.Handler) http.Handler{c.metrics.Middleware}, mw...)
	middlewares = append(middlewares, api.LoggingMiddleware(c.component("http")))
	if requestTimeout > 0 {
		middlewares = append(middlewares, middleware.Timeout(requestTimeout))
	}
	return api.NewServer(c.service,
		api.WithMiddlewares(middlewares...),
		api.WithOwners(c.store),
		api.WithReadinessCheck("database", c.Ping),
		api.WithMetricsHandler(c.metrics.Handler()),
		api.WithPageSizes(c.cfg.Pagination.DefaultLimit, c.cfg.Pagination.MaxLimit),
	)
}

// Close releases every component in reverse construction order.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Config returns the configuration the container was built from.
func (c *Container) Config() *config.Config {
	return c.cfg
}

func (c *Container) Metrics() *metrics.Recorder {
	return c.metrics
}

func (c *Container) Store() *store.BunStore {
	return c.store
}

func (c *Container) Cache() *cache.RecordCache {
	return c.cache
}

func (c *Container) Searcher() *index.Searcher {
	return c.searcher
}

func (c *Container) Queue() queue.Queue {
	return c.queue
}

func (c *Container) Service() *orchestrator.Service {
	return c.service
}

func (c *Container) Reconciler() *reconcile.Reconciler {
	return c.reconciler
}
