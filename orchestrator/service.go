package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-record-service/cache"
	"github.com/goliatone/go-record-service/index"
	"github.com/goliatone/go-record-service/queue"
	"github.com/goliatone/go-record-service/record"
	"github.com/goliatone/go-record-service/store"
	"github.com/rs/zerolog"
)

const (
	DefaultPageSize       = 20
	DefaultMaxPageSize    = 100
	DefaultEnqueueTimeout = time.Second
)

// Cache is the read-through cache of record views.
type Cache interface {
	Get(ctx context.Context, id int64) (record.View, cache.Outcome)
	Set(ctx context.Context, view record.View) bool
	Invalidate(ctx context.Context, id int64) bool
}

// Index is the search side of the orchestration.
type Index interface {
	Search(ctx context.Context, q index.Query) []record.Document
	Remove(ctx context.Context, id string) error
}

// Enqueuer accepts index tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Observer receives notifications about best-effort steps that failed.
type Observer interface {
	ObserveEnqueue(op, result string)
	ObserveIndexRemoval(result string)
}

// Service implements the record operations.
type Service struct {
	records        store.Records
	cache          Cache
	index          Index
	queue          Enqueuer
	logger         zerolog.Logger
	observer       Observer
	pageSize       int
	maxPageSize    int
	enqueueTimeout time.Duration
	maxAttempts    int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithObserver registers a metrics observer.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		s.observer = o
	}
}

// WithPageSizes sets the default and maximum List page sizes.
func WithPageSizes(def, max int) Option {
	return func(s *Service) {
		if max > 0 {
			s.maxPageSize = max
		}
		if def > 0 {
			s.pageSize = min(def, s.maxPageSize)
		}
	}
}

// WithEnqueueTimeout bounds each enqueue.
func WithEnqueueTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.enqueueTimeout = d
		}
	}
}

// WithMaxAttempts sets the attempt ceiling stamped on enqueued tasks.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// New creates a Service. Every dependency is required; pass a disabled
// cache.RecordCache to run without caching.
func New(records store.Records, c Cache, idx Index, q Enqueuer, opts ...Option) *Service {
	s := &Service{
		records:        records,
		cache:          c,
		index:          idx,
		queue:          q,
		logger:         zerolog.Nop(),
		pageSize:       DefaultPageSize,
		maxPageSize:    DefaultMaxPageSize,
		enqueueTimeout: DefaultEnqueueTimeout,
		maxAttempts:    queue.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new record and schedules its indexing.
func (s *Service) Create(ctx context.Context, in record.NewRecord) (record.View, error) {
	if err := in.Validate(); err != nil {
		return record.View{}, err
	}

	rec, err := s.records.Create(ctx, in)
	if err != nil {
		return record.View{}, err
	}

	s.enqueue(context.WithoutCancel(ctx), queue.NewUpsertTask(rec))

	full, err := s.records.GetByID(ctx, rec.ID)
	if err != nil {
		return record.View{}, fmt.Errorf("reload created record %d: %w", rec.ID, err)
	}
	return full.ToView(), nil
}

// Get returns the view of record id, from the cache when possible.
func (s *Service) Get(ctx context.Context, id int64) (record.View, error) {
	useCache := !cache.Bypassed(ctx)

	if useCache {
		if view, outcome := s.cache.Get(ctx, id); outcome == cache.Hit {
			return view, nil
		}
	}

	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return record.View{}, err
	}

	view := rec.ToView()
	if useCache {
		s.cache.Set(ctx, view)
	}
	return view, nil
}

// List returns a page of records straight from the store.
func (s *Service) List(ctx context.Context, skip, limit int) ([]record.View, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = s.pageSize
	}
	if limit > s.maxPageSize {
		limit = s.maxPageSize
	}

	recs, err := s.records.List(ctx, skip, limit)
	if err != nil {
		return nil, err
	}

	views := make([]record.View, 0, len(recs))
	for i := range recs {
		views = append(views, recs[i].ToView())
	}
	return views, nil
}

// Update applies patch, invalidates the cached view and schedules reindexing.
func (s *Service) Update(ctx context.Context, id int64, patch record.Patch) (record.View, error) {
	if err := patch.Validate(); err != nil {
		return record.View{}, err
	}

	rec, err := s.records.Update(ctx, id, patch)
	if err != nil {
		return record.View{}, err
	}

	// The write is committed; follow-up steps must not depend on the caller staying.
	after := context.WithoutCancel(ctx)
	s.cache.Invalidate(after, id)
	s.enqueue(after, queue.NewUpsertTask(rec))

	return rec.ToView(), nil
}

// Delete removes record id from the store, the cache and the index.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.records.GetByID(ctx, id); err != nil {
		return err
	}

	deleted, err := s.records.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		// Lost a race with a concurrent delete.
		return fmt.Errorf("delete record %d: %w", id, record.ErrNotFound)
	}

	after := context.WithoutCancel(ctx)
	s.cache.Invalidate(after, id)

	if err := s.index.Remove(after, record.DocumentID(id)); err != nil {
		s.logger.Warn().Err(err).Int64("record_id", id).Msg("index removal failed, queueing remove task")
		s.observeRemoval("error")
		s.enqueue(after, queue.NewRemoveTask(id))
		return nil
	}
	s.observeRemoval("ok")
	return nil
}

// Search runs a full-text query. It never fails; an unavailable index
// yields no results.
func (s *Service) Search(ctx context.Context, q index.Query) []record.Document {
	return s.index.Search(ctx, q)
}

// Reindex enqueues an upsert task for rec. Used by reconciliation.
func (s *Service) Reindex(ctx context.Context, rec *record.Record) bool {
	return s.enqueue(ctx, queue.NewUpsertTask(rec))
}

func (s *Service) enqueue(ctx context.Context, t queue.Task) bool {
	if t.MaxAttempts == 0 {
		t.MaxAttempts = s.maxAttempts
	}

	ctx, cancel := context.WithTimeout(ctx, s.enqueueTimeout)
	defer cancel()

	if err := s.queue.Enqueue(ctx, t); err != nil {
		level := s.logger.Warn()
		if errors.Is(err, queue.ErrClosed) {
			level = s.logger.Error()
		}
		level.Err(err).
			Str("op", string(t.Op)).
			Int64("record_id", t.RecordID).
			Msg("enqueue failed, index will lag until reconciliation")
		s.observeEnqueue(t.Op, "error")
		return false
	}
	s.observeEnqueue(t.Op, "ok")
	return true
}

func (s *Service) observeEnqueue(op queue.Op, result string) {
	if s.observer != nil {
		s.observer.ObserveEnqueue(string(op), result)
	}
}

func (s *Service) observeRemoval(result string) {
	if s.observer != nil {
		s.observer.ObserveIndexRemoval(result)
	}
}
