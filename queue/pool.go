package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cespare/xxhash/v2"
	"github.com/goliatone/go-record-service/record"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultWorkers is the number of worker lanes of a Pool.
	DefaultWorkers = 4
	// DefaultRetryDelay is the pause before a failed task is tried again.
	DefaultRetryDelay = 5 * time.Second
)

// Handler applies a task.
type Handler interface {
	Handle(ctx context.Context, t Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, t Task) error

func (f HandlerFunc) Handle(ctx context.Context, t Task) error {
	return f(ctx, t)
}

// Indexer is the write side of a search index.
type Indexer interface {
	Upsert(ctx context.Context, doc record.Document) error
	Remove(ctx context.Context, id string) error
}

// Source reads the current version of a record.
type Source interface {
	GetByID(ctx context.Context, id int64) (*record.Record, error)
}

// HandlerOption configures IndexHandler.
type HandlerOption func(*indexHandler)

// WithSource makes upserts index the stored version of the record instead
// of the snapshot carried by the task. A record missing from src has its
// document removed, so an upsert that outlives a delete cannot bring the
// document back.
func WithSource(src Source) HandlerOption {
	return func(h *indexHandler) {
		h.source = src
	}
}

type indexHandler struct {
	idx    Indexer
	source Source
}

// IndexHandler applies tasks to idx.
func IndexHandler(idx Indexer, opts ...HandlerOption) Handler {
	h := &indexHandler{idx: idx}
	for _, opt := range opts {
		opt(h)
	}
	return HandlerFunc(h.handle)
}

func (h *indexHandler) handle(ctx context.Context, t Task) error {
	switch t.Op {
	case OpUpsert:
		if h.source == nil {
			return h.idx.Upsert(ctx, t.Document)
		}
		rec, err := h.source.GetByID(ctx, t.RecordID)
		switch {
		case errors.Is(err, record.ErrNotFound):
			return h.idx.Remove(ctx, record.DocumentID(t.RecordID))
		case err != nil:
			return fmt.Errorf("load record %d: %w", t.RecordID, err)
		}
		if err := h.idx.Upsert(ctx, rec.ToDocument()); err != nil {
			return err
		}
		// A delete that committed after the read may have removed the
		// document before this upsert landed.
		if _, err := h.source.GetByID(ctx, t.RecordID); errors.Is(err, record.ErrNotFound) {
			return h.idx.Remove(ctx, record.DocumentID(t.RecordID))
		}
		return nil
	case OpRemove:
		return h.idx.Remove(ctx, record.DocumentID(t.RecordID))
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidTask, t.Op)
	}
}

// Observer receives one notification per processed task with result ok,
// retried or dropped.
type Observer interface {
	ObserveTask(op, result string)
}

// Pool dequeues tasks and applies them with a fixed number of workers.
type Pool struct {
	queue       Queue
	handler     Handler
	workers     int
	maxAttempts int
	newBackOff  func() backoff.BackOff
	logger      zerolog.Logger
	observer    Observer
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkers sets the number of worker lanes.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithMaxAttempts sets the attempt ceiling for tasks enqueued without one.
func WithMaxAttempts(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBackOff sets the retry delay policy. The factory is called per task
// and advanced once per failed attempt.
func WithBackOff(factory func() backoff.BackOff) PoolOption {
	return func(p *Pool) {
		if factory != nil {
			p.newBackOff = factory
		}
	}
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l zerolog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = l
	}
}

// WithPoolObserver registers a metrics observer.
func WithPoolObserver(o Observer) PoolOption {
	return func(p *Pool) {
		p.observer = o
	}
}

// NewPool creates a pool consuming q with h.
func NewPool(q Queue, h Handler, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:       q,
		handler:     h,
		workers:     DefaultWorkers,
		maxAttempts: DefaultMaxAttempts,
		newBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(DefaultRetryDelay)
		},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until ctx is cancelled or the queue is closed. Tasks already
// handed to a lane are finished before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	lanes := make([]chan Task, p.workers)
	for i := range lanes {
		lane := make(chan Task, 1)
		lanes[i] = lane
		g.Go(func() error {
			for t := range lane {
				p.process(context.WithoutCancel(gctx), t)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()
		return p.dispatch(gctx, lanes)
	})

	p.logger.Info().Int("workers", p.workers).Msg("index worker pool started")
	err := g.Wait()
	p.logger.Info().Msg("index worker pool stopped")
	return err
}

func (p *Pool) dispatch(ctx context.Context, lanes []chan Task) error {
	for {
		t, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil
			}
			p.logger.Error().Err(err).Msg("dequeue failed")
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		lane := lanes[Lane(t.RecordID, len(lanes))]
		select {
		case lane <- t:
		case <-ctx.Done():
			// The task stays unacknowledged; durable queues redeliver it.
			return nil
		}
	}
}

// Lane maps a record id onto one of n worker lanes.
func Lane(recordID int64, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(strconv.FormatInt(recordID, 10)) % uint64(n))
}

func (p *Pool) process(ctx context.Context, t Task) {
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = p.maxAttempts
	}
	log := p.logger.With().
		Str("task_id", t.ID.String()).
		Str("op", string(t.Op)).
		Int64("record_id", t.RecordID).
		Logger()

	err := p.handler.Handle(ctx, t)
	if err == nil {
		if aerr := p.queue.Ack(ctx, t); aerr != nil {
			log.Warn().Err(aerr).Msg("ack failed, task may be delivered again")
		}
		p.observe(t.Op, "ok")
		return
	}

	t.Attempt++
	if t.Exhausted() || errors.Is(err, ErrInvalidTask) {
		log.Warn().Err(err).Int("attempt", t.Attempt).Msg("dropping index task")
		if aerr := p.queue.Ack(ctx, t); aerr != nil {
			log.Warn().Err(aerr).Msg("ack of dropped task failed")
		}
		p.observe(t.Op, "dropped")
		return
	}

	delay := p.delay(t.Attempt)
	log.Info().Err(err).Int("attempt", t.Attempt).Dur("delay", delay).Msg("retrying index task")
	if rerr := p.queue.Retry(ctx, t, delay); rerr != nil {
		log.Error().Err(rerr).Msg("retry failed")
	}
	p.observe(t.Op, "retried")
}

// delay returns the backoff after the given number of failed attempts.
func (p *Pool) delay(attempt int) time.Duration {
	b := p.newBackOff()
	d := DefaultRetryDelay
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d < 0 || d == backoff.Stop {
		return DefaultRetryDelay
	}
	return d
}

func (p *Pool) observe(op Op, result string) {
	if p.observer != nil {
		p.observer.ObserveTask(string(op), result)
	}
}
