// Package reconcile re-enqueues index tasks for every stored record. It is
// the recovery path for tasks dropped after exhausting their retries and for
// enqueues that failed outright.
package reconcile

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/goliatone/go-record-service/queue"
	"github.com/goliatone/go-record-service/record"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultPageSize is the number of records read per store query.
const DefaultPageSize = 100

// Lister pages through stored records in id order.
type Lister interface {
	List(ctx context.Context, skip, limit int) ([]record.Record, error)
}

// Enqueuer accepts index tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Result summarises one pass.
type Result struct {
	Records  int
	Enqueued int
	Failed   int
}

// Reconciler walks the store and enqueues an upsert per record.
type Reconciler struct {
	records  Lister
	queue    Enqueuer
	pageSize int
	limiter  *rate.Limiter
	interval time.Duration
	logger   zerolog.Logger

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithPageSize sets the store page size.
func WithPageSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithRate limits enqueues to perSecond with the given burst. Zero disables limiting.
func WithRate(perSecond float64, burst int) Option {
	return func(r *Reconciler) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithInterval sets the period of Start. Zero disables periodic passes.
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		r.interval = d
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l
	}
}

// New creates a Reconciler.
func New(records Lister, q Enqueuer, opts ...Option) *Reconciler {
	r := &Reconciler{
		records:  records,
		queue:    q,
		pageSize: DefaultPageSize,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one full pass. Enqueue failures are counted, not returned;
// a store error aborts the pass.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	var res Result
	start := time.Now()

	for skip := 0; ; skip += r.pageSize {
		page, err := r.records.List(ctx, skip, r.pageSize)
		if err != nil {
			return res, fmt.Errorf("list records at offset %d: %w", skip, err)
		}

		for i := range page {
			if r.limiter != nil {
				if err := r.limiter.Wait(ctx); err != nil {
					return res, err
				}
			}
			res.Records++
			if err := r.queue.Enqueue(ctx, queue.NewUpsertTask(&page[i])); err != nil {
				res.Failed++
				r.logger.Warn().Err(err).Int64("record_id", page[i].ID).Msg("reconcile enqueue failed")
				continue
			}
			res.Enqueued++
		}

		if len(page) < r.pageSize {
			break
		}
	}

	r.logger.Info().
		Int("records", res.Records).
		Int("enqueued", res.Enqueued).
		Int("failed", res.Failed).
		Dur("took", time.Since(start)).
		Msg("reconciliation pass finished")
	return res, nil
}

// Start runs a pass every interval until ctx is cancelled or Stop is called.
// It returns immediately when no interval is configured.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.interval <= 0 {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.mu.Lock()
	r.cancelFunc = cancel
	r.done = done
	r.mu.Unlock()
	defer close(done)

	r.logger.Info().Dur("interval", r.interval).Msg("starting periodic reconciliation")
	ticker := time.NewTicker(r.next())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Run(loopCtx); err != nil && loopCtx.Err() == nil {
				r.logger.Error().Err(err).Msg("reconciliation pass failed")
			}
			ticker.Reset(r.next())
		case <-loopCtx.Done():
			r.logger.Info().Msg("periodic reconciliation stopping")
			return nil
		}
	}
}

// Stop cancels Start and waits for it to return.
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancelFunc, r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// next applies up to ten percent of jitter so replicas do not align.
func (r *Reconciler) next() time.Duration {
	jitter := int64(r.interval / 10)
	if jitter <= 0 {
		return r.interval
	}
	//nolint:gosec // jitter does not need a cryptographic source
	return r.interval + time.Duration(rand.Int64N(2*jitter)-jitter)
}
