package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-record-service/record"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// DefaultLease is how long a claimed task stays invisible to other workers.
	DefaultLease = 30 * time.Second
	// DefaultPollInterval is how often an idle Dequeue checks for new tasks.
	DefaultPollInterval = 500 * time.Millisecond
)

type taskRow struct {
	bun.BaseModel `bun:"table:index_tasks,alias:t"`

	ID          int64     `bun:"id,pk,autoincrement"`
	TaskID      string    `bun:"task_id,notnull,unique"`
	Op          string    `bun:"op,notnull"`
	RecordID    int64     `bun:"record_id,notnull"`
	Document    []byte    `bun:"document"`
	Attempt     int       `bun:"attempt,notnull,default:0"`
	MaxAttempts int       `bun:"max_attempts,notnull"`
	EnqueuedAt  time.Time `bun:"enqueued_at,notnull"`
	AvailableAt time.Time `bun:"available_at,notnull"`
}

func toRow(t Task, availableAt time.Time) (*taskRow, error) {
	doc, err := msgpack.Marshal(&t.Document)
	if err != nil {
		return nil, fmt.Errorf("encode task document: %w", err)
	}
	return &taskRow{
		TaskID:      t.ID.String(),
		Op:          string(t.Op),
		RecordID:    t.RecordID,
		Document:    doc,
		Attempt:     t.Attempt,
		MaxAttempts: t.MaxAttempts,
		EnqueuedAt:  t.EnqueuedAt,
		AvailableAt: availableAt,
	}, nil
}

func (r *taskRow) toTask() (Task, error) {
	id, err := uuid.Parse(r.TaskID)
	if err != nil {
		return Task{}, fmt.Errorf("task %d: bad id: %w", r.ID, err)
	}
	var doc record.Document
	if len(r.Document) > 0 {
		if err := msgpack.Unmarshal(r.Document, &doc); err != nil {
			return Task{}, fmt.Errorf("task %s: decode document: %w", r.TaskID, err)
		}
	}
	return Task{
		ID:          id,
		Op:          Op(r.Op),
		RecordID:    r.RecordID,
		Document:    doc,
		Attempt:     r.Attempt,
		MaxAttempts: r.MaxAttempts,
		EnqueuedAt:  r.EnqueuedAt.UTC(),
	}, nil
}

// SQLQueue is a durable queue stored in the index_tasks table.
type SQLQueue struct {
	db     *bun.DB
	lease  time.Duration
	poll   time.Duration
	now    func() time.Time
	done   chan struct{}
	closed atomic.Bool
}

var _ Queue = (*SQLQueue)(nil)

// SQLOption configures a SQLQueue.
type SQLOption func(*SQLQueue)

// WithLease sets the visibility lease of claimed tasks.
func WithLease(d time.Duration) SQLOption {
	return func(q *SQLQueue) {
		if d > 0 {
			q.lease = d
		}
	}
}

// WithPollInterval sets how often an idle Dequeue polls.
func WithPollInterval(d time.Duration) SQLOption {
	return func(q *SQLQueue) {
		if d > 0 {
			q.poll = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SQLOption {
	return func(q *SQLQueue) {
		if now != nil {
			q.now = now
		}
	}
}

// NewSQLQueue creates a queue on db. The table must exist; see CreateSchema.
func NewSQLQueue(db *bun.DB, opts ...SQLOption) *SQLQueue {
	q := &SQLQueue{
		db:    db,
		lease: DefaultLease,
		poll:  DefaultPollInterval,
		now:   time.Now,
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// CreateSchema creates the index_tasks table if it does not exist.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewCreateTable().Model((*taskRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create index_tasks: %w", err)
	}
	if _, err := db.NewCreateIndex().
		Model((*taskRow)(nil)).
		Index("ix_index_tasks_available_at").
		IfNotExists().
		Column("available_at", "id").
		Exec(ctx); err != nil {
		return fmt.Errorf("create ix_index_tasks_available_at: %w", err)
	}
	return nil
}

func (q *SQLQueue) clock() time.Time {
	return q.now().UTC().Truncate(time.Millisecond)
}

func (q *SQLQueue) Enqueue(ctx context.Context, t Task) error {
	if q.closed.Load() {
		return ErrClosed
	}
	now := q.clock()
	t, err := prepare(t, now)
	if err != nil {
		return err
	}
	row, err := toRow(t, now)
	if err != nil {
		return err
	}
	if _, err := q.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("enqueue task %s: %w", t.ID, err)
	}
	return nil
}

// Dequeue claims the oldest visible task, polling while none is available.
func (q *SQLQueue) Dequeue(ctx context.Context) (Task, error) {
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		if q.closed.Load() {
			return Task{}, ErrClosed
		}

		t, ok, err := q.claim(ctx)
		if err != nil {
			return Task{}, err
		}
		if ok {
			return t, nil
		}

		select {
		case <-ticker.C:
		case <-q.done:
			return Task{}, ErrClosed
		case <-ctx.Done():
			return Task{}, ctx.Err()
		}
	}
}

// claim moves the lease of one visible task forward. The repeated
// available_at predicate on the outer statement makes concurrent claimers
// of the same row lose instead of both winning.
func (q *SQLQueue) claim(ctx context.Context) (Task, bool, error) {
	now := q.clock()

	next := q.db.NewSelect().
		Model((*taskRow)(nil)).
		Column("id").
		Where("available_at <= ?", now).
		OrderExpr("id ASC").
		Limit(1)

	var rows []taskRow
	_, err := q.db.NewUpdate().
		Model((*taskRow)(nil)).
		Set("available_at = ?", now.Add(q.lease)).
		Where("id = (?)", next).
		Where("available_at <= ?", now).
		Returning("*").
		Exec(ctx, &rows)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Task{}, false, err
		}
		return Task{}, false, fmt.Errorf("claim task: %w", err)
	}
	if len(rows) == 0 {
		return Task{}, false, nil
	}

	t, err := rows[0].toTask()
	if err != nil {
		// An undecodable row would block the head of the queue forever.
		_, _ = q.db.NewDelete().Model((*taskRow)(nil)).Where("id = ?", rows[0].ID).Exec(ctx)
		return Task{}, false, err
	}
	return t, true, nil
}

func (q *SQLQueue) Ack(ctx context.Context, t Task) error {
	_, err := q.db.NewDelete().
		Model((*taskRow)(nil)).
		Where("task_id = ?", t.ID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ack task %s: %w", t.ID, err)
	}
	return nil
}

func (q *SQLQueue) Retry(ctx context.Context, t Task, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	_, err := q.db.NewUpdate().
		Model((*taskRow)(nil)).
		Set("attempt = ?", t.Attempt).
		Set("available_at = ?", q.clock().Add(delay)).
		Where("task_id = ?", t.ID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("retry task %s: %w", t.ID, err)
	}
	return nil
}

// Len returns the number of stored tasks, claimed or not.
func (q *SQLQueue) Len(ctx context.Context) (int, error) {
	return q.db.NewSelect().Model((*taskRow)(nil)).Count(ctx)
}

// Close stops Dequeue. It does not close the database.
func (q *SQLQueue) Close() error {
	if q.closed.CompareAndSwap(false, true) {
		close(q.done)
	}
	return nil
}
