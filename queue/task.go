package queue

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-record-service/record"
	"github.com/google/uuid"
)

// Op is the index operation a task performs.
type Op string

const (
	OpUpsert Op = "upsert"
	OpRemove Op = "remove"
)

// DefaultMaxAttempts is the number of times a task is tried before it is dropped.
const DefaultMaxAttempts = 4

var (
	// ErrClosed is returned by queue operations after Close.
	ErrClosed = errors.New("queue: closed")
	// ErrInvalidTask is returned when a task fails validation on enqueue.
	ErrInvalidTask = errors.New("queue: invalid task")
)

// Task is one unit of index maintenance.
type Task struct {
	ID          uuid.UUID       `json:"id" msgpack:"id"`
	Op          Op              `json:"op" msgpack:"op"`
	RecordID    int64           `json:"record_id" msgpack:"record_id"`
	Document    record.Document `json:"document" msgpack:"document"`
	Attempt     int             `json:"attempt" msgpack:"attempt"`
	MaxAttempts int             `json:"max_attempts" msgpack:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at" msgpack:"enqueued_at"`
}

// NewUpsertTask builds a task that writes the document of rec.
func NewUpsertTask(rec *record.Record) Task {
	return Task{
		ID:       uuid.New(),
		Op:       OpUpsert,
		RecordID: rec.ID,
		Document: rec.ToDocument(),
	}
}

// NewRemoveTask builds a task that removes the document of record id.
func NewRemoveTask(id int64) Task {
	return Task{
		ID:       uuid.New(),
		Op:       OpRemove,
		RecordID: id,
		Document: record.Document{ID: record.DocumentID(id)},
	}
}

// Exhausted reports whether no attempts remain.
func (t Task) Exhausted() bool {
	return t.Attempt >= t.MaxAttempts
}

func (t Task) validate() error {
	switch t.Op {
	case OpUpsert, OpRemove:
	default:
		return ErrInvalidTask
	}
	if t.RecordID <= 0 {
		return ErrInvalidTask
	}
	return nil
}

// prepare fills defaults for a task about to be enqueued.
func prepare(t Task, now time.Time) (Task, error) {
	if err := t.validate(); err != nil {
		return t, err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = DefaultMaxAttempts
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = now
	}
	return t, nil
}

// Queue is a task queue with explicit acknowledgement.
type Queue interface {
	// Enqueue adds t. The caller owns any timeout through ctx.
	Enqueue(ctx context.Context, t Task) error
	// Dequeue blocks until a task is available, ctx is done or the queue closes.
	Dequeue(ctx context.Context) (Task, error)
	// Ack removes a delivered task for good.
	Ack(ctx context.Context, t Task) error
	// Retry makes t, with its attempt counter already advanced, deliverable again after delay.
	Retry(ctx context.Context, t Task, delay time.Duration) error
	Close() error
}
