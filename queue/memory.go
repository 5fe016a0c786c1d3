package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultCapacity is the buffer size of a MemoryQueue.
const DefaultCapacity = 1024

// MemoryQueue is an in-process queue. Tasks do not survive a restart.
type MemoryQueue struct {
	ch       chan Task
	done     chan struct{}
	inflight *xsync.MapOf[uuid.UUID, Task]
	now      func() time.Time

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
	closed bool
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a queue buffering up to capacity tasks.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryQueue{
		ch:       make(chan Task, capacity),
		done:     make(chan struct{}),
		inflight: xsync.NewMapOf[uuid.UUID, Task](),
		now:      time.Now,
		timers:   make(map[uuid.UUID]*time.Timer),
	}
}

// Enqueue blocks while the buffer is full until ctx is done.
func (q *MemoryQueue) Enqueue(ctx context.Context, t Task) error {
	t, err := prepare(t, q.now().UTC())
	if err != nil {
		return err
	}
	return q.push(ctx, t)
}

func (q *MemoryQueue) push(ctx context.Context, t Task) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.ch <- t:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case t := <-q.ch:
		q.inflight.Store(t.ID, t)
		return t, nil
	case <-q.done:
		return Task{}, ErrClosed
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

func (q *MemoryQueue) Ack(_ context.Context, t Task) error {
	q.inflight.Delete(t.ID)
	return nil
}

// Retry schedules t for redelivery after delay.
func (q *MemoryQueue) Retry(_ context.Context, t Task, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	q.inflight.Delete(t.ID)
	if delay <= 0 {
		delay = time.Millisecond
	}
	q.timers[t.ID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, t.ID)
		q.mu.Unlock()
		_ = q.push(context.Background(), t)
	})
	return nil
}

// Len returns the number of buffered tasks.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// InFlight returns the number of delivered but unacknowledged tasks.
func (q *MemoryQueue) InFlight() int {
	return q.inflight.Size()
}

// Pending returns the number of tasks waiting for a retry delay.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Close stops delivery and cancels pending retries.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
	return nil
}
