package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goliatone/go-record-service/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyHandler fails the first failures calls per record, then succeeds.
type flakyHandler struct {
	mu       sync.Mutex
	failures int
	calls    map[int64]int
	done     chan int64
}

func newFlakyHandler(failures int) *flakyHandler {
	return &flakyHandler{failures: failures, calls: map[int64]int{}, done: make(chan int64, 16)}
}

func (h *flakyHandler) Handle(_ context.Context, t Task) error {
	h.mu.Lock()
	h.calls[t.RecordID]++
	n := h.calls[t.RecordID]
	h.mu.Unlock()

	if n <= h.failures {
		if n == t.MaxAttempts {
			h.done <- t.RecordID
		}
		return errors.New("index unreachable")
	}
	h.done <- t.RecordID
	return nil
}

func (h *flakyHandler) Calls(id int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[id]
}

type taskCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *taskCounter) ObserveTask(op, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[op+"/"+result]++
}

func (c *taskCounter) Count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func runPool(t *testing.T, p *Pool) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("pool did not stop")
		}
	}
}

func waitFor(t *testing.T, ch <-chan int64) int64 {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task")
		return 0
	}
}

func TestPool_RetriesUntilSuccess(t *testing.T) {
	q := NewMemoryQueue(16)
	t.Cleanup(func() { _ = q.Close() })
	h := newFlakyHandler(2)
	obs := &taskCounter{}

	stop := runPool(t, NewPool(q, h, WithWorkers(2), WithBackOff(fastBackOff), WithPoolObserver(obs)))
	defer stop()

	require.NoError(t, q.Enqueue(context.Background(), upsertTask(1, "Lamp")))
	assert.Equal(t, int64(1), waitFor(t, h.done))

	assert.Equal(t, 3, h.Calls(1))
	assert.Eventually(t, func() bool { return obs.Count("upsert/ok") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, obs.Count("upsert/retried"))
	assert.Eventually(t, func() bool { return q.InFlight() == 0 }, time.Second, 5*time.Millisecond)
}

func TestPool_DropsAfterMaxAttempts(t *testing.T) {
	q := NewMemoryQueue(16)
	t.Cleanup(func() { _ = q.Close() })
	h := newFlakyHandler(100)
	obs := &taskCounter{}

	stop := runPool(t, NewPool(q, h, WithMaxAttempts(3), WithBackOff(fastBackOff), WithPoolObserver(obs)))
	defer stop()

	require.NoError(t, q.Enqueue(context.Background(), Task{Op: OpRemove, RecordID: 5, MaxAttempts: 3}))
	waitFor(t, h.done)

	assert.Eventually(t, func() bool { return obs.Count("remove/dropped") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, h.Calls(5))
	assert.Equal(t, 2, obs.Count("remove/retried"))
	assert.Equal(t, 0, q.Pending())
}

func TestPool_StopsWhenQueueCloses(t *testing.T) {
	q := NewMemoryQueue(4)
	p := NewPool(q, newFlakyHandler(0))

	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(context.Background()) }()

	require.NoError(t, q.Close())
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after queue close")
	}
}

func TestPool_Delay(t *testing.T) {
	p := NewPool(NewMemoryQueue(1), newFlakyHandler(0))
	assert.Equal(t, DefaultRetryDelay, p.delay(1))
	assert.Equal(t, DefaultRetryDelay, p.delay(3))

	p = NewPool(NewMemoryQueue(1), newFlakyHandler(0), WithBackOff(func() backoff.BackOff {
		return &backoff.StopBackOff{}
	}))
	assert.Equal(t, DefaultRetryDelay, p.delay(1))
}

func TestLane(t *testing.T) {
	assert.Equal(t, 0, Lane(42, 1))
	for id := int64(1); id < 100; id++ {
		l := Lane(id, 8)
		assert.True(t, l >= 0 && l < 8)
		assert.Equal(t, l, Lane(id, 8), "lane must be stable")
	}
}

type recordingIndexer struct {
	upserts []record.Document
	removes []string
}

func (r *recordingIndexer) Upsert(_ context.Context, doc record.Document) error {
	r.upserts = append(r.upserts, doc)
	return nil
}

func (r *recordingIndexer) Remove(_ context.Context, id string) error {
	r.removes = append(r.removes, id)
	return nil
}

func TestIndexHandler(t *testing.T) {
	ctx := context.Background()
	idx := &recordingIndexer{}
	h := IndexHandler(idx)

	require.NoError(t, h.Handle(ctx, upsertTask(3, "Lamp")))
	require.NoError(t, h.Handle(ctx, NewRemoveTask(4)))
	assert.ErrorIs(t, h.Handle(ctx, Task{Op: "noop", RecordID: 1}), ErrInvalidTask)

	require.Len(t, idx.upserts, 1)
	assert.Equal(t, "3", idx.upserts[0].ID)
	assert.Equal(t, []string{"4"}, idx.removes)
}

type mapSource struct {
	records map[int64]*record.Record
	err     error
}

func (m *mapSource) GetByID(_ context.Context, id int64) (*record.Record, error) {
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, record.ErrNotFound
	}
	return rec, nil
}

func TestIndexHandler_WithSource(t *testing.T) {
	ctx := context.Background()

	t.Run("indexes the stored version", func(t *testing.T) {
		idx := &recordingIndexer{}
		src := &mapSource{records: map[int64]*record.Record{3: {ID: 3, Title: "Lantern", OwnerID: 1}}}
		h := IndexHandler(idx, WithSource(src))

		require.NoError(t, h.Handle(ctx, upsertTask(3, "Lamp")))
		require.Len(t, idx.upserts, 1)
		assert.Equal(t, "Lantern", idx.upserts[0].Title)
		assert.Empty(t, idx.removes)
	})

	t.Run("removes documents of deleted records", func(t *testing.T) {
		idx := &recordingIndexer{}
		h := IndexHandler(idx, WithSource(&mapSource{}))

		require.NoError(t, h.Handle(ctx, upsertTask(3, "Lamp")))
		assert.Empty(t, idx.upserts)
		assert.Equal(t, []string{"3"}, idx.removes)
	})

	t.Run("store errors are retried", func(t *testing.T) {
		idx := &recordingIndexer{}
		h := IndexHandler(idx, WithSource(&mapSource{err: errors.New("database is locked")}))

		require.Error(t, h.Handle(ctx, upsertTask(3, "Lamp")))
		assert.Empty(t, idx.upserts)
		assert.Empty(t, idx.removes)
	})
}
