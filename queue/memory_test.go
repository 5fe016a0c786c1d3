package queue

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-record-service/record"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upsertTask(id int64, title string) Task {
	rec := &record.Record{ID: id, Title: title, OwnerID: 1}
	return NewUpsertTask(rec)
}

func TestMemoryQueue_EnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(8)
	t.Cleanup(func() { _ = q.Close() })

	in := upsertTask(1, "Lamp")
	require.NoError(t, q.Enqueue(ctx, in))
	assert.Equal(t, 1, q.Len())

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, in.ID, got.ID)
	assert.Equal(t, DefaultMaxAttempts, got.MaxAttempts)
	assert.False(t, got.EnqueuedAt.IsZero())
	assert.Equal(t, "1", got.Document.ID)
	assert.Equal(t, 1, q.InFlight())

	require.NoError(t, q.Ack(ctx, got))
	assert.Equal(t, 0, q.InFlight())
}

func TestMemoryQueue_RetryRedeliversAfterDelay(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(8)
	t.Cleanup(func() { _ = q.Close() })

	require.NoError(t, q.Enqueue(ctx, upsertTask(1, "Lamp")))
	got, err := q.Dequeue(ctx)
	require.NoError(t, err)

	got.Attempt++
	require.NoError(t, q.Retry(ctx, got, 20*time.Millisecond))
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 1, q.Pending())

	dctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	again, err := q.Dequeue(dctx)
	require.NoError(t, err)
	assert.Equal(t, got.ID, again.ID)
	assert.Equal(t, 1, again.Attempt)
}

func TestMemoryQueue_DequeueHonoursContext(t *testing.T) {
	q := NewMemoryQueue(1)
	t.Cleanup(func() { _ = q.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueue_EnqueueFullBufferHonoursContext(t *testing.T) {
	q := NewMemoryQueue(1)
	t.Cleanup(func() { _ = q.Close() })

	require.NoError(t, q.Enqueue(context.Background(), upsertTask(1, "a")))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, upsertTask(2, "b")), context.DeadlineExceeded)
}

func TestMemoryQueue_Close(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(4)

	require.NoError(t, q.Enqueue(ctx, upsertTask(1, "a")))
	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Retry(ctx, got, time.Hour))

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.Equal(t, 0, q.Pending())

	assert.ErrorIs(t, q.Enqueue(ctx, upsertTask(2, "b")), ErrClosed)
	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, q.Retry(ctx, got, 0), ErrClosed)
}

func TestMemoryQueue_RejectsInvalidTasks(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(4)
	t.Cleanup(func() { _ = q.Close() })

	assert.ErrorIs(t, q.Enqueue(ctx, Task{Op: "reindex", RecordID: 1}), ErrInvalidTask)
	assert.ErrorIs(t, q.Enqueue(ctx, Task{Op: OpUpsert}), ErrInvalidTask)
}

func TestNewRemoveTask(t *testing.T) {
	task := NewRemoveTask(9)
	assert.Equal(t, OpRemove, task.Op)
	assert.Equal(t, int64(9), task.RecordID)
	assert.Equal(t, "9", task.Document.ID)
	assert.NotEqual(t, uuid.Nil, task.ID)
}

func TestTask_Exhausted(t *testing.T) {
	task := Task{Attempt: 3, MaxAttempts: 4}
	assert.False(t, task.Exhausted())
	task.Attempt++
	assert.True(t, task.Exhausted())
}
