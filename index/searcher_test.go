package index

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-record-service/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingBackend errors on every call, or stalls until the deadline.
type failingBackend struct {
	err   error
	stall bool
}

func (f *failingBackend) wait(ctx context.Context) error {
	if f.stall {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *failingBackend) Upsert(ctx context.Context, _ record.Document) error { return f.wait(ctx) }
func (f *failingBackend) Remove(ctx context.Context, _ string) error          { return f.wait(ctx) }
func (f *failingBackend) Search(ctx context.Context, _ Query) ([]record.Document, error) {
	return nil, f.wait(ctx)
}
func (f *failingBackend) Close() error { return nil }

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingObserver) ObserveIndex(op, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[op+"/"+result]++
}

func TestSearcher_SearchFailureYieldsEmpty(t *testing.T) {
	obs := &countingObserver{}
	s := NewSearcher(&failingBackend{err: errors.New("connection refused")}, WithObserver(obs))

	got := s.Search(context.Background(), Query{Text: "lamp"})
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, 1, obs.counts["search/error"])
}

func TestSearcher_TimeoutBoundsCalls(t *testing.T) {
	s := NewSearcher(&failingBackend{stall: true}, WithTimeout(20*time.Millisecond))

	start := time.Now()
	assert.Empty(t, s.Search(context.Background(), Query{Text: "lamp"}))
	assert.ErrorIs(t, s.Remove(context.Background(), "1"), context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSearcher_WritesPassErrorsThrough(t *testing.T) {
	boom := errors.New("boom")
	s := NewSearcher(&failingBackend{err: boom})

	assert.ErrorIs(t, s.Upsert(context.Background(), record.Document{ID: "1"}), boom)
	assert.ErrorIs(t, s.Remove(context.Background(), "1"), boom)
}

func TestSearcher_MemoryBackend(t *testing.T) {
	ctx := context.Background()
	s := NewSearcher(NewMemoryIndex())

	require.NoError(t, s.Upsert(ctx, record.Document{ID: "1", Title: "Desk lamp"}))
	got := s.Search(ctx, Query{Text: "lamp"})
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)
}
