package cache

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

// mockBackend tracks calls and lets tests inject failures or stalls.
type mockBackend struct {
	mu        sync.Mutex
	data      map[string][]byte
	ttls      map[string]time.Duration
	err       error
	block     bool
	getCalls  int
	setCalls  int
	delCalls  int
	deletions []string
}

func newMockBackend() *mockBackend {
	return &mockBackend{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mockBackend) SetCacheError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockBackend) SetCacheValue(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

func (m *mockBackend) wait(ctx context.Context) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return m.err
}

func (m *mockBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	m.getCalls++
	m.mu.Unlock()
	if err := m.wait(ctx); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mockBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	m.setCalls++
	m.mu.Unlock()
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mockBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	m.delCalls++
	m.mu.Unlock()
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	m.deletions = append(m.deletions, key)
	return nil
}

func (m *mockBackend) Close() error { return nil }

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) ObserveCache(op, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, op+"/"+result)
}

func sampleView() record.View {
	desc := "A thing"
	email := "a@example.com"
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return record.View{
		ID:          42,
		Title:       "Widget",
		Description: &desc,
		PriceCents:  1999,
		OwnerID:     7,
		OwnerEmail:  &email,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
}

func TestRecordCache_MissThenHit(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	obs := &recordingObserver{}
	rc := NewRecordCache(backend, WithObserver(obs), WithTTL(time.Minute))

	_, outcome := rc.Get(ctx, 42)
	assert.Equal(t, Miss, outcome)

	view := sampleView()
	require.True(t, rc.Set(ctx, view))
	assert.Equal(t, time.Minute, backend.ttls["record:42"])

	got, outcome := rc.Get(ctx, 42)
	require.Equal(t, Hit, outcome)
	assert.Equal(t, view.Title, got.Title)
	assert.Equal(t, *view.Description, *got.Description)
	assert.Equal(t, *view.OwnerEmail, *got.OwnerEmail)
	assert.True(t, view.CreatedAt.Equal(got.CreatedAt))

	assert.Equal(t, []string{"get/miss", "set/ok", "get/hit"}, obs.events)
}

func TestRecordCache_DegradedOnBackendError(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	backend.SetCacheError(errors.New("connection refused"))
	rc := NewRecordCache(backend)

	_, outcome := rc.Get(ctx, 1)
	assert.Equal(t, Degraded, outcome)
	assert.False(t, rc.Set(ctx, sampleView()))
	assert.False(t, rc.Invalidate(ctx, 1))
}

func TestRecordCache_TimeoutBoundsCalls(t *testing.T) {
	backend := newMockBackend()
	backend.block = true
	rc := NewRecordCache(backend, WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, outcome := rc.Get(context.Background(), 1)
	elapsed := time.Since(start)

	assert.Equal(t, Degraded, outcome)
	assert.Less(t, elapsed, time.Second)
}

func TestRecordCache_UndecodableEntryIsDeleted(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	backend.SetCacheValue("record:5", []byte{0xc1, 0xff, 0x00})
	rc := NewRecordCache(backend)

	_, outcome := rc.Get(ctx, 5)
	assert.Equal(t, Miss, outcome)
	assert.Equal(t, []string{"record:5"}, backend.deletions)
}

func TestRecordCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	rc := NewRecordCache(backend)

	require.True(t, rc.Set(ctx, sampleView()))
	require.True(t, rc.Invalidate(ctx, 42))

	_, outcome := rc.Get(ctx, 42)
	assert.Equal(t, Miss, outcome)
	assert.True(t, rc.Invalidate(ctx, 42), "invalidating an absent key succeeds")
}

func TestRecordCache_Disabled(t *testing.T) {
	ctx := context.Background()
	rc := NewRecordCache(nil)

	assert.False(t, rc.Enabled())
	_, outcome := rc.Get(ctx, 1)
	assert.Equal(t, Miss, outcome)
	assert.False(t, rc.Set(ctx, sampleView()))
	assert.True(t, rc.Invalidate(ctx, 1))
	assert.NoError(t, rc.Close())
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "hit", Hit.String())
	assert.Equal(t, "miss", Miss.String())
	assert.Equal(t, "degraded", Degraded.String())
}

func TestWithoutCache(t *testing.T) {
	ctx := context.Background()
	assert.False(t, Bypassed(ctx))
	assert.True(t, Bypassed(WithoutCache(ctx)))
}
