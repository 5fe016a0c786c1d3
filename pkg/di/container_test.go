package di

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-record-service/cache"
	"github.com/goliatone/go-record-service/index"
	"github.com/goliatone/go-record-service/internal/config"
	"github.com/goliatone/go-record-service/pkg/testsupport"
	"github.com/goliatone/go-record-service/queue"
)

// newTestContainer builds a container on an isolated sqlite database.
func newTestContainer(t testing.TB, mutate func(*config.Config), opts ...Option) *Container {
	t.Helper()

	cfg := config.Default()
	cfg.Queue.RetryDelay = 10 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	db := testsupport.NewSQLiteDB(t)
	container, err := NewContainer(context.Background(), cfg, append([]Option{WithDB(db)}, opts...)...)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	t.Cleanup(func() { _ = container.Close() })

	if err := container.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return container
}

func TestNewContainer(t *testing.T) {
	container := newTestContainer(t, nil)

	if container.Store() == nil {
		t.Error("Container should have a non-nil store")
	}
	if container.Cache() == nil || !container.Cache().Enabled() {
		t.Error("Container should have an enabled record cache")
	}
	if container.Searcher() == nil {
		t.Error("Container should have a non-nil searcher")
	}
	if _, ok := container.Searcher().Backend().(*index.MemoryIndex); !ok {
		t.Errorf("Expected memory index backend, got %T", container.Searcher().Backend())
	}
	if _, ok := container.Queue().(*queue.MemoryQueue); !ok {
		t.Errorf("Expected memory queue, got %T", container.Queue())
	}
	if container.Service() == nil || container.Reconciler() == nil {
		t.Error("Container should build the orchestrator and reconciler")
	}

	if container.Config().Cache.TTL != cache.DefaultTTL {
		t.Errorf("Expected TTL %v, got %v", cache.DefaultTTL, container.Config().Cache.TTL)
	}
}

func TestNewContainer_CacheDisabled(t *testing.T) {
	container := newTestContainer(t, func(c *config.Config) {
		c.Cache.Driver = cache.DriverNone
	})

	if container.Cache().Enabled() {
		t.Error("Expected the none driver to disable the cache")
	}
}

func TestNewContainer_SQLQueue(t *testing.T) {
	container := newTestContainer(t, func(c *config.Config) {
		c.Queue.Driver = config.QueueSQL
		c.Queue.PollInterval = 5 * time.Millisecond
	})

	q, ok := container.Queue().(*queue.SQLQueue)
	if !ok {
		t.Fatalf("Expected sql queue, got %T", container.Queue())
	}
	n, err := q.Len(context.Background())
	if err != nil {
		t.Fatalf("Len() on fresh schema failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected empty queue, got %d", n)
	}
}

func TestNewContainer_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown cache driver", func(c *config.Config) { c.Cache.Driver = "memcached" }},
		{"unknown queue driver", func(c *config.Config) { c.Queue.Driver = "kafka" }},
		{"zero workers", func(c *config.Config) { c.Queue.Workers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)

			container, err := NewContainer(context.Background(), cfg, WithDB(testsupport.NewSQLiteDB(t)))
			if err == nil {
				_ = container.Close()
				t.Fatal("Expected NewContainer() to fail")
			}
		})
	}
}

func TestNewContainer_DatabaseUnreachable(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "postgres"
	cfg.Database.DSN = "postgres://nobody@127.0.0.1:1/records?sslmode=disable&connect_timeout=1"
	cfg.Database.PingAttempts = 1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := NewContainer(ctx, cfg); err == nil {
		t.Fatal("Expected NewContainer() to fail without a database")
	}
}

func TestRetryPolicy(t *testing.T) {
	constant := retryPolicy(config.Queue{Backoff: config.BackoffConstant, RetryDelay: time.Second})()
	for i := 0; i < 3; i++ {
		if d := constant.NextBackOff(); d != time.Second {
			t.Errorf("constant policy step %d: expected 1s, got %v", i, d)
		}
	}

	exp := retryPolicy(config.Queue{
		Backoff:       config.BackoffExponential,
		RetryDelay:    100 * time.Millisecond,
		MaxRetryDelay: 400 * time.Millisecond,
	})()
	var last time.Duration
	for i := 0; i < 10; i++ {
		last = exp.NextBackOff()
		if last <= 0 {
			t.Fatalf("exponential policy step %d returned %v", i, last)
		}
	}
	// randomization allows up to 50% above the cap
	if last > 600*time.Millisecond {
		t.Errorf("Expected delay bounded by max_retry_delay, got %v", last)
	}
}

func TestClose_Idempotent(t *testing.T) {
	container := newTestContainer(t, nil)

	if err := container.Close(); err != nil {
		t.Fatalf("first Close() failed: %v", err)
	}
	if err := container.Close(); err != nil {
		t.Fatalf("second Close() failed: %v", err)
	}
}
