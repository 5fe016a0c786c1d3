// Package api exposes the record service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-record-service/index"
	"github.com/goliatone/go-record-service/record"
	"github.com/rs/zerolog"
)

// RecordService is the orchestrator surface the handlers call.
type RecordService interface {
	Create(ctx context.Context, in record.NewRecord) (record.View, error)
	Get(ctx context.Context, id int64) (record.View, error)
	List(ctx context.Context, skip, limit int) ([]record.View, error)
	Update(ctx context.Context, id int64, patch record.Patch) (record.View, error)
	Delete(ctx context.Context, id int64) error
	Search(ctx context.Context, q index.Query) []record.Document
}

// OwnerService registers and looks up record owners.
type OwnerService interface {
	CreateOwner(ctx context.Context, owner *record.Owner) (*record.Owner, error)
	GetOwner(ctx context.Context, id int64) (*record.Owner, error)
}

// CheckFunc reports whether a dependency can serve traffic.
type CheckFunc func(ctx context.Context) error

// ServerOption configures the API server
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares  []func(http.Handler) http.Handler
	owners       OwnerService
	checks       map[string]CheckFunc
	metrics      http.Handler
	pageSize     int
	maxPageSize  int
	checkTimeout time.Duration
	name         string
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithOwners mounts the owner routes.
func WithOwners(owners OwnerService) ServerOption {
	return func(cfg *serverConfig) {
		cfg.owners = owners
	}
}

// WithReadinessCheck adds a named dependency check to /health/ready.
func WithReadinessCheck(name string, check CheckFunc) ServerOption {
	return func(cfg *serverConfig) {
		if check != nil {
			cfg.checks[name] = check
		}
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metrics = h
	}
}

// WithPageSizes sets the default and maximum list limit. Larger values are rejected.
func WithPageSizes(def, max int) ServerOption {
	return func(cfg *serverConfig) {
		if def > 0 {
			cfg.pageSize = def
		}
		if max > 0 {
			cfg.maxPageSize = max
		}
	}
}

// WithAppName sets the name reported by /health.
func WithAppName(name string) ServerOption {
	return func(cfg *serverConfig) {
		cfg.name = name
	}
}

// NewServer creates the HTTP router for svc.
func NewServer(svc RecordService, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{
		checks:       map[string]CheckFunc{},
		pageSize:     index.DefaultLimit,
		maxPageSize:  index.MaxLimit,
		checkTimeout: 2 * time.Second,
		name:         "recordsvc",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	h := &handlers{svc: svc, owners: cfg.owners, pageSize: cfg.pageSize, maxPageSize: cfg.maxPageSize}

	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler(cfg.name))
		r.Get("/ready", readyHandler(cfg.checks, cfg.checkTimeout))
	})
	if cfg.metrics != nil {
		r.Handle("/metrics", cfg.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.listItems)
			r.Post("/", h.createItem)
			r.Get("/{id}", h.getItem)
			r.Put("/{id}", h.updateItem)
			r.Delete("/{id}", h.deleteItem)
		})
		r.Get("/search/items", h.searchItems)
		if cfg.owners != nil {
			r.Post("/owners", h.createOwner)
			r.Get("/owners/{id}", h.getOwner)
		}
	})

	return r
}

// LoggingMiddleware logs every request at debug level, and server errors at error level.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			ev := logger.Debug()
			if ww.Status() >= http.StatusInternalServerError {
				ev = logger.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
