package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := New()

	r.ObserveCache("get", "hit")
	r.ObserveCache("get", "hit")
	r.ObserveIndex("search", "error")
	r.ObserveTask("upsert", "dropped")
	r.ObserveEnqueue("remove", "ok")
	r.ObserveIndexRemoval("error")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheOps.WithLabelValues("get", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.indexOps.WithLabelValues("search", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.tasks.WithLabelValues("upsert", "dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.enqueues.WithLabelValues("remove", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.removals.WithLabelValues("error")))
}

func TestRecorder_NilIsSafe(t *testing.T) {
	var r *Recorder
	r.ObserveCache("get", "hit")
	r.ObserveTask("upsert", "ok")
	assert.Nil(t, r.Registry())

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
	rec := httptest.NewRecorder()
	r.Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecorder_MiddlewareAndHandler(t *testing.T) {
	r := New()

	router := chi.NewRouter()
	router.Use(r.Middleware)
	router.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	router.Handle("/metrics", r.Handler())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1, testutil.CollectAndCount(r.httpDuration))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `recordsvc_http_request_duration_seconds_count{method="GET",route="/items/{id}",status="404"} 1`)
}
