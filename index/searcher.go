package index

import (
	"context"
	"time"

	"github.com/goliatone/go-record-service/record"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every call made through a Searcher.
const DefaultTimeout = 2 * time.Second

// Observer receives one notification per index operation.
type Observer interface {
	ObserveIndex(op, result string)
}

// Searcher applies the call policy shared by every index caller: a bounded
// timeout on each call, and empty results instead of search errors.
type Searcher struct {
	backend  Backend
	timeout  time.Duration
	logger   zerolog.Logger
	observer Observer
}

// SearcherOption configures a Searcher.
type SearcherOption func(*Searcher)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) SearcherOption {
	return func(s *Searcher) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) SearcherOption {
	return func(s *Searcher) {
		s.logger = l
	}
}

// WithObserver registers a metrics observer.
func WithObserver(o Observer) SearcherOption {
	return func(s *Searcher) {
		s.observer = o
	}
}

// NewSearcher wraps backend.
func NewSearcher(backend Backend, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		backend: backend,
		timeout: DefaultTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the wrapped backend.
func (s *Searcher) Backend() Backend {
	return s.backend
}

// Search never fails: an unreachable or slow index yields an empty slice.
func (s *Searcher) Search(ctx context.Context, q Query) []record.Document {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	docs, err := s.backend.Search(ctx, q.Normalize())
	if err != nil {
		s.logger.Warn().Err(err).Str("query", q.Text).Msg("search failed, returning no results")
		s.observe("search", "error")
		return []record.Document{}
	}
	s.observe("search", "ok")
	if docs == nil {
		docs = []record.Document{}
	}
	return docs
}

// Upsert writes doc, returning the backend error so callers can retry.
func (s *Searcher) Upsert(ctx context.Context, doc record.Document) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.backend.Upsert(ctx, doc)
	s.observe("upsert", result(err))
	return err
}

// Remove deletes the document with id, returning the backend error so
// callers can fall back to the queue.
func (s *Searcher) Remove(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.backend.Remove(ctx, id)
	s.observe("remove", result(err))
	return err
}

// Close closes the backend.
func (s *Searcher) Close() error {
	return s.backend.Close()
}

func (s *Searcher) observe(op, res string) {
	if s.observer != nil {
		s.observer.ObserveIndex(op, res)
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
