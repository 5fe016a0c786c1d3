package index

import (
	"context"

	"github.com/goliatone/go-record-service/record"
)

const (
	// DefaultLimit is the page size used when a query does not set one.
	DefaultLimit = 20
	// MaxLimit caps the page size of a query.
	MaxLimit = 100
	// DefaultName is the name of the index holding record documents.
	DefaultName = "items"
)

// Backend is a full-text index of record documents.
type Backend interface {
	// Upsert writes doc under doc.ID, replacing any previous version.
	Upsert(ctx context.Context, doc record.Document) error
	// Remove deletes the document with id. Removing an absent id succeeds.
	Remove(ctx context.Context, id string) error
	// Search returns documents ranked by relevance to q.Text.
	Search(ctx context.Context, q Query) ([]record.Document, error)
	Close() error
}

// Resetter is implemented by backends that can drop and recreate their
// storage, used by a full reindex.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Query is a paged full-text query.
type Query struct {
	Text  string
	Skip  int
	Limit int
}

// Normalize clamps paging values into range.
func (q Query) Normalize() Query {
	if q.Skip < 0 {
		q.Skip = 0
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return q
}

// fuzziness mirrors the AUTO edit distance: exact for one or two runes,
// one edit up to five, two beyond.
func fuzziness(term string) int {
	n := len([]rune(term))
	switch {
	case n <= 2:
		return 0
	case n <= 5:
		return 1
	default:
		return 2
	}
}
