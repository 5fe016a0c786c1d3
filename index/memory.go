package index

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/goliatone/go-record-service/record"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	k1 = 1.2
	b  = 0.75

	titleBoost  = 2.0
	fuzzyWeight = 0.5
)

// ErrClosed is returned by a MemoryIndex after Close.
var ErrClosed = errors.New("index: closed")

type fieldIndex struct {
	boost    float64
	inverted map[string]map[string]int // term -> doc id -> term frequency
	lengths  map[string]int
	terms    map[string][]string // doc id -> distinct terms, for removal
	total    int64
}

func newFieldIndex(boost float64) *fieldIndex {
	return &fieldIndex{
		boost:    boost,
		inverted: make(map[string]map[string]int),
		lengths:  make(map[string]int),
		terms:    make(map[string][]string),
	}
}

func (f *fieldIndex) add(id, text string) {
	tokens := tokenize(text)
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}

	distinct := make([]string, 0, len(tf))
	for t, count := range tf {
		postings, ok := f.inverted[t]
		if !ok {
			postings = make(map[string]int)
			f.inverted[t] = postings
		}
		postings[id] = count
		distinct = append(distinct, t)
	}

	f.terms[id] = distinct
	f.lengths[id] = len(tokens)
	f.total += int64(len(tokens))
}

func (f *fieldIndex) remove(id string) {
	for _, t := range f.terms[id] {
		postings := f.inverted[t]
		delete(postings, id)
		if len(postings) == 0 {
			delete(f.inverted, t)
		}
	}
	f.total -= int64(f.lengths[id])
	delete(f.terms, id)
	delete(f.lengths, id)
}

// candidates returns the vocabulary terms matching term within its fuzziness
// together with the weight of each match.
func (f *fieldIndex) candidates(term string) map[string]float64 {
	out := make(map[string]float64)
	if _, ok := f.inverted[term]; ok {
		out[term] = 1
	}

	maxDist := fuzziness(term)
	if maxDist == 0 {
		return out
	}
	for vocab := range f.inverted {
		if vocab == term {
			continue
		}
		if boundedLevenshtein(term, vocab, maxDist) <= maxDist {
			out[vocab] = fuzzyWeight
		}
	}
	return out
}

// score accumulates the BM25 score of a single query term into scores. For
// each document only the best matching candidate counts.
func (f *fieldIndex) score(term string, docCount int, scores map[string]float64) {
	if docCount == 0 {
		return
	}
	avgDL := float64(f.total) / float64(docCount)
	if avgDL == 0 {
		return
	}

	best := make(map[string]float64)
	for cand, weight := range f.candidates(term) {
		postings := f.inverted[cand]
		idf := computeIDF(docCount, len(postings))
		for id, count := range postings {
			tf := float64(count)
			docLen := float64(f.lengths[id])
			s := weight * idf * (tf * (k1 + 1)) / (tf + k1*(1-b+b*(docLen/avgDL)))
			if s > best[id] {
				best[id] = s
			}
		}
	}
	for id, s := range best {
		scores[id] += s
	}
}

func computeIDF(docCount, df int) float64 {
	// IDF = log(1 + (N - n + 0.5) / (n + 0.5))
	n := float64(df)
	return math.Log(1 + (float64(docCount)-n+0.5)/(n+0.5))
}

// MemoryIndex is an in-process BM25 index over the title and description of
// record documents. It is safe for concurrent use.
type MemoryIndex struct {
	mu          sync.RWMutex
	title       *fieldIndex
	description *fieldIndex
	docs        *xsync.MapOf[string, record.Document]
	closed      bool
}

var _ Backend = (*MemoryIndex)(nil)

// NewMemoryIndex creates an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		title:       newFieldIndex(titleBoost),
		description: newFieldIndex(1),
		docs:        xsync.NewMapOf[string, record.Document](),
	}
}

func (m *MemoryIndex) Upsert(ctx context.Context, doc record.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	if _, ok := m.docs.Load(doc.ID); ok {
		m.removeLocked(doc.ID)
	}
	m.title.add(doc.ID, doc.Title)
	m.description.add(doc.ID, doc.Description)
	m.docs.Store(doc.ID, doc)
	return nil
}

func (m *MemoryIndex) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	if _, ok := m.docs.Load(id); ok {
		m.removeLocked(id)
	}
	return nil
}

func (m *MemoryIndex) removeLocked(id string) {
	m.title.remove(id)
	m.description.remove(id)
	m.docs.Delete(id)
}

// Search ranks documents with per-field BM25 and keeps, per document, the
// best boosted field score.
func (m *MemoryIndex) Search(ctx context.Context, q Query) ([]record.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q = q.Normalize()
	terms := tokenize(q.Text)
	if len(terms) == 0 {
		return []record.Document{}, nil
	}

	// Scores and the projected documents must come from the same version.
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	docCount := m.docs.Size()
	combined := make(map[string]float64)
	for _, f := range []*fieldIndex{m.title, m.description} {
		fieldScores := make(map[string]float64)
		for _, t := range terms {
			f.score(t, docCount, fieldScores)
		}
		for id, s := range fieldScores {
			if boosted := s * f.boost; boosted > combined[id] {
				combined[id] = boosted
			}
		}
	}

	type scored struct {
		id    string
		score float64
	}
	ranked := make([]scored, 0, len(combined))
	for id, s := range combined {
		if s > 0 {
			ranked = append(ranked, scored{id: id, score: s})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return lessID(ranked[i].id, ranked[j].id)
	})

	if q.Skip >= len(ranked) {
		return []record.Document{}, nil
	}
	ranked = ranked[q.Skip:]
	if len(ranked) > q.Limit {
		ranked = ranked[:q.Limit]
	}

	out := make([]record.Document, 0, len(ranked))
	for _, r := range ranked {
		if doc, ok := m.docs.Load(r.id); ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Get returns the stored document with id.
func (m *MemoryIndex) Get(id string) (record.Document, bool) {
	return m.docs.Load(id)
}

// Len returns the number of indexed documents.
func (m *MemoryIndex) Len() int {
	return m.docs.Size()
}

// Reset drops every document.
func (m *MemoryIndex) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.title = newFieldIndex(titleBoost)
	m.description = newFieldIndex(1)
	m.docs.Clear()
	return nil
}

func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// lessID orders decimal ids numerically without parsing them.
func lessID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
