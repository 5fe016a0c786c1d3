// Package index holds the eventually consistent full-text mirror of records.
//
// Two backends implement Backend: MemoryIndex, an in-process BM25 index with
// fuzzy term expansion, and ElasticIndex, backed by Elasticsearch. Both rank
// title matches twice as high as description matches and tolerate typos with
// an edit distance that grows with the term length (0 for one or two
// characters, 1 up to five, 2 beyond).
//
// Upsert is keyed by document id and Remove of an absent id succeeds, so
// replaying a task is always safe. Searcher wraps a backend with a timeout
// and turns search failures into empty results.
package index
