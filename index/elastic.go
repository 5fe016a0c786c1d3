package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/goliatone/go-record-service/record"
	"github.com/rs/zerolog"
)

// itemsMapping is the mapping of the records index.
const itemsMapping = `{
  "mappings": {
    "properties": {
      "id":          {"type": "integer"},
      "title":       {"type": "text"},
      "description": {"type": "text"},
      "price_cents": {"type": "integer"},
      "owner_id":    {"type": "integer"},
      "created_at":  {"type": "date"}
    }
  }
}`

// ElasticConfig configures the Elasticsearch backend.
type ElasticConfig struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	// Refresh makes writes visible to search before returning. Useful in tests.
	Refresh bool
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// ResponseError is returned when Elasticsearch answers with an error status.
type ResponseError struct {
	Op     string
	Status int
	Body   string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("elasticsearch %s: status %d: %s", e.Op, e.Status, e.Body)
}

// ElasticIndex stores documents in an Elasticsearch index.
type ElasticIndex struct {
	es      *elasticsearch.Client
	name    string
	refresh bool
	logger  zerolog.Logger
}

var (
	_ Backend  = (*ElasticIndex)(nil)
	_ Resetter = (*ElasticIndex)(nil)
)

// NewElasticIndex builds a client for cfg. No request is sent until the first
// operation; call EnsureIndex to create the index when missing.
func NewElasticIndex(cfg ElasticConfig, logger zerolog.Logger) (*ElasticIndex, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("elasticsearch: at least one address is required")
	}
	name := cfg.Index
	if name == "" {
		name = DefaultName
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}

	return &ElasticIndex{es: es, name: name, refresh: cfg.Refresh, logger: logger}, nil
}

// Name returns the index name.
func (e *ElasticIndex) Name() string {
	return e.name
}

// Ping checks that the cluster answers.
func (e *ElasticIndex) Ping(ctx context.Context) error {
	res, err := e.es.Ping(e.es.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer drain(res)
	if res.IsError() {
		return responseError("ping", res)
	}
	return nil
}

// EnsureIndex creates the index with its mapping unless it already exists.
func (e *ElasticIndex) EnsureIndex(ctx context.Context) error {
	res, err := e.es.Indices.Exists([]string{e.name}, e.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch exists: %w", err)
	}
	drain(res)

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return &ResponseError{Op: "exists", Status: res.StatusCode}
	}

	res, err = e.es.Indices.Create(
		e.name,
		e.es.Indices.Create.WithBody(strings.NewReader(itemsMapping)),
		e.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch create index: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return responseError("create index", res)
	}

	e.logger.Info().Str("index", e.name).Msg("created search index")
	return nil
}

// Reset deletes the index and creates it again.
func (e *ElasticIndex) Reset(ctx context.Context) error {
	res, err := e.es.Indices.Delete(
		[]string{e.name},
		e.es.Indices.Delete.WithContext(ctx),
		e.es.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch delete index: %w", err)
	}
	drain(res)
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return &ResponseError{Op: "delete index", Status: res.StatusCode}
	}
	return e.EnsureIndex(ctx)
}

func (e *ElasticIndex) Upsert(ctx context.Context, doc record.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", doc.ID, err)
	}

	opts := []func(*esapi.IndexRequest){
		e.es.Index.WithDocumentID(doc.ID),
		e.es.Index.WithContext(ctx),
	}
	if e.refresh {
		opts = append(opts, e.es.Index.WithRefresh("true"))
	}

	res, err := e.es.Index(e.name, bytes.NewReader(body), opts...)
	if err != nil {
		return fmt.Errorf("elasticsearch index %s: %w", doc.ID, err)
	}
	defer drain(res)
	if res.IsError() {
		return responseError("index", res)
	}
	return nil
}

func (e *ElasticIndex) Remove(ctx context.Context, id string) error {
	opts := []func(*esapi.DeleteRequest){e.es.Delete.WithContext(ctx)}
	if e.refresh {
		opts = append(opts, e.es.Delete.WithRefresh("true"))
	}

	res, err := e.es.Delete(e.name, id, opts...)
	if err != nil {
		return fmt.Errorf("elasticsearch delete %s: %w", id, err)
	}
	defer drain(res)
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return responseError("delete", res)
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source record.Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (e *ElasticIndex) Search(ctx context.Context, q Query) ([]record.Document, error) {
	q = q.Normalize()
	if strings.TrimSpace(q.Text) == "" {
		return []record.Document{}, nil
	}

	body, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":     q.Text,
				"fields":    []string{"title^2", "description"},
				"fuzziness": "AUTO",
			},
		},
		"from": q.Skip,
		"size": q.Limit,
	})
	if err != nil {
		return nil, err
	}

	res, err := e.es.Search(
		e.es.Search.WithIndex(e.name),
		e.es.Search.WithBody(bytes.NewReader(body)),
		e.es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return nil, responseError("search", res)
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]record.Document, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

// Close is a no-op; the client holds no resources beyond idle connections.
func (e *ElasticIndex) Close() error {
	return nil
}

func responseError(op string, res *esapi.Response) error {
	data, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return &ResponseError{Op: op, Status: res.StatusCode, Body: strings.TrimSpace(string(data))}
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}
