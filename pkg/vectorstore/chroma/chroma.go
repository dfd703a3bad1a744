// Package chroma provides a vector store adapter for a self-hosted
// Chroma server via its v2 REST API.
//
// Chroma applies metadata filters natively during the scan. Paging for
// Scroll uses Chroma's offset/limit over its stable internal id order;
// the cursor is the numeric offset.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loomsearch/loom/pkg/vectorstore"
)

const apiBase = "/api/v2/tenants/default_tenant/databases/default_database"

// Store implements vectorstore.Adapter against Chroma's REST API.
type Store struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu  sync.RWMutex
	ids map[string]string // collection name -> chroma collection id
}

// Config holds configuration for the Chroma adapter.
type Config struct {
	// URL is the Chroma server URL (e.g. "http://localhost:8000").
	URL string

	// Timeout bounds each HTTP call. Defaults to 60s.
	Timeout time.Duration
}

// New connects to Chroma and verifies the server responds.
func New(c Config, logger *zap.Logger) (*Store, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("%w: chroma URL is required", vectorstore.ErrInvalidConfig)
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	s := &Store{
		baseURL:    c.URL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		ids:        make(map[string]string),
	}

	if err := s.ping(context.Background()); err != nil {
		return nil, fmt.Errorf("%w: %v", vectorstore.ErrConnection, err)
	}

	logger.Info("connected to chroma", zap.String("url", c.URL))
	return s, nil
}

func (s *Store) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/v2/heartbeat", nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat returned %d", resp.StatusCode)
	}
	return nil
}

type chromaCollection struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Store) doJSON(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", vectorstore.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("chroma %s %s returned %d: %s", method, path, resp.StatusCode, raw)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (s *Store) lookup(ctx context.Context, name string) (chromaCollection, error) {
	var col chromaCollection
	status, err := s.doJSON(ctx, http.MethodGet, apiBase+"/collections/"+name, nil, &col)
	if err != nil {
		if status == http.StatusNotFound {
			return col, fmt.Errorf("%w: %q", vectorstore.ErrCollectionNotFound, name)
		}
		return col, err
	}

	s.mu.Lock()
	s.ids[name] = col.ID
	s.mu.Unlock()

	return col, nil
}

func (s *Store) collectionID(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	id, ok := s.ids[name]
	s.mu.RUnlock()
	if ok {
		return id, nil
	}

	col, err := s.lookup(ctx, name)
	if err != nil {
		return "", err
	}
	return col.ID, nil
}

// CreateCollection creates the Chroma collection, recording dimension
// and metric in collection metadata.
func (s *Store) CreateCollection(ctx context.Context, c vectorstore.Collection) error {
	if c.Name == "" || c.Dimension <= 0 {
		return fmt.Errorf("%w: collection needs a name and a positive dimension", vectorstore.ErrInvalidConfig)
	}
	if c.Metric == "" {
		c.Metric = vectorstore.Cosine
	}

	existing, err := s.lookup(ctx, c.Name)
	if err == nil {
		dim, metric := configFromMetadata(existing.Metadata)
		if dim != c.Dimension || metric != c.Metric {
			return fmt.Errorf("%w: %q", vectorstore.ErrAlreadyExists, c.Name)
		}
		return nil
	}

	space := "cosine"
	switch c.Metric {
	case vectorstore.L2:
		space = "l2"
	case vectorstore.Dot:
		space = "ip"
	}

	body := map[string]any{
		"name": c.Name,
		"metadata": map[string]any{
			"hnsw:space":     space,
			"loom:dimension": c.Dimension,
			"loom:metric":    string(c.Metric),
		},
	}

	var created chromaCollection
	if _, err := s.doJSON(ctx, http.MethodPost, apiBase+"/collections", body, &created); err != nil {
		return fmt.Errorf("creating collection %q: %w", c.Name, err)
	}

	s.mu.Lock()
	s.ids[c.Name] = created.ID
	s.mu.Unlock()

	s.logger.Debug("created collection",
		zap.String("collection", c.Name),
		zap.Int("dimension", c.Dimension),
		zap.String("metric", string(c.Metric)),
	)

	return nil
}

func configFromMetadata(md map[string]any) (int, vectorstore.Metric) {
	dim := 0
	if v, ok := md["loom:dimension"].(float64); ok {
		dim = int(v)
	}
	metric := vectorstore.Cosine
	if v, ok := md["loom:metric"].(string); ok {
		metric = vectorstore.Metric(v)
	}
	return dim, metric
}

// DropCollection removes the Chroma collection.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	if _, err := s.lookup(ctx, name); err != nil {
		return err
	}
	if _, err := s.doJSON(ctx, http.MethodDelete, apiBase+"/collections/"+name, nil, nil); err != nil {
		return fmt.Errorf("dropping collection %q: %w", name, err)
	}

	s.mu.Lock()
	delete(s.ids, name)
	s.mu.Unlock()
	return nil
}

// DescribeCollection reads the config recorded at create time.
func (s *Store) DescribeCollection(ctx context.Context, name string) (vectorstore.Collection, error) {
	col, err := s.lookup(ctx, name)
	if err != nil {
		return vectorstore.Collection{}, err
	}
	dim, metric := configFromMetadata(col.Metadata)
	return vectorstore.Collection{
		Name:      name,
		Dimension: dim,
		Metric:    metric,
		Index:     vectorstore.IndexConfig{Kind: vectorstore.IndexHNSW},
	}, nil
}

// Upsert writes records via the upsert endpoint. Chroma stores the
// text document separately from metadata, so the text payload field is
// split out and rejoined on read.
func (s *Store) Upsert(ctx context.Context, name string, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}

	col, err := s.DescribeCollection(ctx, name)
	if err != nil {
		return err
	}
	id, err := s.collectionID(ctx, name)
	if err != nil {
		return err
	}

	ids := make([]string, len(records))
	embeddings := make([][]float32, len(records))
	metadatas := make([]map[string]any, len(records))
	documents := make([]string, len(records))

	for i, r := range records {
		if len(r.Vector) != col.Dimension {
			return fmt.Errorf("%w: record %q has %d dims, collection %q has %d",
				vectorstore.ErrDimensionMismatch, r.ID, len(r.Vector), name, col.Dimension)
		}

		vec := r.Vector
		if col.Metric == vectorstore.Cosine {
			vec = vectorstore.Normalize(vec)
		}

		md := make(map[string]any, len(r.Payload))
		for k, v := range r.Payload {
			if k == vectorstore.PayloadText {
				documents[i], _ = v.(string)
				continue
			}
			md[k] = v
		}

		ids[i] = r.ID
		embeddings[i] = vec
		metadatas[i] = md
	}

	body := map[string]any{
		"ids":        ids,
		"embeddings": embeddings,
		"metadatas":  metadatas,
		"documents":  documents,
	}
	if _, err := s.doJSON(ctx, http.MethodPost, apiBase+"/collections/"+id+"/upsert", body, nil); err != nil {
		return fmt.Errorf("upserting %d records: %w", len(records), err)
	}

	s.logger.Debug("upserted records",
		zap.String("collection", name),
		zap.Int("count", len(records)),
	)

	return nil
}

// buildWhere renders the filter as a Chroma where clause.
func buildWhere(filter *vectorstore.Filter) map[string]any {
	if filter == nil || len(filter.Conditions) == 0 {
		return nil
	}

	var clauses []map[string]any
	for _, c := range filter.Conditions {
		switch c.Op {
		case vectorstore.OpEq:
			clauses = append(clauses, map[string]any{c.Field: map[string]any{"$eq": c.Value}})
		case vectorstore.OpRange:
			if c.Min != nil {
				clauses = append(clauses, map[string]any{c.Field: map[string]any{"$gte": c.Min}})
			}
			if c.Max != nil {
				clauses = append(clauses, map[string]any{c.Field: map[string]any{"$lte": c.Max}})
			}
		}
	}

	if len(clauses) == 1 {
		return clauses[0]
	}
	return map[string]any{"$and": clauses}
}

type queryResponse struct {
	IDs       [][]string         `json:"ids"`
	Distances [][]float64        `json:"distances"`
	Metadatas [][]map[string]any `json:"metadatas"`
	Documents [][]*string        `json:"documents"`
}

// Search queries Chroma with the filter applied natively.
func (s *Store) Search(ctx context.Context, name string, vector []float32, k int, filter *vectorstore.Filter) ([]vectorstore.Result, error) {
	col, err := s.DescribeCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(vector) != col.Dimension {
		return nil, fmt.Errorf("%w: query has %d dims, collection %q has %d",
			vectorstore.ErrDimensionMismatch, len(vector), name, col.Dimension)
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}

	id, err := s.collectionID(ctx, name)
	if err != nil {
		return nil, err
	}

	query := vector
	if col.Metric == vectorstore.Cosine {
		query = vectorstore.Normalize(query)
	}

	body := map[string]any{
		"query_embeddings": [][]float32{query},
		"n_results":        k,
		"include":          []string{"distances", "metadatas", "documents"},
	}
	if where := buildWhere(filter); where != nil {
		body["where"] = where
	}

	var resp queryResponse
	if _, err := s.doJSON(ctx, http.MethodPost, apiBase+"/collections/"+id+"/query", body, &resp); err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}

	results := make([]vectorstore.Result, 0, len(resp.IDs[0]))
	for i, rid := range resp.IDs[0] {
		payload := map[string]any{}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) && resp.Metadatas[0][i] != nil {
			payload = resp.Metadatas[0][i]
		}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) && resp.Documents[0][i] != nil {
			payload[vectorstore.PayloadText] = *resp.Documents[0][i]
		}

		var distance float64
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			distance = resp.Distances[0][i]
		}

		results = append(results, vectorstore.Result{
			ID:      rid,
			Score:   scoreFromDistance(col.Metric, distance),
			Payload: payload,
		})
	}

	return results, nil
}

// scoreFromDistance maps Chroma distances (cosine distance, squared
// L2, or 1 - dot) to higher-is-better scores.
func scoreFromDistance(metric vectorstore.Metric, distance float64) float32 {
	if metric == vectorstore.L2 {
		return float32(1.0 / (1.0 + distance))
	}
	return float32(1.0 - distance)
}

type getResponse struct {
	IDs        []string         `json:"ids"`
	Embeddings [][]float32      `json:"embeddings"`
	Metadatas  []map[string]any `json:"metadatas"`
	Documents  []*string        `json:"documents"`
}

func (s *Store) getRecords(ctx context.Context, name string, body map[string]any) ([]vectorstore.Record, error) {
	id, err := s.collectionID(ctx, name)
	if err != nil {
		return nil, err
	}

	body["include"] = []string{"embeddings", "metadatas", "documents"}

	var resp getResponse
	if _, err := s.doJSON(ctx, http.MethodPost, apiBase+"/collections/"+id+"/get", body, &resp); err != nil {
		return nil, fmt.Errorf("fetching records: %w", err)
	}

	records := make([]vectorstore.Record, 0, len(resp.IDs))
	for i, rid := range resp.IDs {
		payload := map[string]any{}
		if i < len(resp.Metadatas) && resp.Metadatas[i] != nil {
			payload = resp.Metadatas[i]
		}
		if i < len(resp.Documents) && resp.Documents[i] != nil {
			payload[vectorstore.PayloadText] = *resp.Documents[i]
		}

		var vec []float32
		if i < len(resp.Embeddings) {
			vec = resp.Embeddings[i]
		}

		records = append(records, vectorstore.Record{ID: rid, Vector: vec, Payload: payload})
	}
	return records, nil
}

// Get fetches records by id, omitting missing ids.
func (s *Store) Get(ctx context.Context, name string, ids []string) ([]vectorstore.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := s.lookup(ctx, name); err != nil {
		return nil, err
	}
	return s.getRecords(ctx, name, map[string]any{"ids": ids})
}

// Delete removes records by id. Missing ids are ignored.
func (s *Store) Delete(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	id, err := s.collectionID(ctx, name)
	if err != nil {
		return err
	}
	if _, err := s.doJSON(ctx, http.MethodPost, apiBase+"/collections/"+id+"/delete", map[string]any{"ids": ids}, nil); err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}
	return nil
}

// Count returns the number of records in the collection.
func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	id, err := s.collectionID(ctx, name)
	if err != nil {
		return 0, err
	}

	var n int64
	if _, err := s.doJSON(ctx, http.MethodGet, apiBase+"/collections/"+id+"/count", nil, &n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

// Scroll pages through records using Chroma's offset paging. The
// cursor is the numeric offset of the next page.
func (s *Store) Scroll(ctx context.Context, name string, cursor string, limit int) ([]vectorstore.Record, string, error) {
	if _, err := s.lookup(ctx, name); err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 500
	}

	offset := 0
	if cursor != "" {
		var err error
		offset, err = strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("%w: invalid scroll cursor %q", vectorstore.ErrInvalidConfig, cursor)
		}
	}

	records, err := s.getRecords(ctx, name, map[string]any{"limit": limit, "offset": offset})
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(records) == limit {
		next = strconv.Itoa(offset + limit)
	}
	return records, next, nil
}

// Capabilities reports native filtering over an approximate HNSW
// index.
func (s *Store) Capabilities() vectorstore.Capabilities {
	return vectorstore.Capabilities{
		Name:             "chroma",
		NativeFilter:     true,
		ApproximateIndex: true,
	}
}

// Close is a no-op; the HTTP client holds no persistent resources.
func (s *Store) Close() error {
	return nil
}
