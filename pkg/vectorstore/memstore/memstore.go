// Package memstore provides an in-process, exact (brute-force) vector
// store adapter. It is the reference implementation of the adapter
// contract and the default backend for small collections and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/loomsearch/loom/pkg/vectorstore"
)

// Store implements vectorstore.Adapter with exact scans over
// in-memory records. Safe for concurrent use; records are stored as
// immutable copies so a reader never observes a partial write.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	logger      *zap.Logger
}

type collection struct {
	config  vectorstore.Collection
	mu      sync.RWMutex
	records map[string]vectorstore.Record
}

// New creates an empty in-process store.
func New(logger *zap.Logger) *Store {
	return &Store{
		collections: make(map[string]*collection),
		logger:      logger,
	}
}

// CreateCollection registers a collection. Identical re-creation is a
// no-op; conflicting config fails with ErrAlreadyExists.
func (s *Store) CreateCollection(_ context.Context, c vectorstore.Collection) error {
	if c.Name == "" || c.Dimension <= 0 {
		return fmt.Errorf("%w: collection needs a name and a positive dimension", vectorstore.ErrInvalidConfig)
	}
	if c.Metric == "" {
		c.Metric = vectorstore.Cosine
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.collections[c.Name]; ok {
		if existing.config.Dimension != c.Dimension || existing.config.Metric != c.Metric {
			return fmt.Errorf("%w: %q", vectorstore.ErrAlreadyExists, c.Name)
		}
		return nil
	}

	s.collections[c.Name] = &collection{
		config:  c,
		records: make(map[string]vectorstore.Record),
	}

	s.logger.Debug("created collection",
		zap.String("collection", c.Name),
		zap.Int("dimension", c.Dimension),
		zap.String("metric", string(c.Metric)),
	)

	return nil
}

// DropCollection removes a collection and all its records.
func (s *Store) DropCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; !ok {
		return fmt.Errorf("%w: %q", vectorstore.ErrCollectionNotFound, name)
	}
	delete(s.collections, name)

	s.logger.Debug("dropped collection", zap.String("collection", name))
	return nil
}

// DescribeCollection returns the stored collection config.
func (s *Store) DescribeCollection(_ context.Context, name string) (vectorstore.Collection, error) {
	col, err := s.get(name)
	if err != nil {
		return vectorstore.Collection{}, err
	}
	return col.config, nil
}

func (s *Store) get(name string) (*collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", vectorstore.ErrCollectionNotFound, name)
	}
	return col, nil
}

// Upsert stores records, replacing any record sharing an id.
func (s *Store) Upsert(_ context.Context, name string, records []vectorstore.Record) error {
	col, err := s.get(name)
	if err != nil {
		return err
	}

	// Validate and copy outside the lock so a failed batch never
	// leaves a partially-applied record behind.
	prepared := make([]vectorstore.Record, 0, len(records))
	for _, r := range records {
		if len(r.Vector) != col.config.Dimension {
			return fmt.Errorf("%w: record %q has %d dims, collection %q has %d",
				vectorstore.ErrDimensionMismatch, r.ID, len(r.Vector), name, col.config.Dimension)
		}
		prepared = append(prepared, copyRecord(r, col.config.Metric))
	}

	col.mu.Lock()
	for _, r := range prepared {
		col.records[r.ID] = r
	}
	col.mu.Unlock()

	s.logger.Debug("upserted records",
		zap.String("collection", name),
		zap.Int("count", len(records)),
	)

	return nil
}

func copyRecord(r vectorstore.Record, metric vectorstore.Metric) vectorstore.Record {
	vec := make([]float32, len(r.Vector))
	copy(vec, r.Vector)
	if metric == vectorstore.Cosine {
		vec = vectorstore.Normalize(vec)
	}

	payload := make(map[string]any, len(r.Payload))
	for k, v := range r.Payload {
		payload[k] = v
	}

	return vectorstore.Record{ID: r.ID, Vector: vec, Payload: payload}
}

// Search scans every matching record and returns the topK by score.
// The filter is applied before scoring, so filtered search is exact.
func (s *Store) Search(_ context.Context, name string, vector []float32, k int, filter *vectorstore.Filter) ([]vectorstore.Result, error) {
	col, err := s.get(name)
	if err != nil {
		return nil, err
	}
	if len(vector) != col.config.Dimension {
		return nil, fmt.Errorf("%w: query has %d dims, collection %q has %d",
			vectorstore.ErrDimensionMismatch, len(vector), name, col.config.Dimension)
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}

	query := vector
	if col.config.Metric == vectorstore.Cosine {
		query = vectorstore.Normalize(query)
	}

	col.mu.RLock()
	results := make([]vectorstore.Result, 0, len(col.records))
	for _, r := range col.records {
		if !filter.Matches(r.Payload) {
			continue
		}
		results = append(results, vectorstore.Result{
			ID:      r.ID,
			Score:   vectorstore.Score(col.config.Metric, query, r.Vector),
			Payload: r.Payload,
		})
	}
	col.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}

	return results, nil
}

// Get fetches records by id, omitting missing ids.
func (s *Store) Get(_ context.Context, name string, ids []string) ([]vectorstore.Record, error) {
	col, err := s.get(name)
	if err != nil {
		return nil, err
	}

	col.mu.RLock()
	defer col.mu.RUnlock()

	records := make([]vectorstore.Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := col.records[id]; ok {
			records = append(records, r)
		}
	}
	return records, nil
}

// Delete removes records by id. Missing ids are ignored.
func (s *Store) Delete(_ context.Context, name string, ids []string) error {
	col, err := s.get(name)
	if err != nil {
		return err
	}

	col.mu.Lock()
	for _, id := range ids {
		delete(col.records, id)
	}
	col.mu.Unlock()

	return nil
}

// Count returns the number of stored records.
func (s *Store) Count(_ context.Context, name string) (int64, error) {
	col, err := s.get(name)
	if err != nil {
		return 0, err
	}

	col.mu.RLock()
	defer col.mu.RUnlock()
	return int64(len(col.records)), nil
}

// Scroll pages through records in ascending id order starting strictly
// after cursor.
func (s *Store) Scroll(_ context.Context, name string, cursor string, limit int) ([]vectorstore.Record, string, error) {
	col, err := s.get(name)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 500
	}

	col.mu.RLock()
	ids := make([]string, 0, len(col.records))
	for id := range col.records {
		if id > cursor {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	if len(ids) > limit {
		ids = ids[:limit]
	}

	records := make([]vectorstore.Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, col.records[id])
	}
	col.mu.RUnlock()

	next := ""
	if len(records) == limit {
		next = records[len(records)-1].ID
	}

	return records, next, nil
}

// Capabilities reports exact, natively-filtered search.
func (s *Store) Capabilities() vectorstore.Capabilities {
	return vectorstore.Capabilities{
		Name:         "memstore",
		NativeFilter: true,
	}
}

// Close is a no-op for the in-process store.
func (s *Store) Close() error {
	return nil
}
