// Package qdrantstore provides a vector store adapter for Qdrant via
// its gRPC client. It serves both managed-cloud and self-hosted
// deployments; collections use Qdrant's HNSW graph index, so search is
// approximate with an accuracy/speed tradeoff exposed through
// IndexConfig.EfSearch.
//
// Qdrant point ids must be UUIDs or integers, so record ids are mapped
// to deterministic UUIDv5 point ids and the original id is kept in the
// reserved payload field "_loom_id".
package qdrantstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/loomsearch/loom/pkg/vectorstore"
)

// idField is the reserved payload key carrying the original record id.
const idField = "_loom_id"

// Store implements vectorstore.Adapter against a Qdrant instance.
type Store struct {
	client *qdrant.Client
	logger *zap.Logger

	// efSearch per collection, captured at create time.
	efSearch map[string]uint64
}

// Config holds connection settings. The API key is expected to arrive
// via environment (LOOM_STORE_QDRANT_API_KEY), never from a persisted
// config file.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// New connects to Qdrant.
func New(c Config, logger *zap.Logger) (*Store, error) {
	if c.Host == "" {
		return nil, fmt.Errorf("%w: qdrant host is required", vectorstore.ErrInvalidConfig)
	}
	if c.Port == 0 {
		c.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   c.Host,
		Port:   c.Port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vectorstore.ErrConnection, err)
	}

	logger.Info("connected to qdrant",
		zap.String("host", c.Host),
		zap.Int("port", c.Port),
	)

	return &Store{
		client:   client,
		logger:   logger,
		efSearch: make(map[string]uint64),
	}, nil
}

func pointID(recordID string) *qdrant.PointId {
	return qdrant.NewID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(recordID)).String())
}

func qdrantDistance(m vectorstore.Metric) qdrant.Distance {
	switch m {
	case vectorstore.L2:
		return qdrant.Distance_Euclid
	case vectorstore.Dot:
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Cosine
	}
}

func metricFromDistance(d qdrant.Distance) vectorstore.Metric {
	switch d {
	case qdrant.Distance_Euclid:
		return vectorstore.L2
	case qdrant.Distance_Dot:
		return vectorstore.Dot
	default:
		return vectorstore.Cosine
	}
}

// CreateCollection creates the Qdrant collection. Identical
// re-creation is a no-op; conflicting config fails with
// ErrAlreadyExists.
func (s *Store) CreateCollection(ctx context.Context, c vectorstore.Collection) error {
	if c.Name == "" || c.Dimension <= 0 {
		return fmt.Errorf("%w: collection needs a name and a positive dimension", vectorstore.ErrInvalidConfig)
	}
	if c.Metric == "" {
		c.Metric = vectorstore.Cosine
	}

	exists, err := s.client.CollectionExists(ctx, c.Name)
	if err != nil {
		return fmt.Errorf("%w: checking collection %q: %v", vectorstore.ErrConnection, c.Name, err)
	}
	if exists {
		existing, err := s.describe(ctx, c.Name)
		if err != nil {
			return err
		}
		if existing.Dimension != c.Dimension || existing.Metric != c.Metric {
			return fmt.Errorf("%w: %q", vectorstore.ErrAlreadyExists, c.Name)
		}
		return nil
	}

	req := &qdrant.CreateCollection{
		CollectionName: c.Name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(c.Dimension),
			Distance: qdrantDistance(c.Metric),
		}),
	}
	if c.Index.Kind == vectorstore.IndexHNSW && (c.Index.M > 0 || c.Index.EfConstruct > 0) {
		hnsw := &qdrant.HnswConfigDiff{}
		if c.Index.M > 0 {
			hnsw.M = qdrant.PtrOf(uint64(c.Index.M))
		}
		if c.Index.EfConstruct > 0 {
			hnsw.EfConstruct = qdrant.PtrOf(uint64(c.Index.EfConstruct))
		}
		req.HnswConfig = hnsw
	}

	if err := s.client.CreateCollection(ctx, req); err != nil {
		return fmt.Errorf("creating collection %q: %w", c.Name, err)
	}

	if c.Index.EfSearch > 0 {
		s.efSearch[c.Name] = uint64(c.Index.EfSearch)
	}

	s.logger.Debug("created collection",
		zap.String("collection", c.Name),
		zap.Int("dimension", c.Dimension),
		zap.String("metric", string(c.Metric)),
	)

	return nil
}

// DropCollection removes the Qdrant collection.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: checking collection %q: %v", vectorstore.ErrConnection, name, err)
	}
	if !exists {
		return fmt.Errorf("%w: %q", vectorstore.ErrCollectionNotFound, name)
	}
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("dropping collection %q: %w", name, err)
	}
	delete(s.efSearch, name)
	return nil
}

// DescribeCollection reads the collection config back from Qdrant.
func (s *Store) DescribeCollection(ctx context.Context, name string) (vectorstore.Collection, error) {
	return s.describe(ctx, name)
}

func (s *Store) describe(ctx context.Context, name string) (vectorstore.Collection, error) {
	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return vectorstore.Collection{}, fmt.Errorf("%w: %q", vectorstore.ErrCollectionNotFound, name)
	}

	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	return vectorstore.Collection{
		Name:      name,
		Dimension: int(params.GetSize()),
		Metric:    metricFromDistance(params.GetDistance()),
		Index:     vectorstore.IndexConfig{Kind: vectorstore.IndexHNSW},
	}, nil
}

// Upsert writes points with Wait so a following Search observes them.
func (s *Store) Upsert(ctx context.Context, name string, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}

	col, err := s.describe(ctx, name)
	if err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		if len(r.Vector) != col.Dimension {
			return fmt.Errorf("%w: record %q has %d dims, collection %q has %d",
				vectorstore.ErrDimensionMismatch, r.ID, len(r.Vector), name, col.Dimension)
		}

		vec := r.Vector
		if col.Metric == vectorstore.Cosine {
			vec = vectorstore.Normalize(vec)
		}

		payload := make(map[string]any, len(r.Payload)+1)
		for k, v := range r.Payload {
			payload[k] = v
		}
		payload[idField] = r.ID

		points = append(points, &qdrant.PointStruct{
			Id:      pointID(r.ID),
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("upserting %d points: %w", len(points), err)
	}

	s.logger.Debug("upserted records",
		zap.String("collection", name),
		zap.Int("count", len(records)),
	)

	return nil
}

func buildFilter(filter *vectorstore.Filter) (*qdrant.Filter, error) {
	if filter == nil || len(filter.Conditions) == 0 {
		return nil, nil
	}

	var must []*qdrant.Condition
	for _, c := range filter.Conditions {
		switch c.Op {
		case vectorstore.OpEq:
			switch v := c.Value.(type) {
			case string:
				must = append(must, qdrant.NewMatchKeyword(c.Field, v))
			case bool:
				must = append(must, qdrant.NewMatchBool(c.Field, v))
			case int:
				must = append(must, qdrant.NewMatchInt(c.Field, int64(v)))
			case int64:
				must = append(must, qdrant.NewMatchInt(c.Field, v))
			case float64:
				r := &qdrant.Range{Gte: qdrant.PtrOf(v), Lte: qdrant.PtrOf(v)}
				must = append(must, qdrant.NewRange(c.Field, r))
			default:
				return nil, fmt.Errorf("%w: unsupported filter value type %T", vectorstore.ErrInvalidConfig, c.Value)
			}
		case vectorstore.OpRange:
			r := &qdrant.Range{}
			if c.Min != nil {
				min, ok := toFloat(c.Min)
				if !ok {
					return nil, fmt.Errorf("%w: non-numeric range bound %v", vectorstore.ErrInvalidConfig, c.Min)
				}
				r.Gte = qdrant.PtrOf(min)
			}
			if c.Max != nil {
				max, ok := toFloat(c.Max)
				if !ok {
					return nil, fmt.Errorf("%w: non-numeric range bound %v", vectorstore.ErrInvalidConfig, c.Max)
				}
				r.Lte = qdrant.PtrOf(max)
			}
			must = append(must, qdrant.NewRange(c.Field, r))
		}
	}

	return &qdrant.Filter{Must: must}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Search queries Qdrant with the filter applied natively.
func (s *Store) Search(ctx context.Context, name string, vector []float32, k int, filter *vectorstore.Filter) ([]vectorstore.Result, error) {
	col, err := s.describe(ctx, name)
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

	qf, err := buildFilter(filter)
	if err != nil {
		return nil, err
	}

	query := vector
	if col.Metric == vectorstore.Cosine {
		query = vectorstore.Normalize(query)
	}

	req := &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         qf,
	}
	if ef, ok := s.efSearch[name]; ok {
		req.Params = &qdrant.SearchParams{HnswEf: qdrant.PtrOf(ef)}
	}

	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}

	results := make([]vectorstore.Result, 0, len(points))
	for _, p := range points {
		payload := payloadToMap(p.GetPayload())
		id, _ := payload[idField].(string)
		delete(payload, idField)

		results = append(results, vectorstore.Result{
			ID:      id,
			Score:   normalizeScore(col.Metric, p.GetScore()),
			Payload: payload,
		})
	}

	return results, nil
}

// normalizeScore maps Qdrant scores to higher-is-better. Qdrant
// already reports similarity for cosine and dot; Euclid scores are
// distances.
func normalizeScore(metric vectorstore.Metric, score float32) float32 {
	if metric == vectorstore.L2 {
		return float32(1.0 / (1.0 + float64(score)))
	}
	return score
}

func payloadToMap(p map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return nil
	}
}

// Get fetches records by id, omitting missing ids.
func (s *Store) Get(ctx context.Context, name string, ids []string) ([]vectorstore.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := s.describe(ctx, name); err != nil {
		return nil, err
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: name,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching points: %w", err)
	}

	records := make([]vectorstore.Record, 0, len(points))
	for _, p := range points {
		records = append(records, retrievedToRecord(p))
	}
	return records, nil
}

func retrievedToRecord(p *qdrant.RetrievedPoint) vectorstore.Record {
	payload := payloadToMap(p.GetPayload())
	id, _ := payload[idField].(string)
	delete(payload, idField)

	return vectorstore.Record{
		ID:      id,
		Vector:  p.GetVectors().GetVector().GetData(),
		Payload: payload,
	}
}

// Delete removes records by id. Missing ids are ignored.
func (s *Store) Delete(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.describe(ctx, name); err != nil {
		return err
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points:         qdrant.NewPointsSelector(pointIDs...),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}
	return nil
}

// Count returns the exact number of points in the collection.
func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	if _, err := s.describe(ctx, name); err != nil {
		return 0, err
	}

	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return int64(n), nil
}

// Scroll pages through points in Qdrant's stable point-id order. The
// cursor is the next point id returned by the previous page; ordering
// is by derived point UUID, not original record id, but is stable
// across calls which is what migration requires.
func (s *Store) Scroll(ctx context.Context, name string, cursor string, limit int) ([]vectorstore.Record, string, error) {
	if _, err := s.describe(ctx, name); err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 500
	}

	// Scroll offsets are inclusive, so fetch one extra point: it is
	// both the boundary marker and the first point of the next page.
	req := &qdrant.ScrollPoints{
		CollectionName: name,
		Limit:          qdrant.PtrOf(uint32(limit + 1)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if cursor != "" {
		req.Offset = qdrant.NewID(cursor)
	}

	points, err := s.client.Scroll(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("scrolling points: %w", err)
	}

	next := ""
	if len(points) > limit {
		next = points[limit].GetId().GetUuid()
		points = points[:limit]
	}

	records := make([]vectorstore.Record, 0, len(points))
	for _, p := range points {
		records = append(records, retrievedToRecord(p))
	}

	return records, next, nil
}

// Capabilities reports native filtering over an approximate HNSW
// index.
func (s *Store) Capabilities() vectorstore.Capabilities {
	return vectorstore.Capabilities{
		Name:             "qdrant",
		NativeFilter:     true,
		ApproximateIndex: true,
	}
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}
