// Package pgvector provides a vector store adapter backed by PostgreSQL
// with the pgvector extension. Payload filters are translated to SQL
// WHERE clauses over a JSONB column and applied natively inside the
// scan, so filtered search is exact.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/loomsearch/loom/pkg/vectorstore"
)

var collectionNameRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_-]*$`)

// Store implements vectorstore.Adapter on pgvector. Each collection is
// one table with (id, embedding vector(D), payload jsonb).
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Config holds configuration for the pgvector adapter. The DSN is
// expected to arrive via environment (LOOM_STORE_PGVECTOR_DSN), never
// from a persisted config file.
type Config struct {
	DSN string
}

// New connects to PostgreSQL, ensures the pgvector extension and the
// collection registry exist.
func New(ctx context.Context, c Config, logger *zap.Logger) (*Store, error) {
	if c.DSN == "" {
		return nil, fmt.Errorf("%w: postgres DSN is required", vectorstore.ErrInvalidConfig)
	}

	pool, err := pgxpool.New(ctx, c.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vectorstore.ErrConnection, err)
	}

	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: pgvector extension unavailable: %v", vectorstore.ErrConnection, err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS loom_collections (
			name       TEXT PRIMARY KEY,
			dimension  INTEGER NOT NULL,
			metric     TEXT NOT NULL,
			index_kind TEXT NOT NULL DEFAULT 'flat'
		)
	`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating collection registry: %w", err)
	}

	logger.Info("pgvector adapter initialized")

	return &Store{pool: pool, logger: logger}, nil
}

func recordTable(collection string) string {
	return `loom_c_` + collection
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// distanceOp returns the pgvector operator for the metric.
func distanceOp(metric vectorstore.Metric) string {
	switch metric {
	case vectorstore.L2:
		return "<->"
	case vectorstore.Dot:
		return "<#>"
	default:
		return "<=>"
	}
}

// CreateCollection registers a collection and creates its table and,
// for hnsw configs, its approximate index.
func (s *Store) CreateCollection(ctx context.Context, c vectorstore.Collection) error {
	if !collectionNameRe.MatchString(c.Name) {
		return fmt.Errorf("%w: invalid collection name %q", vectorstore.ErrInvalidConfig, c.Name)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", vectorstore.ErrInvalidConfig)
	}
	if c.Metric == "" {
		c.Metric = vectorstore.Cosine
	}

	var dim int
	var metric string
	err := s.pool.QueryRow(ctx,
		`SELECT dimension, metric FROM loom_collections WHERE name = $1`, c.Name,
	).Scan(&dim, &metric)
	switch {
	case err == nil:
		if dim != c.Dimension || metric != string(c.Metric) {
			return fmt.Errorf("%w: %q", vectorstore.ErrAlreadyExists, c.Name)
		}
		return nil
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return fmt.Errorf("checking collection %q: %w", c.Name, err)
	}

	table := quoteIdent(recordTable(c.Name))
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id        TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			payload   JSONB NOT NULL DEFAULT '{}'
		)
	`, table, c.Dimension))
	if err != nil {
		return fmt.Errorf("creating table for %q: %w", c.Name, err)
	}

	kind := c.Index.Kind
	if kind == "" {
		kind = vectorstore.IndexFlat
	}
	if kind == vectorstore.IndexHNSW {
		opclass := "vector_cosine_ops"
		switch c.Metric {
		case vectorstore.L2:
			opclass = "vector_l2_ops"
		case vectorstore.Dot:
			opclass = "vector_ip_ops"
		}
		m := c.Index.M
		if m == 0 {
			m = 16
		}
		efc := c.Index.EfConstruct
		if efc == 0 {
			efc = 64
		}
		_, err = s.pool.Exec(ctx, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding %s) WITH (m = %d, ef_construction = %d)`,
			quoteIdent(recordTable(c.Name)+"_hnsw"), table, opclass, m, efc,
		))
		if err != nil {
			return fmt.Errorf("creating hnsw index for %q: %w", c.Name, err)
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO loom_collections (name, dimension, metric, index_kind)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (name) DO NOTHING`,
		c.Name, c.Dimension, string(c.Metric), string(kind),
	)
	if err != nil {
		return fmt.Errorf("registering collection %q: %w", c.Name, err)
	}

	s.logger.Debug("created collection",
		zap.String("collection", c.Name),
		zap.Int("dimension", c.Dimension),
		zap.String("metric", string(c.Metric)),
		zap.String("index", string(kind)),
	)

	return nil
}

// DropCollection removes a collection and its table.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	if _, err := s.describe(ctx, name); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS `+quoteIdent(recordTable(name))); err != nil {
		return fmt.Errorf("dropping table for %q: %w", name, err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM loom_collections WHERE name = $1`, name); err != nil {
		return fmt.Errorf("deleting collection %q: %w", name, err)
	}
	s.logger.Debug("dropped collection", zap.String("collection", name))
	return nil
}

// DescribeCollection returns the stored collection config.
func (s *Store) DescribeCollection(ctx context.Context, name string) (vectorstore.Collection, error) {
	return s.describe(ctx, name)
}

func (s *Store) describe(ctx context.Context, name string) (vectorstore.Collection, error) {
	var c vectorstore.Collection
	var metric, kind string
	err := s.pool.QueryRow(ctx,
		`SELECT name, dimension, metric, index_kind FROM loom_collections WHERE name = $1`, name,
	).Scan(&c.Name, &c.Dimension, &metric, &kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, fmt.Errorf("%w: %q", vectorstore.ErrCollectionNotFound, name)
	}
	if err != nil {
		return c, fmt.Errorf("describing collection %q: %w", name, err)
	}
	c.Metric = vectorstore.Metric(metric)
	c.Index.Kind = vectorstore.IndexKind(kind)
	return c, nil
}

// vectorLiteral renders a pgvector text literal: [0.1,0.2,...].
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// Upsert stores records via INSERT ... ON CONFLICT DO UPDATE in one
// transaction.
func (s *Store) Upsert(ctx context.Context, name string, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}

	col, err := s.describe(ctx, name)
	if err != nil {
		return err
	}
	for _, r := range records {
		if len(r.Vector) != col.Dimension {
			return fmt.Errorf("%w: record %q has %d dims, collection %q has %d",
				vectorstore.ErrDimensionMismatch, r.ID, len(r.Vector), name, col.Dimension)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, payload) VALUES ($1, $2::vector, $3)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload
	`, quoteIdent(recordTable(name)))

	for _, r := range records {
		vec := r.Vector
		if col.Metric == vectorstore.Cosine {
			vec = vectorstore.Normalize(vec)
		}
		payload := r.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		if _, err := tx.Exec(ctx, stmt, r.ID, vectorLiteral(vec), payload); err != nil {
			return fmt.Errorf("upserting record %q: %w", r.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("upserted records",
		zap.String("collection", name),
		zap.Int("count", len(records)),
	)

	return nil
}

// buildFilterSQL renders filter conditions as SQL over the payload
// JSONB column. Returns the clause fragments and their args, starting
// at placeholder $startIdx.
func buildFilterSQL(filter *vectorstore.Filter, startIdx int) (string, []any) {
	if filter == nil || len(filter.Conditions) == 0 {
		return "", nil
	}

	var clauses []string
	var args []any
	idx := startIdx

	for _, c := range filter.Conditions {
		field := c.Field
		switch c.Op {
		case vectorstore.OpEq:
			switch v := c.Value.(type) {
			case string:
				clauses = append(clauses, fmt.Sprintf(`payload->>%s = $%d`, quoteLiteral(field), idx))
				args = append(args, v)
				idx++
			case bool:
				clauses = append(clauses, fmt.Sprintf(`(payload->>%s)::boolean = $%d`, quoteLiteral(field), idx))
				args = append(args, v)
				idx++
			default:
				clauses = append(clauses, fmt.Sprintf(`(payload->>%s)::numeric = $%d`, quoteLiteral(field), idx))
				args = append(args, v)
				idx++
			}
		case vectorstore.OpRange:
			if c.Min != nil {
				clauses = append(clauses, fmt.Sprintf(`(payload->>%s)::numeric >= $%d`, quoteLiteral(field), idx))
				args = append(args, c.Min)
				idx++
			}
			if c.Max != nil {
				clauses = append(clauses, fmt.Sprintf(`(payload->>%s)::numeric <= $%d`, quoteLiteral(field), idx))
				args = append(args, c.Max)
				idx++
			}
		}
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Search runs the similarity scan with the filter applied natively.
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

	query := vector
	if col.Metric == vectorstore.Cosine {
		query = vectorstore.Normalize(query)
	}

	filterSQL, filterArgs := buildFilterSQL(filter, 3)
	args := append([]any{vectorLiteral(query), k}, filterArgs...)

	sql := fmt.Sprintf(`
		SELECT id, payload, embedding %s $1::vector AS distance
		FROM %s
		WHERE TRUE%s
		ORDER BY distance
		LIMIT $2
	`, distanceOp(col.Metric), quoteIdent(recordTable(name)), filterSQL)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var results []vectorstore.Result
	for rows.Next() {
		var id string
		var payload map[string]any
		var distance float64
		if err := rows.Scan(&id, &payload, &distance); err != nil {
			return nil, fmt.Errorf("scanning query result: %w", err)
		}
		results = append(results, vectorstore.Result{
			ID:      id,
			Score:   scoreFromDistance(col.Metric, distance),
			Payload: payload,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query results: %w", err)
	}

	return results, nil
}

// scoreFromDistance maps pgvector distances to higher-is-better
// scores. <=> is cosine distance, <-> Euclidean, <#> negated inner
// product.
func scoreFromDistance(metric vectorstore.Metric, distance float64) float32 {
	switch metric {
	case vectorstore.L2:
		return float32(1.0 / (1.0 + distance))
	case vectorstore.Dot:
		return float32(-distance)
	default:
		return float32(1.0 - distance)
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

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, embedding::text, payload FROM %s WHERE id = ANY($1) ORDER BY id
	`, quoteIdent(recordTable(name))), ids)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var records []vectorstore.Record
	for rows.Next() {
		var id, vecText string
		var payload map[string]any
		if err := rows.Scan(&id, &vecText, &payload); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		vec, err := parseVectorLiteral(vecText)
		if err != nil {
			return nil, fmt.Errorf("decoding vector for record %q: %w", id, err)
		}
		records = append(records, vectorstore.Record{ID: id, Vector: vec, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

func parseVectorLiteral(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parsing component %d: %w", i, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

// Delete removes records by id. Missing ids are ignored.
func (s *Store) Delete(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.describe(ctx, name); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE id = ANY($1)`, quoteIdent(recordTable(name)),
	), ids)
	if err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}
	return nil
}

// Count returns the number of records in the collection.
func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	if _, err := s.describe(ctx, name); err != nil {
		return 0, err
	}
	var n int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s`, quoteIdent(recordTable(name)),
	)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

// Scroll pages through records in ascending id order starting strictly
// after cursor.
func (s *Store) Scroll(ctx context.Context, name string, cursor string, limit int) ([]vectorstore.Record, string, error) {
	if _, err := s.describe(ctx, name); err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, embedding::text, payload FROM %s WHERE id > $1 ORDER BY id LIMIT $2
	`, quoteIdent(recordTable(name))), cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("scrolling records: %w", err)
	}
	defer rows.Close()

	var records []vectorstore.Record
	for rows.Next() {
		var id, vecText string
		var payload map[string]any
		if err := rows.Scan(&id, &vecText, &payload); err != nil {
			return nil, "", fmt.Errorf("scanning record: %w", err)
		}
		vec, err := parseVectorLiteral(vecText)
		if err != nil {
			return nil, "", fmt.Errorf("decoding vector for record %q: %w", id, err)
		}
		records = append(records, vectorstore.Record{ID: id, Vector: vec, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating records: %w", err)
	}

	next := ""
	if len(records) == limit {
		next = records[len(records)-1].ID
	}
	return records, next, nil
}

// Capabilities reports exact native filtering; approximate search only
// when the collection was created with an hnsw index.
func (s *Store) Capabilities() vectorstore.Capabilities {
	return vectorstore.Capabilities{
		Name:             "pgvector",
		NativeFilter:     true,
		ApproximateIndex: true,
	}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
