// Package sqlitevec provides an embedded vector store adapter backed by
// SQLite with the sqlite-vec extension.
//
// Filtered search fetches a bounded candidate set from the vec0 KNN
// scan (max(10*k, 256) candidates) and post-filters client-side; this
// candidate cap is the documented approximation for this backend.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/loomsearch/loom/pkg/vectorstore"
)

const minCandidates = 256

var collectionNameRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_-]*$`)

// Store implements vectorstore.Adapter on sqlite-vec. Each collection
// gets its own vec0 virtual table (vec0 fixes the dimension per table).
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	// SQLite serializes writers; the mutex also keeps the
	// upsert read-modify-write on the rowid mapping atomic.
	mu sync.Mutex
}

// Config holds configuration for the sqlite-vec adapter.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string
}

// New opens (or creates) the database and verifies sqlite-vec is
// available.
func New(c Config, logger *zap.Logger) (*Store, error) {
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, fmt.Errorf("%w: database path is required", vectorstore.ErrInvalidConfig)
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: sqlite-vec not available: %v", vectorstore.ErrConnection, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS collections (
			name       TEXT PRIMARY KEY,
			dimension  INTEGER NOT NULL,
			metric     TEXT NOT NULL,
			index_kind TEXT NOT NULL DEFAULT 'flat'
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating collections table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			rowid      INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			record_id  TEXT NOT NULL,
			payload    TEXT NOT NULL DEFAULT '{}',
			UNIQUE(collection, record_id)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating records table: %w", err)
	}

	logger.Info("sqlite-vec adapter initialized",
		zap.String("db_path", c.DBPath),
		zap.String("vec_version", vecVersion),
	)

	return &Store{db: db, logger: logger}, nil
}

func embeddingTable(collection string) string {
	return "vec_" + collection
}

// CreateCollection registers a collection and creates its vec0 table.
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
	if c.Metric == vectorstore.Dot {
		return fmt.Errorf("%w: sqlite-vec backend does not support the dot metric", vectorstore.ErrInvalidConfig)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var dim int64
	var metric string
	err := s.db.QueryRowContext(ctx,
		`SELECT dimension, metric FROM collections WHERE name = ?`, c.Name,
	).Scan(&dim, &metric)
	switch err {
	case nil:
		if dim != int64(c.Dimension) || metric != string(c.Metric) {
			return fmt.Errorf("%w: %q", vectorstore.ErrAlreadyExists, c.Name)
		}
		return nil
	case sql.ErrNoRows:
	default:
		return fmt.Errorf("checking collection %q: %w", c.Name, err)
	}

	distance := ""
	if c.Metric == vectorstore.Cosine {
		distance = " distance_metric=cosine"
	}
	createVec := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %q USING vec0(embedding float[%d]%s)`,
		embeddingTable(c.Name), c.Dimension, distance,
	)
	if _, err := s.db.ExecContext(ctx, createVec); err != nil {
		return fmt.Errorf("creating vec0 table for %q: %w", c.Name, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collections(name, dimension, metric, index_kind) VALUES (?, ?, ?, ?)`,
		c.Name, c.Dimension, string(c.Metric), string(vectorstore.IndexFlat),
	)
	if err != nil {
		return fmt.Errorf("registering collection %q: %w", c.Name, err)
	}

	s.logger.Debug("created collection",
		zap.String("collection", c.Name),
		zap.Int("dimension", c.Dimension),
		zap.String("metric", string(c.Metric)),
	)

	return nil
}

// DropCollection removes the collection, its records and its vec0 table.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.describe(ctx, name); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, embeddingTable(name))); err != nil {
		return fmt.Errorf("dropping vec0 table for %q: %w", name, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, name); err != nil {
		return fmt.Errorf("deleting records for %q: %w", name, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
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
	err := s.db.QueryRowContext(ctx,
		`SELECT name, dimension, metric, index_kind FROM collections WHERE name = ?`, name,
	).Scan(&c.Name, &c.Dimension, &metric, &kind)
	if err == sql.ErrNoRows {
		return c, fmt.Errorf("%w: %q", vectorstore.ErrCollectionNotFound, name)
	}
	if err != nil {
		return c, fmt.Errorf("describing collection %q: %w", name, err)
	}
	c.Metric = vectorstore.Metric(metric)
	c.Index.Kind = vectorstore.IndexKind(kind)
	return c, nil
}

// Upsert stores records transactionally. vec0 does not support UPDATE,
// so replacement is DELETE + INSERT within the transaction.
func (s *Store) Upsert(ctx context.Context, name string, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	table := embeddingTable(name)
	for _, r := range records {
		vec := r.Vector
		if col.Metric == vectorstore.Cosine {
			vec = vectorstore.Normalize(vec)
		}
		blob := vectorstore.EncodeVector(vec)

		payload, err := json.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("encoding payload for record %q: %w", r.ID, err)
		}

		var rowID int64
		err = tx.QueryRowContext(ctx,
			`SELECT rowid FROM records WHERE collection = ? AND record_id = ?`, name, r.ID,
		).Scan(&rowID)

		switch err {
		case nil:
			if _, err := tx.ExecContext(ctx,
				`UPDATE records SET payload = ? WHERE rowid = ?`, string(payload), rowID,
			); err != nil {
				return fmt.Errorf("updating record %q: %w", r.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`DELETE FROM %q WHERE rowid = ?`, table), rowID,
			); err != nil {
				return fmt.Errorf("deleting old embedding for record %q: %w", r.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`INSERT INTO %q(rowid, embedding) VALUES (?, ?)`, table), rowID, blob,
			); err != nil {
				return fmt.Errorf("re-inserting embedding for record %q: %w", r.ID, err)
			}
		case sql.ErrNoRows:
			res, err := tx.ExecContext(ctx,
				`INSERT INTO records(collection, record_id, payload) VALUES (?, ?, ?)`,
				name, r.ID, string(payload),
			)
			if err != nil {
				return fmt.Errorf("inserting record %q: %w", r.ID, err)
			}
			rowID, err = res.LastInsertId()
			if err != nil {
				return fmt.Errorf("getting rowid for record %q: %w", r.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`INSERT INTO %q(rowid, embedding) VALUES (?, ?)`, table), rowID, blob,
			); err != nil {
				return fmt.Errorf("inserting embedding for record %q: %w", r.ID, err)
			}
		default:
			return fmt.Errorf("checking for existing record %q: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("upserted records",
		zap.String("collection", name),
		zap.Int("count", len(records)),
	)

	return nil
}

// Search runs a KNN scan via vec0 MATCH. With a filter, a capped
// candidate set is fetched first and post-filtered client-side.
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

	fetch := k
	if filter != nil && len(filter.Conditions) > 0 {
		fetch = 10 * k
		if fetch < minCandidates {
			fetch = minCandidates
		}
	}

	query := vector
	if col.Metric == vectorstore.Cosine {
		query = vectorstore.Normalize(query)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT r.record_id, r.payload, ve.distance
		FROM %q ve
		INNER JOIN records r ON r.rowid = ve.rowid
		WHERE ve.embedding MATCH ? AND ve.k = ?
		ORDER BY ve.distance
	`, embeddingTable(name)), vectorstore.EncodeVector(query), fetch)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var results []vectorstore.Result
	for rows.Next() {
		var id, payloadJSON string
		var distance float64
		if err := rows.Scan(&id, &payloadJSON, &distance); err != nil {
			return nil, fmt.Errorf("scanning query result: %w", err)
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("decoding payload for record %q: %w", id, err)
		}

		if !filter.Matches(payload) {
			continue
		}

		results = append(results, vectorstore.Result{
			ID:      id,
			Score:   scoreFromDistance(col.Metric, distance),
			Payload: payload,
		})
		if len(results) == k {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query results: %w", err)
	}

	s.logger.Debug("searched collection",
		zap.String("collection", name),
		zap.Int("results", len(results)),
	)

	return results, nil
}

// scoreFromDistance maps vec0 distances to higher-is-better scores.
// Cosine tables report cosine distance (1 - cos); L2 tables report
// Euclidean distance.
func scoreFromDistance(metric vectorstore.Metric, distance float64) float32 {
	if metric == vectorstore.Cosine {
		return float32(1.0 - distance)
	}
	return float32(1.0 / (1.0 + distance))
}

// Get fetches records by id, omitting missing ids.
func (s *Store) Get(ctx context.Context, name string, ids []string) ([]vectorstore.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	col, err := s.describe(ctx, name)
	if err != nil {
		return nil, err
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, name)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT r.record_id, r.payload, ve.embedding
		FROM records r
		INNER JOIN %q ve ON ve.rowid = r.rowid
		WHERE r.collection = ? AND r.record_id IN (%s)
		ORDER BY r.record_id
	`, embeddingTable(col.Name), strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]vectorstore.Record, error) {
	var records []vectorstore.Record
	for rows.Next() {
		var id, payloadJSON string
		var blob []byte
		if err := rows.Scan(&id, &payloadJSON, &blob); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}

		vec, err := vectorstore.DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding vector for record %q: %w", id, err)
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("decoding payload for record %q: %w", id, err)
		}

		records = append(records, vectorstore.Record{ID: id, Vector: vec, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

// Delete removes records by id. Missing ids are ignored.
func (s *Store) Delete(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.describe(ctx, name)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, name)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	inClause := strings.Join(placeholders, ",")

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		`SELECT rowid FROM records WHERE collection = ? AND record_id IN (%s)`, inClause,
	), args...)
	if err != nil {
		return fmt.Errorf("querying rowids for deletion: %w", err)
	}

	var rowIDs []int64
	for rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			rows.Close()
			return fmt.Errorf("scanning rowid: %w", err)
		}
		rowIDs = append(rowIDs, rowID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating rowids: %w", err)
	}

	for _, rowID := range rowIDs {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM %q WHERE rowid = ?`, embeddingTable(col.Name),
		), rowID); err != nil {
			return fmt.Errorf("deleting embedding rowid %d: %w", rowID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM records WHERE collection = ? AND record_id IN (%s)`, inClause,
	), args...); err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("deleted records",
		zap.String("collection", name),
		zap.Int("count", len(ids)),
	)

	return nil
}

// Count returns the number of records in the collection.
func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	if _, err := s.describe(ctx, name); err != nil {
		return 0, err
	}

	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE collection = ?`, name,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

// Scroll pages through records in ascending record_id order starting
// strictly after cursor.
func (s *Store) Scroll(ctx context.Context, name string, cursor string, limit int) ([]vectorstore.Record, string, error) {
	col, err := s.describe(ctx, name)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT r.record_id, r.payload, ve.embedding
		FROM records r
		INNER JOIN %q ve ON ve.rowid = r.rowid
		WHERE r.collection = ? AND r.record_id > ?
		ORDER BY r.record_id
		LIMIT ?
	`, embeddingTable(col.Name)), name, cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("scrolling records: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(records) == limit {
		next = records[len(records)-1].ID
	}
	return records, next, nil
}

// Capabilities reports post-filtered search with a bounded candidate
// set.
func (s *Store) Capabilities() vectorstore.Capabilities {
	return vectorstore.Capabilities{
		Name:         "sqlitevec",
		NativeFilter: false,
		CandidateCap: minCandidates,
	}
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
