package vectorstore

import "context"

// Adapter is the uniform contract every backend implements. All
// operations behave identically in contract regardless of backend;
// capability differences are surfaced via Capabilities.
type Adapter interface {
	// CreateCollection registers a collection. Creating an existing
	// collection with identical config is a no-op; with different
	// dimension or metric it fails with ErrAlreadyExists.
	CreateCollection(ctx context.Context, c Collection) error

	// DropCollection removes a collection and all its records.
	DropCollection(ctx context.Context, name string) error

	// DescribeCollection returns the stored collection config, or
	// ErrCollectionNotFound.
	DescribeCollection(ctx context.Context, name string) (Collection, error)

	// Upsert stores records, replacing any existing record sharing
	// an id. It fails with ErrDimensionMismatch if any vector length
	// differs from the collection dimension. Each record is written
	// atomically; a concurrent Search never observes a partial record.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Search returns the topK records most similar to vector, ordered
	// by decreasing score. A nil filter matches everything.
	Search(ctx context.Context, collection string, vector []float32, k int, filter *Filter) ([]Result, error)

	// Get fetches records by id. Missing ids are silently omitted.
	Get(ctx context.Context, collection string, ids []string) ([]Record, error)

	// Delete removes records by id. Deleting a nonexistent id is not
	// an error.
	Delete(ctx context.Context, collection string, ids []string) error

	// Count returns the number of records in the collection.
	Count(ctx context.Context, collection string) (int64, error)

	// Scroll reads records in a stable, backend-defined total order
	// over record ids. The cursor is an opaque token from the
	// previous page; an empty cursor starts from the beginning, and
	// an empty next cursor means the scan is complete. Migration
	// relies on the ordering being stable across calls.
	Scroll(ctx context.Context, collection string, cursor string, limit int) ([]Record, string, error)

	// Capabilities reports what this backend supports natively.
	Capabilities() Capabilities

	// Close releases any resources held by the adapter.
	Close() error
}
