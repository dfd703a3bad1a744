// Package vectorstore provides the core types and the backend-agnostic
// adapter contract for storing and searching vector records.
package vectorstore

// Metric identifies the distance metric a collection is scored with.
// It is fixed at collection creation time and immutable thereafter.
type Metric string

const (
	// Cosine scores by cosine similarity over unit-normalized vectors.
	Cosine Metric = "cosine"

	// L2 scores by Euclidean distance over raw vectors.
	L2 Metric = "l2"

	// Dot scores by inner product.
	Dot Metric = "dot"
)

// IndexKind selects the index structure backing a collection.
type IndexKind string

const (
	// IndexFlat is an exact brute-force index. Recommended for
	// collections under roughly 10K records.
	IndexFlat IndexKind = "flat"

	// IndexHNSW is an approximate graph-based index for larger
	// collections.
	IndexHNSW IndexKind = "hnsw"
)

// IndexConfig holds index tuning parameters. Zero values mean
// backend defaults.
type IndexConfig struct {
	// Kind selects flat (exact) or hnsw (approximate) indexing.
	Kind IndexKind

	// M is the HNSW link count per node.
	M int

	// EfConstruct is the HNSW build-time candidate list size.
	EfConstruct int

	// EfSearch trades accuracy for speed at query time. Higher is
	// more accurate and slower.
	EfSearch int
}

// Collection is a named, dimension-fixed namespace of vector records.
type Collection struct {
	Name      string
	Dimension int
	Metric    Metric
	Index     IndexConfig
}

// Record is a stored vector with its payload. Upsert replaces the
// whole record; records are never partially updated.
type Record struct {
	// ID is the unique identifier within the collection.
	ID string

	// Vector is the embedding. Its length must equal the collection
	// dimension.
	Vector []float32

	// Payload holds scalar metadata (string, bool, int64, float64).
	// The chunk text conventionally lives under PayloadText.
	Payload map[string]any
}

// PayloadText is the payload field holding the original chunk text.
// Keyword indexing and reranking read this field.
const PayloadText = "text"

// Result is a single search hit. Score is normalized so that higher
// is always better regardless of the collection metric.
type Result struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Capabilities describes what an adapter supports natively so callers
// can branch on capability rather than concrete type.
type Capabilities struct {
	// Name identifies the backend (for logs and diagnostics).
	Name string

	// NativeFilter is true when payload filters are applied inside
	// the backend before or during the similarity scan. When false
	// the adapter post-filters client-side.
	NativeFilter bool

	// CandidateCap is the candidate-set bound applied before
	// client-side filtering, or 0 when filtering is exhaustive.
	// This is the one allowed approximation in filtered search.
	CandidateCap int

	// ApproximateIndex is true when the backend may return
	// approximate nearest neighbours.
	ApproximateIndex bool
}
