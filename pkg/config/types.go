package config

// Config is the resolved loom configuration. Values come from the
// viper precedence chain; secrets (API keys, DSN passwords) never
// appear here, they are read from the environment at the point of use.
type Config struct {
	Store     StoreConfig
	Embedding EmbeddingConfig
	Cache     CacheConfig
	Retrieval RetrievalConfig
	Migration MigrationConfig
	API       APIConfig
	Events    EventsConfig
}

// StoreConfig selects and locates the vector store backend.
type StoreConfig struct {
	// Provider is one of memory, sqlite, pgvector, qdrant, chroma.
	Provider string

	// Target is the provider-specific location: a file path for
	// sqlite, a URL or host:port for networked backends.
	Target string
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider     string
	Target       string
	Model        string
	ModelVersion string
	Dimensions   uint
	MaxBatchSize int
	Parallelism  int

	// RateLimit caps provider calls per second. Zero disables the
	// limiter.
	RateLimit float64
}

// CacheConfig sizes the embedding cache.
type CacheConfig struct {
	Size int
}

// RetrievalConfig tunes hybrid search.
type RetrievalConfig struct {
	KeywordSearch       bool
	Rerank              bool
	CandidateMultiplier int
	RRFConstant         int
}

// MigrationConfig tunes the migration engine.
type MigrationConfig struct {
	BatchSize        int
	SampleSize       int
	QueryCount       int
	OverlapK         int
	OverlapThreshold float64

	// JobsPath is the SQLite file persisting migration jobs.
	JobsPath string
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string
}

// EventsConfig selects the event stream backend.
type EventsConfig struct {
	// Provider is nop or kafka.
	Provider string
	Brokers  []string
	Topic    string
}
