package config

const (
	defaultStoreProvider = "memory"

	defaultEmbeddingProvider = "ollama"
	defaultEmbeddingTarget   = "http://localhost:11434"
	defaultEmbeddingModel    = "nomic-embed-text"
	defaultEmbeddingDims     = 768

	defaultCacheSize = 65536

	defaultAPIListen = ":8081"

	defaultEventsProvider = "nop"

	defaultMigrationJobsPath = "loom-migrations.db"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Provider: defaultStoreProvider,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDims,
		},
		Cache: CacheConfig{
			Size: defaultCacheSize,
		},
		Retrieval: RetrievalConfig{
			KeywordSearch: true,
		},
		Migration: MigrationConfig{
			JobsPath: defaultMigrationJobsPath,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
		},
	}
}
