package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads an optional
// loom.yaml (from configDir when given, otherwise the working
// directory), and binds environment variables with the LOOM_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (LOOM_STORE_PROVIDER, LOOM_API_LISTEN, etc.)
//  3. loom.yaml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	v.SetConfigName("loom")
	v.SetConfigType("yaml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	} else {
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("LOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// FromViper resolves a Config from the viper precedence chain.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Store: StoreConfig{
			Provider: v.GetString("store.provider"),
			Target:   v.GetString("store.target"),
		},
		Embedding: EmbeddingConfig{
			Provider:     v.GetString("embedding.provider"),
			Target:       v.GetString("embedding.target"),
			Model:        v.GetString("embedding.model"),
			ModelVersion: v.GetString("embedding.model_version"),
			Dimensions:   v.GetUint("embedding.dimensions"),
			MaxBatchSize: v.GetInt("embedding.max_batch_size"),
			Parallelism:  v.GetInt("embedding.parallelism"),
			RateLimit:    v.GetFloat64("embedding.rate_limit"),
		},
		Cache: CacheConfig{
			Size: v.GetInt("cache.size"),
		},
		Retrieval: RetrievalConfig{
			KeywordSearch:       v.GetBool("retrieval.keyword_search"),
			Rerank:              v.GetBool("retrieval.rerank"),
			CandidateMultiplier: v.GetInt("retrieval.candidate_multiplier"),
			RRFConstant:         v.GetInt("retrieval.rrf_constant"),
		},
		Migration: MigrationConfig{
			BatchSize:        v.GetInt("migration.batch_size"),
			SampleSize:       v.GetInt("migration.sample_size"),
			QueryCount:       v.GetInt("migration.query_count"),
			OverlapK:         v.GetInt("migration.overlap_k"),
			OverlapThreshold: v.GetFloat64("migration.overlap_threshold"),
			JobsPath:         v.GetString("migration.jobs_path"),
		},
		API: APIConfig{
			Listen: v.GetString("api.listen"),
		},
		Events: EventsConfig{
			Provider: v.GetString("events.provider"),
			Brokers:  v.GetStringSlice("events.brokers"),
			Topic:    v.GetString("events.topic"),
		},
	}
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	// Store
	v.SetDefault("store.provider", d.Store.Provider)
	v.SetDefault("store.target", d.Store.Target)

	// Embedding
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.model_version", d.Embedding.ModelVersion)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.max_batch_size", d.Embedding.MaxBatchSize)
	v.SetDefault("embedding.parallelism", d.Embedding.Parallelism)
	v.SetDefault("embedding.rate_limit", d.Embedding.RateLimit)

	// Cache
	v.SetDefault("cache.size", d.Cache.Size)

	// Retrieval
	v.SetDefault("retrieval.keyword_search", d.Retrieval.KeywordSearch)
	v.SetDefault("retrieval.rerank", d.Retrieval.Rerank)
	v.SetDefault("retrieval.candidate_multiplier", d.Retrieval.CandidateMultiplier)
	v.SetDefault("retrieval.rrf_constant", d.Retrieval.RRFConstant)

	// Migration
	v.SetDefault("migration.batch_size", d.Migration.BatchSize)
	v.SetDefault("migration.sample_size", d.Migration.SampleSize)
	v.SetDefault("migration.query_count", d.Migration.QueryCount)
	v.SetDefault("migration.overlap_k", d.Migration.OverlapK)
	v.SetDefault("migration.overlap_threshold", d.Migration.OverlapThreshold)
	v.SetDefault("migration.jobs_path", d.Migration.JobsPath)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Events
	v.SetDefault("events.provider", d.Events.Provider)
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)
}
