// Package embeddings provides the embedding-provider contract, the
// content-addressed embedding cache, and the batching embedder that
// ties them together.
package embeddings

import "context"

// Provider is the embedding-provider boundary: an ordered list of
// texts in, an ordered list of fixed-dimension vectors out, 1:1 with
// input order. Providers classify failures as ErrRateLimited
// (retryable) or ErrInvalidInput (fatal).
type Provider interface {
	// EmbedBatch converts texts into vector embeddings, preserving
	// order and length.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model identifies the embedding model, used for cache
	// fingerprinting.
	Model() string

	// MaxBatchSize is the largest batch the provider accepts per
	// call.
	MaxBatchSize() int

	// Close releases any resources held by the provider.
	Close() error
}
