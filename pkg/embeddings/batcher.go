package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// BatcherConfig holds tuning for the batching embedder.
type BatcherConfig struct {
	// ModelVersion qualifies the provider model in cache
	// fingerprints, so a provider-side model update invalidates old
	// entries.
	ModelVersion string

	// Parallelism bounds concurrent provider calls. Defaults to 4.
	Parallelism int

	// MaxAttempts bounds retries per batch, first try included.
	// Defaults to 5.
	MaxAttempts int

	// BackoffBase is the first retry delay; each retry doubles it.
	// Defaults to 500ms.
	BackoffBase time.Duration

	// RateLimit caps provider calls per second. Zero means no limit.
	RateLimit rate.Limit

	// RateBurst is the limiter burst size. Defaults to 1 when
	// RateLimit is set.
	RateBurst int
}

// Batcher embeds chunks in provider-sized batches, consulting the
// Cache first and writing successful provider responses back. Vectors
// pass through exactly as the provider returns them; normalization is
// an adapter-boundary concern.
type Batcher struct {
	provider Provider
	cache    *Cache
	config   BatcherConfig
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewBatcher creates a batching embedder. The cache is required; pass
// a small one if caching is not wanted.
func NewBatcher(provider Provider, cache *Cache, config BatcherConfig, logger *zap.Logger) (*Batcher, error) {
	if provider == nil {
		return nil, errors.New("provider is required")
	}
	if cache == nil {
		return nil, errors.New("cache is required")
	}
	if config.Parallelism <= 0 {
		config.Parallelism = 4
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 500 * time.Millisecond
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(config.RateLimit, burst)
	}

	return &Batcher{
		provider: provider,
		cache:    cache,
		config:   config,
		limiter:  limiter,
		logger:   logger,
	}, nil
}

// Embed returns one vector per chunk, in input order. Cache hits are
// returned bit-identically; only cache-miss texts reach the provider,
// each distinct fingerprint at most once per call. Any batch failing
// past the retry limit fails the whole call; callers resubmit, there
// is no partial success.
func (b *Batcher) Embed(ctx context.Context, chunks []Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	model := b.provider.Model()
	vectors := make([][]float32, len(chunks))

	// Deduplicate by fingerprint so each distinct text hits the cache
	// (and, on miss, the provider) exactly once per call.
	type missing struct {
		fp   Fingerprint
		text string
	}
	positions := make(map[Fingerprint][]int, len(chunks))
	var misses []missing

	for i, chunk := range chunks {
		fp := FingerprintFor(model, b.config.ModelVersion, chunk.Text)
		if len(positions[fp]) == 0 {
			if vec, ok := b.cache.Get(fp); ok {
				vectors[i] = vec
			} else {
				misses = append(misses, missing{fp: fp, text: chunk.Text})
			}
		} else {
			// Duplicate within this call; filled in after the
			// first occurrence resolves.
			vectors[i] = vectors[positions[fp][0]]
		}
		positions[fp] = append(positions[fp], i)
	}

	b.logger.Debug("embedding chunks",
		zap.Int("chunks", len(chunks)),
		zap.Int("cache_misses", len(misses)),
	)

	if len(misses) == 0 {
		return vectors, nil
	}

	// Partition misses into provider-sized batches and embed them
	// concurrently up to the parallelism limit.
	batchSize := b.provider.MaxBatchSize()
	if batchSize <= 0 {
		batchSize = 64
	}

	missVectors := make([][]float32, len(misses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.Parallelism)

	for start := 0; start < len(misses); start += batchSize {
		end := start + batchSize
		if end > len(misses) {
			end = len(misses)
		}
		start, end := start, end

		g.Go(func() error {
			texts := make([]string, end-start)
			for i, m := range misses[start:end] {
				texts[i] = m.text
			}

			batch, err := b.embedWithRetry(gctx, texts)
			if err != nil {
				return err
			}
			if len(batch) != len(texts) {
				return fmt.Errorf("provider returned %d vectors for %d texts", len(batch), len(texts))
			}

			copy(missVectors[start:end], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Write back to the cache, then fill every position that shares
	// each fingerprint.
	for i, m := range misses {
		if err := b.cache.Put(m.fp, missVectors[i]); err != nil {
			return nil, err
		}
		for _, pos := range positions[m.fp] {
			vectors[pos] = missVectors[i]
		}
	}

	return vectors, nil
}

// embedWithRetry calls the provider with bounded exponential backoff.
// ErrInvalidInput surfaces immediately; only rate-limit and transient
// failures are retried.
func (b *Batcher) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		vectors, err := b.provider.EmbedBatch(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		if errors.Is(err, ErrInvalidInput) {
			return nil, err
		}
		lastErr = err

		if attempt == b.config.MaxAttempts {
			break
		}

		delay := b.config.BackoffBase << (attempt - 1)
		delay += time.Duration(rand.Int63n(int64(delay) / 2))

		b.logger.Warn("provider call failed, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, b.config.MaxAttempts, lastErr)
}

// Model returns the underlying provider's model name.
func (b *Batcher) Model() string {
	return b.provider.Model()
}

// Close closes the underlying provider.
func (b *Batcher) Close() error {
	return b.provider.Close()
}
