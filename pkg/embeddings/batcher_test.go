package embeddings_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/loomsearch/loom/pkg/embeddings"
	testutils "github.com/loomsearch/loom/pkg/utils/test"
)

var _ = Describe("Batcher", func() {
	var (
		provider *testutils.MockProvider
		cache    *embeddings.Cache
		ctx      context.Context
	)

	newBatcher := func(config embeddings.BatcherConfig) *embeddings.Batcher {
		batcher, err := embeddings.NewBatcher(provider, cache, config, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		return batcher
	}

	chunk := func(id, text string) embeddings.Chunk {
		return embeddings.Chunk{ID: id, Text: text}
	}

	BeforeEach(func() {
		provider = testutils.NewMockProvider()
		var err error
		cache, err = embeddings.NewCache(128)
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	It("requires a provider and a cache", func() {
		_, err := embeddings.NewBatcher(nil, cache, embeddings.BatcherConfig{}, zap.NewNop())
		Expect(err).To(HaveOccurred())

		_, err = embeddings.NewBatcher(provider, nil, embeddings.BatcherConfig{}, zap.NewNop())
		Expect(err).To(HaveOccurred())
	})

	It("returns one vector per chunk in input order", func() {
		batcher := newBatcher(embeddings.BatcherConfig{})

		vectors, err := batcher.Embed(ctx, []embeddings.Chunk{
			chunk("1", "first"),
			chunk("2", "second"),
			chunk("3", "third"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(vectors).To(HaveLen(3))
		Expect(vectors[0]).To(Equal(testutils.DeterministicVector("first", 8)))
		Expect(vectors[1]).To(Equal(testutils.DeterministicVector("second", 8)))
		Expect(vectors[2]).To(Equal(testutils.DeterministicVector("third", 8)))
	})

	It("returns nothing for an empty input", func() {
		batcher := newBatcher(embeddings.BatcherConfig{})
		vectors, err := batcher.Embed(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(vectors).To(BeEmpty())
	})

	It("serves repeat texts from the cache bit-identically", func() {
		batcher := newBatcher(embeddings.BatcherConfig{})

		first, err := batcher.Embed(ctx, []embeddings.Chunk{chunk("1", "repeated text")})
		Expect(err).NotTo(HaveOccurred())

		second, err := batcher.Embed(ctx, []embeddings.Chunk{chunk("2", "repeated text")})
		Expect(err).NotTo(HaveOccurred())

		Expect(second[0]).To(Equal(first[0]))
		Expect(provider.Calls).To(Equal(1))
	})

	It("embeds each distinct text at most once per call", func() {
		batcher := newBatcher(embeddings.BatcherConfig{})

		vectors, err := batcher.Embed(ctx, []embeddings.Chunk{
			chunk("1", "same"),
			chunk("2", "same"),
			chunk("3", "other"),
			chunk("4", "same"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(vectors[0]).To(Equal(vectors[1]))
		Expect(vectors[1]).To(Equal(vectors[3]))
		Expect(provider.Embedded).To(ConsistOf("same", "other"))
	})

	It("treats whitespace variants as the same cached content", func() {
		batcher := newBatcher(embeddings.BatcherConfig{})

		_, err := batcher.Embed(ctx, []embeddings.Chunk{chunk("1", "hello world")})
		Expect(err).NotTo(HaveOccurred())

		_, err = batcher.Embed(ctx, []embeddings.Chunk{chunk("2", "  hello   world ")})
		Expect(err).NotTo(HaveOccurred())

		Expect(provider.Calls).To(Equal(1))
	})

	It("splits misses into provider-sized batches", func() {
		provider.BatchSize = 2
		batcher := newBatcher(embeddings.BatcherConfig{Parallelism: 1})

		_, err := batcher.Embed(ctx, []embeddings.Chunk{
			chunk("1", "a1"), chunk("2", "a2"), chunk("3", "a3"),
			chunk("4", "a4"), chunk("5", "a5"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(provider.Calls).To(Equal(3))
		Expect(provider.Embedded).To(HaveLen(5))
	})

	It("retries rate-limited batches with backoff and then succeeds", func() {
		provider.RateLimitTimes = 2
		batcher := newBatcher(embeddings.BatcherConfig{
			MaxAttempts: 5,
			BackoffBase: time.Millisecond,
		})

		vectors, err := batcher.Embed(ctx, []embeddings.Chunk{chunk("1", "eventually")})
		Expect(err).NotTo(HaveOccurred())
		Expect(vectors[0]).To(Equal(testutils.DeterministicVector("eventually", 8)))
		Expect(provider.Calls).To(Equal(3))
	})

	It("fails with ErrRetryExhausted when every attempt is rate limited", func() {
		provider.RateLimitTimes = 100
		batcher := newBatcher(embeddings.BatcherConfig{
			MaxAttempts: 3,
			BackoffBase: time.Millisecond,
		})

		_, err := batcher.Embed(ctx, []embeddings.Chunk{chunk("1", "never")})
		Expect(err).To(MatchError(embeddings.ErrRetryExhausted))
		Expect(provider.Calls).To(Equal(3))
	})

	It("does not cache anything when a batch fails", func() {
		provider.RateLimitTimes = 100
		batcher := newBatcher(embeddings.BatcherConfig{
			MaxAttempts: 2,
			BackoffBase: time.Millisecond,
		})

		_, err := batcher.Embed(ctx, []embeddings.Chunk{chunk("1", "doomed")})
		Expect(err).To(HaveOccurred())
		Expect(cache.Len()).To(BeZero())
	})

	It("surfaces invalid input immediately without retrying", func() {
		invalid := testutils.NewMockProvider()
		failing, err := embeddings.NewBatcher(&invalidInputProvider{MockProvider: invalid}, cache, embeddings.BatcherConfig{
			MaxAttempts: 5,
			BackoffBase: time.Millisecond,
		}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		_, err = failing.Embed(ctx, []embeddings.Chunk{chunk("1", "anything")})
		Expect(err).To(MatchError(embeddings.ErrInvalidInput))
		Expect(invalid.Calls).To(BeZero())
	})

	It("exposes the provider model name", func() {
		batcher := newBatcher(embeddings.BatcherConfig{})
		Expect(batcher.Model()).To(Equal("mock-embed"))
	})
})

// invalidInputProvider rejects every batch as invalid input.
type invalidInputProvider struct {
	*testutils.MockProvider
}

func (p *invalidInputProvider) EmbedBatch(_ context.Context, _ []string) ([][]float32, error) {
	return nil, embeddings.ErrInvalidInput
}
