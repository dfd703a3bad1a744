package retrieval_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/loomsearch/loom/pkg/embeddings"
	"github.com/loomsearch/loom/pkg/retrieval"
	"github.com/loomsearch/loom/pkg/retrieval/bm25"
	testutils "github.com/loomsearch/loom/pkg/utils/test"
	"github.com/loomsearch/loom/pkg/vectorstore"
	"github.com/loomsearch/loom/pkg/vectorstore/memstore"
)

var _ = Describe("Retriever", func() {
	var (
		store    *memstore.Store
		embedder *embeddings.Batcher
		keyword  *bm25.Index
		ctx      context.Context
	)

	// ingest stores one record per text with the mock provider's
	// deterministic vector and indexes the text for keyword search.
	ingest := func(id, text string) {
		record := vectorstore.Record{
			ID:     id,
			Vector: testutils.DeterministicVector(text, 8),
			Payload: map[string]any{
				vectorstore.PayloadText: text,
			},
		}
		Expect(store.Upsert(ctx, "docs", []vectorstore.Record{record})).To(Succeed())
		keyword.Index(id, text)
	}

	newRetriever := func(cfg retrieval.Config, reranker retrieval.ReRanker) *retrieval.Retriever {
		r, err := retrieval.NewRetriever(store, embedder, keyword, reranker, cfg, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		return r
	}

	resultIDs := func(results []vectorstore.Result) []string {
		out := make([]string, len(results))
		for i, res := range results {
			out[i] = res.ID
		}
		return out
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = memstore.New(zap.NewNop())
		Expect(store.CreateCollection(ctx, vectorstore.Collection{
			Name:      "docs",
			Dimension: 8,
			Metric:    vectorstore.Cosine,
		})).To(Succeed())

		cache, err := embeddings.NewCache(128)
		Expect(err).NotTo(HaveOccurred())
		embedder, err = embeddings.NewBatcher(testutils.NewMockProvider(), cache, embeddings.BatcherConfig{}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		keyword = bm25.NewIndex()
	})

	Describe("NewRetriever", func() {
		It("requires a keyword index when keyword search is on", func() {
			_, err := retrieval.NewRetriever(store, embedder, nil, nil, retrieval.Config{KeywordSearch: true}, zap.NewNop())
			Expect(err).To(HaveOccurred())
		})

		It("allows a nil keyword index when keyword search is off", func() {
			_, err := retrieval.NewRetriever(store, embedder, nil, nil, retrieval.Config{}, zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Search", func() {
		It("rejects empty queries and non-positive k", func() {
			r := newRetriever(retrieval.Config{}, nil)

			_, err := r.Search(ctx, "docs", "", 5, nil)
			Expect(err).To(HaveOccurred())

			_, err = r.Search(ctx, "docs", "query", 0, nil)
			Expect(err).To(HaveOccurred())
		})

		It("retrieves a chunk by its own text as the top result", func() {
			ingest("self", "the quick brown fox jumps over the lazy dog")
			ingest("other", "completely different content about databases")

			r := newRetriever(retrieval.Config{KeywordSearch: true}, nil)
			results, err := r.Search(ctx, "docs", "the quick brown fox jumps over the lazy dog", 1, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].ID).To(Equal("self"))
		})

		It("matches pure dense search exactly when keyword search is off", func() {
			ingest("a", "alpha document about storage engines")
			ingest("b", "beta document about query planners")
			ingest("c", "gamma document about vector indexes")

			query := "vector indexes"
			queryVec := testutils.DeterministicVector(query, 8)
			expected, err := store.Search(ctx, "docs", queryVec, 2, nil)
			Expect(err).NotTo(HaveOccurred())

			r := newRetriever(retrieval.Config{KeywordSearch: false}, nil)
			results, err := r.Search(ctx, "docs", query, 2, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(Equal(expected))
		})

		It("surfaces keyword-only matches the dense leg misses", func() {
			// Vector for "zebra migrations" bears no relation to the
			// query vector, but the text matches the query terms.
			ingest("kw", "zebra migrations handbook")
			ingest("d1", "first filler document")
			ingest("d2", "second filler document")

			r := newRetriever(retrieval.Config{KeywordSearch: true}, nil)
			results, err := r.Search(ctx, "docs", "zebra handbook", 3, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resultIDs(results)).To(ContainElement("kw"))
		})

		It("drops keyword matches whose records are gone from the store", func() {
			ingest("live", "shared topic live")
			keyword.Index("ghost", "shared topic ghost")

			r := newRetriever(retrieval.Config{KeywordSearch: true}, nil)
			results, err := r.Search(ctx, "docs", "shared topic", 5, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resultIDs(results)).NotTo(ContainElement("ghost"))
			Expect(resultIDs(results)).To(ContainElement("live"))
		})

		It("applies payload filters to keyword-only results", func() {
			Expect(store.Upsert(ctx, "docs", []vectorstore.Record{{
				ID:     "filtered",
				Vector: testutils.DeterministicVector("restricted content here", 8),
				Payload: map[string]any{
					vectorstore.PayloadText: "restricted content here",
					"lang":                  "de",
				},
			}})).To(Succeed())
			keyword.Index("filtered", "restricted content here")

			r := newRetriever(retrieval.Config{KeywordSearch: true}, nil)
			filter := vectorstore.And(vectorstore.Eq("lang", "en"))
			results, err := r.Search(ctx, "docs", "restricted content", 5, filter)
			Expect(err).NotTo(HaveOccurred())
			Expect(resultIDs(results)).NotTo(ContainElement("filtered"))
		})

		It("truncates fused results to k", func() {
			ingest("r1", "common theme one")
			ingest("r2", "common theme two")
			ingest("r3", "common theme three")
			ingest("r4", "common theme four")

			r := newRetriever(retrieval.Config{KeywordSearch: true}, nil)
			results, err := r.Search(ctx, "docs", "common theme", 2, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
		})

		It("reranks fused candidates when a reranker is configured", func() {
			ingest("cover", "hybrid retrieval fusion ranking")
			ingest("thin", "retrieval")
			ingest("off", "unrelated material")

			r := newRetriever(retrieval.Config{KeywordSearch: true}, retrieval.NewLexicalReranker())
			results, err := r.Search(ctx, "docs", "hybrid retrieval fusion ranking", 3, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results[0].ID).To(Equal("cover"))
		})

		It("propagates dense search failures", func() {
			faulty := testutils.NewFaultyAdapter(store)
			faulty.FailSearch = true

			r, err := retrieval.NewRetriever(faulty, embedder, keyword, nil, retrieval.Config{KeywordSearch: true}, zap.NewNop())
			Expect(err).NotTo(HaveOccurred())

			_, err = r.Search(ctx, "docs", "anything", 3, nil)
			Expect(err).To(HaveOccurred())
		})
	})
})
