package retrieval_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loomsearch/loom/pkg/retrieval"
)

var _ = Describe("LexicalReranker", func() {
	var (
		reranker *retrieval.LexicalReranker
		ctx      context.Context
	)

	cand := func(id, text string) retrieval.Candidate {
		return retrieval.Candidate{ID: id, Text: text}
	}

	ids := func(candidates []retrieval.Candidate) []string {
		out := make([]string, len(candidates))
		for i, c := range candidates {
			out[i] = c.ID
		}
		return out
	}

	BeforeEach(func() {
		reranker = retrieval.NewLexicalReranker()
		ctx = context.Background()
	})

	It("promotes candidates covering more query terms", func() {
		reordered, err := reranker.Rerank(ctx, "vector search engine", []retrieval.Candidate{
			cand("none", "cooking recipes"),
			cand("partial", "a search tool"),
			cand("full", "vector search engine internals"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(reordered)).To(Equal([]string{"full", "partial", "none"}))
	})

	It("preserves the incoming order for equally scored candidates", func() {
		reordered, err := reranker.Rerank(ctx, "database", []retrieval.Candidate{
			cand("first", "nothing relevant"),
			cand("second", "also nothing"),
			cand("third", "still nothing"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(reordered)).To(Equal([]string{"first", "second", "third"}))
	})

	It("returns candidates unchanged for a query with no usable terms", func() {
		input := []retrieval.Candidate{cand("a", "text"), cand("b", "more text")}
		reordered, err := reranker.Rerank(ctx, "!!! ...", input)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(reordered)).To(Equal([]string{"a", "b"}))
	})

	It("returns the same candidate set, only reordered", func() {
		input := []retrieval.Candidate{
			cand("x", "search"),
			cand("y", "unrelated"),
		}
		reordered, err := reranker.Rerank(ctx, "search", input)
		Expect(err).NotTo(HaveOccurred())
		Expect(reordered).To(HaveLen(len(input)))
		Expect(ids(reordered)).To(ConsistOf("x", "y"))
	})

	It("matches terms case-insensitively", func() {
		reordered, err := reranker.Rerank(ctx, "Vector", []retrieval.Candidate{
			cand("miss", "nothing"),
			cand("hit", "VECTOR stores"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(reordered[0].ID).To(Equal("hit"))
	})
})
