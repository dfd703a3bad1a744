package ingest_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/loomsearch/loom/pkg/embeddings"
	"github.com/loomsearch/loom/pkg/ingest"
	"github.com/loomsearch/loom/pkg/retrieval/bm25"
	testutils "github.com/loomsearch/loom/pkg/utils/test"
	"github.com/loomsearch/loom/pkg/vectorstore"
	"github.com/loomsearch/loom/pkg/vectorstore/memstore"
)

func newTestBatcher() *embeddings.Batcher {
	cache, err := embeddings.NewCache(128)
	Expect(err).NotTo(HaveOccurred())
	batcher, err := embeddings.NewBatcher(testutils.NewMockProvider(), cache, embeddings.BatcherConfig{}, zap.NewNop())
	Expect(err).NotTo(HaveOccurred())
	return batcher
}

var _ = Describe("Pipeline", func() {
	var (
		store     *memstore.Store
		keyword   *bm25.Index
		publisher *testutils.MockPublisher
		pipeline  *ingest.Pipeline
		ctx       context.Context
	)

	chunks := []embeddings.Chunk{
		{
			ID:               "doc-a-0",
			Text:             "loom weaves dense and sparse retrieval",
			SourceDocumentID: "doc-a",
			Position:         0,
			Metadata:         map[string]any{"lang": "en"},
		},
		{
			ID:               "doc-a-1",
			Text:             "collections migrate between backends",
			SourceDocumentID: "doc-a",
			Position:         1,
		},
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = memstore.New(zap.NewNop())
		Expect(store.CreateCollection(ctx, vectorstore.Collection{
			Name:      "docs",
			Dimension: 8,
			Metric:    vectorstore.Cosine,
		})).To(Succeed())

		keyword = bm25.NewIndex()
		publisher = testutils.NewMockPublisher()

		var err error
		pipeline, err = ingest.NewPipeline(newTestBatcher(), store, keyword, publisher, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Ingest", func() {
		It("stores one record per chunk with text and provenance in the payload", func() {
			Expect(pipeline.Ingest(ctx, "docs", chunks)).To(Succeed())

			records, err := store.Get(ctx, "docs", []string{"doc-a-0", "doc-a-1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))

			Expect(records[0].Payload[vectorstore.PayloadText]).To(Equal(chunks[0].Text))
			Expect(records[0].Payload[ingest.PayloadSourceDocument]).To(Equal("doc-a"))
			Expect(records[0].Payload[ingest.PayloadPosition]).To(Equal(0))
			Expect(records[0].Payload["lang"]).To(Equal("en"))

			Expect(records[1].Payload[ingest.PayloadPosition]).To(Equal(1))
		})

		It("updates the keyword index in the same call", func() {
			Expect(pipeline.Ingest(ctx, "docs", chunks)).To(Succeed())

			Expect(keyword.Len()).To(Equal(2))
			matches := keyword.Search("sparse retrieval", 5)
			Expect(matches).NotTo(BeEmpty())
			Expect(matches[0].ID).To(Equal("doc-a-0"))
		})

		It("publishes a chunks-ingested event", func() {
			Expect(pipeline.Ingest(ctx, "docs", chunks)).To(Succeed())

			Expect(publisher.IngestEvents).To(HaveLen(1))
			event := publisher.IngestEvents[0]
			Expect(event.Collection).To(Equal("docs"))
			Expect(event.ChunkCount).To(Equal(2))
			Expect(event.Model).To(Equal("mock-embed"))
		})

		It("succeeds even when the event publish fails", func() {
			publisher.FailPublish = true
			Expect(pipeline.Ingest(ctx, "docs", chunks)).To(Succeed())

			count, err := store.Count(ctx, "docs")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(2)))
		})

		It("is a no-op for zero chunks", func() {
			Expect(pipeline.Ingest(ctx, "docs", nil)).To(Succeed())
			Expect(publisher.IngestEvents).To(BeEmpty())
		})

		It("fails when the collection does not exist", func() {
			err := pipeline.Ingest(ctx, "missing", chunks)
			Expect(err).To(MatchError(vectorstore.ErrCollectionNotFound))
		})

		It("does not index keywords when the upsert fails", func() {
			err := pipeline.Ingest(ctx, "missing", chunks)
			Expect(err).To(HaveOccurred())
			Expect(keyword.Len()).To(BeZero())
		})
	})

	Describe("Delete", func() {
		It("removes records and keyword entries together", func() {
			Expect(pipeline.Ingest(ctx, "docs", chunks)).To(Succeed())
			Expect(pipeline.Delete(ctx, "docs", []string{"doc-a-0"})).To(Succeed())

			count, err := store.Count(ctx, "docs")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(1)))
			Expect(keyword.Len()).To(Equal(1))
		})
	})
})
