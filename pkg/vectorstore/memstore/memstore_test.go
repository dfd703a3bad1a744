package memstore_test

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/loomsearch/loom/pkg/vectorstore"
	"github.com/loomsearch/loom/pkg/vectorstore/memstore"
)

var _ = Describe("Memstore", func() {
	var (
		store *memstore.Store
		ctx   context.Context
	)

	docs := vectorstore.Collection{
		Name:      "docs",
		Dimension: 3,
		Metric:    vectorstore.Cosine,
	}

	record := func(id string, vec []float32, payload map[string]any) vectorstore.Record {
		return vectorstore.Record{ID: id, Vector: vec, Payload: payload}
	}

	BeforeEach(func() {
		store = memstore.New(zap.NewNop())
		ctx = context.Background()
		Expect(store.CreateCollection(ctx, docs)).To(Succeed())
	})

	Describe("CreateCollection", func() {
		It("treats identical re-creation as a no-op", func() {
			Expect(store.CreateCollection(ctx, docs)).To(Succeed())
		})

		It("rejects re-creation with a different dimension", func() {
			conflicting := docs
			conflicting.Dimension = 5
			err := store.CreateCollection(ctx, conflicting)
			Expect(err).To(MatchError(vectorstore.ErrAlreadyExists))
		})

		It("rejects collections without a name or dimension", func() {
			err := store.CreateCollection(ctx, vectorstore.Collection{Name: "bad"})
			Expect(err).To(MatchError(vectorstore.ErrInvalidConfig))
		})
	})

	Describe("Upsert", func() {
		It("stores and retrieves records", func() {
			Expect(store.Upsert(ctx, "docs", []vectorstore.Record{
				record("a", []float32{1, 0, 0}, map[string]any{"text": "alpha"}),
			})).To(Succeed())

			got, err := store.Get(ctx, "docs", []string{"a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].Payload["text"]).To(Equal("alpha"))
		})

		It("replaces the whole record on re-upsert with the same id", func() {
			Expect(store.Upsert(ctx, "docs", []vectorstore.Record{
				record("a", []float32{1, 0, 0}, map[string]any{"text": "old", "extra": true}),
			})).To(Succeed())
			Expect(store.Upsert(ctx, "docs", []vectorstore.Record{
				record("a", []float32{0, 1, 0}, map[string]any{"text": "new"}),
			})).To(Succeed())

			count, err := store.Count(ctx, "docs")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(1)))

			got, err := store.Get(ctx, "docs", []string{"a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(got[0].Payload).NotTo(HaveKey("extra"))
			Expect(got[0].Payload["text"]).To(Equal("new"))
		})

		It("rejects records with the wrong dimension", func() {
			err := store.Upsert(ctx, "docs", []vectorstore.Record{
				record("a", []float32{1, 0}, nil),
			})
			Expect(err).To(MatchError(vectorstore.ErrDimensionMismatch))
		})

		It("fails for unknown collections", func() {
			err := store.Upsert(ctx, "nope", []vectorstore.Record{
				record("a", []float32{1, 0, 0}, nil),
			})
			Expect(err).To(MatchError(vectorstore.ErrCollectionNotFound))
		})
	})

	Describe("Search", func() {
		BeforeEach(func() {
			Expect(store.Upsert(ctx, "docs", []vectorstore.Record{
				record("x", []float32{1, 0, 0}, map[string]any{"lang": "en"}),
				record("y", []float32{0, 1, 0}, map[string]any{"lang": "en"}),
				record("z", []float32{0.9, 0.1, 0}, map[string]any{"lang": "de"}),
			})).To(Succeed())
		})

		It("returns an upserted record as its own nearest neighbour", func() {
			results, err := store.Search(ctx, "docs", []float32{1, 0, 0}, 1, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].ID).To(Equal("x"))
		})

		It("orders results by descending score", func() {
			results, err := store.Search(ctx, "docs", []float32{1, 0, 0}, 3, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(3))
			Expect(results[0].ID).To(Equal("x"))
			Expect(results[1].ID).To(Equal("z"))
			Expect(results[2].ID).To(Equal("y"))
		})

		It("applies filters before scoring", func() {
			results, err := store.Search(ctx, "docs", []float32{1, 0, 0}, 3, vectorstore.And(vectorstore.Eq("lang", "en")))
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].ID).To(Equal("x"))
		})

		It("rejects query vectors with the wrong dimension", func() {
			_, err := store.Search(ctx, "docs", []float32{1, 0}, 3, nil)
			Expect(err).To(MatchError(vectorstore.ErrDimensionMismatch))
		})

		It("rejects invalid filters", func() {
			bad := &vectorstore.Filter{Conditions: []vectorstore.Condition{{Field: "a", Op: "like"}}}
			_, err := store.Search(ctx, "docs", []float32{1, 0, 0}, 3, bad)
			Expect(err).To(MatchError(vectorstore.ErrInvalidConfig))
		})
	})

	Describe("Delete", func() {
		It("removes records and ignores missing ids", func() {
			Expect(store.Upsert(ctx, "docs", []vectorstore.Record{
				record("a", []float32{1, 0, 0}, nil),
			})).To(Succeed())

			Expect(store.Delete(ctx, "docs", []string{"a", "ghost"})).To(Succeed())

			count, err := store.Count(ctx, "docs")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeZero())
		})
	})

	Describe("Scroll", func() {
		BeforeEach(func() {
			records := make([]vectorstore.Record, 0, 25)
			for i := 0; i < 25; i++ {
				records = append(records, record(fmt.Sprintf("doc-%03d", i), []float32{1, 0, 0}, nil))
			}
			Expect(store.Upsert(ctx, "docs", records)).To(Succeed())
		})

		It("pages through every record exactly once in ascending id order", func() {
			seen := []string{}
			cursor := ""
			for {
				records, next, err := store.Scroll(ctx, "docs", cursor, 10)
				Expect(err).NotTo(HaveOccurred())
				for _, rec := range records {
					seen = append(seen, rec.ID)
				}
				if next == "" {
					break
				}
				cursor = next
			}

			Expect(seen).To(HaveLen(25))
			for i := 1; i < len(seen); i++ {
				Expect(seen[i-1] < seen[i]).To(BeTrue())
			}
		})

		It("starts strictly after the cursor", func() {
			records, _, err := store.Scroll(ctx, "docs", "doc-020", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(4))
			Expect(records[0].ID).To(Equal("doc-021"))
		})
	})

	Describe("DropCollection", func() {
		It("removes the collection", func() {
			Expect(store.DropCollection(ctx, "docs")).To(Succeed())
			_, err := store.DescribeCollection(ctx, "docs")
			Expect(err).To(MatchError(vectorstore.ErrCollectionNotFound))
		})

		It("fails for unknown collections", func() {
			Expect(store.DropCollection(ctx, "nope")).To(MatchError(vectorstore.ErrCollectionNotFound))
		})
	})

	Describe("Capabilities", func() {
		It("reports exact, natively filtered search", func() {
			caps := store.Capabilities()
			Expect(caps.Name).To(Equal("memstore"))
			Expect(caps.NativeFilter).To(BeTrue())
			Expect(caps.ApproximateIndex).To(BeFalse())
		})
	})
})
