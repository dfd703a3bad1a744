package retrieval_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loomsearch/loom/pkg/retrieval"
)

var _ = Describe("FuseRRF", func() {
	ids := func(fused []retrieval.FusedResult) []string {
		out := make([]string, len(fused))
		for i, f := range fused {
			out[i] = f.ID
		}
		return out
	}

	It("fuses two overlapping rankings by reciprocal rank", func() {
		dense := []string{"A", "B", "C"}
		sparse := []string{"B", "A", "D"}

		fused := retrieval.FuseRRF([][]string{dense, sparse}, 60)

		// A and B both score 1/61 + 1/62; their tie breaks by best
		// rank (both 1) and then by id. C and D each score 1/63.
		Expect(ids(fused)).To(Equal([]string{"A", "B", "C", "D"}))

		Expect(fused[0].Score).To(Equal(fused[1].Score))
		Expect(fused[0].Score).To(BeNumerically("~", 1.0/61+1.0/62, 1e-12))
		Expect(fused[2].Score).To(BeNumerically("~", 1.0/63, 1e-12))
	})

	It("ranks ids appearing in both lists above single-list ids of the same depth", func() {
		fused := retrieval.FuseRRF([][]string{{"X", "Y"}, {"X", "Z"}}, 60)
		Expect(ids(fused)[0]).To(Equal("X"))
	})

	It("breaks score ties by best rank before id", func() {
		// P holds rank 1 in one list; Q holds rank 1 in none.
		fused := retrieval.FuseRRF([][]string{{"Q", "P"}, {"P", "Q"}}, 60)
		Expect(fused[0].Score).To(Equal(fused[1].Score))
		Expect(fused[0].BestRank).To(Equal(1))
		Expect(fused[1].BestRank).To(Equal(1))
		// Equal best ranks fall through to ascending id.
		Expect(ids(fused)).To(Equal([]string{"P", "Q"}))
	})

	It("handles an empty list pair", func() {
		Expect(retrieval.FuseRRF([][]string{{}, {}}, 60)).To(BeEmpty())
	})

	It("fuses a single list into its own order", func() {
		fused := retrieval.FuseRRF([][]string{{"a", "b", "c"}}, 60)
		Expect(ids(fused)).To(Equal([]string{"a", "b", "c"}))
	})

	It("applies the default constant when given a non-positive one", func() {
		fused := retrieval.FuseRRF([][]string{{"a"}}, 0)
		Expect(fused[0].Score).To(BeNumerically("~", 1.0/(1+retrieval.DefaultRRFConstant), 1e-12))
	})
})
