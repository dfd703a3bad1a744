package vectorstore

import (
	. "github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

var _ = Describe("Filter", func() {
	payload := map[string]any{
		"lang":     "en",
		"year":     int64(2023),
		"score":    0.75,
		"archived": false,
	}

	Describe("Matches", func() {
		It("matches exact string values", func() {
			gomega.Expect(And(Eq("lang", "en")).Matches(payload)).To(gomega.BeTrue())
			gomega.Expect(And(Eq("lang", "de")).Matches(payload)).To(gomega.BeFalse())
		})

		It("treats numeric types as equivalent", func() {
			gomega.Expect(And(Eq("year", 2023)).Matches(payload)).To(gomega.BeTrue())
			gomega.Expect(And(Eq("year", float64(2023))).Matches(payload)).To(gomega.BeTrue())
		})

		It("matches bool values", func() {
			gomega.Expect(And(Eq("archived", false)).Matches(payload)).To(gomega.BeTrue())
			gomega.Expect(And(Eq("archived", true)).Matches(payload)).To(gomega.BeFalse())
		})

		It("rejects payloads missing the field", func() {
			gomega.Expect(And(Eq("missing", "x")).Matches(payload)).To(gomega.BeFalse())
		})

		It("matches inclusive numeric ranges", func() {
			gomega.Expect(And(Range("year", 2020, 2023)).Matches(payload)).To(gomega.BeTrue())
			gomega.Expect(And(Range("year", 2024, nil)).Matches(payload)).To(gomega.BeFalse())
			gomega.Expect(And(Range("year", nil, 2022)).Matches(payload)).To(gomega.BeFalse())
		})

		It("leaves nil bounds open", func() {
			gomega.Expect(And(Range("score", nil, nil)).Matches(payload)).To(gomega.BeTrue())
			gomega.Expect(And(Range("score", 0.5, nil)).Matches(payload)).To(gomega.BeTrue())
		})

		It("rejects non-numeric fields for range conditions", func() {
			gomega.Expect(And(Range("lang", 0, 10)).Matches(payload)).To(gomega.BeFalse())
		})

		It("requires every condition in a conjunction", func() {
			both := And(Eq("lang", "en"), Range("year", 2020, 2025))
			gomega.Expect(both.Matches(payload)).To(gomega.BeTrue())

			oneOff := And(Eq("lang", "en"), Range("year", 2024, 2025))
			gomega.Expect(oneOff.Matches(payload)).To(gomega.BeFalse())
		})

		It("matches everything for a nil filter", func() {
			var f *Filter
			gomega.Expect(f.Matches(payload)).To(gomega.BeTrue())
		})
	})

	Describe("Validate", func() {
		It("accepts eq and range conditions", func() {
			gomega.Expect(And(Eq("a", 1), Range("b", 0, 1)).Validate()).To(gomega.Succeed())
		})

		It("rejects unknown operators", func() {
			f := &Filter{Conditions: []Condition{{Field: "a", Op: "gte", Value: 1}}}
			err := f.Validate()
			gomega.Expect(err).To(gomega.HaveOccurred())
			gomega.Expect(err).To(gomega.MatchError(ErrInvalidConfig))
		})

		It("rejects conditions without a field", func() {
			f := &Filter{Conditions: []Condition{{Op: OpEq, Value: 1}}}
			gomega.Expect(f.Validate()).To(gomega.MatchError(ErrInvalidConfig))
		})

		It("accepts a nil filter", func() {
			var f *Filter
			gomega.Expect(f.Validate()).To(gomega.Succeed())
		})
	})
})
