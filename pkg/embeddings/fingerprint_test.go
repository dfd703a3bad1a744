package embeddings_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loomsearch/loom/pkg/embeddings"
)

var _ = Describe("FingerprintFor", func() {
	It("is deterministic", func() {
		a := embeddings.FingerprintFor("model", "v1", "hello world")
		b := embeddings.FingerprintFor("model", "v1", "hello world")
		Expect(a).To(Equal(b))
	})

	It("collapses whitespace runs before hashing", func() {
		a := embeddings.FingerprintFor("model", "v1", "hello world")
		b := embeddings.FingerprintFor("model", "v1", "  hello\t\n  world  ")
		Expect(a).To(Equal(b))
	})

	It("changes with the text", func() {
		a := embeddings.FingerprintFor("model", "v1", "hello")
		b := embeddings.FingerprintFor("model", "v1", "goodbye")
		Expect(a).NotTo(Equal(b))
	})

	It("changes with the model", func() {
		a := embeddings.FingerprintFor("model-a", "v1", "hello")
		b := embeddings.FingerprintFor("model-b", "v1", "hello")
		Expect(a).NotTo(Equal(b))
	})

	It("changes with the model version", func() {
		a := embeddings.FingerprintFor("model", "v1", "hello")
		b := embeddings.FingerprintFor("model", "v2", "hello")
		Expect(a).NotTo(Equal(b))
	})
})
