package embeddings_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loomsearch/loom/pkg/embeddings"
)

var _ = Describe("Cache", func() {
	var cache *embeddings.Cache

	fp := embeddings.FingerprintFor("model", "v1", "some text")

	BeforeEach(func() {
		var err error
		cache, err = embeddings.NewCache(4)
		Expect(err).NotTo(HaveOccurred())
	})

	It("misses for unknown fingerprints", func() {
		_, ok := cache.Get(fp)
		Expect(ok).To(BeFalse())
	})

	It("returns stored vectors bit-identically", func() {
		vector := []float32{0.1, 0.2, 0.3}
		Expect(cache.Put(fp, vector)).To(Succeed())

		got, ok := cache.Get(fp)
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(vector))
	})

	It("stores a copy so caller mutation cannot corrupt the entry", func() {
		vector := []float32{0.1, 0.2, 0.3}
		Expect(cache.Put(fp, vector)).To(Succeed())
		vector[0] = 99

		got, _ := cache.Get(fp)
		Expect(got[0]).To(Equal(float32(0.1)))
	})

	It("treats re-putting the same vector as a no-op", func() {
		Expect(cache.Put(fp, []float32{1, 2})).To(Succeed())
		Expect(cache.Put(fp, []float32{1, 2})).To(Succeed())
		Expect(cache.Len()).To(Equal(1))
	})

	It("rejects a different vector for an existing fingerprint", func() {
		Expect(cache.Put(fp, []float32{1, 2})).To(Succeed())
		err := cache.Put(fp, []float32{3, 4})
		Expect(err).To(MatchError(embeddings.ErrFingerprintConflict))
	})

	It("evicts least recently used entries past the size bound", func() {
		for i := 0; i < 6; i++ {
			key := embeddings.FingerprintFor("model", "v1", fmt.Sprintf("text-%d", i))
			Expect(cache.Put(key, []float32{float32(i)})).To(Succeed())
		}
		Expect(cache.Len()).To(Equal(4))

		_, ok := cache.Get(embeddings.FingerprintFor("model", "v1", "text-0"))
		Expect(ok).To(BeFalse())
		_, ok = cache.Get(embeddings.FingerprintFor("model", "v1", "text-5"))
		Expect(ok).To(BeTrue())
	})
})
