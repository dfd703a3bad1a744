package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loomsearch/loom/pkg/embeddings"
	"github.com/loomsearch/loom/pkg/embeddings/ollama"
)

var _ = Describe("Provider", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("NewProvider", func() {
		It("should apply defaults when the config is empty", func() {
			provider, err := ollama.NewProvider(ollama.ProviderConfig{})
			Expect(err).NotTo(HaveOccurred())
			Expect(provider.Model()).To(Equal(ollama.DefaultEmbeddingModel))
			Expect(provider.MaxBatchSize()).To(Equal(ollama.DefaultMaxBatchSize))
		})

		It("should keep the configured model and batch size", func() {
			provider, err := ollama.NewProvider(ollama.ProviderConfig{
				Model:        "all-minilm",
				MaxBatchSize: 16,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(provider.Model()).To(Equal("all-minilm"))
			Expect(provider.MaxBatchSize()).To(Equal(16))
		})
	})

	Describe("EmbedBatch", func() {
		It("should post the model and inputs and return embeddings in order", func() {
			var gotPath atomic.Value
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath.Store(r.URL.Path)

				var req struct {
					Model string   `json:"model"`
					Input []string `json:"input"`
				}
				Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
				Expect(req.Model).To(Equal("nomic-embed-text"))
				Expect(req.Input).To(Equal([]string{"first", "second"}))

				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]any{
					"embeddings": [][]float32{{1, 0}, {0, 1}},
				})
			}))
			defer server.Close()

			provider, err := ollama.NewProvider(ollama.ProviderConfig{BaseURL: server.URL})
			Expect(err).NotTo(HaveOccurred())

			vectors, err := provider.EmbedBatch(ctx, []string{"first", "second"})
			Expect(err).NotTo(HaveOccurred())
			Expect(vectors).To(Equal([][]float32{{1, 0}, {0, 1}}))
			Expect(gotPath.Load()).To(Equal("/api/embed"))
		})

		It("should return nil for empty input without calling the server", func() {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
			}))
			defer server.Close()

			provider, err := ollama.NewProvider(ollama.ProviderConfig{BaseURL: server.URL})
			Expect(err).NotTo(HaveOccurred())

			vectors, err := provider.EmbedBatch(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(vectors).To(BeNil())
			Expect(calls.Load()).To(Equal(int32(0)))
		})

		It("should reject empty texts before sending anything", func() {
			provider, err := ollama.NewProvider(ollama.ProviderConfig{BaseURL: "http://127.0.0.1:1"})
			Expect(err).NotTo(HaveOccurred())

			_, err = provider.EmbedBatch(ctx, []string{"ok", ""})
			Expect(err).To(MatchError(embeddings.ErrInvalidInput))
		})

		It("should map 429 responses to ErrRateLimited", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "slow down", http.StatusTooManyRequests)
			}))
			defer server.Close()

			provider, err := ollama.NewProvider(ollama.ProviderConfig{BaseURL: server.URL})
			Expect(err).NotTo(HaveOccurred())

			_, err = provider.EmbedBatch(ctx, []string{"text"})
			Expect(err).To(MatchError(embeddings.ErrRateLimited))
		})

		It("should surface non-200 responses with their body", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model not found", http.StatusNotFound)
			}))
			defer server.Close()

			provider, err := ollama.NewProvider(ollama.ProviderConfig{BaseURL: server.URL})
			Expect(err).NotTo(HaveOccurred())

			_, err = provider.EmbedBatch(ctx, []string{"text"})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("status 404"))
			Expect(err.Error()).To(ContainSubstring("model not found"))
		})

		It("should error when the embedding count does not match the input count", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{
					"embeddings": [][]float32{{1, 0}},
				})
			}))
			defer server.Close()

			provider, err := ollama.NewProvider(ollama.ProviderConfig{BaseURL: server.URL})
			Expect(err).NotTo(HaveOccurred())

			_, err = provider.EmbedBatch(ctx, []string{"one", "two"})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("1 embeddings for 2 texts"))
		})
	})
})
