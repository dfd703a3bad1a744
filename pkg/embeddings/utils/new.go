// Package embeddingutils is the embeddings utility package
package embeddingutils

import (
	"fmt"
	"os"

	"github.com/loomsearch/loom/pkg/embeddings"
	"github.com/loomsearch/loom/pkg/embeddings/ollama"
	"github.com/loomsearch/loom/pkg/embeddings/openai"
)

// EnvOpenAIAPIKey names the environment variable carrying the OpenAI
// API key. Secrets arrive only through the environment.
const EnvOpenAIAPIKey = "LOOM_EMBED_OPENAI_API_KEY"

type NewProviderOpts struct {
	ProviderType string
	TargetURL    string
	Model        string
	MaxBatchSize int
}

func NewProvider(o *NewProviderOpts) (embeddings.Provider, error) {
	switch o.ProviderType {
	case "ollama":
		return ollama.NewProvider(ollama.ProviderConfig{
			BaseURL:      o.TargetURL,
			Model:        o.Model,
			MaxBatchSize: o.MaxBatchSize,
		})
	case "openai":
		return openai.NewProvider(openai.ProviderConfig{
			APIKey:       os.Getenv(EnvOpenAIAPIKey),
			BaseURL:      o.TargetURL,
			Model:        o.Model,
			MaxBatchSize: o.MaxBatchSize,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", o.ProviderType)
	}
}
