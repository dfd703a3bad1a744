// Package openai implements pkg/embeddings' Provider client for OpenAI's embedding API
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loomsearch/loom/pkg/embeddings"
)

const (
	// DefaultEmbeddingModel is the default model used for embeddings.
	DefaultEmbeddingModel = "text-embedding-3-small"

	// DefaultBaseURL is the default OpenAI API URL. Point it at an
	// Azure OpenAI or compatible endpoint to use those instead.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultMaxBatchSize bounds texts per /embeddings call. OpenAI
	// accepts up to 2048 inputs; this stays well under token limits.
	DefaultMaxBatchSize = 256
)

// Provider wraps OpenAI's embedding API.
type Provider struct {
	baseURL      string
	apiKey       string
	model        string
	maxBatchSize int
	httpClient   *http.Client
}

// ProviderConfig holds configuration for the OpenAI provider. The API
// key always arrives from the caller (sourced from the environment),
// never from persisted configuration.
type ProviderConfig struct {
	// APIKey is the OpenAI API key. Required.
	APIKey string

	// BaseURL is the API base URL. Defaults to DefaultBaseURL.
	BaseURL string

	// Model is the embedding model to use. Defaults to DefaultEmbeddingModel.
	Model string

	// MaxBatchSize bounds texts per request. Defaults to DefaultMaxBatchSize.
	MaxBatchSize int
}

// embedRequest is the request body for OpenAI's embedding API.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the response from OpenAI's embedding API.
type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewProvider creates a new provider using OpenAI's embedding API.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}

	maxBatchSize := cfg.MaxBatchSize
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}

	return &Provider{
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		model:        model,
		maxBatchSize: maxBatchSize,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

// EmbedBatch converts texts into vector embeddings, one per input, in order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("%w: empty text", embeddings.ErrInvalidInput)
		}
	}

	reqBody := embedRequest{
		Model: p.model,
		Input: texts,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: openai returned status %d", embeddings.ErrRateLimited, resp.StatusCode)
	}

	var embedResp embedResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if embedResp.Error != nil {
		return nil, fmt.Errorf("openai error: %s", embedResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(body))
	}
	if len(embedResp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts", len(embedResp.Data), len(texts))
	}

	// The API may return data out of order; index restores it.
	vectors := make([][]float32, len(texts))
	for _, data := range embedResp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("openai returned out-of-range index %d", data.Index)
		}
		vectors[data.Index] = data.Embedding
	}

	return vectors, nil
}

// Model returns the configured model name.
func (p *Provider) Model() string {
	return p.model
}

// MaxBatchSize returns the largest batch one request may carry.
func (p *Provider) MaxBatchSize() int {
	return p.maxBatchSize
}

// Close releases resources held by the provider.
func (p *Provider) Close() error {
	// HTTP client doesn't require explicit cleanup
	return nil
}

// Ensure Provider implements embeddings.Provider
var _ embeddings.Provider = (*Provider)(nil)
