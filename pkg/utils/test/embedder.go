package testutils

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/loomsearch/loom/pkg/embeddings"
)

// MockProvider is a test embedding provider that returns deterministic
// vectors derived from the input text.
type MockProvider struct {
	mu sync.Mutex

	// Dimension of returned vectors. Defaults to 8.
	Dimension int

	// BatchSize reported by MaxBatchSize. Defaults to 16.
	BatchSize int

	// Embeddings overrides the derived vector for specific texts.
	Embeddings map[string][]float32

	// FailOn causes EmbedBatch to return an error when any input
	// matches.
	FailOn string

	// RateLimitTimes makes the first N calls fail with ErrRateLimited.
	RateLimitTimes int

	// Calls counts EmbedBatch invocations.
	Calls int

	// Embedded accumulates every text passed to EmbedBatch.
	Embedded []string
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		Dimension:  8,
		BatchSize:  16,
		Embeddings: make(map[string][]float32),
	}
}

// DeterministicVector derives a stable vector from text, so tests can
// predict provider output without fixing every expectation by hand.
func DeterministicVector(text string, dimension int) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dimension)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(sum[(i*4)%28:])
		vec[i] = float32(bits%1000)/1000.0 + 0.001
	}
	return vec
}

func (m *MockProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	if m.RateLimitTimes > 0 {
		m.RateLimitTimes--
		return nil, fmt.Errorf("%w: mock rate limit", embeddings.ErrRateLimited)
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if m.FailOn != "" && text == m.FailOn {
			return nil, fmt.Errorf("mock embedding failure for: %s", text)
		}
		m.Embedded = append(m.Embedded, text)
		if vec, ok := m.Embeddings[text]; ok {
			vectors[i] = vec
		} else {
			vectors[i] = DeterministicVector(text, m.Dimension)
		}
	}
	return vectors, nil
}

func (m *MockProvider) Model() string {
	return "mock-embed"
}

func (m *MockProvider) MaxBatchSize() int {
	if m.BatchSize <= 0 {
		return 16
	}
	return m.BatchSize
}

func (m *MockProvider) Close() error {
	return nil
}

var _ embeddings.Provider = (*MockProvider)(nil)
