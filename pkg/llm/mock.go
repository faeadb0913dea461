package llm

import (
	"context"
	"sync"
)

// MockLLMClient is a configurable mock implementing both Embedder and
// ChatClient. Set the function fields to control behavior in tests. Call
// counters are safe for concurrent use.
type MockLLMClient struct {
	// GenerateResponseFunc is called when GenerateResponse is invoked.
	// If nil, returns an empty result and nil error.
	GenerateResponseFunc func(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error)

	// CreateEmbeddingsFunc is called when CreateEmbeddings is invoked.
	// If nil, returns one zero-length vector per input.
	CreateEmbeddingsFunc func(ctx context.Context, inputs []string) ([][]float32, error)

	// Model is returned by GetModel. Defaults to "mock-model".
	Model string

	// Embedding is returned by EmbeddingModel. Defaults to "mock-embedding".
	Embedding string

	mu                    sync.Mutex
	generateResponseCalls int
	createEmbeddingsCalls int
	embeddedInputs        []string
}

// NewMockLLMClient creates a new mock with default model names.
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{
		Model:     "mock-model",
		Embedding: "mock-embedding",
	}
}

// GenerateResponse implements ChatClient.
func (m *MockLLMClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error) {
	m.mu.Lock()
	m.generateResponseCalls++
	m.mu.Unlock()

	if m.GenerateResponseFunc != nil {
		return m.GenerateResponseFunc(ctx, prompt, systemMessage, temperature)
	}
	return &GenerateResponseResult{}, nil
}

// CreateEmbeddings implements Embedder.
func (m *MockLLMClient) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	m.mu.Lock()
	m.createEmbeddingsCalls++
	m.embeddedInputs = append(m.embeddedInputs, inputs...)
	m.mu.Unlock()

	if m.CreateEmbeddingsFunc != nil {
		return m.CreateEmbeddingsFunc(ctx, inputs)
	}
	return make([][]float32, len(inputs)), nil
}

// GetModel implements ChatClient.
func (m *MockLLMClient) GetModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// EmbeddingModel implements Embedder.
func (m *MockLLMClient) EmbeddingModel() string {
	if m.Embedding == "" {
		return "mock-embedding"
	}
	return m.Embedding
}

// ChatCalls returns how many times GenerateResponse was called.
func (m *MockLLMClient) ChatCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateResponseCalls
}

// EmbeddingCalls returns how many times CreateEmbeddings was called.
func (m *MockLLMClient) EmbeddingCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createEmbeddingsCalls
}

// EmbeddedInputs returns every text passed to CreateEmbeddings, in call order.
func (m *MockLLMClient) EmbeddedInputs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.embeddedInputs...)
}

// Reset clears all call counters.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateResponseCalls = 0
	m.createEmbeddingsCalls = 0
	m.embeddedInputs = nil
}

var (
	_ Embedder   = (*MockLLMClient)(nil)
	_ ChatClient = (*MockLLMClient)(nil)
)
