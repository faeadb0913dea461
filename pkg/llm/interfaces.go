// Package llm provides the embedding and chat clients used for semantic matching.
package llm

import (
	"context"
)

// Embedder turns texts into embedding vectors. Implementations return one
// vector per input, in input order.
type Embedder interface {
	CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)

	// EmbeddingModel names the model; it is part of every stored content hash.
	EmbeddingModel() string
}

// ChatClient generates chat completions.
type ChatClient interface {
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error)

	// GetModel returns the configured chat model name.
	GetModel() string
}

// GenerateResponseResult is a completion plus token usage.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Ensure clients implement the interfaces at compile time.
var (
	_ Embedder   = (*Client)(nil)
	_ ChatClient = (*Client)(nil)
	_ ChatClient = (*AnthropicClient)(nil)
)
