package core

import "context"

// EmbeddingProvider turns one text into a fixed-length vector.
type EmbeddingProvider interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// LLMProvider answers one prompt; callers parse the text themselves.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}
