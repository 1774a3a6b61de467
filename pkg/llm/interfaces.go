// Package llm provides the chat-completion clients behind semantic
// extraction: an OpenAI-compatible client and an Anthropic client.
package llm

import (
	"context"
)

// LLMClient is the narrow interface the extraction adapter depends on.
// Use it for dependency injection so tests can substitute MockLLMClient.
type LLMClient interface {
	// GenerateResponse sends one system+user exchange and returns the reply.
	// thinking toggles reasoning mode on models that support it.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64, thinking bool) (*GenerateResponseResult, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// GenerateResponseResult is a completion plus token usage.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

var (
	_ LLMClient = (*Client)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
)
