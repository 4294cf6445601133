// Package ai holds the HTTP transport adapters the LLM client (C3, see
// internal/llmclient) talks to. The shape is carried over from the teacher's
// internal/ai package almost verbatim: a Message/Provider/Registry trio,
// with OpenRouterProvider and OllamaProvider as concrete adapters. What
// changed is the method signature: the teacher's Provider.Chat returned a
// plain string reply for a chatbot; this Provider.Chat returns a ChatResult
// carrying usage/cost/response-id, because the job pipeline needs those for
// its persisted metrics (spec.md §3, §4.6), and accepts ChatOptions so the
// caller can request (or retract) a strict JSON-schema response format.
package ai

import "context"

// Message is a single chat-style turn.
type Message struct {
	Role    string
	Content string
}

// JSONSchema describes a strict structured-output constraint. Only the
// fields OpenRouter's response_format accepts are modeled.
type JSONSchema struct {
	Name   string
	Strict bool
	Schema map[string]any
}

// ChatOptions configures one call to Provider.Chat.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
	// Schema, when non-nil, asks the provider for a structured-output
	// response constrained to Schema. The LLM client retries without it if
	// the provider rejects the descriptor (spec.md §4.6).
	Schema *JSONSchema
}

// Usage carries the token/cost accounting the job pipeline persists.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             float64
	CostKnown        bool
}

// ChatResult is what Provider.Chat returns on success.
type ChatResult struct {
	Content    string
	Usage      Usage
	ResponseID string
}

// Provider is implemented by each LLM backend.
type Provider interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatResult, error)
}

// CostLookupProvider is an optional capability: providers that only report
// usage after the fact (OpenRouter's "generation details" endpoint) expose
// it so the LLM client can perform the delayed secondary lookup described in
// spec.md §4.6.
type CostLookupProvider interface {
	FetchGenerationCost(ctx context.Context, responseID string) (cost float64, ok bool, err error)
}
