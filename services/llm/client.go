package llm

import "context"

// GenerationParams tunes a single generation call. Nil fields fall
// back to backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Client is the standard interface for any LLM backend. Implementations
// are stateless and safe for concurrent use; errors indicate the backend
// is unreachable or returned a malformed response.
type Client interface {
	// Generate produces a completion for prompt under systemPrompt.
	Generate(ctx context.Context, prompt, systemPrompt string, params GenerationParams) (string, error)

	// ModelName reports the backend model identifier for logging.
	ModelName() string
}

// Deterministic returns params pinned to temperature 0. The pipeline
// uses it for every structured-output call (decomposition, predicate
// extraction, audits) where sampling noise only hurts.
func Deterministic() GenerationParams {
	zero := float32(0)
	return GenerationParams{Temperature: &zero}
}
