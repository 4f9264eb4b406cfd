package llm

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Provider names accepted in LLM_PROVIDER.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderVLLM   = "vllm"
)

// NewFromEnv constructs the backend selected by LLM_PROVIDER
// (default: ollama). The caller owns the client and injects it into
// every component that needs inference; nothing in this package caches
// a process-wide instance.
func NewFromEnv() (Client, error) {
	provider := ProviderFromEnv()
	slog.Info("Selecting LLM provider", "provider", provider)

	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient()
	case ProviderVLLM:
		return NewVLLMClient()
	case ProviderOllama:
		return NewOllamaClient()
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}

// ProviderFromEnv reads LLM_PROVIDER, defaulting to ollama.
func ProviderFromEnv() string {
	provider := strings.ToLower(os.Getenv("LLM_PROVIDER"))
	if provider == "" {
		provider = ProviderOllama
	}
	return provider
}

// IsLocal reports whether the provider is a single-accelerator local
// backend. Local backends require the inference lock during ingestion;
// remote ones get bounded parallelism instead.
func IsLocal(provider string) bool {
	switch provider {
	case ProviderOpenAI, ProviderVLLM:
		return false
	default:
		return true
	}
}
