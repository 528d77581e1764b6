// Package llm wraps the language-model collaborator: a synchronous call that
// takes an instruction and a text and returns the model's raw reply.
package llm

import (
	"context"
	"fmt"

	"github.com/yegors/nudge/internal/config"
	"github.com/yegors/nudge/pkg/logger"
)

// Request is one completion call
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	// MaxTokens of zero uses the client's configured limit.
	MaxTokens int
}

// Client is the language-model collaborator. Implementations do not retry;
// callers own the retry policy.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// New builds the client for cfg.Provider. The ollama provider talks to
// Ollama's OpenAI-compatible endpoint.
func New(ctx context.Context, cfg config.LLMConfig, log *logger.Logger) (Client, error) {
	switch cfg.Provider {
	case "ollama", "openai":
		return NewOpenAIClient(cfg, log), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
	}
}
