package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/yegors/nudge/internal/config"
	"github.com/yegors/nudge/pkg/logger"
)

// OpenAIClient calls a chat-completions endpoint: OpenAI itself, or Ollama's
// /v1 compatibility layer
type OpenAIClient struct {
	client    openai.Client
	provider  string
	model     string
	maxTokens int
	logger    *logger.Logger
}

func NewOpenAIClient(cfg config.LLMConfig, log *logger.Logger) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithRequestTimeout(cfg.Timeout()),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	return &OpenAIClient{
		client:    openai.NewClient(opts...),
		provider:  cfg.Provider,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    log.Named("llm"),
	}
}

func (c *OpenAIClient) Name() string { return c.provider + ":" + c.model }

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	c.logger.Debug("Chat completion",
		logger.String("model", c.model),
		logger.Int64("prompt_tokens", resp.Usage.PromptTokens),
		logger.Int64("completion_tokens", resp.Usage.CompletionTokens))

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Models lists the model ids the endpoint serves.
func (c *OpenAIClient) Models(ctx context.Context) ([]string, error) {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
