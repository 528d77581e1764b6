package transcription

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/yegors/nudge/internal/config"
	"github.com/yegors/nudge/pkg/logger"
)

// OpenAITranscriber posts chunks to an OpenAI-compatible
// /audio/transcriptions endpoint, either OpenAI itself or a local whisper
// server
type OpenAITranscriber struct {
	client   openai.Client
	model    string
	language string
	logger   *logger.Logger
}

func NewOpenAITranscriber(cfg config.TranscriptionConfig, log *logger.Logger) *OpenAITranscriber {
	opts := []option.RequestOption{
		option.WithRequestTimeout(cfg.Timeout()),
		// The sequencer owns retries.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	return &OpenAITranscriber{
		client:   openai.NewClient(opts...),
		model:    cfg.Model,
		language: cfg.Language,
		logger:   log.Named("openai-stt"),
	}
}

func (o *OpenAITranscriber) Name() string { return "openai:" + o.model }

func (o *OpenAITranscriber) Transcribe(ctx context.Context, chunk ChunkAudio) (string, error) {
	f, err := os.Open(chunk.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open chunk %d: %w", chunk.Seq, err)
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(o.model),
	}
	if o.language != "" {
		params.Language = openai.String(o.language)
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcription request failed for chunk %d: %w", chunk.Seq, err)
	}
	return strings.TrimSpace(resp.Text), nil
}
