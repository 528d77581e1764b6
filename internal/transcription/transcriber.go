package transcription

import (
	"context"
	"fmt"

	"github.com/yegors/nudge/internal/config"
	"github.com/yegors/nudge/pkg/executor"
	"github.com/yegors/nudge/pkg/logger"
)

// ChunkAudio identifies one persisted chunk to transcribe
type ChunkAudio struct {
	SessionID  string
	Seq        int
	Path       string
	DurationMs int64
}

// Transcriber is the speech-to-text collaborator. Implementations are not
// assumed to be safe for concurrent use; the Sequencer calls one at a time.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk ChunkAudio) (string, error)
	Name() string
}

// New builds the configured backend.
func New(cfg config.TranscriptionConfig, exec executor.Executor, log *logger.Logger) (Transcriber, error) {
	switch cfg.Backend {
	case "whisper-cli":
		return NewWhisperCLI(cfg, exec, log), nil
	case "openai":
		return NewOpenAITranscriber(cfg, log), nil
	default:
		return nil, fmt.Errorf("unsupported transcription backend: %q", cfg.Backend)
	}
}
