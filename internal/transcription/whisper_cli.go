package transcription

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yegors/nudge/internal/config"
	"github.com/yegors/nudge/pkg/executor"
	"github.com/yegors/nudge/pkg/logger"
)

// WhisperCLI runs whisper.cpp once per chunk
type WhisperCLI struct {
	binary    string
	modelPath string
	model     string
	language  string
	threads   int
	timeout   time.Duration
	exec      executor.Executor
	logger    *logger.Logger
}

func NewWhisperCLI(cfg config.TranscriptionConfig, exec executor.Executor, log *logger.Logger) *WhisperCLI {
	return &WhisperCLI{
		binary:    cfg.BinaryPath,
		modelPath: cfg.ModelPath,
		model:     cfg.Model,
		language:  cfg.Language,
		threads:   cfg.Threads,
		timeout:   cfg.Timeout(),
		exec:      exec,
		logger:    log.Named("whisper"),
	}
}

func (w *WhisperCLI) Name() string { return "whisper-cli:" + w.model }

func (w *WhisperCLI) args(path string) []string {
	args := []string{"-m", w.modelPath, "-f", path, "-nt", "-np"}
	if w.language != "" {
		args = append(args, "-l", w.language)
	}
	if w.threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.threads))
	}
	return args
}

func (w *WhisperCLI) Transcribe(ctx context.Context, chunk ChunkAudio) (string, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	out, err := w.exec.Execute(ctx, w.binary, w.args(chunk.Path)...)
	if err != nil {
		return "", fmt.Errorf("whisper failed on chunk %d: %w", chunk.Seq, err)
	}
	return cleanWhisperOutput(out), nil
}

// cleanWhisperOutput joins the text lines and drops whisper's non-speech
// markers such as [BLANK_AUDIO].
func cleanWhisperOutput(out string) string {
	var parts []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isNonSpeechMarker(line) {
			continue
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, " ")
}

func isNonSpeechMarker(line string) bool {
	if (strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]")) ||
		(strings.HasPrefix(line, "(") && strings.HasSuffix(line, ")")) {
		return true
	}
	return false
}
