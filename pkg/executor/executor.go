package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Executor runs external programs. Collaborators that shell out (whisper.cpp,
// osascript, ffmpeg device listing) take one so tests can substitute a fake.
type Executor interface {
	Execute(ctx context.Context, name string, args ...string) (string, error)
	LookPath(name string) (string, error)
}

type implExecutor struct{}

// New creates a new Executor instance
func New() Executor {
	return &implExecutor{}
}

// Execute runs name with args and returns its stdout. Stderr is folded into
// the error so failures are diagnosable from a single log line.
func (e *implExecutor) Execute(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		if len(stderrStr) > 500 {
			stderrStr = stderrStr[len(stderrStr)-500:]
		}
		if stderrStr != "" {
			return "", fmt.Errorf("command '%s' failed: %w\nstderr: %s", name, err, stderrStr)
		}
		return "", fmt.Errorf("command '%s' failed: %w", name, err)
	}

	return stdout.String(), nil
}

func (e *implExecutor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
