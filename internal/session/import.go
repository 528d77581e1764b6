package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yegors/nudge/internal/audio"
	"github.com/yegors/nudge/pkg/logger"
)

// Import records a WAV file as a session through the same capture path as a
// live recording, then processes it. The title defaults to the file name.
func (m *Manager) Import(ctx context.Context, path, title string) (*ProcessResult, error) {
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	source, err := audio.NewWAVFileSource(path, m.cfg.Audio.FrameMs, m.now().UTC(), m.logger)
	if err != nil {
		return nil, err
	}

	rec, err := m.Start(ctx, StartOptions{Title: title, Source: source})
	if err != nil {
		return nil, err
	}
	log := m.logger.WithSession(rec.ID())
	log.Info("Importing audio file", logger.String("path", path))

	select {
	case <-rec.SourceDone():
	case <-ctx.Done():
	}
	if err := rec.Stop(ctx); err != nil {
		return nil, fmt.Errorf("failed to stop import of %s: %w", path, err)
	}
	if err := source.Err(); err != nil {
		log.Warn("Audio file ended early", logger.Error(err))
	}

	return m.Process(ctx, rec.ID())
}
