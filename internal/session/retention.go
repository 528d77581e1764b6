package session

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/pkg/logger"
)

// CleanupResult reports a retention pass. Chunks lists what was (or, on a
// dry run, would be) deleted.
type CleanupResult struct {
	Cutoff   time.Time
	Sessions int
	Files    int
	Bytes    int64
	DryRun   bool
	Chunks   []*sqlite.ChunkRecord
}

// Cleanup deletes chunk audio of finished sessions created more than days
// ago. Transcripts, notes and action items are kept. days <= 0 does nothing.
func (m *Manager) Cleanup(ctx context.Context, days int, dryRun bool) (*CleanupResult, error) {
	res := &CleanupResult{DryRun: dryRun}
	if days <= 0 {
		return res, nil
	}
	res.Cutoff = m.now().UTC().AddDate(0, 0, -days)

	chunks, err := m.store.ChunksForCleanup(res.Cutoff)
	if err != nil {
		return nil, err
	}

	sessions := make(map[string]struct{})
	deletedAt := m.now().UTC()
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var size int64
		if info, err := os.Stat(c.Path); err == nil {
			size = info.Size()
		}

		if !dryRun {
			if err := os.Remove(c.Path); err != nil && !os.IsNotExist(err) {
				m.logger.Warn("Failed to delete chunk audio",
					logger.SessionID(c.SessionID), logger.Seq(c.Seq), logger.Error(err))
				continue
			}
			if err := m.store.MarkChunkDeleted(c.SessionID, c.Seq, deletedAt); err != nil {
				return res, fmt.Errorf("failed to record deletion: %w", err)
			}
		}

		sessions[c.SessionID] = struct{}{}
		res.Files++
		res.Bytes += size
		res.Chunks = append(res.Chunks, c)
	}
	res.Sessions = len(sessions)

	m.logger.Info("Audio retention pass finished",
		logger.Int("days", days),
		logger.Bool("dry_run", dryRun),
		logger.Int("sessions", res.Sessions),
		logger.Int("files", res.Files),
		logger.Int64("bytes", res.Bytes))
	return res, nil
}
