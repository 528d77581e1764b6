package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/yegors/nudge/internal/audio"
	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/internal/transcription"
	"github.com/yegors/nudge/pkg/logger"
)

var chunkFileRe = regexp.MustCompile(`^chunk_(\d{4,})\.wav$`)

// processAlive reports whether pid names a running process.
var processAlive = func(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, os.ErrPermission)
}

// DetectCrashed marks recording and stopping sessions whose owner process is
// gone as crashed and returns them. Unreadable session records are marked
// failed first.
func (m *Manager) DetectCrashed(ctx context.Context) ([]*sqlite.SessionRecord, error) {
	if _, err := m.failCorrupt(); err != nil {
		return nil, err
	}
	open, err := m.store.ListSessions(sqlite.SessionFilter{
		States: []sqlite.SessionState{sqlite.StateRecording, sqlite.StateStopping},
	})
	if err != nil {
		return nil, err
	}

	var crashed []*sqlite.SessionRecord
	for _, s := range open {
		if err := ctx.Err(); err != nil {
			return crashed, err
		}
		if m.owns(s) {
			continue
		}
		if err := transition(m.store, m.metrics, s.ID, sqlite.StateCrashed); err != nil {
			if errors.Is(err, errs.ErrInvalidTransition) {
				continue
			}
			return crashed, err
		}
		m.logger.Warn("Detected crashed session",
			logger.SessionID(s.ID),
			logger.String("was", string(s.State)),
			logger.Int("owner_pid", s.OwnerPID))
		s.State = sqlite.StateCrashed
		crashed = append(crashed, s)
	}
	return crashed, nil
}

// failCorrupt marks every unreadable session record failed, keeping the
// reason in last_error, and returns what it found.
func (m *Manager) failCorrupt() ([]*errs.CorruptStateError, error) {
	corrupt, err := m.store.CorruptSessions()
	if err != nil {
		return nil, err
	}
	for _, c := range corrupt {
		m.logger.Error("Session state is corrupt", logger.SessionID(c.SessionID), logger.Error(c))
		if err := m.store.FailCorruptSession(c.SessionID, c.Error()); err != nil {
			return corrupt, err
		}
		m.metrics.Transition(string(sqlite.StateFailed))
	}
	return corrupt, nil
}

// owns reports whether a live process still holds s.
func (m *Manager) owns(s *sqlite.SessionRecord) bool {
	if s.OwnerPID == m.pid {
		active := m.Active()
		return active != nil && active.ID() == s.ID
	}
	return processAlive(s.OwnerPID)
}

// RecoverResult describes one recovered session
type RecoverResult struct {
	Session   *sqlite.SessionRecord
	Chunks    int
	Adopted   int
	Removed   int
	Processed *ProcessResult
}

// Recover re-enters a crashed session at stopping, reconciles its chunk
// files with the store, transcribes every persisted chunk that has no
// segment and leaves it stopped. With process set it then runs Process.
// A stale processing session is resumed directly.
func (m *Manager) Recover(ctx context.Context, id string, process bool) (*RecoverResult, error) {
	if _, err := m.DetectCrashed(ctx); err != nil {
		return nil, err
	}
	s, err := m.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	log := m.logger.WithSession(s.ID)
	res := &RecoverResult{Session: s}

	switch s.State {
	case sqlite.StateCrashed:
		if err := transition(m.store, m.metrics, s.ID, sqlite.StateStopping); err != nil {
			return nil, err
		}
		s.State = sqlite.StateStopping
	case sqlite.StateStopped, sqlite.StateProcessing:
		if process {
			p, err := m.Process(ctx, s.ID)
			res.Processed = p
			return res, err
		}
		return res, nil
	case sqlite.StateRecording, sqlite.StateStopping:
		return nil, fmt.Errorf("session %s is still owned by pid %d", s.ID, s.OwnerPID)
	default:
		return nil, fmt.Errorf("%w: cannot recover a %s session", errs.ErrInvalidTransition, s.State)
	}

	log.Info("Recovering session", logger.String("dir", s.AudioDir))

	if err := m.reconcile(s, res, log); err != nil {
		var corrupt *errs.CorruptStateError
		if errors.As(err, &corrupt) {
			s.LastError = corrupt.Error()
			if uerr := m.store.UpdateSession(s); uerr != nil {
				log.Error("Failed to record recovery error", logger.Error(uerr))
			}
			if terr := transition(m.store, m.metrics, s.ID, sqlite.StateFailed); terr != nil {
				log.Error("Failed to mark session failed", logger.Error(terr))
			}
			log.Error("Session state is corrupt", logger.Error(err))
		}
		return res, err
	}

	seq := transcription.NewSequencer(transcription.SequencerConfig{
		SessionID: s.ID,
		Retry:     m.transcriptionRetry(),
		QueueSize: m.cfg.Transcription.QueueSize,
	}, m.store, m.transcriber, nil, m.metrics, m.logger)
	if err := seq.Start(ctx); err != nil {
		return res, err
	}
	seq.Finish(res.Chunks)
	if err := seq.Wait(); err != nil {
		return res, fmt.Errorf("failed to transcribe recovered chunks: %w", err)
	}

	chunks, err := m.store.ListChunks(s.ID)
	if err != nil {
		return res, err
	}
	var durationMs int64
	stoppedAt := s.CreatedAt
	for _, c := range chunks {
		durationMs += c.DurationMs
		if end := c.CapturedAt.Add(time.Duration(c.DurationMs) * time.Millisecond); end.After(stoppedAt) {
			stoppedAt = end
		}
	}
	s.DurationMs = durationMs
	s.StoppedAt = &stoppedAt
	s.OwnerPID = m.pid
	if err := m.store.UpdateSession(s); err != nil {
		return res, err
	}
	if err := transition(m.store, m.metrics, s.ID, sqlite.StateStopped); err != nil {
		return res, err
	}
	s.State = sqlite.StateStopped

	log.Info("Session recovered",
		logger.Int("chunks", res.Chunks),
		logger.Int("adopted", res.Adopted),
		logger.Int("removed", res.Removed))

	if process {
		p, err := m.Process(ctx, s.ID)
		res.Processed = p
		if p != nil {
			res.Session = p.Session
		}
		return res, err
	}
	return res, nil
}

// RecoverAll recovers every crashed session and resumes stale processing.
// Unreadable sessions are marked failed and reported in the returned error.
func (m *Manager) RecoverAll(ctx context.Context, process bool) ([]*RecoverResult, error) {
	corrupt, err := m.failCorrupt()
	if err != nil {
		return nil, err
	}
	if _, err := m.DetectCrashed(ctx); err != nil {
		return nil, err
	}
	pending, err := m.store.ListSessions(sqlite.SessionFilter{
		States: []sqlite.SessionState{sqlite.StateCrashed, sqlite.StateProcessing},
	})
	if err != nil {
		return nil, err
	}

	var (
		results []*RecoverResult
		failed  []error
	)
	for _, c := range corrupt {
		failed = append(failed, c)
	}
	// Oldest first.
	for i := len(pending) - 1; i >= 0; i-- {
		s := pending[i]
		if s.State == sqlite.StateProcessing && (s.OwnerPID == m.pid || processAlive(s.OwnerPID)) {
			continue
		}
		res, err := m.Recover(ctx, s.ID, process)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			if isCancel(err) {
				return results, err
			}
			failed = append(failed, fmt.Errorf("%s: %w", s.ID, err))
		}
	}
	return results, errors.Join(failed...)
}

// reconcile makes the chunk rows match the files on disk: temp files are
// removed, complete files without a persisted row are adopted and rows
// whose file is gone are deleted. The surviving sequence must be gap-free.
func (m *Manager) reconcile(s *sqlite.SessionRecord, res *RecoverResult, log *logger.Logger) error {
	rows, err := m.store.ListChunks(s.ID)
	if err != nil {
		return err
	}
	bySeq := make(map[int]*sqlite.ChunkRecord, len(rows))
	for _, r := range rows {
		bySeq[r.Seq] = r
	}

	entries, err := os.ReadDir(s.AudioDir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read session audio directory: %w", err)
	}

	onDisk := make(map[int]*audio.WAVHeader)
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(s.AudioDir, name)
		if strings.HasSuffix(name, ".tmp") {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove partial chunk: %w", err)
			}
			log.Info("Removed partial chunk", logger.String("file", name))
			continue
		}
		match := chunkFileRe.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		seq, _ := strconv.Atoi(match[1])
		header, err := audio.ValidateWAVFile(path)
		if err != nil {
			log.Warn("Ignoring unreadable chunk file", logger.String("file", name), logger.Error(err))
			continue
		}
		onDisk[seq] = header
	}

	for _, r := range rows {
		if r.DeletedAt != nil {
			continue
		}
		if _, ok := onDisk[r.Seq]; ok {
			continue
		}
		if err := m.store.DeleteChunk(s.ID, r.Seq); err != nil {
			return err
		}
		delete(bySeq, r.Seq)
		res.Removed++
		log.Warn("Chunk row without file removed", logger.Seq(r.Seq), logger.Bool("persisted", r.Persisted))
	}

	seqs := make([]int, 0, len(onDisk))
	for seq := range onDisk {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)

	var offsetMs int64
	for _, seq := range seqs {
		durationMs := onDisk[seq].Duration().Milliseconds()
		r, ok := bySeq[seq]
		switch {
		case ok && r.Persisted:
			offsetMs = r.OffsetMs + r.DurationMs
			continue
		case ok:
			durationMs = r.DurationMs
			if err := m.store.MarkChunkPersisted(s.ID, seq); err != nil {
				return err
			}
			r.Persisted = true
			offsetMs = r.OffsetMs + r.DurationMs
		default:
			rec := &sqlite.ChunkRecord{
				SessionID:  s.ID,
				Seq:        seq,
				Path:       audio.ChunkPath(s.AudioDir, seq),
				CapturedAt: s.CreatedAt.Add(time.Duration(offsetMs) * time.Millisecond),
				OffsetMs:   offsetMs,
				DurationMs: durationMs,
				Persisted:  true,
			}
			if err := m.store.InsertChunk(rec); err != nil {
				return err
			}
			bySeq[seq] = rec
			offsetMs += durationMs
		}
		res.Adopted++
		log.Info("Adopted chunk file", logger.Seq(seq), logger.Int64("duration_ms", durationMs))
	}

	persisted := make([]int, 0, len(bySeq))
	for seq, r := range bySeq {
		if r.Persisted {
			persisted = append(persisted, seq)
		}
	}
	sort.Ints(persisted)
	for i, seq := range persisted {
		if seq != i {
			return &errs.CorruptStateError{
				SessionID: s.ID,
				Reason:    fmt.Sprintf("chunk sequence has a gap at %d", i),
			}
		}
	}
	res.Chunks = len(persisted)
	return nil
}
