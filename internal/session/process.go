package session

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/internal/extraction"
	"github.com/yegors/nudge/internal/integrations/notes"
	"github.com/yegors/nudge/internal/integrations/reminders"
	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/pkg/logger"
)

// ProcessResult is what a processing run produced. Warnings holds the
// integration failures that did not stop the session from completing.
type ProcessResult struct {
	Session    *sqlite.SessionRecord
	Analysis   extraction.Analysis
	Extraction *extraction.Result
	Items      []*sqlite.ActionItemRecord
	Reminders  *reminders.Result
	NotesPath  string
	Warnings   []error
}

// Process runs extraction over a stopped session, stores the action items,
// hands them to the collaborators and completes the session. Completed and
// failed sessions may be processed again; a session left in processing by a
// dead owner is resumed.
func (m *Manager) Process(ctx context.Context, id string) (*ProcessResult, error) {
	if err := m.claim(id); err != nil {
		return nil, err
	}
	defer m.unclaim(id)
	return m.runProcess(ctx, id)
}

// ProcessAsync claims the session and processes it in the background,
// calling done with the outcome. A session already being processed by this
// process is rejected with ErrSessionBusy before anything starts.
func (m *Manager) ProcessAsync(ctx context.Context, id string, done func(*ProcessResult, error)) error {
	if err := m.claim(id); err != nil {
		return err
	}
	go func() {
		defer m.unclaim(id)
		res, err := m.runProcess(ctx, id)
		if done != nil {
			done(res, err)
		}
	}()
	return nil
}

func (m *Manager) claim(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processing[id]; ok {
		return fmt.Errorf("%w: %s", errs.ErrSessionBusy, id)
	}
	m.processing[id] = struct{}{}
	return nil
}

func (m *Manager) unclaim(id string) {
	m.mu.Lock()
	delete(m.processing, id)
	m.mu.Unlock()
}

func (m *Manager) runProcess(ctx context.Context, id string) (*ProcessResult, error) {
	s, err := m.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	log := m.logger.WithSession(s.ID)

	if s.State == sqlite.StateProcessing && s.OwnerPID != m.pid && processAlive(s.OwnerPID) {
		return nil, fmt.Errorf("session %s is being processed by pid %d", s.ID, s.OwnerPID)
	}
	if err := transition(m.store, m.metrics, s.ID, sqlite.StateProcessing); err != nil {
		return nil, err
	}
	s.State = sqlite.StateProcessing
	s.OwnerPID = m.pid
	if err := m.store.UpdateSession(s); err != nil {
		return nil, err
	}

	log.Info("Processing session", logger.String("title", s.Title))
	start := m.now()

	res, err := m.process(ctx, s, log)
	if err != nil {
		if isCancel(err) {
			// Left in processing; the next process or recover resumes it.
			log.Warn("Processing interrupted", logger.Error(err))
			return nil, err
		}
		s.LastError = err.Error()
		if uerr := m.store.UpdateSession(s); uerr != nil {
			log.Error("Failed to record processing error", logger.Error(uerr))
		}
		if terr := transition(m.store, m.metrics, s.ID, sqlite.StateFailed); terr != nil {
			log.Error("Failed to mark session failed", logger.Error(terr))
		}
		return nil, err
	}

	if err := transition(m.store, m.metrics, s.ID, sqlite.StateCompleted); err != nil {
		return nil, err
	}
	s.State = sqlite.StateCompleted

	if !m.cfg.Storage.KeepAudio {
		if _, err := m.deleteAudio(s.ID); err != nil {
			log.Warn("Failed to delete session audio", logger.Error(err))
		}
	}

	log.Info("Session completed",
		logger.Int("action_items", len(res.Items)),
		logger.Int("warnings", len(res.Warnings)),
		logger.Duration("took", m.now().Sub(start)))
	return res, nil
}

func (m *Manager) process(ctx context.Context, s *sqlite.SessionRecord, log *logger.Logger) (*ProcessResult, error) {
	segments, err := m.store.ListSegments(s.ID)
	if err != nil {
		return nil, err
	}
	res := &ProcessResult{Session: s}

	transcript := joinSegments(segments)
	if transcript != "" && m.analyzer != nil {
		res.Analysis = m.analyzer.Analyze(ctx, transcript)
		if res.Analysis.Title != "" && extraction.IsAutoTitle(s.Title) {
			s.Title = res.Analysis.Title
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := m.extractor.Extract(ctx, extraction.Input{
		SessionID:   s.ID,
		SessionDate: s.CreatedAt,
		Segments:    segments,
	})
	if err != nil {
		return nil, err
	}
	res.Extraction = result

	items := result.Records(s.ID, m.now().UTC())
	if err := m.store.ReplaceActionItems(s.ID, items); err != nil {
		return nil, err
	}
	res.Items = items

	s.LastError = ""
	if result.Partial() {
		s.LastError = fmt.Sprintf("extraction incomplete: windows %v failed", result.FailedWindows)
	}
	s.ModelLLM = m.modelLLM

	m.handOffReminders(ctx, s, res, log)

	if m.notes != nil {
		path, err := m.notes.Write(ctx, notes.Document{
			Session:  s,
			Analysis: res.Analysis,
			Items:    items,
			Segments: segments,
		})
		if err != nil {
			log.Warn("Meeting notes not written", logger.Error(err))
			res.Warnings = append(res.Warnings, err)
		} else {
			s.NotesPath = path
			res.NotesPath = path
		}
		if path, err := m.notes.WriteTranscript(s, segments); err != nil {
			log.Warn("Transcript file not written", logger.Error(err))
			res.Warnings = append(res.Warnings, err)
		} else {
			s.TranscriptPath = path
		}
	}

	if err := m.store.UpdateSession(s); err != nil {
		return nil, err
	}
	return res, nil
}

// handOffReminders records a status for every item. Rejected items never
// undo accepted ones.
func (m *Manager) handOffReminders(ctx context.Context, s *sqlite.SessionRecord, res *ProcessResult, log *logger.Logger) {
	status := make(map[string]string, len(res.Items))
	if m.reminders == nil || len(res.Items) == 0 {
		for _, it := range res.Items {
			status[it.ID] = sqlite.ReminderSkipped
		}
	} else {
		rr, err := m.reminders.Add(ctx, s.Title, res.Items)
		if err != nil {
			log.Warn("Reminders hand-off incomplete", logger.Error(err))
			res.Warnings = append(res.Warnings, err)
		}
		res.Reminders = rr
		if rr != nil {
			status = rr.Status
		}
	}

	for _, it := range res.Items {
		st, ok := status[it.ID]
		if !ok {
			st = sqlite.ReminderFailed
		}
		it.ReminderStatus = st
		if err := m.store.UpdateReminderStatus(it.ID, st); err != nil {
			log.Warn("Failed to record reminder status", logger.String("item", it.ID), logger.Error(err))
		}
	}
}

func joinSegments(segments []*sqlite.SegmentRecord) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// deleteAudio removes a session's chunk files and marks the rows deleted.
func (m *Manager) deleteAudio(sessionID string) (int, error) {
	chunks, err := m.store.ListChunks(sessionID)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	n := 0
	for _, c := range chunks {
		if c.DeletedAt != nil {
			continue
		}
		if err := os.Remove(c.Path); err != nil && !os.IsNotExist(err) {
			return n, fmt.Errorf("failed to remove %s: %w", c.Path, err)
		}
		if err := m.store.MarkChunkDeleted(sessionID, c.Seq, now); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
