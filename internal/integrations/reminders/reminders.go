// Package reminders hands action items to a reminder system.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yegors/nudge/internal/config"
	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/internal/metrics"
	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/pkg/executor"
	"github.com/yegors/nudge/pkg/logger"
)

// Reminder is one entry as the backend receives it
type Reminder struct {
	ItemID     string
	List       string
	Title      string
	Notes      string
	Due        *time.Time
	DueRaw     string
	Confidence float64
}

// Backend talks to one reminder system
type Backend interface {
	Name() string
	EnsureList(ctx context.Context, list string) error
	Add(ctx context.Context, r Reminder) error
}

// Result counts the outcome of one hand-off. Status maps item id to
// sqlite.ReminderAdded or sqlite.ReminderFailed.
type Result struct {
	Added  int
	Failed int
	Status map[string]string
}

// Writer adds each item independently. A failed item never undoes one that
// was already added.
type Writer struct {
	backend Backend
	cfg     config.RemindersConfig
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// New builds the writer for cfg.Backend.
func New(cfg config.RemindersConfig, exec executor.Executor, m *metrics.Metrics, log *logger.Logger) (*Writer, error) {
	var backend Backend
	switch cfg.Backend {
	case "applescript":
		backend = NewAppleScriptBackend(exec)
	case "file":
		backend = NewFileBackend(cfg.FilePath)
	default:
		return nil, fmt.Errorf("unsupported reminders backend: %q", cfg.Backend)
	}
	return NewWriter(backend, cfg, m, log), nil
}

func NewWriter(backend Backend, cfg config.RemindersConfig, m *metrics.Metrics, log *logger.Logger) *Writer {
	return &Writer{
		backend: backend,
		cfg:     cfg,
		metrics: m,
		logger:  log.Named("reminders"),
	}
}

// Add hands items to the backend under the meeting title. The error, when
// any item failed, is an *errs.IntegrationError; the Result is always
// returned so the caller can record per-item status.
func (w *Writer) Add(ctx context.Context, meetingTitle string, items []*sqlite.ActionItemRecord) (*Result, error) {
	res := &Result{Status: make(map[string]string, len(items))}
	if len(items) == 0 {
		return res, nil
	}

	if err := w.backend.EnsureList(ctx, w.cfg.ListName); err != nil {
		for _, it := range items {
			res.Status[it.ID] = sqlite.ReminderFailed
		}
		res.Failed = len(items)
		w.metrics.IntegrationFailed("reminders")
		return res, &errs.IntegrationError{Collaborator: "reminders", Op: "ensure list " + w.cfg.ListName, Err: err}
	}

	var failures []error
	for _, it := range items {
		r := w.reminder(meetingTitle, it)
		if err := w.backend.Add(ctx, r); err != nil {
			res.Failed++
			res.Status[it.ID] = sqlite.ReminderFailed
			failures = append(failures, fmt.Errorf("%s: %w", it.ID, err))
			w.logger.Warn("Failed to add reminder",
				logger.String("item", it.ID),
				logger.String("backend", w.backend.Name()),
				logger.Error(err))
			continue
		}
		res.Added++
		res.Status[it.ID] = sqlite.ReminderAdded
	}

	w.logger.Info("Reminders handed off",
		logger.String("backend", w.backend.Name()),
		logger.String("list", w.cfg.ListName),
		logger.Int("added", res.Added),
		logger.Int("failed", res.Failed))

	if res.Failed > 0 {
		w.metrics.IntegrationFailed("reminders")
		return res, &errs.IntegrationError{
			Collaborator: "reminders",
			Op:           fmt.Sprintf("add %d of %d reminders", res.Failed, len(items)),
			Err:          errors.Join(failures...),
		}
	}
	return res, nil
}

func (w *Writer) reminder(meetingTitle string, it *sqlite.ActionItemRecord) Reminder {
	title := it.Task
	if it.Owner != "" {
		title = "[" + it.Owner + "] " + title
	}

	notes := []string{"Meeting: " + meetingTitle}
	if w.cfg.IncludeContext && it.Context != "" {
		notes = append(notes, it.Context)
	}
	if w.cfg.IncludeSourceQuote && it.SourceQuote != "" {
		notes = append(notes, `"`+it.SourceQuote+`"`)
	}

	return Reminder{
		ItemID:     it.ID,
		List:       w.cfg.ListName,
		Title:      title,
		Notes:      strings.Join(notes, "\n\n"),
		Due:        it.DueAt,
		DueRaw:     it.DueRaw,
		Confidence: it.Confidence,
	}
}
