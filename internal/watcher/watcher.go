// Package watcher imports WAV files dropped into an inbox directory as
// sessions.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/internal/session"
	"github.com/yegors/nudge/pkg/logger"
	"github.com/yegors/nudge/pkg/retry"
)

// Importer turns an audio file into a processed session
type Importer interface {
	Import(ctx context.Context, path, title string) (*session.ProcessResult, error)
}

// Config tunes the watcher
type Config struct {
	InboxDir      string
	MaxConcurrent int
	// Settle is how long a file's size must stay unchanged before import.
	Settle time.Duration
	// Busy is the backoff while another session is recording.
	Busy retry.Policy
}

// Watcher monitors the inbox for new .wav files. Imported files move to
// imported/ and files that fail move to failed/ under the inbox.
type Watcher struct {
	cfg       Config
	importer  Importer
	fs        *fsnotify.Watcher
	semaphore chan struct{}
	wg        sync.WaitGroup
	logger    *logger.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

func New(cfg Config, importer Importer, log *logger.Logger) (*Watcher, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 500 * time.Millisecond
	}
	if cfg.Busy.MaxAttempts <= 0 {
		cfg.Busy = retry.Policy{MaxAttempts: 60, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second}
	}

	for _, dir := range []string{cfg.InboxDir, filepath.Join(cfg.InboxDir, "imported"), filepath.Join(cfg.InboxDir, "failed")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fs.Add(cfg.InboxDir); err != nil {
		fs.Close()
		return nil, fmt.Errorf("add watch path: %w", err)
	}

	return &Watcher{
		cfg:       cfg,
		importer:  importer,
		fs:        fs,
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
		logger:    log.Named("watcher"),
		inFlight:  make(map[string]bool),
	}, nil
}

// Run imports files already in the inbox, then watches for new ones until
// ctx ends. It waits for running imports before returning.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("Watching inbox",
		logger.String("dir", w.cfg.InboxDir),
		logger.Int("max_concurrent", w.cfg.MaxConcurrent))

	entries, err := os.ReadDir(w.cfg.InboxDir)
	if err != nil {
		return fmt.Errorf("read inbox: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && isWAV(e.Name()) {
			if !w.dispatch(ctx, filepath.Join(w.cfg.InboxDir, e.Name())) {
				return w.drain(ctx)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return w.drain(ctx)

		case event, ok := <-w.fs.Events:
			if !ok {
				w.wg.Wait()
				return fmt.Errorf("watcher events channel closed")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isWAV(event.Name) {
				w.logger.Debug("Ignoring non-wav file", logger.String("path", event.Name))
				continue
			}
			if !w.dispatch(ctx, event.Name) {
				return w.drain(ctx)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				w.wg.Wait()
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("Watcher error", logger.Error(err))
		}
	}
}

// Close stops the underlying file watch.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

func (w *Watcher) drain(ctx context.Context) error {
	w.logger.Info("Waiting for running imports")
	w.wg.Wait()
	return ctx.Err()
}

// dispatch starts an import unless one is already running for path. It
// blocks while max_concurrent imports are running and reports false when
// ctx ended first.
func (w *Watcher) dispatch(ctx context.Context, path string) bool {
	w.mu.Lock()
	if w.inFlight[path] {
		w.mu.Unlock()
		return true
	}
	w.inFlight[path] = true
	w.mu.Unlock()

	select {
	case w.semaphore <- struct{}{}:
	case <-ctx.Done():
		w.release(path)
		return false
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.semaphore }()
		defer w.release(path)
		w.handle(ctx, path)
	}()
	return true
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	delete(w.inFlight, path)
	w.mu.Unlock()
}

func (w *Watcher) handle(ctx context.Context, path string) {
	log := w.logger.With(logger.String("path", path))

	if err := w.waitStable(ctx, path); err != nil {
		if !errors.Is(err, os.ErrNotExist) && ctx.Err() == nil {
			log.Warn("File not ready", logger.Error(err))
		}
		return
	}

	log.Info("New recording detected")
	res, err := w.importWithBackoff(ctx, path)
	if ctx.Err() != nil {
		// Left in place so the next run picks it up.
		return
	}
	if err != nil {
		log.Error("Import failed", logger.Error(err))
		w.move(path, "failed")
		return
	}

	log.Info("Import complete",
		logger.SessionID(res.Session.ID),
		logger.Int("action_items", len(res.Items)),
		logger.String("notes", res.NotesPath))
	w.move(path, "imported")
}

// importWithBackoff retries while another session holds the recording slot.
func (w *Watcher) importWithBackoff(ctx context.Context, path string) (*session.ProcessResult, error) {
	for attempt := 1; ; attempt++ {
		res, err := w.importer.Import(ctx, path, "")
		if !errors.Is(err, errs.ErrRecordingActive) || attempt >= w.cfg.Busy.MaxAttempts {
			return res, err
		}
		wait := w.cfg.Busy.Backoff(attempt)
		w.logger.Debug("Another session is recording, waiting",
			logger.String("path", path), logger.Duration("wait", wait))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// waitStable returns once the file size has not changed for one settle
// interval.
func (w *Watcher) waitStable(ctx context.Context, path string) error {
	last := int64(-1)
	for {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.Size() == last && last > 0 {
			return nil
		}
		last = info.Size()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.Settle):
		}
	}
}

func (w *Watcher) move(path, dir string) {
	dst := filepath.Join(w.cfg.InboxDir, dir, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		w.logger.Error("Failed to move file", logger.String("path", path), logger.String("to", dst), logger.Error(err))
	}
}

func isWAV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".wav")
}
