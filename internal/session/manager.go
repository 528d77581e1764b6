package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yegors/nudge/internal/audio"
	"github.com/yegors/nudge/internal/config"
	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/internal/extraction"
	"github.com/yegors/nudge/internal/integrations/notes"
	"github.com/yegors/nudge/internal/integrations/reminders"
	"github.com/yegors/nudge/internal/metrics"
	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/internal/transcription"
	"github.com/yegors/nudge/pkg/logger"
	"github.com/yegors/nudge/pkg/retry"
)

// Extractor turns a transcript into merged action items
type Extractor interface {
	Extract(ctx context.Context, in extraction.Input) (*extraction.Result, error)
}

// Analyzer produces the meeting-level summary
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) extraction.Analysis
}

// ReminderWriter hands items to the reminder system
type ReminderWriter interface {
	Add(ctx context.Context, meetingTitle string, items []*sqlite.ActionItemRecord) (*reminders.Result, error)
}

// NotesWriter produces the per-session documents
type NotesWriter interface {
	Write(ctx context.Context, doc notes.Document) (string, error)
	WriteTranscript(s *sqlite.SessionRecord, segments []*sqlite.SegmentRecord) (string, error)
}

// SourceFactory opens the live input for a device
type SourceFactory func(device string) audio.FrameSource

// Deps are the collaborators a Manager drives. Reminders and Notes may be nil
// when the integration is disabled.
type Deps struct {
	Store       *sqlite.Store
	Transcriber transcription.Transcriber
	Extractor   Extractor
	Analyzer    Analyzer
	Reminders   ReminderWriter
	Notes       NotesWriter
	NewSource   SourceFactory
	// ModelLLM is recorded on processed sessions.
	ModelLLM string
	Metrics  *metrics.Metrics
	Logger   *logger.Logger
}

// Manager runs sessions through their lifecycle. At most one recording is
// active per process; the store enforces the same across processes.
type Manager struct {
	cfg         *config.Config
	store       *sqlite.Store
	transcriber transcription.Transcriber
	extractor   Extractor
	analyzer    Analyzer
	reminders   ReminderWriter
	notes       NotesWriter
	newSource   SourceFactory
	modelLLM    string
	metrics     *metrics.Metrics
	logger      *logger.Logger

	now func() time.Time
	pid int

	mu         sync.Mutex
	active     *Recording
	processing map[string]struct{}
}

func NewManager(cfg *config.Config, deps Deps) *Manager {
	newSource := deps.NewSource
	if newSource == nil {
		newSource = func(string) audio.FrameSource {
			return audio.NewFFmpegSource(cfg.Audio.FFmpegPath, cfg.Audio.InputFormat, audio.Format{
				SampleRate: cfg.Audio.SampleRate,
				Channels:   cfg.Audio.Channels,
				FrameMs:    cfg.Audio.FrameMs,
			}, deps.Logger)
		}
	}
	return &Manager{
		cfg:         cfg,
		store:       deps.Store,
		transcriber: deps.Transcriber,
		extractor:   deps.Extractor,
		analyzer:    deps.Analyzer,
		reminders:   deps.Reminders,
		notes:       deps.Notes,
		newSource:   newSource,
		modelLLM:    deps.ModelLLM,
		metrics:     deps.Metrics,
		logger:      deps.Logger.Named("session"),
		now:         time.Now,
		pid:         os.Getpid(),
		processing:  make(map[string]struct{}),
	}
}

// Store exposes the session store to the outer surfaces.
func (m *Manager) Store() *sqlite.Store {
	return m.store
}

// Active is the recording owned by this process, or nil.
func (m *Manager) Active() *Recording {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// StartOptions configures a new recording
type StartOptions struct {
	Title  string
	Device string
	// Source replaces the live input, e.g. a WAVFileSource for imports.
	Source audio.FrameSource
}

// Start persists a new session in the recording state and then opens the
// frame source. It fails with errs.ErrRecordingActive while any live session
// is recording.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (*Recording, error) {
	if _, err := m.DetectCrashed(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, errs.ErrRecordingActive
	}
	m.mu.Unlock()

	now := m.now().UTC()
	device := opts.Device
	if device == "" {
		device = m.cfg.Audio.Device
	}
	title := opts.Title
	if title == "" {
		title = extraction.AutoTitle(now)
	}

	id := m.store.NewSessionID(now)
	rec := &sqlite.SessionRecord{
		ID:                 id,
		Title:              title,
		State:              sqlite.StateRecording,
		CreatedAt:          now,
		AudioDevice:        device,
		AudioDir:           filepath.Join(m.cfg.Storage.SessionsDir(), id),
		OwnerPID:           m.pid,
		ModelTranscription: m.transcriber.Name(),
	}
	if opts.Source != nil {
		rec.AudioDevice = "file"
	}

	// The recording state is written before any audio is captured.
	if err := m.store.CreateSession(rec); err != nil {
		return nil, err
	}
	m.metrics.Transition(string(sqlite.StateRecording))

	log := m.logger.WithSession(id)
	source := opts.Source
	if source == nil {
		source = m.newSource(device)
	}

	r, err := m.open(ctx, rec, source, log)
	if err != nil {
		rec.LastError = err.Error()
		if uerr := m.store.UpdateSession(rec); uerr != nil {
			log.Error("Failed to record start error", logger.Error(uerr))
		}
		if terr := transition(m.store, m.metrics, id, sqlite.StateFailed); terr != nil {
			log.Error("Failed to mark session failed", logger.Error(terr))
		}
		return nil, fmt.Errorf("failed to open audio source: %w", err)
	}

	m.mu.Lock()
	m.active = r
	m.mu.Unlock()

	log.Info("Recording started",
		logger.String("title", title),
		logger.String("device", rec.AudioDevice),
		logger.String("dir", rec.AudioDir))
	return r, nil
}

// open wires queue, writer and sequencer for rec and starts the source. The
// pipeline runs on its own context so a cancelled caller context does not
// tear it down mid-write; Stop drains it instead.
func (m *Manager) open(ctx context.Context, rec *sqlite.SessionRecord, source audio.FrameSource, log *logger.Logger) (*Recording, error) {
	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	live := transcription.NewLiveTranscript(rec.ID, m.logger)
	seq := transcription.NewSequencer(transcription.SequencerConfig{
		SessionID: rec.ID,
		Retry:     m.transcriptionRetry(),
		QueueSize: m.cfg.Transcription.QueueSize,
	}, m.store, m.transcriber, live, m.metrics, m.logger)
	if err := seq.Start(pctx); err != nil {
		cancel()
		return nil, err
	}

	queue := audio.NewFrameQueue(m.cfg.Audio.QueueFrames, m.metrics, m.logger.WithSession(rec.ID))
	writer := audio.NewChunkWriter(audio.ChunkWriterConfig{
		SessionID:    rec.ID,
		Dir:          rec.AudioDir,
		Format:       source.Format(),
		ChunkMs:      m.cfg.Audio.ChunkSeconds * 1000,
		WriteRetries: m.cfg.Audio.WriteRetries,
		Start:        rec.CreatedAt,
	}, m.store, seq.Notify, m.metrics, m.logger)

	r := &Recording{
		manager:    m,
		session:    rec,
		source:     source,
		queue:      queue,
		writer:     writer,
		sequencer:  seq,
		live:       live,
		cancel:     cancel,
		started:    m.now(),
		writerDone: make(chan struct{}),
		logger:     log,
	}
	go func() {
		defer close(r.writerDone)
		r.writerErr = writer.Run(pctx, queue)
	}()

	if err := source.Start(pctx, rec.AudioDevice, queue); err != nil {
		queue.Close()
		<-r.writerDone
		seq.Stop()
		live.Close()
		cancel()
		return nil, err
	}
	return r, nil
}

func (m *Manager) transcriptionRetry() retry.Policy {
	t := m.cfg.Transcription
	return retry.NewPolicy(t.MaxAttempts, t.RetryInitialBackoffMs, t.RetryMaxBackoffMs)
}

func (m *Manager) release(r *Recording) {
	m.mu.Lock()
	if m.active == r {
		m.active = nil
	}
	m.mu.Unlock()
}

// Recording is a live session owned by this process
type Recording struct {
	manager   *Manager
	session   *sqlite.SessionRecord
	source    audio.FrameSource
	queue     *audio.FrameQueue
	writer    *audio.ChunkWriter
	sequencer *transcription.Sequencer
	live      *transcription.LiveTranscript
	cancel    context.CancelFunc
	started   time.Time
	logger    *logger.Logger

	writerDone chan struct{}
	writerErr  error

	stopOnce sync.Once
	stopErr  error
}

// Session is a copy of the session as it was when recording started.
func (r *Recording) Session() sqlite.SessionRecord {
	return *r.session
}

func (r *Recording) ID() string { return r.session.ID }

// Live is the in-memory transcript fed by the sequencer.
func (r *Recording) Live() *transcription.LiveTranscript { return r.live }

// SourceDone is closed when the input ends on its own, e.g. at the end of an
// imported file or when the capture process exits.
func (r *Recording) SourceDone() <-chan struct{} { return r.source.Done() }

func (r *Recording) Elapsed() time.Duration { return r.manager.now().Sub(r.started) }

// Dropped is the number of frames lost to queue overflow so far.
func (r *Recording) Dropped() int64 { return r.queue.Dropped() }

// Stop runs the stop sequence: persist stopping, stop the source, flush the
// writer, drain the sequencer and persist stopped. If ctx ends while the
// sequencer drains, the session stays in stopping and recovery finishes it.
// Stop is idempotent.
func (r *Recording) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		r.stopErr = r.stop(ctx)
	})
	return r.stopErr
}

func (r *Recording) stop(ctx context.Context) error {
	m := r.manager
	defer m.release(r)
	defer r.cancel()
	defer r.live.Close()

	if err := transition(m.store, m.metrics, r.session.ID, sqlite.StateStopping); err != nil {
		r.source.Stop()
		r.queue.Close()
		<-r.writerDone
		r.sequencer.Stop()
		return fmt.Errorf("failed to persist stopping: %w", err)
	}
	r.logger.Info("Stopping recording")

	if err := r.source.Stop(); err != nil {
		r.logger.Warn("Audio source stopped with error", logger.Error(err))
	}
	if err := r.source.Err(); err != nil {
		r.logger.Warn("Audio source reported error", logger.Error(err))
	}

	r.queue.Close()
	<-r.writerDone
	if r.writerErr != nil {
		r.logger.Error("Chunk writer failed", logger.Error(r.writerErr))
	}

	total := r.writer.NextSeq()
	r.sequencer.Finish(total)

	waited := make(chan error, 1)
	go func() { waited <- r.sequencer.Wait() }()
	var err error
	select {
	case err = <-waited:
	case <-ctx.Done():
		r.sequencer.Stop()
		r.logger.Warn("Stop interrupted while transcribing, session left for recovery",
			logger.Int("cursor", r.sequencer.Cursor()),
			logger.Int("chunks", total))
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("failed to drain transcription: %w", err)
	}

	stopped := m.now().UTC()
	r.session.StoppedAt = &stopped
	r.session.DurationMs = r.writer.OffsetMs()
	if err := m.store.UpdateSession(r.session); err != nil {
		return err
	}
	if err := transition(m.store, m.metrics, r.session.ID, sqlite.StateStopped); err != nil {
		return fmt.Errorf("failed to persist stopped: %w", err)
	}

	r.logger.Info("Recording stopped",
		logger.Int("chunks", total),
		logger.Duration("duration", r.session.Duration()),
		logger.Int64("frames_dropped", r.queue.Dropped()))
	return nil
}

// abandon tears the pipeline down without touching persisted state, the way
// a killed process would leave it.
func (r *Recording) abandon() {
	r.source.Stop()
	r.cancel()
	r.queue.Close()
	<-r.writerDone
	r.sequencer.Stop()
	r.live.Close()
	r.manager.release(r)
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
