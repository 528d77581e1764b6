// Package detector notices meetings in Zoom, Teams, Google Meet and Webex by
// polling the local machine, and records them without a manual start.
package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/internal/session"
	"github.com/yegors/nudge/pkg/executor"
	"github.com/yegors/nudge/pkg/logger"
)

// Detector asks each checker in order; the first active one wins.
type Detector struct {
	checkers []Checker
	logger   *logger.Logger
}

func New(checkers []Checker, log *logger.Logger) *Detector {
	return &Detector{checkers: checkers, logger: log.Named("detector")}
}

// NewDefault uses the built-in checkers, leaving out the AppleScript ones when
// osascript is not on PATH.
func NewDefault(exec executor.Executor, log *logger.Logger) *Detector {
	_, err := exec.LookPath("osascript")
	if err != nil {
		log.Warn("osascript not found; only Zoom and Webex are detected")
	}
	return New(DefaultCheckers(exec, err == nil), log)
}

func (d *Detector) Detect(ctx context.Context) Meeting {
	for _, p := range d.checkers {
		m, err := p.Check(ctx)
		if err != nil {
			d.logger.Debug("Checker found nothing", logger.String("checker", p.Name()), logger.Error(err))
			continue
		}
		if m.Active {
			return m
		}
	}
	return Meeting{}
}

// Recording is a running capture the recorder can stop
type Recording interface {
	ID() string
	Stop(ctx context.Context) error
}

// Sessions starts and processes recordings
type Sessions interface {
	StartRecording(ctx context.Context, title string) (Recording, error)
	Process(ctx context.Context, id string) (*session.ProcessResult, error)
}

type managerSessions struct {
	m *session.Manager
}

// FromManager adapts a session manager to Sessions.
func FromManager(m *session.Manager) Sessions {
	return &managerSessions{m: m}
}

func (s *managerSessions) StartRecording(ctx context.Context, title string) (Recording, error) {
	rec, err := s.m.Start(ctx, session.StartOptions{Title: title})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *managerSessions) Process(ctx context.Context, id string) (*session.ProcessResult, error) {
	return s.m.Process(ctx, id)
}

// Config tunes the auto recorder
type Config struct {
	Poll       time.Duration
	StartGrace time.Duration
	StopGrace  time.Duration
}

// AutoRecorder records every meeting the detector sees. A meeting must be
// seen for StartGrace before recording starts; after it disappears for
// StopGrace the recording stops and is processed.
type AutoRecorder struct {
	cfg      Config
	detector *Detector
	sessions Sessions
	tracker  *Tracker
	logger   *logger.Logger
	now      func() time.Time

	recording Recording
	meeting   Meeting
}

func NewAutoRecorder(cfg Config, d *Detector, sessions Sessions, log *logger.Logger) *AutoRecorder {
	if cfg.Poll <= 0 {
		cfg.Poll = 5 * time.Second
	}
	return &AutoRecorder{
		cfg:      cfg,
		detector: d,
		sessions: sessions,
		tracker:  NewTracker(cfg.StartGrace, cfg.StopGrace),
		logger:   log.Named("autorec"),
		now:      time.Now,
	}
}

// Run polls until ctx ends. A recording still running then is stopped and
// left for recover to process.
func (a *AutoRecorder) Run(ctx context.Context) error {
	a.logger.Info("Watching for meetings",
		logger.Duration("poll", a.cfg.Poll),
		logger.Duration("start_grace", a.cfg.StartGrace),
		logger.Duration("stop_grace", a.cfg.StopGrace))

	ticker := time.NewTicker(a.cfg.Poll)
	defer ticker.Stop()

	a.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return ctx.Err()
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *AutoRecorder) tick(ctx context.Context) {
	m := a.detector.Detect(ctx)
	if ctx.Err() != nil {
		return
	}
	now := a.now()
	before := a.tracker.State()
	action := a.tracker.Observe(now, m.Active)
	if m.Active {
		a.meeting = m
	}
	if after := a.tracker.State(); after != before {
		a.logger.Info("Meeting state changed",
			logger.String("from", before.String()),
			logger.String("to", after.String()),
			logger.String("platform", a.meeting.Platform))
	}

	switch action {
	case ActionStart:
		a.start(ctx, now)
	case ActionStop:
		a.stop(ctx)
	}
}

func (a *AutoRecorder) start(ctx context.Context, now time.Time) {
	title := a.meeting.Title
	if title == "" {
		title = a.meeting.Platform
	}
	if title == "" {
		title = "Meeting"
	}
	title = fmt.Sprintf("%s - %s", title, now.Format("Jan 02 15:04"))

	rec, err := a.sessions.StartRecording(ctx, title)
	if err != nil {
		if errors.Is(err, errs.ErrRecordingActive) {
			a.logger.Info("Meeting detected while another recording runs", logger.String("platform", a.meeting.Platform))
		} else {
			a.logger.Error("Failed to start recording", logger.Error(err))
		}
		a.tracker.Reset(now)
		return
	}
	a.recording = rec
	a.logger.Info("Recording meeting", logger.SessionID(rec.ID()), logger.String("title", title))
}

func (a *AutoRecorder) stop(ctx context.Context) {
	rec := a.recording
	a.recording = nil
	if rec == nil {
		return
	}
	log := a.logger.WithSession(rec.ID())

	if err := rec.Stop(ctx); err != nil {
		log.Error("Failed to stop recording", logger.Error(err))
		return
	}
	log.Info("Meeting ended, processing")
	if _, err := a.sessions.Process(ctx, rec.ID()); err != nil {
		log.Error("Processing failed", logger.Error(err))
	}
}

func (a *AutoRecorder) shutdown() {
	rec := a.recording
	a.recording = nil
	if rec == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := rec.Stop(ctx); err != nil {
		a.logger.Error("Failed to stop recording on exit", logger.SessionID(rec.ID()), logger.Error(err))
		return
	}
	a.logger.Info("Recording stopped on exit; run recover to process it", logger.SessionID(rec.ID()))
}
