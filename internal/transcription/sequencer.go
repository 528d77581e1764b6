package transcription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/internal/metrics"
	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/pkg/logger"
	"github.com/yegors/nudge/pkg/retry"
)

// SegmentStore is the part of the session store the sequencer needs
type SegmentStore interface {
	GetChunk(sessionID string, seq int) (*sqlite.ChunkRecord, error)
	InsertSegment(rec *sqlite.SegmentRecord) (bool, error)
	NextSegmentSeq(sessionID string) (int, error)
}

// SequencerConfig configures a Sequencer
type SequencerConfig struct {
	SessionID string
	Retry     retry.Policy
	// QueueSize bounds pending notifications; overflow drops the oldest and
	// the worker finds the chunk in the store instead.
	QueueSize    int
	PollInterval time.Duration
}

// Sequencer transcribes a session's persisted chunks strictly in sequence
// order on a single worker goroutine. Chunk N+1 is never transcribed before
// chunk N has a segment, whatever order they were persisted in.
type Sequencer struct {
	cfg         SequencerConfig
	store       SegmentStore
	transcriber Transcriber
	live        *LiveTranscript
	metrics     *metrics.Metrics
	logger      *logger.Logger

	notify chan *sqlite.ChunkRecord
	wake   chan struct{}

	mu      sync.Mutex
	total   int // -1 until Finish
	cursor  int
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func NewSequencer(cfg SequencerConfig, store SegmentStore, transcriber Transcriber, live *LiveTranscript, m *metrics.Metrics, log *logger.Logger) *Sequencer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Sequencer{
		cfg:         cfg,
		store:       store,
		transcriber: transcriber,
		live:        live,
		metrics:     m,
		logger:      log.Named("sequencer").WithSession(cfg.SessionID),
		notify:      make(chan *sqlite.ChunkRecord, cfg.QueueSize),
		wake:        make(chan struct{}, 1),
		total:       -1,
		done:        make(chan struct{}),
	}
}

// Start resumes from the first sequence number without a segment and runs
// the worker until Finish's total is reached or ctx ends.
func (s *Sequencer) Start(ctx context.Context) error {
	cursor, err := s.store.NextSegmentSeq(s.cfg.SessionID)
	if err != nil {
		return fmt.Errorf("failed to load sequencer cursor: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		cancel()
		return errors.New("sequencer already started")
	}
	s.started = true
	s.cursor = cursor
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("Starting transcription sequencer",
		logger.Int("cursor", cursor),
		logger.String("transcriber", s.transcriber.Name()))

	go func() {
		defer close(s.done)
		defer cancel()
		err := s.run(runCtx)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()
	return nil
}

// Notify hands a persisted chunk to the worker. It never blocks: when the
// queue is full the oldest notification is discarded.
func (s *Sequencer) Notify(rec *sqlite.ChunkRecord) {
	for {
		select {
		case s.notify <- rec:
			return
		default:
		}
		select {
		case old := <-s.notify:
			s.logger.Warn("Sequencer queue full, dropped notification",
				logger.Seq(old.Seq),
				logger.Error(&errs.TransientIOError{Op: "notify sequencer", Err: errors.New("queue full")}))
		default:
		}
	}
}

// Finish tells the worker that chunks 0..total-1 are all that will exist.
// The worker exits after recording a segment for each of them.
func (s *Sequencer) Finish(total int) {
	s.mu.Lock()
	s.total = total
	s.mu.Unlock()
	s.signal()
}

// Wait blocks until the worker exits and returns its error.
func (s *Sequencer) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop abandons remaining work. Chunks without segments are picked up by a
// later recovery.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-s.done
	}
}

// Cursor is the next sequence number to be transcribed.
func (s *Sequencer) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Sequencer) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Sequencer) run(ctx context.Context) error {
	pending := make(map[int]*sqlite.ChunkRecord)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for {
			s.mu.Lock()
			cursor, total := s.cursor, s.total
			s.mu.Unlock()

			if total >= 0 && cursor >= total {
				s.logger.Info("Sequencer drained", logger.Int("segments", cursor))
				return nil
			}

			rec, err := s.next(pending, cursor)
			if err != nil {
				return err
			}
			if rec == nil {
				break
			}

			if err := s.transcribe(ctx, rec); err != nil {
				return err
			}

			s.mu.Lock()
			s.cursor++
			s.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec := <-s.notify:
			s.mu.Lock()
			cursor := s.cursor
			s.mu.Unlock()
			if rec.Seq >= cursor {
				pending[rec.Seq] = rec
			}
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// next returns the chunk at cursor if it is persisted, from the pending set
// or else the store.
func (s *Sequencer) next(pending map[int]*sqlite.ChunkRecord, cursor int) (*sqlite.ChunkRecord, error) {
	if rec, ok := pending[cursor]; ok {
		delete(pending, cursor)
		return rec, nil
	}
	rec, err := s.store.GetChunk(s.cfg.SessionID, cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to look up chunk %d: %w", cursor, err)
	}
	if rec == nil || !rec.Persisted {
		return nil, nil
	}
	return rec, nil
}

// transcribe records exactly one segment for rec: the text on success, or an
// empty failed segment once retries are exhausted.
func (s *Sequencer) transcribe(ctx context.Context, rec *sqlite.ChunkRecord) error {
	var text string
	audio := ChunkAudio{SessionID: rec.SessionID, Seq: rec.Seq, Path: rec.Path, DurationMs: rec.DurationMs}

	attempts, err := retry.Do(ctx, s.cfg.Retry, func(int) error {
		start := time.Now()
		out, err := s.transcriber.Transcribe(ctx, audio)
		s.metrics.TranscriptionAttempt(err == nil, time.Since(start))
		if err != nil {
			return err
		}
		text = out
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("Transcription failed, retrying",
			logger.Seq(rec.Seq),
			logger.Int("attempt", attempt),
			logger.Duration("backoff", wait),
			logger.Error(err))
	})

	// Cancellation leaves the chunk without a segment for recovery to redo.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	seg := &sqlite.SegmentRecord{
		SessionID:  rec.SessionID,
		Seq:        rec.Seq,
		StartMs:    rec.OffsetMs,
		EndMs:      rec.OffsetMs + rec.DurationMs,
		Text:       text,
		Status:     sqlite.SegmentOK,
		Attempts:   attempts,
		ProducedAt: time.Now().UTC(),
	}
	if err != nil {
		seg.Text = ""
		seg.Status = sqlite.SegmentFailed
		s.logger.Warn("Transcription gave up, recording failed segment",
			logger.Seq(rec.Seq),
			logger.Error(&errs.CollaboratorError{Op: "transcribe", Attempts: attempts, Err: err}))
	}

	_, storeErr := retry.Do(ctx, retry.Policy{MaxAttempts: 3, InitialBackoff: 200 * time.Millisecond}, func(int) error {
		_, err := s.store.InsertSegment(seg)
		return err
	}, nil)
	if storeErr != nil {
		return fmt.Errorf("failed to record segment %d: %w", rec.Seq, storeErr)
	}

	s.metrics.Segment(seg.Status)
	if s.live != nil {
		s.live.Append(*seg)
	}

	s.logger.Debug("Segment recorded",
		logger.Seq(seg.Seq),
		logger.String("status", seg.Status),
		logger.Int("attempts", attempts),
		logger.Int("chars", len(seg.Text)))
	return nil
}
