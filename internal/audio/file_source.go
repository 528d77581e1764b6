package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/yegors/nudge/pkg/logger"
)

// PacedSink is a sink that reports spare capacity. Offline sources wait for
// room instead of letting the sink drop frames.
type PacedSink interface {
	FrameSink
	Free() int
}

// WAVFileSource replays a 16-bit PCM WAV file as frames. The device passed
// to Start is ignored; the file is fixed at construction.
type WAVFileSource struct {
	path    string
	frameMs int
	start   time.Time
	logger  *logger.Logger

	mu     sync.Mutex
	format Format
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewWAVFileSource validates the file header. start is the wall-clock time
// assigned to the first frame.
func NewWAVFileSource(path string, frameMs int, start time.Time, log *logger.Logger) (*WAVFileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	header, err := ReadWAVHeader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	format := header.StreamFormat(frameMs)
	if format.FrameBytes() == 0 {
		return nil, fmt.Errorf("%s: %d ms frames hold no samples at %d Hz", path, frameMs, format.SampleRate)
	}

	return &WAVFileSource{
		path:    path,
		frameMs: frameMs,
		start:   start,
		logger:  log.Named("wavfile"),
		format:  format,
		done:    make(chan struct{}),
	}, nil
}

func (s *WAVFileSource) Format() Format { return s.format }

func (s *WAVFileSource) Done() <-chan struct{} { return s.done }

func (s *WAVFileSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *WAVFileSource) Start(ctx context.Context, _ string, sink FrameSink) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	header, err := ReadWAVHeader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	data := io.LimitReader(f, int64(header.Subchunk2Size))
	go func() {
		defer close(s.done)
		defer f.Close()
		err := s.replay(runCtx, data, sink)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()

	s.logger.Info("Replaying file", logger.String("path", s.path),
		logger.Int("sample_rate", s.format.SampleRate), logger.Int("channels", s.format.Channels))
	return nil
}

func (s *WAVFileSource) replay(ctx context.Context, r io.Reader, sink FrameSink) error {
	paced, _ := sink.(PacedSink)
	frameBytes := s.format.FrameBytes()
	offset := 0

	for {
		if paced != nil {
			if err := waitForRoom(ctx, paced); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		buf := make([]byte, frameBytes)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			n -= n % (s.format.Channels * BytesPerSample)
			sink.Push(Frame{Data: buf[:n], CapturedAt: s.start.Add(s.format.DurationOf(offset))})
			offset += n
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read audio: %w", err)
		}
	}
}

func waitForRoom(ctx context.Context, sink PacedSink) error {
	if sink.Free() > 0 {
		return ctx.Err()
	}
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for sink.Free() == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Stop ends the replay early and waits for it to finish.
func (s *WAVFileSource) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-s.done
	return nil
}
