package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yegors/nudge/pkg/logger"
)

// FFmpegSource captures a device through ffmpeg, which writes raw s16le PCM
// to stdout
type FFmpegSource struct {
	ffmpegPath  string
	inputFormat string
	format      Format
	logger      *logger.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	runCtx context.Context
	cancel context.CancelFunc
	stderr *bytes.Buffer
	done   chan struct{}
	err    error
}

// NewFFmpegSource creates a source for the given ffmpeg input format
// (avfoundation, pulse, alsa, dshow).
func NewFFmpegSource(ffmpegPath, inputFormat string, format Format, log *logger.Logger) *FFmpegSource {
	return &FFmpegSource{
		ffmpegPath:  ffmpegPath,
		inputFormat: inputFormat,
		format:      format,
		logger:      log.Named("ffmpeg"),
		done:        make(chan struct{}),
	}
}

func (s *FFmpegSource) Format() Format { return s.format }

func (s *FFmpegSource) Done() <-chan struct{} { return s.done }

// Err is the reason capture ended, nil after a requested Stop.
func (s *FFmpegSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Args builds the ffmpeg command line for device.
func (s *FFmpegSource) Args(device string) []string {
	input := device
	if s.inputFormat == "avfoundation" && !strings.HasPrefix(device, ":") {
		input = ":" + device
	}
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", s.inputFormat,
		"-i", input,
		"-ac", strconv.Itoa(s.format.Channels),
		"-ar", strconv.Itoa(s.format.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// Start launches ffmpeg and waits briefly for the device to open.
func (s *FFmpegSource) Start(ctx context.Context, device string, sink FrameSink) error {
	runCtx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(runCtx, s.ffmpegPath, s.Args(device)...)
	// Interrupt lets ffmpeg flush what it has already captured.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 3 * time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.runCtx = runCtx
	s.cancel = cancel
	s.stderr = stderr
	s.mu.Unlock()

	s.logger.Info("Capture started",
		logger.String("device", device),
		logger.String("input_format", s.inputFormat),
		logger.Int("sample_rate", s.format.SampleRate))

	// The first frame proves the device opened.
	first := make(chan error, 1)
	go s.readLoop(stdout, sink, first)

	select {
	case err := <-first:
		if err != nil {
			s.Stop()
			return fmt.Errorf("failed to open audio device %q: %w", device, err)
		}
		return nil
	case <-ctx.Done():
		s.Stop()
		return ctx.Err()
	}
}

func (s *FFmpegSource) readLoop(stdout io.ReadCloser, sink FrameSink, first chan<- error) {
	defer close(s.done)

	frameBytes := s.format.FrameBytes()
	signalled := false
	for {
		buf := make([]byte, frameBytes)
		n, err := io.ReadFull(stdout, buf)
		if err != nil {
			if tail := n - n%(s.format.Channels*BytesPerSample); tail > 0 {
				sink.Push(Frame{Data: buf[:tail], CapturedAt: time.Now()})
			}
			waitErr := s.cmd.Wait()
			s.finish(err, waitErr)
			if !signalled {
				startErr := s.Err()
				if startErr == nil {
					startErr = errors.New("ffmpeg exited before producing audio")
				}
				first <- startErr
			}
			return
		}
		sink.Push(Frame{Data: buf, CapturedAt: time.Now()})
		if !signalled {
			first <- nil
			signalled = true
		}
	}
}

// finish records why capture ended. A cancelled context is a requested stop.
func (s *FFmpegSource) finish(readErr, waitErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := s.cancel == nil || s.runCtx.Err() != nil
	if s.cmd != nil && s.cmd.ProcessState != nil && !s.cmd.ProcessState.Success() && !cancelled {
		msg := strings.TrimSpace(s.stderr.String())
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		s.err = fmt.Errorf("ffmpeg exited: %v: %s", waitErr, msg)
		return
	}
	if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) && !cancelled {
		s.err = readErr
	}
}

// Stop terminates ffmpeg and waits for the reader to finish. Safe to call
// more than once.
func (s *FFmpegSource) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-s.done
	s.logger.Info("Capture stopped")
	return nil
}
