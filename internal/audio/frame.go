package audio

import (
	"context"
	"time"
)

// BytesPerSample is fixed: all capture is 16-bit little-endian PCM.
const BytesPerSample = 2

// Format describes the PCM stream a source emits
type Format struct {
	SampleRate int
	Channels   int
	FrameMs    int
}

// FrameBytes is the size of one frame.
func (f Format) FrameBytes() int {
	return f.BytesFor(f.FrameMs)
}

// BytesFor is the size of ms of audio, rounded down to whole samples.
func (f Format) BytesFor(ms int) int {
	samples := int64(f.SampleRate) * int64(ms) / 1000
	return int(samples) * f.Channels * BytesPerSample
}

// DurationOf converts a byte count to stream time.
func (f Format) DurationOf(n int) time.Duration {
	perSecond := f.SampleRate * f.Channels * BytesPerSample
	if perSecond == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(perSecond))
}

// Frame is one fixed-size slice of samples
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// FrameSink receives frames on the real-time path. Push must not block.
type FrameSink interface {
	Push(Frame)
}

// FrameSource produces frames from a named device until stopped. Start
// returns once the device is open; frames then flow to sink until Stop is
// called, ctx is cancelled or the input ends. Done is closed when no more
// frames will be pushed.
type FrameSource interface {
	Start(ctx context.Context, device string, sink FrameSink) error
	Stop() error
	Done() <-chan struct{}
	Err() error
	Format() Format
}
