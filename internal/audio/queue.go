package audio

import (
	"context"
	"errors"
	"sync"

	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/internal/metrics"
	"github.com/yegors/nudge/pkg/logger"
)

var errQueueFull = errors.New("frame queue full")

// FrameQueue is a bounded ring of frames between the capture path and the
// chunk writer. Push never blocks: when the ring is full the oldest frame is
// overwritten and counted as dropped.
type FrameQueue struct {
	mu         sync.Mutex
	buffer     []Frame
	readIndex  int
	writeIndex int
	size       int
	dropped    int64
	closed     bool
	notify     chan struct{}
	metrics    *metrics.Metrics
	logger     *logger.Logger
}

// NewFrameQueue creates a queue holding up to capacity frames.
func NewFrameQueue(capacity int, m *metrics.Metrics, log *logger.Logger) *FrameQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &FrameQueue{
		buffer:  make([]Frame, capacity),
		notify:  make(chan struct{}, 1),
		metrics: m,
		logger:  log.Named("queue"),
	}
}

// Push appends a frame, dropping the oldest one if the ring is full.
// Frames pushed after Close are discarded.
func (q *FrameQueue) Push(f Frame) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}

	dropped := false
	if q.size == len(q.buffer) {
		q.readIndex = (q.readIndex + 1) % len(q.buffer)
		q.size--
		q.dropped++
		dropped = true
	}
	q.buffer[q.writeIndex] = f
	q.writeIndex = (q.writeIndex + 1) % len(q.buffer)
	q.size++
	total := q.dropped
	q.mu.Unlock()

	if dropped {
		q.metrics.FrameDropped()
		// Log the first drop and then every 100th so overflow doesn't flood the log.
		if total == 1 || total%100 == 0 {
			q.logger.Warn("Frame queue full, dropped oldest frame",
				logger.Error(&errs.TransientIOError{Op: "push frame", Err: errQueueFull}),
				logger.Int64("dropped_total", total))
		}
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop blocks until a frame is available. It returns errs.ErrQueueClosed once
// the queue is closed and drained, or ctx.Err() if ctx ends first.
func (q *FrameQueue) Pop(ctx context.Context) (Frame, error) {
	for {
		q.mu.Lock()
		if q.size > 0 {
			f := q.buffer[q.readIndex]
			q.buffer[q.readIndex] = Frame{}
			q.readIndex = (q.readIndex + 1) % len(q.buffer)
			q.size--
			q.mu.Unlock()
			return f, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Frame{}, errs.ErrQueueClosed
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}

// Close stops accepting frames. Frames already queued can still be popped.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped returns how many frames have been overwritten.
func (q *FrameQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Free returns how many frames can be pushed before the oldest is dropped.
func (q *FrameQueue) Free() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffer) - q.size
}
