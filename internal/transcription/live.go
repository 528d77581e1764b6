package transcription

import (
	"strings"
	"sync"

	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/pkg/logger"
)

// LiveTranscript is the in-memory, ordered view of a session's segments as
// they are produced. Subscribers are pushed each new segment.
type LiveTranscript struct {
	sessionID string
	logger    *logger.Logger

	mu       sync.RWMutex
	segments []sqlite.SegmentRecord
	subs     map[int]chan sqlite.SegmentRecord
	nextID   int
	closed   bool
}

func NewLiveTranscript(sessionID string, log *logger.Logger) *LiveTranscript {
	return &LiveTranscript{
		sessionID: sessionID,
		logger:    log.Named("live").WithSession(sessionID),
		subs:      make(map[int]chan sqlite.SegmentRecord),
	}
}

func (l *LiveTranscript) SessionID() string { return l.sessionID }

// Append records seg and pushes it to every subscriber without blocking. A
// subscriber whose buffer is full misses the segment.
func (l *LiveTranscript) Append(seg sqlite.SegmentRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.segments = append(l.segments, seg)

	for id, ch := range l.subs {
		select {
		case ch <- seg:
		default:
			l.logger.Warn("Live subscriber is behind, segment not delivered",
				logger.Int("subscriber", id), logger.Seq(seg.Seq))
		}
	}
}

// Subscribe returns a channel of new segments and a function that ends the
// subscription. The channel is closed when the transcript closes.
func (l *LiveTranscript) Subscribe(buffer int) (<-chan sqlite.SegmentRecord, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan sqlite.SegmentRecord, buffer)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		close(ch)
		return ch, func() {}
	}

	id := l.nextID
	l.nextID++
	l.subs[id] = ch

	return ch, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if c, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(c)
		}
	}
}

// Snapshot returns the segments appended so far.
func (l *LiveTranscript) Snapshot() []sqlite.SegmentRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]sqlite.SegmentRecord, len(l.segments))
	copy(out, l.segments)
	return out
}

// Text joins the non-empty segment texts.
func (l *LiveTranscript) Text() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	parts := make([]string, 0, len(l.segments))
	for _, seg := range l.segments {
		if seg.Text != "" {
			parts = append(parts, seg.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Close ends every subscription. Later appends are ignored.
func (l *LiveTranscript) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for id, ch := range l.subs {
		close(ch)
		delete(l.subs, id)
	}
}
