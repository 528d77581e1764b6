package display

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/internal/transcription"
	"github.com/yegors/nudge/pkg/logger"
)

type fakeRecording struct {
	live    *transcription.LiveTranscript
	dropped int64
	done    chan struct{}
}

func (f *fakeRecording) Session() sqlite.SessionRecord {
	return sqlite.SessionRecord{ID: "01JTEST", Title: "Standup"}
}
func (f *fakeRecording) Live() *transcription.LiveTranscript { return f.live }
func (f *fakeRecording) Elapsed() time.Duration              { return 95 * time.Second }
func (f *fakeRecording) Dropped() int64                      { return f.dropped }
func (f *fakeRecording) SourceDone() <-chan struct{}         { return f.done }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func seg(seq int, text string) sqlite.SegmentRecord {
	s := sqlite.SegmentRecord{SessionID: "01JTEST", Seq: seq, StartMs: int64(seq) * 30000, Text: text, Status: sqlite.SegmentOK}
	if text == "" {
		s.Status = sqlite.SegmentFailed
	}
	return s
}

func TestNewPicksPrinterForNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	if _, ok := New(Options{Out: &buf}, logger.NewNop()).(*Printer); !ok {
		t.Error("expected the printer for a buffer")
	}
}

func TestPrinterFollowsLiveTranscript(t *testing.T) {
	live := transcription.NewLiveTranscript("01JTEST", logger.NewNop())
	live.Append(seg(0, "Good morning."))
	rec := &fakeRecording{live: live, dropped: 3}

	var buf syncBuffer
	p := NewPrinter(&buf, true, logger.NewNop())

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), rec) }()

	// Run subscribes before printing the snapshot; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(buf.String(), "Good morning") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	live.Append(seg(1, ""))
	live.Append(seg(2, "Let's start with blockers."))
	live.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("printer did not return after the transcript closed")
	}

	out := buf.String()
	for _, want := range []string{"Standup", "[00:00]", "Good morning.", "[00:30]", "[transcription failed]", "[01:00]", "blockers", "recorded 01:35", "3 frames dropped"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "Good morning.") != 1 {
		t.Errorf("snapshot segment printed more than once:\n%s", out)
	}
}

func TestPrinterStopsOnCancel(t *testing.T) {
	live := transcription.NewLiveTranscript("01JTEST", logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	if err := NewPrinter(&buf, false, logger.NewNop()).Run(ctx, &fakeRecording{live: live}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "recorded") {
		t.Errorf("missing footer: %q", buf.String())
	}
}

func TestPrinterStopsWhenSourceEnds(t *testing.T) {
	live := transcription.NewLiveTranscript("01JTEST", logger.NewNop())
	rec := &fakeRecording{live: live, done: make(chan struct{})}
	close(rec.done)

	var buf bytes.Buffer
	if err := NewPrinter(&buf, true, logger.NewNop()).Run(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "audio input ended") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestModelUpdate(t *testing.T) {
	updates := make(chan sqlite.SegmentRecord)
	m := newModel(&fakeRecording{dropped: 2}, updates, true)

	m.Update(tea.WindowSizeMsg{Width: 60, Height: 20})
	m.Update(segmentMsg{seg: seg(0, "First point.")})
	m.Update(segmentMsg{seg: seg(1, "")})
	m.Update(segmentMsg{seg: seg(1, "duplicate")})
	m.Update(tickMsg(time.Now()))

	view := m.View()
	for _, want := range []string{"Standup", "01:35", "segments 2", "1 failed", "2 frames dropped", "First point.", "[transcription failed]"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if strings.Contains(view, "duplicate") {
		t.Error("replayed segment was rendered")
	}

	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}); cmd == nil {
		t.Fatal("q should quit")
	} else if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should produce a quit message")
	}

	_, cmd := m.Update(closedMsg{})
	if !m.ended || cmd == nil {
		t.Error("closed transcript should end the view")
	}
}
