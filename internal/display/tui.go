package display

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/pkg/logger"
)

// TUI is a full-screen live transcript view. q or ctrl+c ends it.
type TUI struct {
	out        io.Writer
	transcript bool
	logger     *logger.Logger
}

func (t *TUI) Run(ctx context.Context, rec Recording) error {
	live := rec.Live()
	updates, cancel := live.Subscribe(64)
	defer cancel()

	m := newModel(rec, updates, t.transcript)
	for _, seg := range live.Snapshot() {
		m.add(seg)
	}

	p := tea.NewProgram(m, tea.WithOutput(t.out), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		// ErrProgramKilled on cancellation
		return nil
	}
	return err
}

type segmentMsg struct{ seg sqlite.SegmentRecord }

type closedMsg struct{}

type sourceDoneMsg struct{}

type tickMsg time.Time

type model struct {
	rec        Recording
	session    sqlite.SessionRecord
	updates    <-chan sqlite.SegmentRecord
	transcript bool

	lines   []string
	lastSeq int
	failed  int

	elapsed time.Duration
	dropped int64
	ended   bool

	width  int
	height int
}

func newModel(rec Recording, updates <-chan sqlite.SegmentRecord, transcript bool) *model {
	return &model{
		rec:        rec,
		session:    rec.Session(),
		updates:    updates,
		transcript: transcript,
		lastSeq:    -1,
		elapsed:    rec.Elapsed(),
	}
}

func (m *model) add(seg sqlite.SegmentRecord) {
	if seg.Seq <= m.lastSeq {
		return
	}
	m.lastSeq = seg.Seq
	if seg.Failed() {
		m.failed++
	}
	if m.transcript {
		m.lines = append(m.lines, segmentLine(seg))
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(waitSegment(m.updates), waitSource(m.rec.SourceDone()), tick())
}

func waitSource(done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-done
		return sourceDoneMsg{}
	}
}

func waitSegment(updates <-chan sqlite.SegmentRecord) tea.Cmd {
	return func() tea.Msg {
		seg, ok := <-updates
		if !ok {
			return closedMsg{}
		}
		return segmentMsg{seg: seg}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case segmentMsg:
		m.add(msg.seg)
		return m, waitSegment(m.updates)

	case closedMsg, sourceDoneMsg:
		m.ended = true
		return m, tea.Quit

	case tickMsg:
		m.elapsed = m.rec.Elapsed()
		m.dropped = m.rec.Dropped()
		return m, tick()
	}
	return m, nil
}

func (m *model) View() string {
	var b strings.Builder

	state := recordingDotStyle.Render("● REC")
	if m.ended {
		state = statusStyle.Render("■ stopped")
	}
	fmt.Fprintf(&b, "%s  %s  %s\n", state, titleStyle.Render(m.session.Title), statusStyle.Render(elapsed(m.elapsed)))

	status := fmt.Sprintf("session %s  segments %d", m.session.ID, m.lastSeq+1)
	if m.failed > 0 {
		status += "  " + failedStyle.Render(fmt.Sprintf("%d failed", m.failed))
	}
	if m.dropped > 0 {
		status += "  " + warnStyle.Render(fmt.Sprintf("%d frames dropped", m.dropped))
	}
	b.WriteString(statusStyle.Render(status) + "\n")

	width := m.width
	if width <= 0 {
		width = 80
	}
	divider := dividerStyle.Render(strings.Repeat("─", width))
	b.WriteString(divider + "\n")

	lines := m.lines
	if room := m.height - 5; room > 0 && len(lines) > room {
		lines = lines[len(lines)-room:]
	}
	for _, l := range lines {
		b.WriteString(l + "\n")
	}

	b.WriteString(divider + "\n")
	b.WriteString(footerKeyStyle.Render("q") + statusStyle.Render(" stop recording"))
	return b.String()
}
