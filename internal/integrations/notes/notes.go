// Package notes writes the meeting-notes document for a processed session.
package notes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"

	"github.com/yegors/nudge/internal/config"
	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/internal/extraction"
	"github.com/yegors/nudge/internal/metrics"
	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/pkg/logger"
)

const (
	fontName     = "Calibri"
	bodySize     = 11
	headingSize  = 14
	titleSize    = 20
	mutedColor   = "666666"
	textColor    = "000000"
	failedColor  = "C00000"
	maxTitleLen  = 60
	headerLayout = "Monday, January 2, 2006 · 03:04 PM"
)

// Document is everything the notes are rendered from
type Document struct {
	Session  *sqlite.SessionRecord
	Analysis extraction.Analysis
	Items    []*sqlite.ActionItemRecord
	Segments []*sqlite.SegmentRecord
}

// Writer renders sessions as .docx files under the configured directory
type Writer struct {
	cfg     config.NotesConfig
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func NewWriter(cfg config.NotesConfig, m *metrics.Metrics, log *logger.Logger) *Writer {
	return &Writer{
		cfg:     cfg,
		metrics: m,
		logger:  log.Named("notes"),
	}
}

// Path is where the notes for s are written.
func (w *Writer) Path(s *sqlite.SessionRecord) string {
	created := s.CreatedAt.Local()
	dir := w.cfg.OutputPath()
	if w.cfg.DateFolders {
		dir = filepath.Join(dir, created.Format("2006"), created.Format("01 January"))
	}
	return filepath.Join(dir, created.Format("2006-01-02")+" "+SafeTitle(s.Title)+".docx")
}

// Write renders doc and returns the file path. Failures come back as
// *errs.IntegrationError.
func (w *Writer) Write(ctx context.Context, doc Document) (string, error) {
	path, err := w.write(ctx, doc)
	if err != nil {
		w.metrics.IntegrationFailed("notes")
		return "", &errs.IntegrationError{Collaborator: "notes", Op: "write " + filepath.Base(path), Err: err}
	}
	w.logger.Info("Meeting notes written",
		logger.SessionID(doc.Session.ID),
		logger.String("path", path),
		logger.Int("action_items", len(doc.Items)))
	return path, nil
}

func (w *Writer) write(ctx context.Context, doc Document) (string, error) {
	path := w.Path(doc.Session)
	if err := ctx.Err(); err != nil {
		return path, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return path, fmt.Errorf("failed to create notes directory: %w", err)
	}

	d, err := godocx.NewDocument()
	if err != nil {
		return path, fmt.Errorf("failed to create document: %w", err)
	}

	title := doc.Analysis.Title
	if title == "" {
		title = doc.Session.Title
	}
	if title == "" {
		title = extraction.DefaultTitle
	}

	run(d.AddParagraph(""), strings.ToUpper(title), titleSize, textColor, true)
	run(d.AddParagraph(""), doc.Session.CreatedAt.Local().Format(headerLayout), bodySize, mutedColor, false)
	run(d.AddParagraph(""), "Duration: "+formatDuration(doc.Session.Duration()), bodySize, mutedColor, false)
	if len(doc.Analysis.Participants) > 0 {
		run(d.AddParagraph(""), "Participants: "+strings.Join(doc.Analysis.Participants, ", "), bodySize, mutedColor, false)
	}

	if doc.Analysis.Summary != "" {
		heading(d, "SUMMARY")
		run(d.AddParagraph(""), doc.Analysis.Summary, bodySize, textColor, false)
	}

	if len(doc.Analysis.Decisions) > 0 {
		heading(d, "KEY DECISIONS")
		for _, dec := range doc.Analysis.Decisions {
			run(d.AddParagraph(""), "• "+dec, bodySize, textColor, false)
		}
	}

	heading(d, "ACTION ITEMS")
	if len(doc.Items) == 0 {
		run(d.AddParagraph(""), "No action items.", bodySize, mutedColor, false)
	}
	for i, it := range doc.Items {
		p := d.AddParagraph("")
		run(p, fmt.Sprintf("%d. ", i+1), bodySize, textColor, true)
		run(p, it.Task, bodySize, textColor, false)
		run(p, fmt.Sprintf("   Owner: %s   Due: %s", orDash(it.Owner), dueText(it)), bodySize, mutedColor, false)
	}

	heading(d, "FULL TRANSCRIPT")
	for _, seg := range doc.Segments {
		p := d.AddParagraph("")
		run(p, "["+Timestamp(seg.StartMs)+"] ", bodySize, mutedColor, false)
		if seg.Failed() {
			run(p, "[transcription failed]", bodySize, failedColor, true)
			continue
		}
		run(p, seg.Text, bodySize, textColor, false)
	}

	d.AddParagraph("")
	run(d.AddParagraph(""), "nudge session: "+doc.Session.ID, 9, mutedColor, false)

	if err := d.SaveTo(path); err != nil {
		return path, fmt.Errorf("failed to save document: %w", err)
	}
	return path, nil
}

// body is the part of the godocx document the renderer needs.
type body interface {
	AddParagraph(text string) *docx.Paragraph
}

func heading(d body, text string) {
	d.AddParagraph("")
	run(d.AddParagraph(""), text, headingSize, textColor, true)
}

func run(p *docx.Paragraph, text string, size uint64, color string, bold bool) {
	r := p.AddText(text).Font(fontName).Size(size).Color(color)
	if bold {
		r.Bold(true)
	}
}

// SafeTitle keeps letters, digits, space, '-' and '_' and cuts the result to
// 60 characters.
func SafeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	safe := strings.TrimSpace(b.String())
	if rs := []rune(safe); len(rs) > maxTitleLen {
		safe = strings.TrimSpace(string(rs[:maxTitleLen]))
	}
	if safe == "" {
		return extraction.DefaultTitle
	}
	return safe
}

// Timestamp renders an offset as mm:ss, or h:mm:ss past the hour.
func Timestamp(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm", int(d.Hours()), int(d.Minutes())%60)
}

func dueText(it *sqlite.ActionItemRecord) string {
	if it.DueAt != nil {
		return it.DueAt.Local().Format("Mon Jan 2")
	}
	return orDash(it.DueRaw)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
