package notes

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/internal/storage/sqlite"
)

// TranscriptPath is the plain-text transcript written beside the notes.
func (w *Writer) TranscriptPath(s *sqlite.SessionRecord) string {
	return strings.TrimSuffix(w.Path(s), ".docx") + ".txt"
}

// WriteTranscript saves the timestamped transcript as plain text so it can be
// grepped or fed to other tools.
func (w *Writer) WriteTranscript(s *sqlite.SessionRecord, segments []*sqlite.SegmentRecord) (string, error) {
	path := w.TranscriptPath(s)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		w.metrics.IntegrationFailed("notes")
		return "", &errs.IntegrationError{Collaborator: "notes", Op: "create transcript directory", Err: err}
	}
	if err := os.WriteFile(path, []byte(FormatTranscript(segments)), 0o644); err != nil {
		w.metrics.IntegrationFailed("notes")
		return "", &errs.IntegrationError{Collaborator: "notes", Op: "write " + filepath.Base(path), Err: err}
	}
	return path, nil
}

// FormatTranscript renders one "[mm:ss] text" line per segment.
func FormatTranscript(segments []*sqlite.SegmentRecord) string {
	var b strings.Builder
	for _, seg := range segments {
		text := seg.Text
		if seg.Failed() {
			text = "[transcription failed]"
		}
		fmt.Fprintf(&b, "[%s] %s\n", Timestamp(seg.StartMs), text)
	}
	return b.String()
}
