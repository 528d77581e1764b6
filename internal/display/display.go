// Package display shows a recording's live transcript in the terminal,
// as a full-screen view on a TTY or as plain styled lines otherwise.
package display

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/internal/transcription"
	"github.com/yegors/nudge/pkg/logger"
)

// Recording is the view of an active recording the display needs
type Recording interface {
	Session() sqlite.SessionRecord
	Live() *transcription.LiveTranscript
	Elapsed() time.Duration
	Dropped() int64
	SourceDone() <-chan struct{}
}

// Display follows a recording until the user asks to stop, the context
// ends, the audio input ends or the live transcript closes.
type Display interface {
	Run(ctx context.Context, rec Recording) error
}

// Options selects and configures a display
type Options struct {
	Out io.Writer
	// Quiet forces the plain printer.
	Quiet bool
	// Transcript prints segments as they arrive; without it only the
	// header and footer are shown.
	Transcript bool
}

// New returns the TUI when Out is a terminal and Quiet is unset, otherwise
// the line printer.
func New(opts Options, log *logger.Logger) Display {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if !opts.Quiet && isTerminal(opts.Out) {
		return &TUI{out: opts.Out, transcript: opts.Transcript, logger: log.Named("display")}
	}
	return NewPrinter(opts.Out, opts.Transcript, log)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func timestamp(ms int64) string {
	sec := ms / 1000
	if sec >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", sec/3600, sec/60%60, sec%60)
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

func elapsed(d time.Duration) string {
	return timestamp(d.Milliseconds())
}

func segmentLine(seg sqlite.SegmentRecord) string {
	ts := timestampStyle.Render("[" + timestamp(seg.StartMs) + "]")
	if seg.Failed() {
		return ts + " " + failedStyle.Render("[transcription failed]")
	}
	return ts + " " + seg.Text
}
