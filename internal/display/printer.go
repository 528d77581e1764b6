package display

import (
	"context"
	"fmt"
	"io"

	"github.com/yegors/nudge/pkg/logger"
)

// Printer writes one line per segment as it arrives
type Printer struct {
	out        io.Writer
	transcript bool
	logger     *logger.Logger
}

func NewPrinter(out io.Writer, transcript bool, log *logger.Logger) *Printer {
	return &Printer{out: out, transcript: transcript, logger: log.Named("display")}
}

func (p *Printer) Run(ctx context.Context, rec Recording) error {
	s := rec.Session()
	fmt.Fprintf(p.out, "%s %s  %s\n",
		recordingDotStyle.Render("●"),
		titleStyle.Render(s.Title),
		statusStyle.Render("session "+s.ID))

	live := rec.Live()
	updates, cancel := live.Subscribe(64)
	defer cancel()

	sent := -1
	if p.transcript {
		for _, seg := range live.Snapshot() {
			fmt.Fprintln(p.out, segmentLine(seg))
			sent = seg.Seq
		}
	}

	for {
		select {
		case <-ctx.Done():
			p.footer(rec)
			return nil
		case <-rec.SourceDone():
			fmt.Fprintln(p.out, warnStyle.Render("audio input ended"))
			p.footer(rec)
			return nil
		case seg, ok := <-updates:
			if !ok {
				p.footer(rec)
				return nil
			}
			if !p.transcript || seg.Seq <= sent {
				continue
			}
			fmt.Fprintln(p.out, segmentLine(seg))
			sent = seg.Seq
		}
	}
}

func (p *Printer) footer(rec Recording) {
	line := statusStyle.Render(fmt.Sprintf("recorded %s", elapsed(rec.Elapsed())))
	if d := rec.Dropped(); d > 0 {
		line += "  " + warnStyle.Render(fmt.Sprintf("%d frames dropped", d))
	}
	fmt.Fprintln(p.out, line)
}
