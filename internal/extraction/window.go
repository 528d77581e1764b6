package extraction

import (
	"strings"

	"github.com/yegors/nudge/internal/storage/sqlite"
)

// Window is an overlapping slice of the transcript sent to the model in one
// call. FirstSeq and LastSeq are the segment sequence numbers it covers.
type Window struct {
	Index    int
	Text     string
	FirstSeq int
	LastSeq  int
	StartMs  int64
	EndMs    int64
}

// unit is a piece of transcript that is never split across windows: a whole
// segment, or one sentence-aligned part of a segment longer than a window.
type unit struct {
	seq     int
	startMs int64
	endMs   int64
	text    string
}

// BuildWindows packs the non-empty segments into windows of at most
// windowChars, each starting far enough back to repeat at least
// overlapChars of its predecessor. Windows always advance by at least one
// unit.
func BuildWindows(segments []*sqlite.SegmentRecord, windowChars, overlapChars int) []Window {
	units := splitUnits(segments, windowChars)
	if len(units) == 0 {
		return nil
	}

	var windows []Window
	start := 0
	for {
		end := start
		size := len(units[start].text)
		for end+1 < len(units) && size+1+len(units[end+1].text) <= windowChars {
			end++
			size += 1 + len(units[end].text)
		}
		windows = append(windows, newWindow(len(windows), units[start:end+1]))
		if end == len(units)-1 {
			return windows
		}

		next := end + 1
		overlap := 0
		for next-1 > start && overlap < overlapChars {
			next--
			overlap += len(units[next].text) + 1
		}
		start = next
	}
}

func newWindow(index int, units []unit) Window {
	parts := make([]string, len(units))
	for i, u := range units {
		parts[i] = u.text
	}
	first, last := units[0], units[len(units)-1]
	return Window{
		Index:    index,
		Text:     strings.Join(parts, " "),
		FirstSeq: first.seq,
		LastSeq:  last.seq,
		StartMs:  first.startMs,
		EndMs:    last.endMs,
	}
}

func splitUnits(segments []*sqlite.SegmentRecord, windowChars int) []unit {
	var units []unit
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" || seg.Failed() {
			continue
		}
		pieces := splitLong(text, windowChars)
		span := seg.EndMs - seg.StartMs
		var consumed int
		for i, p := range pieces {
			// Offsets of split pieces are interpolated by character position.
			u := unit{seq: seg.Seq, text: p}
			u.startMs = seg.StartMs + span*int64(consumed)/int64(len(text))
			consumed += len(p)
			u.endMs = seg.StartMs + span*int64(consumed)/int64(len(text))
			if i == len(pieces)-1 {
				u.endMs = seg.EndMs
			}
			units = append(units, u)
		}
	}
	return units
}

// splitLong cuts text into pieces of at most limit bytes, preferring a
// sentence boundary in the second half of each piece.
func splitLong(text string, limit int) []string {
	var pieces []string
	for len(text) > limit {
		cut := limit
		if i := strings.LastIndex(text[:limit], ". "); i > limit/2 {
			cut = i + 1
		} else {
			for cut > 0 && !isRuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}
		piece := strings.TrimSpace(text[:cut])
		if piece != "" {
			pieces = append(pieces, piece)
		}
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		pieces = append(pieces, text)
	}
	return pieces
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
