package extraction

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var fencePattern = regexp.MustCompile("(?i)```(?:json)?")

// Candidate is one action item as a single window reported it, before
// merging.
type Candidate struct {
	Task    string
	Owner   string
	DueRaw  string
	Context string
	Quote   string
	// RawConfidence is the model's own score, nil when it gave none.
	RawConfidence *float64
	Confidence    float64
	Window        int
	Position      int
}

type rawCandidate struct {
	Task        string `json:"task"`
	Assignee    string `json:"assignee"`
	Deadline    string `json:"deadline"`
	Context     string `json:"context"`
	Confidence  any    `json:"confidence"`
	SourceQuote string `json:"source_quote"`
}

// ParseCandidates reads the model's reply for one window. Malformed output
// yields no candidates and ok=false rather than an error. Elements that fail
// to decode or have no task are skipped.
func ParseCandidates(raw string, window int) (out []Candidate, ok bool) {
	var elems []json.RawMessage
	if !decodeJSON(raw, '[', ']', &elems) {
		return nil, false
	}

	for _, elem := range elems {
		var rc rawCandidate
		if err := json.Unmarshal(elem, &rc); err != nil {
			continue
		}
		task := strings.TrimSpace(rc.Task)
		if task == "" {
			continue
		}
		out = append(out, Candidate{
			Task:          task,
			Owner:         cleanOptional(rc.Assignee),
			DueRaw:        cleanOptional(rc.Deadline),
			Context:       strings.TrimSpace(rc.Context),
			Quote:         strings.TrimSpace(rc.SourceQuote),
			RawConfidence: parseConfidence(rc.Confidence),
			Window:        window,
			Position:      len(out),
		})
	}
	return out, true
}

// decodeJSON tries the reply as-is, then without markdown fences, then the
// outermost open..close span.
func decodeJSON(raw string, open, close byte, v any) bool {
	raw = strings.TrimSpace(raw)
	if json.Unmarshal([]byte(raw), v) == nil {
		return true
	}
	stripped := strings.TrimSpace(fencePattern.ReplaceAllString(raw, ""))
	if json.Unmarshal([]byte(stripped), v) == nil {
		return true
	}
	i := strings.IndexByte(raw, open)
	j := strings.LastIndexByte(raw, close)
	if i >= 0 && j > i {
		return json.Unmarshal([]byte(raw[i:j+1]), v) == nil
	}
	return false
}

func parseConfidence(v any) *float64 {
	var f float64
	switch c := v.(type) {
	case float64:
		f = c
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

// cleanOptional maps the placeholder values models use for "nobody" or
// "no date" to empty.
func cleanOptional(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "null", "none", "n/a", "unknown", "unclear", "tbd", "-":
		return ""
	}
	return s
}
