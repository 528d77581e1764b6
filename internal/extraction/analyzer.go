package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yegors/nudge/internal/config"
	"github.com/yegors/nudge/internal/llm"
	"github.com/yegors/nudge/internal/metrics"
	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/pkg/logger"
	"github.com/yegors/nudge/pkg/retry"
)

// DefaultTitle is used when analysis produces none.
const DefaultTitle = "Meeting"

// Analysis is the meeting-level summary shown in the notes header
type Analysis struct {
	Title        string   `json:"title"`
	Summary      string   `json:"summary"`
	Decisions    []string `json:"decisions"`
	Participants []string `json:"participants"`
	Topics       []string `json:"topics"`
}

// Digest summarizes several meetings
type Digest struct {
	Summary         string   `json:"summary"`
	KeyThemes       []string `json:"key_themes"`
	CriticalActions []string `json:"critical_actions"`
	Wins            []string `json:"wins"`
}

// Analyzer asks the model for the meeting analysis and digests. Both fall
// back to empty results instead of failing.
type Analyzer struct {
	client       llm.Client
	excerptChars int
	retry        retry.Policy
	metrics      *metrics.Metrics
	logger       *logger.Logger
}

func NewAnalyzer(client llm.Client, cfg config.ExtractionConfig, llmCfg config.LLMConfig, m *metrics.Metrics, log *logger.Logger) *Analyzer {
	attempts := llmCfg.MaxAttempts
	if attempts > 2 {
		attempts = 2
	}
	return &Analyzer{
		client:       client,
		excerptChars: cfg.WindowChars,
		retry:        retry.NewPolicy(attempts, llmCfg.RetryInitialBackoffMs, llmCfg.RetryMaxBackoffMs),
		metrics:      m,
		logger:       log.Named("analyzer"),
	}
}

// Analyze reads the opening excerpt of the transcript. Summaries do not need
// the whole meeting.
func (a *Analyzer) Analyze(ctx context.Context, transcript string) Analysis {
	result := Analysis{Title: DefaultTitle}
	excerpt := truncate(strings.TrimSpace(transcript), a.excerptChars)
	if excerpt == "" {
		return result
	}

	raw, err := a.complete(ctx, llm.Request{Prompt: analysisPrompt(excerpt), Temperature: 0.2, MaxTokens: 1024})
	if err != nil {
		a.logger.Warn("Meeting analysis failed, using defaults", logger.Error(err))
		return result
	}
	if !decodeJSON(raw, '{', '}', &result) {
		a.logger.Warn("Meeting analysis reply is not a JSON object, using defaults")
		return Analysis{Title: DefaultTitle}
	}
	result.Title = strings.TrimSpace(result.Title)
	if result.Title == "" {
		result.Title = DefaultTitle
	}
	return result
}

// Digest summarizes the given meeting notes.
func (a *Analyzer) Digest(ctx context.Context, notes []string) Digest {
	var result Digest
	if len(notes) == 0 {
		return result
	}

	raw, err := a.complete(ctx, llm.Request{Prompt: digestPrompt(strings.Join(notes, "\n\n---\n\n")), Temperature: 0.3})
	if err != nil {
		a.logger.Warn("Digest failed", logger.Error(err))
		return result
	}
	if !decodeJSON(raw, '{', '}', &result) {
		a.logger.Warn("Digest reply is not a JSON object")
		return Digest{}
	}
	return result
}

func (a *Analyzer) complete(ctx context.Context, req llm.Request) (string, error) {
	var raw string
	_, err := retry.Do(ctx, a.retry, func(int) error {
		out, err := a.client.Complete(ctx, req)
		a.metrics.LLMCall(err == nil)
		if err != nil {
			return err
		}
		raw = out
		return nil
	}, nil)
	return raw, err
}

// DigestNote renders one session for the digest prompt.
func DigestNote(s *sqlite.SessionRecord, items []*sqlite.ActionItemRecord, transcript string, excerptChars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Meeting: %s (%s)\n", s.Title, s.CreatedAt.Local().Format("Mon 2006-01-02"))
	if len(items) > 0 {
		b.WriteString("Action items:\n")
		for _, it := range items {
			line := it.Task
			if it.Owner != "" {
				line = "[" + it.Owner + "] " + line
			}
			if it.DueRaw != "" {
				line += " (due " + it.DueRaw + ")"
			}
			b.WriteString("- " + line + "\n")
		}
	}
	if excerpt := truncate(transcript, excerptChars); excerpt != "" {
		b.WriteString("Transcript excerpt:\n" + excerpt + "\n")
	}
	return b.String()
}

// AutoTitle is the placeholder title given to a session started without
// one. Processing replaces it with the analyzed title.
func AutoTitle(t time.Time) string {
	return "Meeting " + t.Local().Format("2006-01-02 15:04")
}

// IsAutoTitle reports whether title is a placeholder from AutoTitle.
func IsAutoTitle(title string) bool {
	rest, ok := strings.CutPrefix(title, "Meeting ")
	if !ok {
		return title == DefaultTitle || title == ""
	}
	_, err := time.Parse("2006-01-02 15:04", rest)
	return err == nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}
