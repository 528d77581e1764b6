// Package extraction turns a finished transcript into deduplicated action
// items, and produces the meeting analysis and digest used by the notes.
package extraction

import (
	"context"
	"sync"
	"time"

	"github.com/yegors/nudge/internal/config"
	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/internal/llm"
	"github.com/yegors/nudge/internal/metrics"
	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/pkg/logger"
	"github.com/yegors/nudge/pkg/retry"
)

// Input is the transcript of one session
type Input struct {
	SessionID string
	// SessionDate anchors relative deadlines; its location is used as-is.
	SessionDate time.Time
	Segments    []*sqlite.SegmentRecord
}

// Result is the outcome of one extraction run
type Result struct {
	Items      []Item
	Windows    int
	Candidates int
	// Dropped counts merged items under the minimum confidence.
	Dropped int
	// FailedWindows lists windows whose model call never succeeded. Their
	// candidates are missing from Items.
	FailedWindows []int
	PromptVersion string
}

// Partial reports whether any window failed.
func (r *Result) Partial() bool { return len(r.FailedWindows) > 0 }

// Records converts the items to store rows.
func (r *Result) Records(sessionID string, now time.Time) []*sqlite.ActionItemRecord {
	out := make([]*sqlite.ActionItemRecord, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, &sqlite.ActionItemRecord{
			ID:             it.ID,
			SessionID:      sessionID,
			Task:           it.Task,
			Owner:          it.Owner,
			DueRaw:         it.DueRaw,
			DueAt:          it.DueAt,
			Confidence:     it.Confidence,
			SourceQuote:    it.Quote,
			Context:        it.Context,
			Windows:        it.Windows,
			ReminderStatus: sqlite.ReminderPending,
			CreatedAt:      now,
		})
	}
	return out
}

// Engine windows a transcript, asks the model for candidates per window and
// merges them
type Engine struct {
	client      llm.Client
	similarity  Similarity
	cfg         config.ExtractionConfig
	temperature float64
	retry       retry.Policy
	metrics     *metrics.Metrics
	logger      *logger.Logger
}

func NewEngine(client llm.Client, sim Similarity, cfg config.ExtractionConfig, llmCfg config.LLMConfig, m *metrics.Metrics, log *logger.Logger) *Engine {
	if sim == nil {
		sim = TextSimilarity{}
	}
	return &Engine{
		client:      client,
		similarity:  sim,
		cfg:         cfg,
		temperature: llmCfg.Temperature,
		retry:       retry.NewPolicy(llmCfg.MaxAttempts, llmCfg.RetryInitialBackoffMs, llmCfg.RetryMaxBackoffMs),
		metrics:     m,
		logger:      log.Named("extraction"),
	}
}

// Extract runs every window, then merges. A window whose model call keeps
// failing is recorded in FailedWindows and the run carries on; only
// cancellation of ctx fails the whole run.
func (e *Engine) Extract(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	log := e.logger.WithSession(in.SessionID)

	windows := BuildWindows(in.Segments, e.cfg.WindowChars, e.cfg.OverlapChars)
	res := &Result{Windows: len(windows), PromptVersion: PromptVersion}
	if len(windows) == 0 {
		log.Info("Transcript is empty, nothing to extract")
		e.metrics.Extraction(time.Since(start), 0)
		return res, nil
	}

	log.Info("Extracting action items",
		logger.Int("windows", len(windows)),
		logger.String("model", e.client.Name()),
		logger.String("prompt_version", PromptVersion))

	perWindow := make([][]Candidate, len(windows))
	failed := make([]bool, len(windows))

	parallelism := e.cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup
	for i, w := range windows {
		wg.Add(1)
		go func(i int, w Window) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				failed[i] = true
				return
			}
			defer func() { <-sem }()

			candidates, err := e.extractWindow(ctx, log, w)
			if err != nil {
				failed[i] = true
				return
			}
			perWindow[i] = candidates
		}(i, w)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scoring := ScoreConfig{MissingOwnerPenalty: e.cfg.MissingOwnerPenalty, MissingQuotePenalty: e.cfg.MissingQuotePenalty}
	var all []Candidate
	for i := range windows {
		if failed[i] {
			res.FailedWindows = append(res.FailedWindows, i)
			continue
		}
		for _, c := range perWindow[i] {
			c.Confidence = Score(c, scoring)
			all = append(all, c)
		}
	}
	res.Candidates = len(all)

	merged := Merge(ctx, all, e.similarity, MergeConfig{
		Threshold: e.cfg.SimilarityThreshold,
		Policy:    MergePolicy(e.cfg.MergePolicy),
	}, in.SessionDate)
	res.Items, res.Dropped = Finalize(in.SessionID, merged, e.cfg.MinConfidence)

	e.metrics.Extraction(time.Since(start), len(res.Items))
	log.Info("Extraction finished",
		logger.Int("candidates", res.Candidates),
		logger.Int("merged", len(merged)),
		logger.Int("items", len(res.Items)),
		logger.Int("below_threshold", res.Dropped),
		logger.Int("failed_windows", len(res.FailedWindows)),
		logger.Duration("took", time.Since(start)))
	return res, nil
}

func (e *Engine) extractWindow(ctx context.Context, log *logger.Logger, w Window) ([]Candidate, error) {
	req := llm.Request{
		System:      extractionSystem,
		Prompt:      extractionPrompt(w.Text),
		Temperature: e.temperature,
	}

	var raw string
	attempts, err := retry.Do(ctx, e.retry, func(int) error {
		out, err := e.client.Complete(ctx, req)
		e.metrics.LLMCall(err == nil)
		if err != nil {
			return err
		}
		raw = out
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		log.Warn("Extraction call failed, retrying",
			logger.Int("window", w.Index),
			logger.Int("attempt", attempt),
			logger.Duration("backoff", wait),
			logger.Error(err))
	})
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("Extraction gave up on window",
				logger.Int("window", w.Index),
				logger.Error(&errs.CollaboratorError{Op: "extract window", Attempts: attempts, Err: err}))
		}
		return nil, err
	}

	candidates, ok := ParseCandidates(raw, w.Index)
	if !ok {
		preview := raw
		if len(preview) > 300 {
			preview = preview[:300]
		}
		log.Warn("Model reply is not a JSON array, treating window as empty",
			logger.Int("window", w.Index),
			logger.String("reply", preview))
	}
	log.Debug("Window extracted",
		logger.Int("window", w.Index),
		logger.Int("first_seq", w.FirstSeq),
		logger.Int("last_seq", w.LastSeq),
		logger.Int("candidates", len(candidates)))
	return candidates, nil
}
