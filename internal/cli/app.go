package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yegors/nudge/internal/config"
	"github.com/yegors/nudge/internal/extraction"
	"github.com/yegors/nudge/internal/integrations/notes"
	"github.com/yegors/nudge/internal/integrations/reminders"
	"github.com/yegors/nudge/internal/llm"
	"github.com/yegors/nudge/internal/metrics"
	"github.com/yegors/nudge/internal/session"
	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/internal/transcription"
	"github.com/yegors/nudge/pkg/executor"
	"github.com/yegors/nudge/pkg/logger"
)

// app is everything a command needs, built from the loaded config.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	metrics  *metrics.Metrics
	store    *sqlite.Store
	exec     executor.Executor
	llm      llm.Client
	analyzer *extraction.Analyzer
	manager  *session.Manager
}

type appOptions struct {
	// pipeline wires the transcription, language-model and integration
	// collaborators. Read-only commands leave it off.
	pipeline bool
	// logToFile sends logs to nudge.log when they would otherwise go to a
	// terminal the command draws on.
	logToFile bool
}

func openApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}

	logOutput := cfg.Display.LogOutput
	if opts.logToFile && (logOutput == "" || logOutput == "stderr" || logOutput == "stdout") {
		logOutput = filepath.Join(config.Dir(), "nudge.log")
		if err := os.MkdirAll(config.Dir(), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", config.Dir(), err)
		}
	}
	log, err := logger.New(logger.Config{Level: cfg.Display.LogLevel, Format: cfg.Display.LogFormat, Output: logOutput})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	if err := os.MkdirAll(cfg.Storage.SessionsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := sqlite.Open(cfg.Storage.DBPath(), log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		metrics: metrics.New(),
		store:   store,
		exec:    executor.New(),
	}

	deps := session.Deps{Store: store, Metrics: a.metrics, Logger: log}
	if opts.pipeline {
		if err := a.wirePipeline(ctx, &deps); err != nil {
			store.Close()
			return nil, err
		}
	}
	a.manager = session.NewManager(cfg, deps)
	return a, nil
}

func (a *app) wirePipeline(ctx context.Context, deps *session.Deps) error {
	cfg := a.cfg

	tr, err := transcription.New(cfg.Transcription, a.exec, a.log)
	if err != nil {
		return err
	}
	client, err := llm.New(ctx, cfg.LLM, a.log)
	if err != nil {
		return err
	}
	sim := extraction.NewSimilarity(cfg.Extraction, cfg.LLM, a.log)
	a.llm = client
	a.analyzer = extraction.NewAnalyzer(client, cfg.Extraction, cfg.LLM, a.metrics, a.log)

	deps.Transcriber = tr
	deps.Extractor = extraction.NewEngine(client, sim, cfg.Extraction, cfg.LLM, a.metrics, a.log)
	deps.Analyzer = a.analyzer
	if cfg.Reminders.Enabled {
		rw, err := reminders.New(cfg.Reminders, a.exec, a.metrics, a.log)
		if err != nil {
			return err
		}
		deps.Reminders = rw
	}
	if cfg.Notes.Enabled {
		deps.Notes = notes.NewWriter(cfg.Notes, a.metrics, a.log)
	}
	deps.ModelLLM = client.Name()
	return nil
}

func (a *app) Close() {
	a.store.Close()
	a.log.Sync()
}

func mustOpenApp(ctx context.Context, opts appOptions) *app {
	a, err := openApp(ctx, opts)
	if err != nil {
		exitErr("startup", err)
	}
	return a
}
