package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yegors/nudge/internal/llm"
)

func init() {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the external tools and services are reachable",
		Args:  cobra.NoArgs,
		Run:   runDoctor,
	}

	RootCmd.AddCommand(cmd)
}

type check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

func runDoctor(cmd *cobra.Command, args []string) {
	a := mustOpenApp(cmd.Context(), appOptions{pipeline: true})
	defer a.Close()
	cfg := a.cfg

	checks := []check{
		{Name: "config", OK: true, Detail: getConfigPath()},
		{Name: "store", OK: true, Detail: cfg.Storage.DBPath()},
		a.lookPath("ffmpeg", cfg.Audio.FFmpegPath),
	}

	switch cfg.Transcription.Backend {
	case "whisper-cli":
		checks = append(checks, a.lookPath("whisper", cfg.Transcription.BinaryPath))
		checks = append(checks, fileCheck("whisper model", cfg.Transcription.ModelPath))
	case "openai":
		checks = append(checks, check{
			Name:   "transcription api key",
			OK:     cfg.Transcription.APIKey != "",
			Detail: cfg.Transcription.BaseURL,
		})
	}

	checks = append(checks, a.llmCheck(cmd.Context()))

	if cfg.Reminders.Enabled {
		switch cfg.Reminders.Backend {
		case "applescript":
			checks = append(checks, a.lookPath("reminders", "osascript"))
		case "file":
			checks = append(checks, dirCheck("reminders", filepath.Dir(cfg.Reminders.FilePath)))
		}
	}
	if cfg.Notes.Enabled {
		checks = append(checks, dirCheck("notes", cfg.Notes.OutputPath()))
	}

	failed := 0
	for _, c := range checks {
		if !c.OK {
			failed++
		}
	}

	if jsonOutput() {
		printJSON(checks)
	} else {
		for _, c := range checks {
			mark := "ok  "
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Printf("[%s] %-22s %s\n", mark, c.Name, c.Detail)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func (a *app) lookPath(name, bin string) check {
	path, err := a.exec.LookPath(bin)
	if err != nil {
		return check{Name: name, Detail: fmt.Sprintf("%s not found", bin)}
	}
	return check{Name: name, OK: true, Detail: path}
}

func (a *app) llmCheck(ctx context.Context) check {
	c := check{Name: "llm", Detail: a.llm.Name()}
	client, ok := a.llm.(*llm.OpenAIClient)
	if !ok {
		c.OK = true
		return c
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	models, err := client.Models(ctx)
	if err != nil {
		c.Detail = fmt.Sprintf("%s unreachable: %v", a.cfg.LLM.BaseURL, err)
		return c
	}
	want := a.cfg.LLM.Model
	if !slices.ContainsFunc(models, func(m string) bool { return m == want || strings.TrimSuffix(m, ":latest") == want }) {
		c.Detail = fmt.Sprintf("model %s not available (have %d models)", want, len(models))
		return c
	}
	c.OK = true
	return c
}

func fileCheck(name, path string) check {
	if _, err := os.Stat(path); err != nil {
		return check{Name: name, Detail: err.Error()}
	}
	return check{Name: name, OK: true, Detail: path}
}

func dirCheck(name, dir string) check {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return check{Name: name, Detail: err.Error()}
	}
	return check{Name: name, OK: true, Detail: dir}
}
