package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Audio.ChunkSeconds != 30 {
		t.Errorf("chunk_seconds = %d, want 30", cfg.Audio.ChunkSeconds)
	}
	if cfg.Extraction.MinConfidence != 0.6 {
		t.Errorf("min_confidence = %v, want 0.6", cfg.Extraction.MinConfidence)
	}
	if cfg.Extraction.MergePolicy != "max" {
		t.Errorf("merge_policy = %q, want max", cfg.Extraction.MergePolicy)
	}
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[audio]
chunk_seconds = 10

[extraction]
window_chars = 4000
overlap_chars = 400
merge_policy = "average"

[llm]
provider = "ollama"
model = "qwen2.5:7b"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Audio.ChunkSeconds != 10 {
		t.Errorf("chunk_seconds = %d, want 10", cfg.Audio.ChunkSeconds)
	}
	if cfg.Extraction.WindowChars != 4000 || cfg.Extraction.OverlapChars != 400 {
		t.Errorf("window = %d/%d", cfg.Extraction.WindowChars, cfg.Extraction.OverlapChars)
	}
	if cfg.Extraction.MergePolicy != "average" {
		t.Errorf("merge_policy = %q", cfg.Extraction.MergePolicy)
	}
	if cfg.LLM.Model != "qwen2.5:7b" {
		t.Errorf("llm.model = %q", cfg.LLM.Model)
	}
	// untouched keys keep their defaults
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("sample_rate = %d, want 16000", cfg.Audio.SampleRate)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "reminders:\n  enabled: true\n  backend: file\n  file_path: /tmp/r.jsonl\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Reminders.Backend != "file" || cfg.Reminders.FilePath != "/tmp/r.jsonl" {
		t.Errorf("reminders = %+v", cfg.Reminders)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NUDGE_LLM_MODEL", "mistral")
	t.Setenv("NUDGE_DATA_DIR", "/var/lib/nudge")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Model != "mistral" {
		t.Errorf("llm.model = %q, want mistral", cfg.LLM.Model)
	}
	if cfg.Storage.DBPath() != filepath.Join("/var/lib/nudge", "nudge.db") {
		t.Errorf("db path = %q", cfg.Storage.DBPath())
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"overlap too large", func(c *Config) { c.Extraction.OverlapChars = c.Extraction.WindowChars }, "overlap_chars"},
		{"bad merge policy", func(c *Config) { c.Extraction.MergePolicy = "median" }, "merge_policy"},
		{"bad provider", func(c *Config) { c.LLM.Provider = "bard" }, "llm.provider"},
		{"openai without key", func(c *Config) { c.LLM.Provider = "openai"; c.LLM.APIKey = "" }, "api_key"},
		{"partial frames", func(c *Config) { c.Audio.FrameMs = 70 }, "whole number of frames"},
		{"frame without samples", func(c *Config) { c.Audio.SampleRate = 400; c.Audio.FrameMs = 1 }, "whole number of samples"},
		{"fractional samples per frame", func(c *Config) { c.Audio.SampleRate = 44100; c.Audio.FrameMs = 5 }, "whole number of samples"},
		{"zero poll interval", func(c *Config) { c.Watch.PollSeconds = 0 }, "poll_seconds"},
		{"bad reminders backend", func(c *Config) { c.Reminders.Backend = "todoist" }, "reminders.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestYAMLMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-secret"
	out, err := cfg.YAML()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(out), "sk-secret") {
		t.Error("api key leaked into rendered config")
	}
	if cfg.LLM.APIKey != "sk-secret" {
		t.Error("masking mutated the original config")
	}
}
