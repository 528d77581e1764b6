package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration
type Config struct {
	Audio         AudioConfig         `toml:"audio" yaml:"audio"`
	Transcription TranscriptionConfig `toml:"transcription" yaml:"transcription"`
	LLM           LLMConfig           `toml:"llm" yaml:"llm"`
	Extraction    ExtractionConfig    `toml:"extraction" yaml:"extraction"`
	Reminders     RemindersConfig     `toml:"reminders" yaml:"reminders"`
	Notes         NotesConfig         `toml:"notes" yaml:"notes"`
	Storage       StorageConfig       `toml:"storage" yaml:"storage"`
	Display       DisplayConfig       `toml:"display" yaml:"display"`
	Server        ServerConfig        `toml:"server" yaml:"server"`
	Watch         WatchConfig         `toml:"watch" yaml:"watch"`
}

// AudioConfig configures capture and chunking
type AudioConfig struct {
	Device       string `toml:"device" yaml:"device"`
	InputFormat  string `toml:"input_format" yaml:"input_format"` // ffmpeg -f value: avfoundation, pulse, alsa, dshow
	FFmpegPath   string `toml:"ffmpeg_path" yaml:"ffmpeg_path"`
	SampleRate   int    `toml:"sample_rate" yaml:"sample_rate"`
	Channels     int    `toml:"channels" yaml:"channels"`
	FrameMs      int    `toml:"frame_ms" yaml:"frame_ms"`
	ChunkSeconds int    `toml:"chunk_seconds" yaml:"chunk_seconds"`
	QueueFrames  int    `toml:"queue_frames" yaml:"queue_frames"`
	WriteRetries int    `toml:"write_retries" yaml:"write_retries"`
}

// TranscriptionConfig configures the speech-to-text collaborator
type TranscriptionConfig struct {
	Backend               string `toml:"backend" yaml:"backend"` // whisper-cli, openai
	BinaryPath            string `toml:"binary_path" yaml:"binary_path"`
	ModelPath             string `toml:"model_path" yaml:"model_path"`
	Model                 string `toml:"model" yaml:"model"`
	Language              string `toml:"language" yaml:"language"`
	Threads               int    `toml:"threads" yaml:"threads"`
	BaseURL               string `toml:"base_url" yaml:"base_url"`
	APIKey                string `toml:"api_key" yaml:"api_key"`
	TimeoutSeconds        int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
	MaxAttempts           int    `toml:"max_attempts" yaml:"max_attempts"`
	RetryInitialBackoffMs int    `toml:"retry_initial_backoff_ms" yaml:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs     int    `toml:"retry_max_backoff_ms" yaml:"retry_max_backoff_ms"`
	QueueSize             int    `toml:"queue_size" yaml:"queue_size"`
}

// LLMConfig configures the language-model collaborator
type LLMConfig struct {
	Provider              string  `toml:"provider" yaml:"provider"` // ollama, openai, gemini
	BaseURL               string  `toml:"base_url" yaml:"base_url"`
	APIKey                string  `toml:"api_key" yaml:"api_key"`
	Model                 string  `toml:"model" yaml:"model"`
	Temperature           float64 `toml:"temperature" yaml:"temperature"`
	MaxTokens             int     `toml:"max_tokens" yaml:"max_tokens"`
	TimeoutSeconds        int     `toml:"timeout_seconds" yaml:"timeout_seconds"`
	MaxAttempts           int     `toml:"max_attempts" yaml:"max_attempts"`
	RetryInitialBackoffMs int     `toml:"retry_initial_backoff_ms" yaml:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs     int     `toml:"retry_max_backoff_ms" yaml:"retry_max_backoff_ms"`
	EmbeddingModel        string  `toml:"embedding_model" yaml:"embedding_model"`
	OllamaHost            string  `toml:"ollama_host" yaml:"ollama_host"`
}

// ExtractionConfig configures windowing, scoring and merging
type ExtractionConfig struct {
	WindowChars         int     `toml:"window_chars" yaml:"window_chars"`
	OverlapChars        int     `toml:"overlap_chars" yaml:"overlap_chars"`
	Parallelism         int     `toml:"parallelism" yaml:"parallelism"`
	Similarity          string  `toml:"similarity" yaml:"similarity"` // text, embedding
	SimilarityThreshold float64 `toml:"similarity_threshold" yaml:"similarity_threshold"`
	MergePolicy         string  `toml:"merge_policy" yaml:"merge_policy"` // max, average
	MinConfidence       float64 `toml:"min_confidence" yaml:"min_confidence"`
	MissingOwnerPenalty float64 `toml:"missing_owner_penalty" yaml:"missing_owner_penalty"`
	MissingQuotePenalty float64 `toml:"missing_quote_penalty" yaml:"missing_quote_penalty"`
}

// RemindersConfig configures the reminder-system collaborator
type RemindersConfig struct {
	Enabled            bool   `toml:"enabled" yaml:"enabled"`
	Backend            string `toml:"backend" yaml:"backend"` // applescript, file
	ListName           string `toml:"list_name" yaml:"list_name"`
	FilePath           string `toml:"file_path" yaml:"file_path"`
	IncludeContext     bool   `toml:"include_context" yaml:"include_context"`
	IncludeSourceQuote bool   `toml:"include_source_quote" yaml:"include_source_quote"`
}

// NotesConfig configures the document writer
type NotesConfig struct {
	Enabled     bool   `toml:"enabled" yaml:"enabled"`
	OutputDir   string `toml:"output_dir" yaml:"output_dir"`
	DateFolders bool   `toml:"date_folders" yaml:"date_folders"`
}

// StorageConfig configures where sessions live
type StorageConfig struct {
	DataDir             string `toml:"data_dir" yaml:"data_dir"`
	KeepAudio           bool   `toml:"keep_audio" yaml:"keep_audio"`
	AutoDeleteAudioDays int    `toml:"auto_delete_audio_days" yaml:"auto_delete_audio_days"`
}

// DisplayConfig configures live output and logging
type DisplayConfig struct {
	LiveTranscript bool   `toml:"live_transcript" yaml:"live_transcript"`
	LogLevel       string `toml:"log_level" yaml:"log_level"`
	LogFormat      string `toml:"log_format" yaml:"log_format"`
	LogOutput      string `toml:"log_output" yaml:"log_output"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	ListenAddr         string   `toml:"listen_addr" yaml:"listen_addr"`
	MaxConnections     int      `toml:"max_connections" yaml:"max_connections"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins" yaml:"cors_allowed_origins"`
}

// WatchConfig configures the watch command: meeting detection that starts
// and stops recording, and the WAV inbox.
type WatchConfig struct {
	Meetings          bool   `toml:"meetings" yaml:"meetings"`
	PollSeconds       int    `toml:"poll_seconds" yaml:"poll_seconds"`
	StartGraceSeconds int    `toml:"start_grace_seconds" yaml:"start_grace_seconds"`
	StopGraceSeconds  int    `toml:"stop_grace_seconds" yaml:"stop_grace_seconds"`
	Inbox             bool   `toml:"inbox" yaml:"inbox"`
	InboxDir          string `toml:"inbox_dir" yaml:"inbox_dir"`
	MaxConcurrent     int    `toml:"max_concurrent" yaml:"max_concurrent"`
}

func (w WatchConfig) Poll() time.Duration {
	return time.Duration(w.PollSeconds) * time.Second
}

func (w WatchConfig) StartGrace() time.Duration {
	return time.Duration(w.StartGraceSeconds) * time.Second
}

func (w WatchConfig) StopGrace() time.Duration {
	return time.Duration(w.StopGraceSeconds) * time.Second
}

// Dir is the per-user nudge directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nudge"
	}
	return filepath.Join(home, ".nudge")
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Default returns the configuration used for any key the file leaves out.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			Device:       "BlackHole 2ch",
			InputFormat:  defaultInputFormat(),
			FFmpegPath:   "ffmpeg",
			SampleRate:   16000,
			Channels:     1,
			FrameMs:      100,
			ChunkSeconds: 30,
			QueueFrames:  600,
			WriteRetries: 3,
		},
		Transcription: TranscriptionConfig{
			Backend:               "whisper-cli",
			BinaryPath:            "whisper-cli",
			ModelPath:             filepath.Join(Dir(), "models", "ggml-small.en.bin"),
			Model:                 "small.en",
			Language:              "en",
			Threads:               4,
			TimeoutSeconds:        120,
			MaxAttempts:           3,
			RetryInitialBackoffMs: 500,
			RetryMaxBackoffMs:     5000,
			QueueSize:             64,
		},
		LLM: LLMConfig{
			Provider:              "ollama",
			BaseURL:               "http://localhost:11434/v1/",
			Model:                 "llama3.2:3b",
			Temperature:           0.0,
			MaxTokens:             2048,
			TimeoutSeconds:        120,
			MaxAttempts:           3,
			RetryInitialBackoffMs: 2000,
			RetryMaxBackoffMs:     10000,
			EmbeddingModel:        "nomic-embed-text",
			OllamaHost:            "http://localhost:11434",
		},
		Extraction: ExtractionConfig{
			WindowChars:         12000,
			OverlapChars:        1200,
			Parallelism:         1,
			Similarity:          "text",
			SimilarityThreshold: 0.80,
			MergePolicy:         "max",
			MinConfidence:       0.6,
			MissingOwnerPenalty: 0.1,
			MissingQuotePenalty: 0.1,
		},
		Reminders: RemindersConfig{
			Enabled:            true,
			Backend:            "applescript",
			ListName:           "Meeting Actions",
			FilePath:           filepath.Join(Dir(), "reminders.jsonl"),
			IncludeContext:     true,
			IncludeSourceQuote: true,
		},
		Notes: NotesConfig{
			Enabled:     true,
			OutputDir:   "~/Documents/Meeting Notes",
			DateFolders: true,
		},
		Storage: StorageConfig{
			DataDir:             filepath.Join(Dir(), "data"),
			KeepAudio:           true,
			AutoDeleteAudioDays: 30,
		},
		Display: DisplayConfig{
			LiveTranscript: true,
			LogLevel:       "info",
			LogFormat:      "console",
			LogOutput:      "stderr",
		},
		Server: ServerConfig{
			ListenAddr:     "127.0.0.1:8765",
			MaxConnections: 64,
		},
		Watch: WatchConfig{
			Meetings:          true,
			PollSeconds:       5,
			StartGraceSeconds: 15,
			StopGraceSeconds:  60,
			InboxDir:          filepath.Join(Dir(), "inbox"),
			MaxConcurrent:     1,
		},
	}
}

// Load reads path over the defaults, applies NUDGE_* environment overrides
// and validates. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse yaml config: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse toml config: %w", err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	overrides := map[string]*string{
		"NUDGE_WHISPER_MODEL":  &cfg.Transcription.Model,
		"NUDGE_LLM_MODEL":      &cfg.LLM.Model,
		"NUDGE_LLM_BASE_URL":   &cfg.LLM.BaseURL,
		"NUDGE_LLM_API_KEY":    &cfg.LLM.APIKey,
		"NUDGE_REMINDERS_LIST": &cfg.Reminders.ListName,
		"NUDGE_NOTES_DIR":      &cfg.Notes.OutputDir,
		"NUDGE_DATA_DIR":       &cfg.Storage.DataDir,
		"NUDGE_LOG_LEVEL":      &cfg.Display.LogLevel,
	}
	for key, dst := range overrides {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
}

// YAML renders the effective configuration, secrets masked.
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	if masked.LLM.APIKey != "" {
		masked.LLM.APIKey = "***"
	}
	if masked.Transcription.APIKey != "" {
		masked.Transcription.APIKey = "***"
	}
	return yaml.Marshal(&masked)
}

// SessionsDir holds one audio directory per session.
func (s StorageConfig) SessionsDir() string {
	return filepath.Join(expandHome(s.DataDir), "sessions")
}

// DBPath is the session store file.
func (s StorageConfig) DBPath() string {
	return filepath.Join(expandHome(s.DataDir), "nudge.db")
}

// OutputPath is OutputDir with ~ expanded.
func (n NotesConfig) OutputPath() string {
	return expandHome(n.OutputDir)
}

func (a AudioConfig) ChunkDuration() time.Duration {
	return time.Duration(a.ChunkSeconds) * time.Second
}

func (t TranscriptionConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func defaultInputFormat() string {
	switch goos() {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "pulse"
	}
}
