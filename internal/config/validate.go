package config

import (
	"errors"
	"fmt"
	"runtime"
)

var goos = func() string { return runtime.GOOS }

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	validators := []func() error{
		c.Audio.Validate,
		c.Transcription.Validate,
		c.LLM.Validate,
		c.Extraction.Validate,
		c.Reminders.Validate,
		c.Storage.Validate,
		c.Display.Validate,
		c.Server.Validate,
		c.Watch.Validate,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", a.SampleRate)
	}
	if a.Channels <= 0 {
		return fmt.Errorf("audio.channels must be positive, got %d", a.Channels)
	}
	if a.FrameMs <= 0 || a.FrameMs > 1000 {
		return fmt.Errorf("audio.frame_ms must be in (0, 1000], got %d", a.FrameMs)
	}
	if a.ChunkSeconds <= 0 {
		return fmt.Errorf("audio.chunk_seconds must be positive, got %d", a.ChunkSeconds)
	}
	if a.SampleRate*a.FrameMs%1000 != 0 {
		return fmt.Errorf("audio.frame_ms must hold a whole number of samples at %d Hz, got %d", a.SampleRate, a.FrameMs)
	}
	if (a.ChunkSeconds*1000)%a.FrameMs != 0 {
		return fmt.Errorf("audio.chunk_seconds must be a whole number of frames (frame_ms=%d)", a.FrameMs)
	}
	if a.QueueFrames <= 0 {
		a.QueueFrames = 600
	}
	if a.WriteRetries <= 0 {
		a.WriteRetries = 1
	}
	if a.FFmpegPath == "" {
		a.FFmpegPath = "ffmpeg"
	}
	return nil
}

func (t *TranscriptionConfig) Validate() error {
	switch t.Backend {
	case "whisper-cli":
		if t.BinaryPath == "" {
			return errors.New("transcription.binary_path is required for the whisper-cli backend")
		}
	case "openai":
		if t.Model == "" {
			t.Model = "whisper-1"
		}
	default:
		return fmt.Errorf("unsupported transcription.backend: %q", t.Backend)
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = 1
	}
	if t.RetryMaxBackoffMs < t.RetryInitialBackoffMs {
		t.RetryMaxBackoffMs = t.RetryInitialBackoffMs
	}
	if t.QueueSize <= 0 {
		t.QueueSize = 64
	}
	if t.TimeoutSeconds <= 0 {
		t.TimeoutSeconds = 120
	}
	return nil
}

func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case "ollama":
		if l.BaseURL == "" {
			l.BaseURL = "http://localhost:11434/v1/"
		}
		if l.APIKey == "" {
			l.APIKey = "ollama"
		}
	case "openai":
		if l.APIKey == "" {
			return errors.New("llm.api_key is required for the openai provider")
		}
	case "gemini":
		if l.APIKey == "" {
			return errors.New("llm.api_key is required for the gemini provider")
		}
	default:
		return fmt.Errorf("unsupported llm.provider: %q", l.Provider)
	}
	if l.Model == "" {
		return errors.New("llm.model is required")
	}
	if l.MaxAttempts <= 0 {
		l.MaxAttempts = 1
	}
	if l.RetryMaxBackoffMs < l.RetryInitialBackoffMs {
		l.RetryMaxBackoffMs = l.RetryInitialBackoffMs
	}
	if l.TimeoutSeconds <= 0 {
		l.TimeoutSeconds = 120
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = 2048
	}
	return nil
}

func (e *ExtractionConfig) Validate() error {
	if e.WindowChars <= 0 {
		return fmt.Errorf("extraction.window_chars must be positive, got %d", e.WindowChars)
	}
	if e.OverlapChars < 0 || e.OverlapChars >= e.WindowChars {
		return fmt.Errorf("extraction.overlap_chars must be in [0, window_chars), got %d", e.OverlapChars)
	}
	if e.SimilarityThreshold <= 0 || e.SimilarityThreshold > 1 {
		return fmt.Errorf("extraction.similarity_threshold must be in (0, 1], got %v", e.SimilarityThreshold)
	}
	if e.MinConfidence < 0 || e.MinConfidence > 1 {
		return fmt.Errorf("extraction.min_confidence must be in [0, 1], got %v", e.MinConfidence)
	}
	switch e.MergePolicy {
	case "max", "average":
	case "":
		e.MergePolicy = "max"
	default:
		return fmt.Errorf("unsupported extraction.merge_policy: %q", e.MergePolicy)
	}
	switch e.Similarity {
	case "text", "embedding":
	case "":
		e.Similarity = "text"
	default:
		return fmt.Errorf("unsupported extraction.similarity: %q", e.Similarity)
	}
	if e.Parallelism <= 0 {
		e.Parallelism = 1
	}
	return nil
}

func (r *RemindersConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	switch r.Backend {
	case "applescript":
		if r.ListName == "" {
			r.ListName = "Meeting Actions"
		}
	case "file":
		if r.FilePath == "" {
			return errors.New("reminders.file_path is required for the file backend")
		}
	default:
		return fmt.Errorf("unsupported reminders.backend: %q", r.Backend)
	}
	return nil
}

func (s *StorageConfig) Validate() error {
	if s.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if s.AutoDeleteAudioDays < 0 {
		s.AutoDeleteAudioDays = 0
	}
	return nil
}

func (d *DisplayConfig) Validate() error {
	switch d.LogFormat {
	case "json", "console":
	case "":
		d.LogFormat = "console"
	default:
		return fmt.Errorf("unsupported display.log_format: %q", d.LogFormat)
	}
	if d.LogLevel == "" {
		d.LogLevel = "info"
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.ListenAddr == "" {
		s.ListenAddr = "127.0.0.1:8765"
	}
	if s.MaxConnections <= 0 {
		s.MaxConnections = 64
	}
	return nil
}

func (w *WatchConfig) Validate() error {
	if w.PollSeconds <= 0 {
		return fmt.Errorf("watch.poll_seconds must be positive, got %d", w.PollSeconds)
	}
	if w.StartGraceSeconds < 0 || w.StopGraceSeconds < 0 {
		return errors.New("watch grace periods must not be negative")
	}
	if w.MaxConcurrent <= 0 {
		w.MaxConcurrent = 1
	}
	return nil
}
