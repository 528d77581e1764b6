package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileBackend appends reminders as JSON lines, for systems without a
// reminder app or for piping into another tool
type FileBackend struct {
	path string
	mu   sync.Mutex
}

type fileEntry struct {
	ItemID     string     `json:"item_id"`
	List       string     `json:"list"`
	Title      string     `json:"title"`
	Notes      string     `json:"notes,omitempty"`
	Due        *time.Time `json:"due,omitempty"`
	DueRaw     string     `json:"due_raw,omitempty"`
	Confidence float64    `json:"confidence"`
	AddedAt    time.Time  `json:"added_at"`
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (f *FileBackend) Name() string { return "file" }

func (f *FileBackend) EnsureList(_ context.Context, _ string) error {
	return os.MkdirAll(filepath.Dir(f.path), 0o755)
}

func (f *FileBackend) Add(_ context.Context, r Reminder) error {
	line, err := json.Marshal(fileEntry{
		ItemID:     r.ItemID,
		List:       r.List,
		Title:      r.Title,
		Notes:      r.Notes,
		Due:        r.Due,
		DueRaw:     r.DueRaw,
		Confidence: r.Confidence,
		AddedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode reminder: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open reminders file: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		file.Close()
		return fmt.Errorf("failed to append reminder: %w", err)
	}
	return file.Close()
}
