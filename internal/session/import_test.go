package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/yegors/nudge/internal/audio"
	"github.com/yegors/nudge/internal/storage/sqlite"
)

func TestImportWAVFile(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, nil, nil)

	pcm := make([]byte, 65*testFormat.SampleRate*testFormat.Channels*audio.BytesPerSample)
	data, err := audio.EncodeWAV(testFormat, pcm)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "standup.wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := h.manager.Import(context.Background(), path, "")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Session.State != sqlite.StateCompleted {
		t.Errorf("state = %s", res.Session.State)
	}
	if res.Session.Title != "standup" {
		t.Errorf("title = %q", res.Session.Title)
	}
	if res.Session.DurationMs != 65000 {
		t.Errorf("duration = %d", res.Session.DurationMs)
	}

	chunks, err := h.store.ListChunks(res.Session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 || chunks[2].DurationMs != 5000 {
		t.Errorf("chunks = %d", len(chunks))
	}
	segs, err := h.store.ListSegments(res.Session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 3 {
		t.Errorf("segments = %d", len(segs))
	}
	if h.manager.Active() != nil {
		t.Error("import should release the recording slot")
	}
}

func TestImportMissingFile(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, nil)
	if _, err := h.manager.Import(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), ""); err == nil {
		t.Fatal("expected an error")
	}
	sessions, err := h.store.ListSessions(sqlite.SessionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Errorf("no session should be created, got %d", len(sessions))
	}
}
