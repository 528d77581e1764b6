package session

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yegors/nudge/internal/audio"
	"github.com/yegors/nudge/internal/config"
	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/internal/extraction"
	"github.com/yegors/nudge/internal/integrations/notes"
	"github.com/yegors/nudge/internal/integrations/reminders"
	"github.com/yegors/nudge/internal/llm"
	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/internal/transcription"
	"github.com/yegors/nudge/pkg/logger"
)

// testFormat makes one second of audio 2000 bytes.
var testFormat = audio.Format{SampleRate: 1000, Channels: 1, FrameMs: 100}

// fakeSource pushes a fixed amount of silence and ends, or with hold set
// keeps the input open until Stop.
type fakeSource struct {
	frames   int
	hold     bool
	startErr error

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func newFakeSource(seconds int) *fakeSource {
	return &fakeSource{
		frames: seconds * 1000 / testFormat.FrameMs,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (f *fakeSource) Start(_ context.Context, _ string, sink audio.FrameSink) error {
	if f.startErr != nil {
		return f.startErr
	}
	go func() {
		defer close(f.done)
		start := time.Now()
		for i := 0; i < f.frames; i++ {
			sink.Push(audio.Frame{
				Data:       make([]byte, testFormat.FrameBytes()),
				CapturedAt: start.Add(time.Duration(i*testFormat.FrameMs) * time.Millisecond),
			})
		}
		if f.hold {
			<-f.stop
		}
	}()
	return nil
}

func (f *fakeSource) Stop() error {
	f.once.Do(func() { close(f.stop) })
	if f.startErr == nil {
		<-f.done
	}
	return nil
}

func (f *fakeSource) Done() <-chan struct{} { return f.done }
func (f *fakeSource) Err() error            { return nil }
func (f *fakeSource) Format() audio.Format  { return testFormat }

// fakeTranscriber returns scripted text per chunk and fails chunks listed in
// failures that many times first.
type fakeTranscriber struct {
	mu       sync.Mutex
	texts    map[int]string
	failures map[int]int
	calls    map[int]int
}

func (f *fakeTranscriber) Name() string { return "fake" }

func (f *fakeTranscriber) Transcribe(_ context.Context, chunk transcription.ChunkAudio) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[int]int)
	}
	f.calls[chunk.Seq]++
	if f.failures[chunk.Seq] > 0 {
		f.failures[chunk.Seq]--
		return "", errors.New("whisper crashed")
	}
	if t, ok := f.texts[chunk.Seq]; ok {
		return t, nil
	}
	return fmt.Sprintf("chunk %d", chunk.Seq), nil
}

// scriptedLLM answers by the first key found in the prompt.
type scriptedLLM struct {
	replies map[string]string
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	for key, reply := range s.replies {
		if strings.Contains(req.Prompt, key) {
			return reply, nil
		}
	}
	return "[]", nil
}

type fakeAnalyzer struct{ title string }

func (f fakeAnalyzer) Analyze(context.Context, string) extraction.Analysis {
	return extraction.Analysis{Title: f.title, Summary: "Numbers reviewed.", Participants: []string{"Sarah"}}
}

type failingBackend struct{}

func (failingBackend) Name() string                                  { return "failing" }
func (failingBackend) EnsureList(context.Context, string) error      { return nil }
func (failingBackend) Add(context.Context, reminders.Reminder) error { return errors.New("reminders unavailable") }

type harness struct {
	cfg         *config.Config
	store       *sqlite.Store
	transcriber *fakeTranscriber
	manager     *Manager
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DataDir = dir
	cfg.Storage.KeepAudio = true
	cfg.Audio.SampleRate = testFormat.SampleRate
	cfg.Audio.Channels = testFormat.Channels
	cfg.Audio.FrameMs = testFormat.FrameMs
	cfg.Audio.ChunkSeconds = 30
	cfg.Audio.QueueFrames = 2000
	cfg.Transcription.MaxAttempts = 3
	cfg.Transcription.RetryInitialBackoffMs = 1
	cfg.Transcription.RetryMaxBackoffMs = 2
	cfg.LLM.MaxAttempts = 2
	cfg.LLM.RetryInitialBackoffMs = 1
	cfg.LLM.RetryMaxBackoffMs = 2
	cfg.Extraction.WindowChars = 80
	cfg.Extraction.OverlapChars = 40
	cfg.Reminders.Backend = "file"
	cfg.Reminders.FilePath = filepath.Join(dir, "reminders.jsonl")
	cfg.Notes.OutputDir = filepath.Join(dir, "notes")
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config, client llm.Client, rw ReminderWriter) *harness {
	t.Helper()
	log := logger.NewNop()

	store, err := sqlite.Open(cfg.Storage.DBPath(), log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tr := &fakeTranscriber{texts: map[int]string{
		0: "Let's review the quarterly numbers.",
		1: "Sarah will send the report by Friday.",
		2: "Thanks everyone.",
	}}
	if client == nil {
		client = &scriptedLLM{}
	}
	engine := extraction.NewEngine(client, extraction.TextSimilarity{}, cfg.Extraction, cfg.LLM, nil, log)

	m := NewManager(cfg, Deps{
		Store:       store,
		Transcriber: tr,
		Extractor:   engine,
		Analyzer:    fakeAnalyzer{title: "Quarterly review"},
		Reminders:   rw,
		Notes:       notes.NewWriter(cfg.Notes, nil, log),
		NewSource:   func(string) audio.FrameSource { return newFakeSource(0) },
		ModelLLM:    client.Name(),
		Logger:      log,
	})
	return &harness{cfg: cfg, store: store, transcriber: tr, manager: m}
}

func record(t *testing.T, m *Manager, seconds int) string {
	t.Helper()
	ctx := context.Background()
	rec, err := m.Start(ctx, StartOptions{Source: newFakeSource(seconds)})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-rec.SourceDone()
	if err := rec.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	return rec.ID()
}

func TestEndToEndSession(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.KeepAudio = false
	client := &scriptedLLM{replies: map[string]string{
		"quarterly":       `[{"task":"Send the report","assignee":"Sarah","deadline":"Friday","confidence":0.9,"source_quote":"Sarah will send the report by Friday"}]`,
		"Thanks everyone": `[{"task":"Send the report","assignee":"Sarah","deadline":"Friday","confidence":0.75,"source_quote":"Sarah will send the report by Friday"}]`,
	}}
	rw, err := reminders.New(cfg.Reminders, nil, nil, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, cfg, client, rw)
	h.transcriber.failures = map[int]int{1: 2}

	id := record(t, h.manager, 90)

	s, err := h.store.GetSession(id)
	if err != nil {
		t.Fatal(err)
	}
	if s.State != sqlite.StateStopped || s.DurationMs != 90_000 {
		t.Fatalf("after stop: state=%s duration=%d", s.State, s.DurationMs)
	}

	segs, err := h.store.ListSegments(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 3 {
		t.Fatalf("segments = %d, want 3", len(segs))
	}
	for i, seg := range segs {
		if seg.Seq != i || seg.Status != sqlite.SegmentOK || seg.Text == "" {
			t.Errorf("segment %d = %+v", i, seg)
		}
		if seg.StartMs != int64(i)*30_000 {
			t.Errorf("segment %d starts at %d", i, seg.StartMs)
		}
	}
	if segs[1].Attempts != 3 || h.transcriber.calls[1] != 3 {
		t.Errorf("chunk 1 attempts = %d calls = %d, want 3", segs[1].Attempts, h.transcriber.calls[1])
	}

	res, err := h.manager.Process(context.Background(), id)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v", res.Warnings)
	}

	items, err := h.store.ListActionItems(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	it := items[0]
	if it.Owner != "Sarah" || it.DueRaw != "Friday" || it.Confidence != 0.9 {
		t.Errorf("item = %+v", it)
	}
	if len(it.Windows) != 2 || it.Windows[0] != 0 || it.Windows[1] != 1 {
		t.Errorf("windows = %v", it.Windows)
	}
	if it.ReminderStatus != sqlite.ReminderAdded {
		t.Errorf("reminder status = %s", it.ReminderStatus)
	}

	s, _ = h.store.GetSession(id)
	if s.State != sqlite.StateCompleted || s.Title != "Quarterly review" || s.ModelLLM != "scripted" {
		t.Errorf("session = %+v", s)
	}
	if _, err := os.Stat(s.NotesPath); err != nil {
		t.Errorf("notes: %v", err)
	}
	if lines := countLines(t, cfg.Reminders.FilePath); lines != 1 {
		t.Errorf("reminders written = %d, want 1", lines)
	}

	chunks, _ := h.store.ListChunks(id)
	for _, c := range chunks {
		if c.DeletedAt == nil {
			t.Errorf("chunk %d audio kept", c.Seq)
		}
		if _, err := os.Stat(c.Path); !os.IsNotExist(err) {
			t.Errorf("chunk file %s still present", c.Path)
		}
	}
}

func TestIntegrationFailureStillCompletes(t *testing.T) {
	cfg := testConfig(t)
	client := &scriptedLLM{replies: map[string]string{
		"quarterly": `[{"task":"Send the report","assignee":"Sarah","confidence":0.9,"source_quote":"by Friday"}]`,
	}}
	rw := reminders.NewWriter(failingBackend{}, cfg.Reminders, nil, logger.NewNop())
	h := newHarness(t, cfg, client, rw)

	id := record(t, h.manager, 90)
	res, err := h.manager.Process(context.Background(), id)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Warnings) != 1 || !errs.IsIntegration(res.Warnings[0]) {
		t.Errorf("warnings = %v", res.Warnings)
	}

	s, _ := h.store.GetSession(id)
	if s.State != sqlite.StateCompleted {
		t.Errorf("state = %s", s.State)
	}
	items, _ := h.store.ListActionItems(id)
	if len(items) != 1 || items[0].ReminderStatus != sqlite.ReminderFailed {
		t.Errorf("items = %+v", items)
	}
}

func TestBelowMinConfidenceNeverReachesReminders(t *testing.T) {
	cfg := testConfig(t)
	client := &scriptedLLM{replies: map[string]string{
		"quarterly": `[{"task":"Maybe look at slides","confidence":0.5}]`,
	}}
	rw, _ := reminders.New(cfg.Reminders, nil, nil, logger.NewNop())
	h := newHarness(t, cfg, client, rw)

	id := record(t, h.manager, 90)
	if _, err := h.manager.Process(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	items, _ := h.store.ListActionItems(id)
	if len(items) != 0 {
		t.Errorf("items = %+v", items)
	}
	if _, err := os.Stat(cfg.Reminders.FilePath); !os.IsNotExist(err) {
		t.Errorf("reminders file written: %v", err)
	}
}

func TestSingleRecording(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, nil)
	ctx := context.Background()

	src := newFakeSource(1)
	src.hold = true
	rec, err := h.manager.Start(ctx, StartOptions{Source: src})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := h.manager.Start(ctx, StartOptions{Source: newFakeSource(1)}); !errors.Is(err, errs.ErrRecordingActive) {
		t.Errorf("second start err = %v", err)
	}

	// Another process sharing the store sees the live owner and is refused.
	other := NewManager(h.cfg, Deps{Store: h.store, Transcriber: h.transcriber, Logger: logger.NewNop()})
	other.pid = h.manager.pid + 100000
	if _, err := other.Start(ctx, StartOptions{Source: newFakeSource(1)}); !errors.Is(err, errs.ErrRecordingActive) {
		t.Errorf("other process start err = %v", err)
	}

	if err := rec.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := rec.Stop(ctx); err != nil {
		t.Errorf("second Stop = %v", err)
	}

	again, err := h.manager.Start(ctx, StartOptions{Source: newFakeSource(1)})
	if err != nil {
		t.Fatalf("start after stop: %v", err)
	}
	<-again.SourceDone()
	again.Stop(ctx)
}

func TestSourceFailureMarksFailed(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, nil)
	src := newFakeSource(1)
	src.startErr = errors.New("device not found")

	if _, err := h.manager.Start(context.Background(), StartOptions{Source: src}); err == nil {
		t.Fatal("expected error")
	}
	sessions, _ := h.store.ListSessions(sqlite.SessionFilter{})
	if len(sessions) != 1 || sessions[0].State != sqlite.StateFailed || sessions[0].LastError == "" {
		t.Fatalf("sessions = %+v", sessions)
	}
	if h.manager.Active() != nil {
		t.Error("failed start left an active recording")
	}
}

// crash records seconds of audio and abandons the pipeline once every full
// chunk is on disk, leaving the session in the recording state.
func crash(t *testing.T, h *harness, seconds int) string {
	t.Helper()
	rec, err := h.manager.Start(context.Background(), StartOptions{Source: newFakeSource(seconds)})
	if err != nil {
		t.Fatal(err)
	}
	<-rec.SourceDone()
	want := seconds / h.cfg.Audio.ChunkSeconds
	deadline := time.Now().Add(5 * time.Second)
	for {
		n, _ := h.store.CountPersistedChunks(rec.ID())
		if n >= want && rec.queue.Len() == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d chunks persisted", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec.abandon()
	return rec.ID()
}

func TestRecoverCrashedSession(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, nil)
	id := crash(t, h, 75)

	s, _ := h.store.GetSession(id)
	if s.State != sqlite.StateRecording {
		t.Fatalf("state after crash = %s", s.State)
	}

	// A partial write and a chunk whose row never made it.
	if err := os.WriteFile(filepath.Join(s.AudioDir, "chunk_0004.wav.tmp"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	wav, err := audio.EncodeWAV(testFormat, make([]byte, 10*2000))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(audio.ChunkPath(s.AudioDir, 3), wav, 0o644); err != nil {
		t.Fatal(err)
	}

	crashed, err := h.manager.DetectCrashed(context.Background())
	if err != nil || len(crashed) != 1 || crashed[0].ID != id {
		t.Fatalf("DetectCrashed = %v, %v", crashed, err)
	}

	res, err := h.manager.Recover(context.Background(), id, false)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if res.Chunks != 4 || res.Adopted != 1 {
		t.Errorf("result = %+v", res)
	}

	s, _ = h.store.GetSession(id)
	if s.State != sqlite.StateStopped {
		t.Errorf("state = %s", s.State)
	}
	if s.DurationMs != 85_000 {
		t.Errorf("duration = %d", s.DurationMs)
	}

	segs, _ := h.store.ListSegments(id)
	if len(segs) != 4 {
		t.Fatalf("segments = %d, want 4", len(segs))
	}
	if segs[3].StartMs != 75_000 || segs[3].EndMs != 85_000 {
		t.Errorf("adopted segment = %+v", segs[3])
	}
	if _, err := os.Stat(filepath.Join(s.AudioDir, "chunk_0004.wav.tmp")); !os.IsNotExist(err) {
		t.Error("temp file not removed")
	}
}

func TestRecoverGapFailsSession(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, nil)
	id := crash(t, h, 90)

	s, _ := h.store.GetSession(id)
	if err := os.Remove(audio.ChunkPath(s.AudioDir, 1)); err != nil {
		t.Fatal(err)
	}

	_, err := h.manager.Recover(context.Background(), id, false)
	if !errs.IsCorruptState(err) {
		t.Fatalf("err = %v, want corrupt state", err)
	}
	s, _ = h.store.GetSession(id)
	if s.State != sqlite.StateFailed || s.LastError == "" {
		t.Errorf("session = %+v", s)
	}
}

func TestRecoverAllProcesses(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, nil)
	id := crash(t, h, 60)

	results, err := h.manager.RecoverAll(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Processed == nil {
		t.Fatalf("results = %+v", results)
	}
	s, _ := h.store.GetSession(id)
	if s.State != sqlite.StateCompleted {
		t.Errorf("state = %s", s.State)
	}
}

// corruptSession rewrites a session row behind the store's back.
func corruptSession(t *testing.T, cfg *config.Config, query string, args ...any) {
	t.Helper()
	db, err := sql.Open("sqlite", cfg.Storage.DBPath()+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatal(err)
	}
}

func TestCorruptSessionIsFailedNotBlocking(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, nil, nil)
	ctx := context.Background()

	record(t, h.manager, 5)
	bad := record(t, h.manager, 5)
	corruptSession(t, cfg, `UPDATE sessions SET state = 'stopping', created_at = 'garbage' WHERE id = ?`, bad)

	crashed, err := h.manager.DetectCrashed(ctx)
	if err != nil {
		t.Fatalf("DetectCrashed: %v", err)
	}
	if len(crashed) != 0 {
		t.Errorf("crashed = %+v", crashed)
	}

	s, err := h.store.GetSession(bad)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.State != sqlite.StateFailed || !strings.Contains(s.LastError, "created_at") {
		t.Errorf("corrupt session = %+v, want failed with the reason", s)
	}

	list, err := h.store.ListSessions(sqlite.SessionFilter{})
	if err != nil || len(list) != 2 {
		t.Fatalf("ListSessions = %d, %v", len(list), err)
	}

	// A new recording still starts.
	record(t, h.manager, 5)
}

func TestRecoverAllReportsCorruptSessions(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, nil, nil)

	crashedID := crash(t, h, 30)
	bad := record(t, h.manager, 5)
	corruptSession(t, cfg, `UPDATE sessions SET state = 'recordin' WHERE id = ?`, bad)

	results, err := h.manager.RecoverAll(context.Background(), false)
	if !errs.IsCorruptState(err) {
		t.Fatalf("err = %v, want corrupt state", err)
	}
	if len(results) != 1 || results[0].Session.ID != crashedID {
		t.Fatalf("results = %+v", results)
	}

	s, err := h.store.GetSession(bad)
	if err != nil {
		t.Fatal(err)
	}
	if s.State != sqlite.StateFailed || !strings.Contains(s.LastError, "recordin") {
		t.Errorf("corrupt session = %+v", s)
	}
}

func TestDetectCrashedSkipsLiveOwners(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, nil)
	orig := processAlive
	processAlive = func(pid int) bool { return pid == 4242 }
	t.Cleanup(func() { processAlive = orig })

	now := time.Now().UTC()
	live := &sqlite.SessionRecord{ID: h.store.NewSessionID(now), Title: "a", State: sqlite.StateStopping, CreatedAt: now, OwnerPID: 4242}
	dead := &sqlite.SessionRecord{ID: h.store.NewSessionID(now.Add(time.Second)), Title: "b", State: sqlite.StateStopping, CreatedAt: now, OwnerPID: 4343}
	for _, s := range []*sqlite.SessionRecord{live, dead} {
		if err := h.store.CreateSession(s); err != nil {
			t.Fatal(err)
		}
	}

	crashed, err := h.manager.DetectCrashed(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(crashed) != 1 || crashed[0].ID != dead.ID {
		t.Errorf("crashed = %+v", crashed)
	}
}

func TestReprocessCompletedSession(t *testing.T) {
	cfg := testConfig(t)
	client := &scriptedLLM{replies: map[string]string{
		"quarterly": `[{"task":"Send the report","assignee":"Sarah","confidence":0.9,"source_quote":"by Friday"}]`,
	}}
	h := newHarness(t, cfg, client, nil)
	id := record(t, h.manager, 30)

	first, err := h.manager.Process(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.manager.Process(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Items) != 1 || len(second.Items) != 1 || first.Items[0].ID != second.Items[0].ID {
		t.Errorf("first = %+v second = %+v", first.Items, second.Items)
	}
	items, _ := h.store.ListActionItems(id)
	if len(items) != 1 || items[0].ReminderStatus != sqlite.ReminderSkipped {
		t.Errorf("items = %+v", items)
	}
}

// heldLLM blocks every completion until release is closed.
type heldLLM struct {
	reply   string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (h *heldLLM) Name() string { return "held" }

func (h *heldLLM) Complete(ctx context.Context, _ llm.Request) (string, error) {
	h.once.Do(func() { close(h.entered) })
	select {
	case <-h.release:
		return h.reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestProcessRejectsConcurrentRun(t *testing.T) {
	cfg := testConfig(t)
	client := &heldLLM{
		reply:   `[{"task":"Send the report","assignee":"Sarah","deadline":"Friday","confidence":0.9,"source_quote":"Sarah will send the report by Friday"}]`,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	rw, err := reminders.New(cfg.Reminders, nil, nil, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, cfg, client, rw)
	id := record(t, h.manager, 60)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := h.manager.Process(ctx, id)
		first <- err
	}()
	<-client.entered

	if _, err := h.manager.Process(ctx, id); !errors.Is(err, errs.ErrSessionBusy) {
		t.Errorf("second Process err = %v, want ErrSessionBusy", err)
	}
	if err := h.manager.ProcessAsync(ctx, id, nil); !errors.Is(err, errs.ErrSessionBusy) {
		t.Errorf("ProcessAsync err = %v, want ErrSessionBusy", err)
	}

	close(client.release)
	if err := <-first; err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if lines := countLines(t, cfg.Reminders.FilePath); lines != 1 {
		t.Errorf("reminders written = %d, want 1", lines)
	}

	// The claim is released once the run ends.
	done := make(chan error, 1)
	if err := h.manager.ProcessAsync(ctx, id, func(_ *ProcessResult, err error) { done <- err }); err != nil {
		t.Fatalf("ProcessAsync after completion: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("reprocess: %v", err)
	}
}

func TestCleanup(t *testing.T) {
	h := newHarness(t, testConfig(t), nil, nil)
	id := record(t, h.manager, 60)
	if _, err := h.manager.Process(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	h.manager.now = func() time.Time { return time.Now().AddDate(0, 0, 40) }

	dry, err := h.manager.Cleanup(context.Background(), 30, true)
	if err != nil {
		t.Fatal(err)
	}
	if dry.Files != 2 || dry.Sessions != 1 {
		t.Errorf("dry run = %+v", dry)
	}
	for _, c := range dry.Chunks {
		if _, err := os.Stat(c.Path); err != nil {
			t.Errorf("dry run removed %s", c.Path)
		}
	}

	res, err := h.manager.Cleanup(context.Background(), 30, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Files != 2 {
		t.Errorf("cleanup = %+v", res)
	}
	chunks, _ := h.store.ListChunks(id)
	for _, c := range chunks {
		if c.DeletedAt == nil {
			t.Errorf("chunk %d not marked deleted", c.Seq)
		}
	}
	if segs, _ := h.store.ListSegments(id); len(segs) != 2 {
		t.Errorf("segments = %d after cleanup", len(segs))
	}

	again, _ := h.manager.Cleanup(context.Background(), 30, false)
	if again.Files != 0 {
		t.Errorf("second cleanup = %+v", again)
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to sqlite.SessionState
		ok       bool
	}{
		{sqlite.StateIdle, sqlite.StateRecording, true},
		{sqlite.StateRecording, sqlite.StateStopping, true},
		{sqlite.StateStopping, sqlite.StateStopped, true},
		{sqlite.StateStopped, sqlite.StateProcessing, true},
		{sqlite.StateProcessing, sqlite.StateCompleted, true},
		{sqlite.StateProcessing, sqlite.StateFailed, true},
		{sqlite.StateRecording, sqlite.StateCrashed, true},
		{sqlite.StateCrashed, sqlite.StateStopping, true},
		{sqlite.StateCompleted, sqlite.StateProcessing, true},
		{sqlite.StateRecording, sqlite.StateCompleted, false},
		{sqlite.StateStopped, sqlite.StateRecording, false},
		{sqlite.StateCrashed, sqlite.StateProcessing, false},
		{sqlite.StateCompleted, sqlite.StateStopping, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}
