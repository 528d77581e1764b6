package reminders

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yegors/nudge/internal/config"
	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/pkg/logger"
)

type fakeExecutor struct {
	mu      sync.Mutex
	scripts []string
	failOn  string
}

func (f *fakeExecutor) Execute(_ context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name != "osascript" || len(args) != 2 || args[0] != "-e" {
		return "", errors.New("unexpected command")
	}
	f.scripts = append(f.scripts, args[1])
	if f.failOn != "" && strings.Contains(args[1], f.failOn) {
		return "", errors.New("execution error: Reminders got an error")
	}
	return "", nil
}

func (f *fakeExecutor) LookPath(name string) (string, error) { return "/usr/bin/" + name, nil }

func testItems() []*sqlite.ActionItemRecord {
	due := time.Date(2026, 10, 16, 17, 0, 0, 0, time.Local)
	return []*sqlite.ActionItemRecord{
		{ID: "s1-01", Task: "Send the report", Owner: "Sarah", DueRaw: "Friday", DueAt: &due, Confidence: 0.9, SourceQuote: "I'll send it Friday", Context: "Quarterly numbers"},
		{ID: "s1-02", Task: "Book the \"big\" room", Confidence: 0.7},
	}
}

func TestAppleScriptAdd(t *testing.T) {
	exec := &fakeExecutor{}
	cfg := config.RemindersConfig{Enabled: true, Backend: "applescript", ListName: "Meeting Actions", IncludeContext: true, IncludeSourceQuote: true}
	w, err := New(cfg, exec, nil, logger.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := w.Add(context.Background(), "Planning", testItems())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if res.Added != 2 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(exec.scripts) != 3 {
		t.Fatalf("scripts = %d, want ensure + 2 adds", len(exec.scripts))
	}
	if !strings.Contains(exec.scripts[0], `exists list "Meeting Actions"`) {
		t.Errorf("ensure script = %s", exec.scripts[0])
	}

	first := exec.scripts[1]
	for _, want := range []string{
		`name:"[Sarah] Send the report"`,
		`due date:date "October 16, 2026 at 05:00 PM"`,
		`Meeting: Planning\n\nQuarterly numbers\n\n\"I'll send it Friday\"`,
	} {
		if !strings.Contains(first, want) {
			t.Errorf("add script missing %q:\n%s", want, first)
		}
	}
	if !strings.Contains(exec.scripts[2], `name:"Book the \"big\" room"`) {
		t.Errorf("quotes not escaped:\n%s", exec.scripts[2])
	}
	if strings.Contains(exec.scripts[2], "due date") {
		t.Error("item without due date got one")
	}
}

func TestPartialFailureKeepsAdded(t *testing.T) {
	exec := &fakeExecutor{failOn: "big"}
	cfg := config.RemindersConfig{Enabled: true, Backend: "applescript", ListName: "Meeting Actions"}
	w, _ := New(cfg, exec, nil, logger.NewNop())

	res, err := w.Add(context.Background(), "Planning", testItems())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errs.IsIntegration(err) {
		t.Errorf("error type = %T", err)
	}
	if res.Added != 1 || res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}
	if res.Status["s1-01"] != sqlite.ReminderAdded || res.Status["s1-02"] != sqlite.ReminderFailed {
		t.Errorf("status = %v", res.Status)
	}
}

func TestEnsureListFailureFailsAll(t *testing.T) {
	exec := &fakeExecutor{failOn: "exists list"}
	cfg := config.RemindersConfig{Enabled: true, Backend: "applescript", ListName: "X"}
	w, _ := New(cfg, exec, nil, logger.NewNop())

	res, err := w.Add(context.Background(), "Planning", testItems())
	if !errs.IsIntegration(err) {
		t.Fatalf("err = %v", err)
	}
	if res.Failed != 2 || len(exec.scripts) != 1 {
		t.Errorf("result = %+v scripts = %d", res, len(exec.scripts))
	}
}

func TestFileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "reminders.jsonl")
	cfg := config.RemindersConfig{Enabled: true, Backend: "file", ListName: "Meeting Actions", FilePath: path}
	w, err := New(cfg, nil, nil, logger.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := w.Add(context.Background(), "Planning", testItems()); err != nil {
		t.Fatalf("Add: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var entries []fileEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e fileEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].Title != "[Sarah] Send the report" || entries[0].Due == nil {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].ItemID != "s1-02" || entries[1].Notes != "Meeting: Planning" {
		t.Errorf("second entry = %+v", entries[1])
	}
}

func TestNoItems(t *testing.T) {
	exec := &fakeExecutor{}
	w, _ := New(config.RemindersConfig{Backend: "applescript", ListName: "X"}, exec, nil, logger.NewNop())
	res, err := w.Add(context.Background(), "Planning", nil)
	if err != nil || res.Added != 0 || len(exec.scripts) != 0 {
		t.Errorf("res = %+v err = %v scripts = %d", res, err, len(exec.scripts))
	}
}

func TestUnknownBackend(t *testing.T) {
	if _, err := New(config.RemindersConfig{Backend: "todoist"}, nil, nil, logger.NewNop()); err == nil {
		t.Error("expected error")
	}
}
