package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yegors/nudge/internal/config"
	"github.com/yegors/nudge/internal/extraction"
	"github.com/yegors/nudge/internal/session"
	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/pkg/logger"
)

type fixture struct {
	store   *sqlite.Store
	server  *httptest.Server
	session *sqlite.SessionRecord
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, session.Deps{})
}

// newFixtureWith builds the fixture around a manager with deps; the store and
// logger are filled in.
func newFixtureWith(t *testing.T, deps session.Deps) *fixture {
	t.Helper()
	log := logger.NewNop()
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "nudge.db"), log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	created := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	s := &sqlite.SessionRecord{
		ID:        store.NewSessionID(created),
		Title:     "Weekly sync",
		State:     sqlite.StateCompleted,
		CreatedAt: created,
	}
	if err := store.CreateSession(s); err != nil {
		t.Fatal(err)
	}
	texts := []string{"Morning all.", "The budget review moves to Thursday.", "Dana owns the budget deck."}
	for i, text := range texts {
		seg := &sqlite.SegmentRecord{
			SessionID:  s.ID,
			Seq:        i,
			StartMs:    int64(i) * 30000,
			EndMs:      int64(i+1) * 30000,
			Text:       text,
			Status:     sqlite.SegmentOK,
			Attempts:   1,
			ProducedAt: created,
		}
		if _, err := store.InsertSegment(seg); err != nil {
			t.Fatal(err)
		}
	}
	items := []*sqlite.ActionItemRecord{{
		ID:             s.ID + "-01",
		SessionID:      s.ID,
		Task:           "Prepare the budget deck",
		Owner:          "Dana",
		Confidence:     0.85,
		Windows:        []int{0},
		ReminderStatus: sqlite.ReminderAdded,
		CreatedAt:      created,
	}}
	if err := store.ReplaceActionItems(s.ID, items); err != nil {
		t.Fatal(err)
	}

	deps.Store = store
	deps.Logger = log
	manager := session.NewManager(cfg, deps)
	router := NewRouter(context.Background(), manager, nil, cfg.Server, log)
	srv := httptest.NewServer(router.Routes())
	t.Cleanup(srv.Close)

	return &fixture{store: store, server: srv, session: s}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	var body map[string]any
	if code := f.get(t, "/api/v1/health", &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["recording"]; ok {
		t.Errorf("no recording expected: %v", body)
	}
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)

	var sessions []sqlite.SessionRecord
	if code := f.get(t, "/api/v1/sessions", &sessions); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(sessions) != 1 || sessions[0].ID != f.session.ID {
		t.Fatalf("sessions = %+v", sessions)
	}

	sessions = nil
	if code := f.get(t, "/api/v1/sessions?state=failed,crashed", &sessions); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(sessions) != 0 {
		t.Errorf("expected no failed sessions, got %d", len(sessions))
	}

	if code := f.get(t, "/api/v1/sessions?state=bogus", nil); code != http.StatusBadRequest {
		t.Errorf("unknown state: status %d", code)
	}
	if code := f.get(t, "/api/v1/sessions?limit=-1", nil); code != http.StatusBadRequest {
		t.Errorf("negative limit: status %d", code)
	}
}

func TestGetSessionByPrefix(t *testing.T) {
	f := newFixture(t)

	var detail struct {
		ID          string                    `json:"id"`
		Title       string                    `json:"title"`
		ActionItems []sqlite.ActionItemRecord `json:"action_items"`
		Segments    int                       `json:"segments"`
		Live        bool                      `json:"live"`
	}
	if code := f.get(t, "/api/v1/sessions/"+f.session.ID[:12], &detail); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if detail.ID != f.session.ID || detail.Title != "Weekly sync" {
		t.Errorf("detail = %+v", detail)
	}
	if detail.Segments != 3 || len(detail.ActionItems) != 1 || detail.Live {
		t.Errorf("detail = %+v", detail)
	}
	if detail.ActionItems[0].Owner != "Dana" {
		t.Errorf("owner = %q", detail.ActionItems[0].Owner)
	}
}

func TestSessionNotFound(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{
		"/api/v1/sessions/nope",
		"/api/v1/sessions/nope/segments",
		"/api/v1/sessions/nope/actions",
		"/api/v1/sessions/nope/live",
	} {
		if code := f.get(t, path, nil); code != http.StatusNotFound {
			t.Errorf("%s: status %d, want 404", path, code)
		}
	}
}

func TestGetSegmentsRange(t *testing.T) {
	f := newFixture(t)

	var all []sqlite.SegmentRecord
	f.get(t, "/api/v1/sessions/"+f.session.ID+"/segments", &all)
	if len(all) != 3 {
		t.Fatalf("got %d segments", len(all))
	}

	var some []sqlite.SegmentRecord
	f.get(t, "/api/v1/sessions/"+f.session.ID+"/segments?from=1&to=2", &some)
	if len(some) != 2 || some[0].Seq != 1 || some[1].Seq != 2 {
		t.Errorf("range = %+v", some)
	}
}

func TestLiveRequiresActiveRecording(t *testing.T) {
	f := newFixture(t)
	if code := f.get(t, "/api/v1/sessions/"+f.session.ID+"/live", nil); code != http.StatusNotFound {
		t.Errorf("status %d, want 404", code)
	}
}

func TestProcessRejectsActiveStates(t *testing.T) {
	f := newFixture(t)
	created := f.session.CreatedAt.Add(time.Hour)
	rec := &sqlite.SessionRecord{
		ID:        f.store.NewSessionID(created),
		State:     sqlite.StateCrashed,
		CreatedAt: created,
	}
	if err := f.store.CreateSession(rec); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(f.server.URL+"/api/v1/sessions/"+rec.ID+"/process", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status %d, want 409", resp.StatusCode)
	}
}

// heldExtractor blocks every extraction until release is closed.
type heldExtractor struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (h *heldExtractor) Extract(ctx context.Context, _ extraction.Input) (*extraction.Result, error) {
	h.calls.Add(1)
	h.once.Do(func() { close(h.entered) })
	select {
	case <-h.release:
		return &extraction.Result{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestProcessRejectsSessionAlreadyProcessing(t *testing.T) {
	ex := &heldExtractor{entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixtureWith(t, session.Deps{Extractor: ex})
	url := f.server.URL + "/api/v1/sessions/" + f.session.ID + "/process"

	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first status %d, want 202", resp.StatusCode)
	}

	resp, err = http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second status %d, want 409", resp.StatusCode)
	}

	<-ex.entered
	close(ex.release)
	deadline := time.Now().Add(5 * time.Second)
	for {
		s, err := f.store.GetSession(f.session.ID)
		if err != nil {
			t.Fatal(err)
		}
		if s.State == sqlite.StateCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session still %s", s.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := ex.calls.Load(); n != 1 {
		t.Errorf("extractions = %d, want 1", n)
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t)

	var hits []sqlite.SearchHit
	if code := f.get(t, "/api/v1/search?q=budget", &hits); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits", len(hits))
	}
	for _, h := range hits {
		if !strings.Contains(strings.ToLower(h.Text), "budget") {
			t.Errorf("hit %q does not match", h.Text)
		}
		if h.SessionTitle != "Weekly sync" {
			t.Errorf("title = %q", h.SessionTitle)
		}
	}

	if code := f.get(t, "/api/v1/search", nil); code != http.StatusBadRequest {
		t.Errorf("missing q: status %d", code)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req, _ := http.NewRequest(http.MethodOptions, f.server.URL+"/api/v1/sessions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestServerLimitsListener(t *testing.T) {
	cfg := config.ServerConfig{ListenAddr: "127.0.0.1:0", MaxConnections: 2}
	srv := NewServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), logger.NewNop())
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if err := <-srv.Done(); err != nil {
		t.Errorf("serve: %v", err)
	}
}
