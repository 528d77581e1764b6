package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.FrameDropped()
	m.TranscriptionAttempt(false, time.Second)
	m.Extraction(time.Second, 3)
	m.IntegrationFailed("reminders")
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.FrameDropped()
	m.FrameDropped()
	m.Segment("failed")
	m.TranscriptionAttempt(true, 2*time.Second)

	if got := testutil.ToFloat64(m.FramesDropped); got != 2 {
		t.Errorf("frames dropped = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Segments.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed segments = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	if !strings.Contains(string(body), "nudge_frames_dropped_total 2") {
		t.Errorf("exposition missing counter:\n%s", body)
	}
}
