package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/pkg/logger"
)

const keepAliveInterval = 15 * time.Second

// StreamLive pushes the live transcript of the session this process is
// recording as server-sent events. Segments already produced are sent
// first; the stream ends when the recording stops.
func (h *Handler) StreamLive(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	rec := h.manager.Active()
	if rec == nil || rec.ID() != s.ID {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("session %s is not recording in this process", s.ID))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	live := rec.Live()
	updates, cancel := live.Subscribe(64)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sent := -1
	for _, seg := range live.Snapshot() {
		if err := writeEvent(w, "segment", seg); err != nil {
			return
		}
		sent = seg.Seq
	}
	flusher.Flush()

	log := h.logger.WithSession(s.ID)
	log.Debug("Live subscriber connected", logger.String("remote_addr", r.RemoteAddr))

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.ctx.Done():
			return
		case seg, ok := <-updates:
			if !ok {
				writeEvent(w, "end", map[string]string{"session_id": s.ID})
				flusher.Flush()
				return
			}
			if seg.Seq <= sent {
				continue
			}
			if err := writeEvent(w, "segment", seg); err != nil {
				log.Debug("Live subscriber gone", logger.Error(err))
				return
			}
			sent = seg.Seq
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if seg, ok := v.(sqlite.SegmentRecord); ok {
		_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seg.Seq, event, data)
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
