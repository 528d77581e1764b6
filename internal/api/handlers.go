package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/internal/session"
	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/pkg/logger"
)

const defaultListLimit = 20

// Handler serves the session API
type Handler struct {
	ctx     context.Context
	manager *session.Manager
	store   *sqlite.Store
	logger  *logger.Logger
}

func NewHandler(ctx context.Context, manager *session.Manager, log *logger.Logger) *Handler {
	return &Handler{
		ctx:     ctx,
		manager: manager,
		store:   manager.Store(),
		logger:  log.Named("api-handler"),
	}
}

// SessionDetail is a session with its action items
type SessionDetail struct {
	*sqlite.SessionRecord
	ActionItems []*sqlite.ActionItemRecord `json:"action_items"`
	Segments    int                        `json:"segments"`
	Live        bool                       `json:"live"`
}

// GetHealth reports liveness and the active recording, if any
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if rec := h.manager.Active(); rec != nil {
		resp["recording"] = rec.ID()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ListSessions lists sessions newest first, optionally filtered by a
// comma-separated state list
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	filter := sqlite.SessionFilter{Limit: limit}
	if v := r.URL.Query().Get("state"); v != "" {
		for _, s := range strings.Split(v, ",") {
			st := sqlite.SessionState(strings.TrimSpace(s))
			if !st.Valid() {
				h.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown state %q", s))
				return
			}
			filter.States = append(filter.States, st)
		}
	}

	sessions, err := h.store.ListSessions(filter)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*sqlite.SessionRecord{}
	}
	h.writeJSON(w, http.StatusOK, sessions)
}

// GetSession returns one session by id or unique id prefix
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	items, err := h.store.ListActionItems(s.ID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	segments, err := h.store.ListSegments(s.ID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if items == nil {
		items = []*sqlite.ActionItemRecord{}
	}
	active := h.manager.Active()
	h.writeJSON(w, http.StatusOK, SessionDetail{
		SessionRecord: s,
		ActionItems:   items,
		Segments:      len(segments),
		Live:          active != nil && active.ID() == s.ID,
	})
}

// GetSegments returns transcript segments, optionally limited to the
// sequence range [from, to]
func (h *Handler) GetSegments(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var (
		segments []*sqlite.SegmentRecord
		err      error
	)
	q := r.URL.Query()
	if q.Has("from") || q.Has("to") {
		from, ferr := queryInt(r, "from", 0)
		to, terr := queryInt(r, "to", 1<<30)
		if ferr != nil || terr != nil {
			h.writeError(w, http.StatusBadRequest, errors.Join(ferr, terr))
			return
		}
		segments, err = h.store.SegmentsInRange(s.ID, from, to)
	} else {
		segments, err = h.store.ListSegments(s.ID)
	}
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if segments == nil {
		segments = []*sqlite.SegmentRecord{}
	}
	h.writeJSON(w, http.StatusOK, segments)
}

// GetActionItems returns a session's action items
func (h *Handler) GetActionItems(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	items, err := h.store.ListActionItems(s.ID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if items == nil {
		items = []*sqlite.ActionItemRecord{}
	}
	h.writeJSON(w, http.StatusOK, items)
}

// ProcessSession starts processing in the background and returns 202
func (h *Handler) ProcessSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	switch s.State {
	case sqlite.StateStopped, sqlite.StateCompleted, sqlite.StateFailed:
	default:
		h.writeError(w, http.StatusConflict, fmt.Errorf("%w: cannot process a %s session", errs.ErrInvalidTransition, s.State))
		return
	}

	id := s.ID
	err := h.manager.ProcessAsync(h.ctx, id, func(_ *session.ProcessResult, err error) {
		if err != nil {
			h.logger.Error("Background processing failed", logger.SessionID(id), logger.Error(err))
		}
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"session_id": s.ID, "status": "processing"})
}

// Search finds transcript segments containing q
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("missing query parameter q"))
		return
	}
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	hits, err := h.store.SearchSegments(query, limit)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if hits == nil {
		hits = []*sqlite.SearchHit{}
	}
	h.writeJSON(w, http.StatusOK, hits)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*sqlite.SessionRecord, bool) {
	s, err := h.store.FindSession(chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrSessionNotFound):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, errs.ErrInvalidTransition), errors.Is(err, errs.ErrSessionBusy):
		h.writeError(w, http.StatusConflict, err)
	default:
		h.logger.Error("Store request failed", logger.Error(err))
		h.writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}
