// Package session owns the recording lifecycle: start, cooperative stop,
// post-session processing and crash recovery. Every transition is written to
// the store before the work it gates begins, so the persisted state is what
// recovery trusts.
package session

import (
	"fmt"

	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/internal/metrics"
	"github.com/yegors/nudge/internal/storage/sqlite"
)

// transitions lists, per target state, the states it may be entered from.
var transitions = map[sqlite.SessionState][]sqlite.SessionState{
	sqlite.StateRecording:  {sqlite.StateIdle},
	sqlite.StateStopping:   {sqlite.StateRecording, sqlite.StateCrashed},
	sqlite.StateStopped:    {sqlite.StateStopping},
	sqlite.StateProcessing: {sqlite.StateStopped, sqlite.StateCompleted, sqlite.StateProcessing, sqlite.StateFailed},
	sqlite.StateCompleted:  {sqlite.StateProcessing},
	sqlite.StateCrashed:    {sqlite.StateRecording, sqlite.StateStopping},
	sqlite.StateFailed:     {sqlite.StateRecording, sqlite.StateStopping, sqlite.StateCrashed, sqlite.StateProcessing},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to sqlite.SessionState) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// StateStore is the part of the store that persists transitions
type StateStore interface {
	UpdateState(id string, next sqlite.SessionState, from ...sqlite.SessionState) error
}

// transition persists id -> to, failing with errs.ErrInvalidTransition when
// the stored state may not move there.
func transition(store StateStore, m *metrics.Metrics, id string, to sqlite.SessionState) error {
	from, ok := transitions[to]
	if !ok {
		return fmt.Errorf("%w: no way into %s", errs.ErrInvalidTransition, to)
	}
	if err := store.UpdateState(id, to, from...); err != nil {
		return err
	}
	m.Transition(string(to))
	return nil
}
