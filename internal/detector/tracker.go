package detector

import "time"

// State is where the tracker is between observations
type State int

const (
	StateIdle State = iota
	// StateConfirming waits out the start grace before recording.
	StateConfirming
	StateRecording
	// StateCoolingDown waits out the stop grace; a meeting that comes back
	// keeps recording.
	StateCoolingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfirming:
		return "confirming"
	case StateRecording:
		return "recording"
	case StateCoolingDown:
		return "cooling_down"
	default:
		return "unknown"
	}
}

// Action is what the caller should do after an observation
type Action int

const (
	ActionNone Action = iota
	ActionStart
	ActionStop
)

// Tracker turns polled meeting observations into start and stop decisions.
// A meeting must stay up for the start grace before recording starts and
// stay gone for the stop grace before it stops.
type Tracker struct {
	startGrace time.Duration
	stopGrace  time.Duration

	state     State
	enteredAt time.Time
}

func NewTracker(startGrace, stopGrace time.Duration) *Tracker {
	return &Tracker{startGrace: startGrace, stopGrace: stopGrace}
}

func (t *Tracker) State() State { return t.state }

// Observe records whether a meeting is active at now.
func (t *Tracker) Observe(now time.Time, active bool) Action {
	elapsed := now.Sub(t.enteredAt)

	switch t.state {
	case StateIdle:
		if active {
			t.enter(StateConfirming, now)
			if t.startGrace <= 0 {
				t.enter(StateRecording, now)
				return ActionStart
			}
		}
	case StateConfirming:
		switch {
		case !active:
			t.enter(StateIdle, now)
		case elapsed >= t.startGrace:
			t.enter(StateRecording, now)
			return ActionStart
		}
	case StateRecording:
		if !active {
			t.enter(StateCoolingDown, now)
			if t.stopGrace <= 0 {
				t.enter(StateIdle, now)
				return ActionStop
			}
		}
	case StateCoolingDown:
		switch {
		case active:
			t.enter(StateRecording, now)
		case elapsed >= t.stopGrace:
			t.enter(StateIdle, now)
			return ActionStop
		}
	}
	return ActionNone
}

// Reset drops back to idle, e.g. after a refused start.
func (t *Tracker) Reset(now time.Time) {
	t.enter(StateIdle, now)
}

func (t *Tracker) enter(s State, now time.Time) {
	t.state = s
	t.enteredAt = now
}
