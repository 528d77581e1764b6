// Package errs holds the pipeline's error taxonomy. Each kind wraps the
// underlying cause so callers can branch with errors.As while log lines keep
// the full chain.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrRecordingActive is returned when a second session tries to enter recording.
	ErrRecordingActive = errors.New("another session is already recording")
	// ErrSessionNotFound is returned by store lookups that match nothing.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidTransition is returned when a state change is not allowed.
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrSessionBusy is returned when a session is already being processed.
	ErrSessionBusy = errors.New("session is already being processed")
	// ErrQueueClosed is returned by Pop once a closed queue is drained.
	ErrQueueClosed = errors.New("queue closed")
)

// TransientIOError covers queue overflow and retryable writes. Never fatal to
// a session.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient io: %s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// CollaboratorError is a speech or LLM call that failed after all attempts.
type CollaboratorError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// IntegrationError is a reminder or document-writer failure. Reported as a
// warning; the session still completes.
type IntegrationError struct {
	Collaborator string
	Op           string
	Err          error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("integration %s: %s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *IntegrationError) Unwrap() error { return e.Err }

// CorruptStateError means a persisted session record is unreadable or
// inconsistent. The session is marked failed.
type CorruptStateError struct {
	SessionID string
	Reason    string
	Err       error
}

func (e *CorruptStateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt state for session %s: %s: %v", e.SessionID, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt state for session %s: %s", e.SessionID, e.Reason)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }

func IsTransientIO(err error) bool {
	var target *TransientIOError
	return errors.As(err, &target)
}

func IsCollaborator(err error) bool {
	var target *CollaboratorError
	return errors.As(err, &target)
}

func IsIntegration(err error) bool {
	var target *IntegrationError
	return errors.As(err, &target)
}

func IsCorruptState(err error) bool {
	var target *CorruptStateError
	return errors.As(err, &target)
}
