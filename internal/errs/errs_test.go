package errs

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindsSurviveWrapping(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"transient", &TransientIOError{Op: "push frame", Err: io.ErrShortWrite}, IsTransientIO},
		{"collaborator", &CollaboratorError{Op: "transcribe", Attempts: 3, Err: io.EOF}, IsCollaborator},
		{"integration", &IntegrationError{Collaborator: "reminders", Op: "add", Err: io.EOF}, IsIntegration},
		{"corrupt", &CorruptStateError{SessionID: "s1", Reason: "gap in chunks"}, IsCorruptState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("failed to process session: %w", tt.err)
			if !tt.check(wrapped) {
				t.Errorf("kind lost through wrapping: %v", wrapped)
			}
		})
	}
}

func TestUnwrapReachesCause(t *testing.T) {
	err := &CollaboratorError{Op: "llm", Attempts: 2, Err: io.ErrUnexpectedEOF}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("expected cause to be reachable")
	}
	if IsIntegration(err) {
		t.Error("collaborator error misclassified as integration")
	}
}
