package sqlite

import "time"

// SessionState is the persisted lifecycle state of a session
type SessionState string

const (
	StateIdle       SessionState = "idle" // in-memory only, never written
	StateRecording  SessionState = "recording"
	StateStopping   SessionState = "stopping"
	StateStopped    SessionState = "stopped"
	StateProcessing SessionState = "processing"
	StateCompleted  SessionState = "completed"
	StateCrashed    SessionState = "crashed"
	StateFailed     SessionState = "failed"
)

// Valid reports whether s is a state the store may hold.
func (s SessionState) Valid() bool {
	switch s {
	case StateRecording, StateStopping, StateStopped, StateProcessing,
		StateCompleted, StateCrashed, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether no further work is pending for the session.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// SessionRecord is one recording
type SessionRecord struct {
	ID                 string       `json:"id"`
	Title              string       `json:"title"`
	State              SessionState `json:"state"`
	CreatedAt          time.Time    `json:"created_at"`
	StoppedAt          *time.Time   `json:"stopped_at,omitempty"`
	DurationMs         int64        `json:"duration_ms"`
	AudioDevice        string       `json:"audio_device"`
	AudioDir           string       `json:"audio_dir"`
	OwnerPID           int          `json:"owner_pid"`
	NotesPath          string       `json:"notes_path,omitempty"`
	TranscriptPath     string       `json:"transcript_path,omitempty"`
	ModelTranscription string       `json:"model_transcription,omitempty"`
	ModelLLM           string       `json:"model_llm,omitempty"`
	LastError          string       `json:"last_error,omitempty"`
}

// Duration is the recorded audio length.
func (s *SessionRecord) Duration() time.Duration {
	return time.Duration(s.DurationMs) * time.Millisecond
}

// ChunkRecord is one fixed-duration slice of captured audio
type ChunkRecord struct {
	SessionID  string     `json:"session_id"`
	Seq        int        `json:"seq"`
	Path       string     `json:"path"`
	CapturedAt time.Time  `json:"captured_at"`
	OffsetMs   int64      `json:"offset_ms"`
	DurationMs int64      `json:"duration_ms"`
	Persisted  bool       `json:"persisted"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// Segment statuses
const (
	SegmentOK     = "ok"
	SegmentFailed = "failed"
)

// SegmentRecord is the transcript produced from one chunk
type SegmentRecord struct {
	SessionID  string    `json:"session_id"`
	Seq        int       `json:"seq"`
	StartMs    int64     `json:"start_ms"`
	EndMs      int64     `json:"end_ms"`
	Text       string    `json:"text"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	ProducedAt time.Time `json:"produced_at"`
}

// Failed reports whether transcription gave up on this segment.
func (s *SegmentRecord) Failed() bool {
	return s.Status == SegmentFailed
}

// Reminder statuses
const (
	ReminderPending = "pending"
	ReminderAdded   = "added"
	ReminderFailed  = "failed"
	ReminderSkipped = "skipped"
)

// ActionItemRecord is a merged task extracted from a transcript
type ActionItemRecord struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	Task           string     `json:"task"`
	Owner          string     `json:"owner,omitempty"`
	DueRaw         string     `json:"due_raw,omitempty"`
	DueAt          *time.Time `json:"due_at,omitempty"`
	Confidence     float64    `json:"confidence"`
	SourceQuote    string     `json:"source_quote,omitempty"`
	Context        string     `json:"context,omitempty"`
	Windows        []int      `json:"windows"`
	ReminderStatus string     `json:"reminder_status"`
	CreatedAt      time.Time  `json:"created_at"`
}

// SearchHit is a segment matching a text query
type SearchHit struct {
	SessionID    string    `json:"session_id"`
	SessionTitle string    `json:"session_title"`
	CreatedAt    time.Time `json:"created_at"`
	Seq          int       `json:"seq"`
	StartMs      int64     `json:"start_ms"`
	Text         string    `json:"text"`
}
