package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/pkg/logger"
)

const sessionColumns = `id, title, state, created_at, stopped_at, duration_ms, audio_device, audio_dir,
	owner_pid, notes_path, transcript_path, model_transcription, model_llm, last_error`

// SessionFilter narrows ListSessions
type SessionFilter struct {
	States []SessionState
	Since  time.Time
	Until  time.Time
	Limit  int
}

// CreateSession inserts a new session. A session created in the recording
// state is rejected with ErrRecordingActive while another one is recording.
func (s *Store) CreateSession(rec *SessionRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if rec.State == StateRecording {
		var active string
		err := tx.QueryRow(`SELECT id FROM sessions WHERE state = ?`, StateRecording).Scan(&active)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", errs.ErrRecordingActive, active)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check active recording: %w", err)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Title,
		rec.State,
		formatTime(rec.CreatedAt),
		nullTime(rec.StoppedAt),
		rec.DurationMs,
		rec.AudioDevice,
		rec.AudioDir,
		rec.OwnerPID,
		nullString(rec.NotesPath),
		nullString(rec.TranscriptPath),
		nullString(rec.ModelTranscription),
		nullString(rec.ModelLLM),
		nullString(rec.LastError),
	)
	if err != nil {
		if isUniqueViolation(err) && rec.State == StateRecording {
			return errs.ErrRecordingActive
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return nil
}

// UpdateState moves a session from one of the allowed states to next. It
// fails with ErrInvalidTransition when the persisted state is not in from.
func (s *Store) UpdateState(id string, next SessionState, from ...SessionState) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRow(`SELECT state FROM sessions WHERE id = ?`, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", errs.ErrSessionNotFound, id)
		}
		return fmt.Errorf("failed to read session state: %w", err)
	}

	allowed := len(from) == 0
	for _, f := range from {
		if SessionState(current) == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", errs.ErrInvalidTransition, current, next)
	}

	if _, err := tx.Exec(`UPDATE sessions SET state = ? WHERE id = ?`, next, id); err != nil {
		if isUniqueViolation(err) && next == StateRecording {
			return errs.ErrRecordingActive
		}
		return fmt.Errorf("failed to update session state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session state: %w", err)
	}
	return nil
}

// UpdateSession writes every mutable field except state.
func (s *Store) UpdateSession(rec *SessionRecord) error {
	res, err := s.db.Exec(
		`UPDATE sessions
		SET title = ?, stopped_at = ?, duration_ms = ?, owner_pid = ?, notes_path = ?,
			transcript_path = ?, model_transcription = ?, model_llm = ?, last_error = ?
		WHERE id = ?`,
		rec.Title,
		nullTime(rec.StoppedAt),
		rec.DurationMs,
		rec.OwnerPID,
		nullString(rec.NotesPath),
		nullString(rec.TranscriptPath),
		nullString(rec.ModelTranscription),
		nullString(rec.ModelLLM),
		nullString(rec.LastError),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", errs.ErrSessionNotFound, rec.ID)
	}
	return nil
}

// GetSession returns the session with the exact id.
func (s *Store) GetSession(id string) (*SessionRecord, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	defer rows.Close()

	records, corrupt, err := s.scanSessionRows(rows, 0)
	if err != nil {
		return nil, err
	}
	if len(corrupt) > 0 {
		return nil, corrupt[0]
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", errs.ErrSessionNotFound, id)
	}
	return records[0], nil
}

// FindSession resolves an id or a unique id prefix.
func (s *Store) FindSession(idOrPrefix string) (*SessionRecord, error) {
	rec, err := s.GetSession(idOrPrefix)
	if err == nil || !errors.Is(err, errs.ErrSessionNotFound) {
		return rec, err
	}

	rows, err := s.db.Query(
		`SELECT `+sessionColumns+` FROM sessions WHERE id LIKE ? ORDER BY created_at DESC LIMIT 2`,
		strings.ToUpper(idOrPrefix)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query session prefix: %w", err)
	}
	defer rows.Close()

	records, corrupt, err := s.scanSessionRows(rows, 0)
	if err != nil {
		return nil, err
	}
	switch len(records) {
	case 0:
		if len(corrupt) > 0 {
			return nil, corrupt[0]
		}
		return nil, fmt.Errorf("%w: %s", errs.ErrSessionNotFound, idOrPrefix)
	case 1:
		return records[0], nil
	default:
		return nil, fmt.Errorf("session prefix %q is ambiguous", idOrPrefix)
	}
}

// LatestSession returns the most recently created session in any of states.
func (s *Store) LatestSession(states ...SessionState) (*SessionRecord, error) {
	records, err := s.ListSessions(SessionFilter{States: states, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errs.ErrSessionNotFound
	}
	return records[0], nil
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(filter SessionFilter) ([]*SessionRecord, error) {
	var (
		where []string
		args  []any
	)

	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, st := range filter.States {
			placeholders[i] = "?"
			args = append(args, st)
		}
		where = append(where, "state IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, formatTime(filter.Until))
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	// Unreadable rows are skipped so one bad record cannot hide the rest;
	// CorruptSessions reports them.
	records, corrupt, err := s.scanSessionRows(rows, filter.Limit)
	if err != nil {
		return nil, err
	}
	for _, c := range corrupt {
		s.logger.Warn("Skipping unreadable session", logger.SessionID(c.SessionID), logger.Error(c))
	}
	return records, nil
}

// CorruptSessions returns a CorruptStateError for every session record that
// cannot be read, except those already failed.
func (s *Store) CorruptSessions() ([]*errs.CorruptStateError, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions WHERE state != ? ORDER BY id`, StateFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	_, corrupt, err := s.scanSessionRows(rows, 0)
	return corrupt, err
}

// FailCorruptSession marks an unreadable session failed without parsing it.
// An unreadable created_at is rebuilt from the id's timestamp and an
// unreadable stopped_at is cleared, so the record lists again.
func (s *Store) FailCorruptSession(id, reason string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var createdAt string
	var stoppedAt sql.NullString
	err = tx.QueryRow(`SELECT created_at, stopped_at FROM sessions WHERE id = ?`, id).Scan(&createdAt, &stoppedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", errs.ErrSessionNotFound, id)
		}
		return fmt.Errorf("failed to read session: %w", err)
	}

	if _, err := parseTime(createdAt); err != nil {
		created := time.Now()
		if u, uerr := ulid.ParseStrict(id); uerr == nil {
			created = ulid.Time(u.Time())
		}
		createdAt = formatTime(created)
	}
	if _, err := parseNullTime(stoppedAt); err != nil {
		stoppedAt = sql.NullString{}
	}

	_, err = tx.Exec(
		`UPDATE sessions SET state = ?, last_error = ?, created_at = ?, stopped_at = ? WHERE id = ?`,
		StateFailed, reason, createdAt, stoppedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark session failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session state: %w", err)
	}
	return nil
}

// scanSessionRows scans database rows into SessionRecord structs, stopping
// after limit readable rows when limit is positive. Rows with an unknown
// state or unreadable timestamps are returned as CorruptStateErrors instead.
func (s *Store) scanSessionRows(rows *sql.Rows, limit int) ([]*SessionRecord, []*errs.CorruptStateError, error) {
	var (
		records []*SessionRecord
		corrupt []*errs.CorruptStateError
	)
	for rows.Next() {
		if limit > 0 && len(records) >= limit {
			break
		}
		var record SessionRecord
		var state, createdAt string
		var stoppedAt, notesPath, transcriptPath, modelTr, modelLLM, lastError sql.NullString

		if err := rows.Scan(
			&record.ID,
			&record.Title,
			&state,
			&createdAt,
			&stoppedAt,
			&record.DurationMs,
			&record.AudioDevice,
			&record.AudioDir,
			&record.OwnerPID,
			&notesPath,
			&transcriptPath,
			&modelTr,
			&modelLLM,
			&lastError,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to scan session: %w", err)
		}

		record.State = SessionState(state)
		if !record.State.Valid() {
			corrupt = append(corrupt, &errs.CorruptStateError{SessionID: record.ID, Reason: fmt.Sprintf("unknown state %q", state)})
			continue
		}

		var err error
		record.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			corrupt = append(corrupt, &errs.CorruptStateError{SessionID: record.ID, Reason: "unreadable created_at", Err: err})
			continue
		}
		record.StoppedAt, err = parseNullTime(stoppedAt)
		if err != nil {
			corrupt = append(corrupt, &errs.CorruptStateError{SessionID: record.ID, Reason: "unreadable stopped_at", Err: err})
			continue
		}

		record.NotesPath = notesPath.String
		record.TranscriptPath = transcriptPath.String
		record.ModelTranscription = modelTr.String
		record.ModelLLM = modelLLM.String
		record.LastError = lastError.String

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return records, corrupt, nil
}
