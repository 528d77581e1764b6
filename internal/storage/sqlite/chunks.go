package sqlite

import (
	"database/sql"
	"fmt"
	"time"
)

const chunkColumns = `session_id, seq, path, captured_at, offset_ms, duration_ms, persisted, deleted_at`

// InsertChunk records a chunk before its file is written. Re-inserting the
// same sequence number resets the row to unpersisted.
func (s *Store) InsertChunk(rec *ChunkRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO chunks (`+chunkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT (session_id, seq) DO UPDATE SET
			path = excluded.path,
			captured_at = excluded.captured_at,
			offset_ms = excluded.offset_ms,
			duration_ms = excluded.duration_ms,
			persisted = excluded.persisted`,
		rec.SessionID,
		rec.Seq,
		rec.Path,
		formatTime(rec.CapturedAt),
		rec.OffsetMs,
		rec.DurationMs,
		rec.Persisted,
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	return nil
}

// MarkChunkPersisted flags a chunk whose file is durably on disk.
func (s *Store) MarkChunkPersisted(sessionID string, seq int) error {
	res, err := s.db.Exec(
		`UPDATE chunks SET persisted = 1 WHERE session_id = ? AND seq = ?`,
		sessionID, seq,
	)
	if err != nil {
		return fmt.Errorf("failed to mark chunk persisted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chunk %s/%d not found", sessionID, seq)
	}
	return nil
}

// DeleteChunk removes a chunk row.
func (s *Store) DeleteChunk(sessionID string, seq int) error {
	if _, err := s.db.Exec(`DELETE FROM chunks WHERE session_id = ? AND seq = ?`, sessionID, seq); err != nil {
		return fmt.Errorf("failed to delete chunk: %w", err)
	}
	return nil
}

// MarkChunkDeleted records that retention removed the chunk's audio.
func (s *Store) MarkChunkDeleted(sessionID string, seq int, at time.Time) error {
	if _, err := s.db.Exec(
		`UPDATE chunks SET deleted_at = ? WHERE session_id = ? AND seq = ?`,
		formatTime(at), sessionID, seq,
	); err != nil {
		return fmt.Errorf("failed to mark chunk deleted: %w", err)
	}
	return nil
}

// GetChunk returns one chunk, or nil when no row exists.
func (s *Store) GetChunk(sessionID string, seq int) (*ChunkRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+chunkColumns+` FROM chunks WHERE session_id = ? AND seq = ?`,
		sessionID, seq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk: %w", err)
	}
	defer rows.Close()

	records, err := scanChunkRows(rows)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

// ListChunks returns every chunk of a session ordered by sequence number.
func (s *Store) ListChunks(sessionID string) ([]*ChunkRecord, error) {
	return s.ChunksInRange(sessionID, 0, -1)
}

// ChunksInRange returns chunks with from <= seq <= to. A negative to means
// no upper bound.
func (s *Store) ChunksInRange(sessionID string, from, to int) ([]*ChunkRecord, error) {
	if to < 0 {
		to = int(^uint32(0) >> 1)
	}
	rows, err := s.db.Query(
		`SELECT `+chunkColumns+` FROM chunks
		WHERE session_id = ? AND seq BETWEEN ? AND ?
		ORDER BY seq`,
		sessionID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	return scanChunkRows(rows)
}

// PendingChunks returns persisted chunks that have no segment yet.
func (s *Store) PendingChunks(sessionID string) ([]*ChunkRecord, error) {
	rows, err := s.db.Query(
		`SELECT c.session_id, c.seq, c.path, c.captured_at, c.offset_ms, c.duration_ms, c.persisted, c.deleted_at
		FROM chunks c
		LEFT JOIN segments g ON g.session_id = c.session_id AND g.seq = c.seq
		WHERE c.session_id = ? AND c.persisted = 1 AND g.seq IS NULL
		ORDER BY c.seq`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending chunks: %w", err)
	}
	defer rows.Close()

	return scanChunkRows(rows)
}

// CountPersistedChunks returns how many chunks of a session are on disk.
func (s *Store) CountPersistedChunks(sessionID string) (int, error) {
	var n int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM chunks WHERE session_id = ? AND persisted = 1`, sessionID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// ChunksForCleanup returns chunks whose audio is still on disk and whose
// session finished before cutoff.
func (s *Store) ChunksForCleanup(cutoff time.Time) ([]*ChunkRecord, error) {
	rows, err := s.db.Query(
		`SELECT c.session_id, c.seq, c.path, c.captured_at, c.offset_ms, c.duration_ms, c.persisted, c.deleted_at
		FROM chunks c
		JOIN sessions s ON s.id = c.session_id
		WHERE c.deleted_at IS NULL
			AND s.created_at < ?
			AND s.state IN (?, ?)
		ORDER BY c.session_id, c.seq`,
		formatTime(cutoff), StateCompleted, StateFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks for cleanup: %w", err)
	}
	defer rows.Close()

	return scanChunkRows(rows)
}

func scanChunkRows(rows *sql.Rows) ([]*ChunkRecord, error) {
	var records []*ChunkRecord
	for rows.Next() {
		var record ChunkRecord
		var capturedAt string
		var deletedAt sql.NullString

		if err := rows.Scan(
			&record.SessionID,
			&record.Seq,
			&record.Path,
			&capturedAt,
			&record.OffsetMs,
			&record.DurationMs,
			&record.Persisted,
			&deletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}

		var err error
		record.CapturedAt, err = parseTime(capturedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse captured_at: %w", err)
		}
		record.DeletedAt, err = parseNullTime(deletedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse deleted_at: %w", err)
		}

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return records, nil
}
