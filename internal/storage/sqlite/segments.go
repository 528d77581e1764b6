package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/yegors/nudge/pkg/logger"
)

const segmentColumns = `session_id, seq, start_ms, end_ms, text, status, attempts, produced_at`

// InsertSegment records a transcript segment. A segment is written once per
// sequence number; the returned bool is false when one already existed.
func (s *Store) InsertSegment(rec *SegmentRecord) (bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO segments (`+segmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, seq) DO NOTHING`,
		rec.SessionID,
		rec.Seq,
		rec.StartMs,
		rec.EndMs,
		rec.Text,
		rec.Status,
		rec.Attempts,
		formatTime(rec.ProducedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert segment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListSegments returns every segment of a session in sequence order.
func (s *Store) ListSegments(sessionID string) ([]*SegmentRecord, error) {
	return s.SegmentsInRange(sessionID, 0, -1)
}

// SegmentsInRange returns segments with from <= seq <= to. A negative to
// means no upper bound.
func (s *Store) SegmentsInRange(sessionID string, from, to int) ([]*SegmentRecord, error) {
	if to < 0 {
		to = int(^uint32(0) >> 1)
	}
	rows, err := s.db.Query(
		`SELECT `+segmentColumns+` FROM segments
		WHERE session_id = ? AND seq BETWEEN ? AND ?
		ORDER BY seq`,
		sessionID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	return scanSegmentRows(rows)
}

// NextSegmentSeq is the sequencer cursor: one past the highest recorded
// segment, or 0.
func (s *Store) NextSegmentSeq(sessionID string) (int, error) {
	var next int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM segments WHERE session_id = ?`, sessionID,
	).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to query segment cursor: %w", err)
	}
	return next, nil
}

// Transcript joins the non-empty segment texts of a session in order.
func (s *Store) Transcript(sessionID string) (string, error) {
	segments, err := s.ListSegments(sessionID)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}

// SearchSegments finds segments containing query, newest sessions first.
func (s *Store) SearchSegments(query string, limit int) ([]*SearchHit, error) {
	if limit <= 0 {
		limit = 50
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(query)

	rows, err := s.db.Query(
		`SELECT g.session_id, s.title, s.created_at, g.seq, g.start_ms, g.text
		FROM segments g
		JOIN sessions s ON s.id = g.session_id
		WHERE g.text LIKE ? ESCAPE '\'
		ORDER BY s.created_at DESC, g.seq
		LIMIT ?`,
		"%"+escaped+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search segments: %w", err)
	}
	defer rows.Close()

	var hits []*SearchHit
	for rows.Next() {
		var hit SearchHit
		var createdAt string
		if err := rows.Scan(&hit.SessionID, &hit.SessionTitle, &createdAt, &hit.Seq, &hit.StartMs, &hit.Text); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		if hit.CreatedAt, err = parseTime(createdAt); err != nil {
			s.logger.Warn("Unreadable session created_at in search hit", logger.SessionID(hit.SessionID), logger.Error(err))
		}
		hits = append(hits, &hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search hits: %w", err)
	}
	return hits, nil
}

func scanSegmentRows(rows *sql.Rows) ([]*SegmentRecord, error) {
	var records []*SegmentRecord
	for rows.Next() {
		var record SegmentRecord
		var producedAt string

		if err := rows.Scan(
			&record.SessionID,
			&record.Seq,
			&record.StartMs,
			&record.EndMs,
			&record.Text,
			&record.Status,
			&record.Attempts,
			&producedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}

		var err error
		record.ProducedAt, err = parseTime(producedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse produced_at: %w", err)
		}

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate segments: %w", err)
	}
	return records, nil
}
