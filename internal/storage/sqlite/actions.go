package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

const actionColumns = `id, session_id, task, owner, due_raw, due_at, confidence, source_quote,
	context, windows, reminder_status, created_at`

// ReplaceActionItems swaps a session's action items for items in one
// transaction, so re-running extraction leaves exactly the latest set.
func (s *Store) ReplaceActionItems(sessionID string, items []*ActionItemRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM action_items WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear action items: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO action_items (` + actionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare action item insert: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		windows, err := json.Marshal(item.Windows)
		if err != nil {
			return fmt.Errorf("failed to encode windows: %w", err)
		}
		status := item.ReminderStatus
		if status == "" {
			status = ReminderPending
		}
		if _, err := stmt.Exec(
			item.ID,
			sessionID,
			item.Task,
			nullString(item.Owner),
			nullString(item.DueRaw),
			nullTime(item.DueAt),
			item.Confidence,
			nullString(item.SourceQuote),
			nullString(item.Context),
			string(windows),
			status,
			formatTime(item.CreatedAt),
		); err != nil {
			return fmt.Errorf("failed to insert action item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit action items: %w", err)
	}
	return nil
}

// ListActionItems returns a session's items, most confident first.
func (s *Store) ListActionItems(sessionID string) ([]*ActionItemRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+actionColumns+` FROM action_items
		WHERE session_id = ?
		ORDER BY confidence DESC, task`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query action items: %w", err)
	}
	defer rows.Close()

	return scanActionRows(rows)
}

// UpdateReminderStatus records the reminder outcome for one item.
func (s *Store) UpdateReminderStatus(id, status string) error {
	if _, err := s.db.Exec(`UPDATE action_items SET reminder_status = ? WHERE id = ?`, status, id); err != nil {
		return fmt.Errorf("failed to update reminder status: %w", err)
	}
	return nil
}

func scanActionRows(rows *sql.Rows) ([]*ActionItemRecord, error) {
	var records []*ActionItemRecord
	for rows.Next() {
		var record ActionItemRecord
		var owner, dueRaw, dueAt, quote, context sql.NullString
		var windows, createdAt string

		if err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&record.Task,
			&owner,
			&dueRaw,
			&dueAt,
			&record.Confidence,
			&quote,
			&context,
			&windows,
			&record.ReminderStatus,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan action item: %w", err)
		}

		var err error
		if record.DueAt, err = parseNullTime(dueAt); err != nil {
			return nil, fmt.Errorf("failed to parse due_at: %w", err)
		}
		if record.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if err := json.Unmarshal([]byte(windows), &record.Windows); err != nil {
			return nil, fmt.Errorf("failed to decode windows: %w", err)
		}

		record.Owner = owner.String
		record.DueRaw = dueRaw.String
		record.SourceQuote = quote.String
		record.Context = context.String

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate action items: %w", err)
	}
	return records, nil
}
