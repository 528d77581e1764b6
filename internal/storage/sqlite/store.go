package sqlite

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/yegors/nudge/pkg/logger"
)

// timeLayout sorts lexicographically, unlike RFC3339Nano which trims zeros.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the durable record of sessions, chunks, segments and action items
type Store struct {
	db     *sql.DB
	logger *logger.Logger

	mu      sync.Mutex
	entropy *rand.Rand
}

// Open opens or creates the database at path and applies the schema.
func Open(path string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; the writer and the sequencer share this handle.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:      db,
		logger:  log.Named("store"),
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.initDB(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// NewSessionID returns a ULID, which sorts by creation time.
func (s *Store) NewSessionID(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

// initDB initializes the database tables
func (s *Store) initDB() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TEXT NOT NULL,
			stopped_at TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			audio_device TEXT NOT NULL DEFAULT '',
			audio_dir TEXT NOT NULL DEFAULT '',
			owner_pid INTEGER NOT NULL DEFAULT 0,
			notes_path TEXT,
			transcript_path TEXT,
			model_transcription TEXT,
			model_llm TEXT,
			last_error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			seq INTEGER NOT NULL,
			path TEXT NOT NULL,
			captured_at TEXT NOT NULL,
			offset_ms INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			persisted INTEGER NOT NULL DEFAULT 0,
			deleted_at TEXT,
			PRIMARY KEY (session_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS segments (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			seq INTEGER NOT NULL,
			start_ms INTEGER NOT NULL,
			end_ms INTEGER NOT NULL,
			text TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			produced_at TEXT NOT NULL,
			UNIQUE (session_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS action_items (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			task TEXT NOT NULL,
			owner TEXT,
			due_raw TEXT,
			due_at TEXT,
			confidence REAL NOT NULL,
			source_quote TEXT,
			context TEXT,
			windows TEXT NOT NULL,
			reminder_status TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL
		)`,
	}

	for _, tableSQL := range tables {
		if _, err := s.db.Exec(tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_single_recording ON sessions(state) WHERE state = 'recording'`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_persisted ON chunks(session_id, persisted)`,
		`CREATE INDEX IF NOT EXISTS idx_action_items_session ON action_items(session_id)`,
	}

	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(timeLayout, v)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
