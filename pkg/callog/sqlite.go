// Package callog persists call detail records and finalized transcript
// lines to SQLite. It is an optional audit trail: no runtime behavior
// depends on it, and the orchestrator runs fine with it disabled.
package callog

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("call log: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "call log: open")
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			call_id TEXT PRIMARY KEY,
			opened_at_ms INTEGER NOT NULL,
			closed_at_ms INTEGER,
			close_reason TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS call_turns (
			call_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			recorded_at_ms INTEGER NOT NULL,
			PRIMARY KEY (call_id, ordinal)
		);`,
		`CREATE INDEX IF NOT EXISTS call_turns_by_call ON call_turns(call_id, recorded_at_ms);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "call log: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) CallOpened(callID string, at time.Time) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO calls (call_id, opened_at_ms) VALUES (?, ?)`,
		callID, at.UnixMilli(),
	)
	return errors.Wrap(err, "call log: record open")
}

func (s *SQLiteStore) CallClosed(callID string, reason string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE calls SET closed_at_ms = ?, close_reason = ? WHERE call_id = ?`,
		at.UnixMilli(), reason, callID,
	)
	return errors.Wrap(err, "call log: record close")
}

func (s *SQLiteStore) TurnRecorded(callID, role, text string, at time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO call_turns (call_id, ordinal, role, text, recorded_at_ms)
		 VALUES (?, (SELECT COALESCE(MAX(ordinal), -1) + 1 FROM call_turns WHERE call_id = ?), ?, ?, ?)`,
		callID, callID, role, text, at.UnixMilli(),
	)
	return errors.Wrap(err, "call log: record turn")
}

// TurnCount reports how many transcript lines were recorded for a call.
func (s *SQLiteStore) TurnCount(callID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM call_turns WHERE call_id = ?`, callID).Scan(&n)
	return n, errors.Wrap(err, "call log: count turns")
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
