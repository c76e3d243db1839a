// Package audit persists safety alerts to a local SQLite database. The alert
// log backs the safety monitor counter, the daily digest, and retention
// cleanup; chat content other than the triggering message is never stored.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Alert is one recorded escalation event.
type Alert struct {
	ID            string    `json:"id"`
	SessionKey    string    `json:"session_key"`
	Channel       string    `json:"channel"`
	TriggerText   string    `json:"trigger_text"`
	MatchedSignal string    `json:"matched_signal"`
	Confidence    float64   `json:"confidence"`
	Notified      bool      `json:"notified"`
	CreatedAt     time.Time `json:"created_at"`
}

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS safety_alerts (
			id TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			channel TEXT NOT NULL DEFAULT '',
			trigger_text TEXT NOT NULL,
			matched_signal TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			notified INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON safety_alerts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_session ON safety_alerts(session_key, created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordAlert stores an escalation event and returns its assigned ID.
func (s *Store) RecordAlert(a Alert) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO safety_alerts (id, session_key, channel, trigger_text, matched_signal, confidence, notified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.SessionKey, a.Channel, a.TriggerText, a.MatchedSignal, a.Confidence,
		boolToInt(a.Notified), a.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("record alert: %w", err)
	}
	return a.ID, nil
}

// MarkNotified records that the Guardian channel acknowledged the alert.
func (s *Store) MarkNotified(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE safety_alerts SET notified = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

// CountSince returns the number of alerts recorded at or after t.
func (s *Store) CountSince(t time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM safety_alerts WHERE created_at >= ?
	`, t.UTC().Format(time.RFC3339)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return n, nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *Store) RecentAlerts(limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, session_key, channel, trigger_text, matched_signal, confidence, notified, created_at
		FROM safety_alerts
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		var notified int
		var created string
		if err := rows.Scan(&a.ID, &a.SessionKey, &a.Channel, &a.TriggerText,
			&a.MatchedSignal, &a.Confidence, &notified, &created); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Notified = notified != 0
		a.CreatedAt, _ = time.Parse(time.RFC3339, created)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

// PruneBefore deletes alerts older than cutoff and reports how many went.
func (s *Store) PruneBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		DELETE FROM safety_alerts WHERE created_at < ?
	`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("prune alerts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
