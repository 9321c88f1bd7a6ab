// Package audit provides an append-only history of commits made through
// this process and of status transitions observed on the backend. It
// supports deduplication of applied commits and retention cleanup.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the audit log
type EventType string

const (
	EventCommitApplied EventType = "commit_applied"
	EventCommitFailed  EventType = "commit_failed"
	EventStatusChanged EventType = "status_changed"
)

// Entry represents a single event in the audit log
type Entry struct {
	ID             int64
	EventType      EventType
	Timestamp      time.Time
	ClientID       string
	Payload        map[string]any
	IdempotencyKey string
}

// Ledger provides append-only audit logging with deduplication
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new event to the audit log.
// For commit_applied events, uses INSERT OR IGNORE so only the first
// completion per idempotency key is recorded (enforced by a unique partial
// index).
func (l *Ledger) Append(eventType EventType, clientID, idempotencyKey string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	now := time.Now().UTC().Unix()

	insertSQL := `INSERT INTO audit_log (event_type, timestamp, client_id, payload, idempotency_key) VALUES (?, ?, ?, ?, ?)`
	if eventType == EventCommitApplied && idempotencyKey != "" {
		insertSQL = `INSERT OR IGNORE INTO audit_log (event_type, timestamp, client_id, payload, idempotency_key) VALUES (?, ?, ?, ?, ?)`
	}

	_, err = l.db.Exec(insertSQL, string(eventType), now, clientID, string(payloadJSON), idempotencyKey)

	return err
}

// HasApplied checks if a commit with the given idempotency_key was recorded
func (l *Ledger) HasApplied(idempotencyKey string) bool {
	if idempotencyKey == "" {
		return false // Empty key = no dedupe
	}

	var exists int
	err := l.db.QueryRow(`
		SELECT 1 FROM audit_log
		WHERE idempotency_key = ? AND event_type = ?
		LIMIT 1
	`, idempotencyKey, string(EventCommitApplied)).Scan(&exists)

	return err == nil && exists == 1
}

// ByClient returns the most recent entries for one client
func (l *Ledger) ByClient(clientID string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, client_id, payload, idempotency_key
		FROM audit_log
		WHERE client_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByType returns entries filtered by event type
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, client_id, payload, idempotency_key
		FROM audit_log
		WHERE event_type = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM audit_log WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, idempotencyKey sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &entry.ClientID, &payloadStr, &idempotencyKey,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		if idempotencyKey.Valid {
			entry.IdempotencyKey = idempotencyKey.String
		}

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
