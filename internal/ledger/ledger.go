// Package ledger provides an append-only event history for tempod.
// Every refresh and update check leaves one entry, which makes it possible
// to tell after the fact what the panel showed and when.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventRefreshCompleted EventType = "refresh_completed"
	EventUpdateChecked    EventType = "update_checked"
	EventUpdateApplied    EventType = "update_applied"
	EventUpdateFailed     EventType = "update_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64          `json:"id"`
	EventType EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	Source    string         `json:"source,omitempty"`
	RefID     string         `json:"ref_id,omitempty"` // refresh or release identifier
}

// Ledger provides append-only event logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, refID string, payload map[string]any) error {
	return l.AppendWithSource(eventType, refID, "", payload)
}

// AppendWithSource adds a new event tagged with what triggered it
// (e.g. "startup", "interval", "http")
func (l *Ledger) AppendWithSource(eventType EventType, refID, source string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(
		`INSERT INTO event_ledger (event_type, timestamp, payload, source, ref_id) VALUES (?, ?, ?, ?, ?)`,
		string(eventType), l.now().UTC().Unix(), string(payloadJSON), source, refID,
	)
	if err != nil {
		return fmt.Errorf("failed to append %s: %w", eventType, err)
	}
	return nil
}

// GetByType returns the newest entries of the given type
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, ref_id
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).Unix()
	result, err := l.db.Exec(`DELETE FROM event_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, source, refID sql.NullString
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &payloadStr, &source, &refID); err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.Source = source.String
		entry.RefID = refID.String

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
