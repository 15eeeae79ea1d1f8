// Package history keeps the last known tariff color of each calendar day.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dokzlo13/tempod/internal/tempo"
)

// Day is one stored calendar day
type Day struct {
	Day       string    `json:"day"` // yyyy-mm-dd
	Code      string    `json:"code"`
	Color     string    `json:"color"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Store persists tariff days in SQLite
type Store struct {
	db *sql.DB
}

// NewStore creates a store on top of an open database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record upserts the color of day. Unknown colors are ignored so that a
// failed fetch never erases a color learned earlier.
func (s *Store) Record(day string, code string, fetchedAt time.Time) (bool, error) {
	color := tempo.ParseColor(code)
	if color == tempo.Unknown {
		return false, nil
	}

	_, err := s.db.Exec(`
		INSERT INTO tariff_days (day, code, color, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			code = excluded.code,
			color = excluded.color,
			fetched_at = excluded.fetched_at
	`, day, color.Code(), color.String(), fetchedAt.UTC().Unix())
	if err != nil {
		return false, fmt.Errorf("failed to record %s: %w", day, err)
	}
	return true, nil
}

// Recent returns up to limit days, newest first
func (s *Store) Recent(limit int) ([]Day, error) {
	rows, err := s.db.Query(`
		SELECT day, code, color, fetched_at
		FROM tariff_days
		ORDER BY day DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var days []Day
	for rows.Next() {
		var d Day
		var fetchedAt int64
		if err := rows.Scan(&d.Day, &d.Code, &d.Color, &fetchedAt); err != nil {
			return nil, err
		}
		d.FetchedAt = time.Unix(fetchedAt, 0).UTC()
		days = append(days, d)
	}
	return days, rows.Err()
}

// CountByColor returns how many stored days since (inclusive, yyyy-mm-dd)
// had each color. Tempo contracts cap red and white days per season, so
// this is what people actually want to know.
func (s *Store) CountByColor(since string) (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT color, COUNT(*) FROM tariff_days
		WHERE day >= ?
		GROUP BY color
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count days: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var color string
		var n int
		if err := rows.Scan(&color, &n); err != nil {
			return nil, err
		}
		counts[color] = n
	}
	return counts, rows.Err()
}

// SeasonStart returns the first day of the Tempo season containing t.
// Seasons run from 1 September to 31 August.
func SeasonStart(t time.Time) time.Time {
	year := t.Year()
	if t.Month() < time.September {
		year--
	}
	return time.Date(year, time.September, 1, 0, 0, 0, 0, t.Location())
}
