package tempo

import "time"

// Reading is what the panel shows after a refresh.
type Reading struct {
	RefreshID    string    `json:"refresh_id"`
	Source       string    `json:"source"`
	Today        Color     `json:"today"`
	Tomorrow     Color     `json:"tomorrow"`
	TodayCode    string    `json:"today_code"`
	TomorrowCode string    `json:"tomorrow_code"`
	TodayDate    string    `json:"today_date,omitempty"` // empty while the clock is unsynchronized
	TomorrowDate string    `json:"tomorrow_date,omitempty"`
	Address      string    `json:"ip"`
	RefreshedAt  time.Time `json:"refreshed_at"`
}
