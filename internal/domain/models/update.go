package models

import "time"

// UpdateOptions selects the steps of a pair update.
type UpdateOptions struct {
	Latest   bool `json:"latest"`
	FillGaps bool `json:"fill_gaps"`
	Resample bool `json:"resample"`
	Count    int  `json:"count,omitempty"`
}

// CandlesStoredEvent is published after new bars were written.
type CandlesStoredEvent struct {
	Pair      string    `json:"pair"`
	Timeframe string    `json:"timeframe"`
	Inserted  int       `json:"inserted"`
	Updated   int       `json:"updated,omitempty"`
	First     time.Time `json:"first"`
	Last      time.Time `json:"last"`
	Source    string    `json:"source"` // latest, gap_fill, backfill, resample
	At        time.Time `json:"at"`
}

// UpdateRequest is consumed from the update topic.
type UpdateRequest struct {
	Pair     string `json:"pair"`
	Latest   bool   `json:"latest"`
	FillGaps bool   `json:"fill_gaps"`
	Resample bool   `json:"resample"`
	Count    int    `json:"count"`
}

// BackfillJob is the payload of a queued range backfill.
type BackfillJob struct {
	ID    string    `json:"id"`
	Pair  string    `json:"pair"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
