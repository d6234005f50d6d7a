package models

import "time"

// Candle is one OHLCV bar. Timestamp is the UTC bucket start.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Rate is a raw bar as returned by the MT5 terminal.
type Rate struct {
	Time       int64   `json:"time"` // unix seconds
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	TickVolume int64   `json:"tick_volume"`
	Spread     int64   `json:"spread"`
	RealVolume int64   `json:"real_volume"`
}

// Candle maps the rate to a stored candle; tick volume becomes volume.
func (r Rate) Candle() Candle {
	return Candle{
		Timestamp: time.Unix(r.Time, 0).UTC(),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    float64(r.TickVolume),
	}
}

// FetchRequest selects bars from the terminal. See Fetcher.FetchOHLCV for modes.
type FetchRequest struct {
	Symbol    string
	Timeframe string // MT5 code, e.g. "M1"
	Start     *time.Time
	End       *time.Time
	Count     int
}

// CandleQuery filters stored candles. Nil bounds are open. Limit keeps the
// earliest rows, or the most recent ones when Latest is set; the result is
// ascending either way.
type CandleQuery struct {
	Start  *time.Time
	End    *time.Time
	Limit  int
	Latest bool
}

// StoreResult reports how a batch was merged. Written holds the inserted
// and updated rows, ascending.
type StoreResult struct {
	Inserted int      `json:"inserted"`
	Updated  int      `json:"updated"`
	Skipped  int      `json:"skipped"`
	Written  []Candle `json:"-"`
}

// TableStats summarizes one price table.
type TableStats struct {
	Min   time.Time
	Max   time.Time
	Count int64
}
