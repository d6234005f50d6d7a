package models

import "time"

// Gap is a hole between two present bars: Start is the last bar before it,
// End the first bar after it.
type Gap struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (g Gap) Size() time.Duration { return g.End.Sub(g.Start) }

// Coverage compares stored bars against the expected count for the span.
type Coverage struct {
	Pair            string    `json:"pair"`
	Timeframe       string    `json:"timeframe"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	RecordCount     int64     `json:"record_count"`
	ExpectedCount   int64     `json:"expected_count"`
	CoveragePercent float64   `json:"coverage_percent"`
}

// FillResult summarizes a gap-filling pass.
type FillResult struct {
	Found   int `json:"found"`
	Filled  int `json:"filled"`
	Skipped int `json:"skipped"`
}
