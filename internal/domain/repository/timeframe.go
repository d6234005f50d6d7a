package repository

import (
	"fmt"
	"time"
)

// Timeframe represents a stored candle resolution.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

var timeframeMinutes = map[Timeframe]int{
	TF1m:  1,
	TF5m:  5,
	TF15m: 15,
	TF30m: 30,
	TF1h:  60,
	TF4h:  240,
	TF1d:  1440,
}

var timeframeMT5 = map[Timeframe]string{
	TF1m:  "M1",
	TF5m:  "M5",
	TF15m: "M15",
	TF30m: "M30",
	TF1h:  "H1",
	TF4h:  "H4",
	TF1d:  "D1",
}

// MT5 timeframe codes accepted by the terminal bridge.
var mt5Timeframes = map[string]struct{}{
	"M1": {}, "M5": {}, "M15": {}, "M30": {},
	"H1": {}, "H4": {}, "D1": {}, "W1": {}, "MN1": {},
}

// AllTimeframes lists the stored timeframes from finest to coarsest.
func AllTimeframes() []Timeframe {
	return []Timeframe{TF1m, TF5m, TF15m, TF30m, TF1h, TF4h, TF1d}
}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	_, ok := timeframeMinutes[tf]
	return ok
}

// IsValidMT5Timeframe reports whether code is a known MT5 timeframe code.
func IsValidMT5Timeframe(code string) bool {
	_, ok := mt5Timeframes[code]
	return ok
}

// DefaultTimeframe returns the default timeframe.
func DefaultTimeframe() Timeframe { return TF1m }

// NormalizeTimeframe converts raw string to a valid timeframe (or default).
func NormalizeTimeframe(s string) Timeframe {
	if s == "" {
		return DefaultTimeframe()
	}
	tf := Timeframe(s)
	if IsValidTimeframe(tf) {
		return tf
	}
	return DefaultTimeframe()
}

// ParseTimeframe validates s strictly.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !IsValidTimeframe(tf) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeframe, s)
	}
	return tf, nil
}

// Minutes returns the bar length in minutes, 0 for unknown timeframes.
func (tf Timeframe) Minutes() int { return timeframeMinutes[tf] }

// Duration returns the bar length.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(timeframeMinutes[tf]) * time.Minute
}

// MT5 returns the terminal timeframe code, e.g. "H1".
func (tf Timeframe) MT5() string { return timeframeMT5[tf] }

func (tf Timeframe) String() string { return string(tf) }
