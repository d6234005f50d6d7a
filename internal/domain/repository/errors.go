package repository

import "errors"

var (
	ErrNoData            = errors.New("no data")
	ErrInvalidTimeframe  = errors.New("invalid timeframe")
	ErrSymbolUnavailable = errors.New("symbol unavailable")
	ErrPairNotConfigured = errors.New("currency pair not configured")
	ErrNoPairsConfigured = errors.New("no currency pairs configured")
	ErrPairLocked        = errors.New("currency pair update already running")
	ErrGapFillTimeframe  = errors.New("gap filling is only performed for 1m data")
	ErrInvalidPairName   = errors.New("invalid currency pair name")
	ErrInvalidRange      = errors.New("invalid time range")
)
