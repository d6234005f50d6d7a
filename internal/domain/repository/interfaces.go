package repository

import (
	"context"
	"time"

	"FxPull/internal/domain/models"
)

// PriceStore persists candles in per-pair, per-timeframe tables.
type PriceStore interface {
	EnsureSchema(ctx context.Context) error
	EnsureCurrencyPairs(ctx context.Context, pairs []models.CurrencyPair) (map[string]uint, error)
	EnsurePriceTable(ctx context.Context, pair string, tf Timeframe) error
	ListCurrencyPairs(ctx context.Context) ([]models.CurrencyPair, error)
	StoreCandles(ctx context.Context, pair string, tf Timeframe, candles []models.Candle) (models.StoreResult, error)
	GetCandles(ctx context.Context, pair string, tf Timeframe, q models.CandleQuery) ([]models.Candle, error)
	Timestamps(ctx context.Context, pair string, tf Timeframe) ([]time.Time, error)
	Stats(ctx context.Context, pair string, tf Timeframe) (models.TableStats, error)
	Health(ctx context.Context) error
	Close() error
}

// Fetcher reads bars and symbol metadata from the MT5 terminal.
//
// FetchOHLCV modes: Start nil and Count 0 reads from the configured start
// date to now; Start nil and Count > 0 reads the most recent Count bars
// (chunked above the per-request cap); Start set with End nil and Count > 0
// reads Count bars from Start; otherwise the range [Start, End or now].
type Fetcher interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	IsInitialized() bool
	SymbolAvailable(ctx context.Context, symbol string) (bool, error)
	FetchOHLCV(ctx context.Context, req models.FetchRequest) ([]models.Rate, error)
	AvailableSymbols(ctx context.Context) ([]string, error)
	TradingHours(ctx context.Context, symbol string) (*models.TradingHours, error)
}

// EventPublisher announces stored batches.
type EventPublisher interface {
	PublishCandlesStored(ctx context.Context, ev models.CandlesStoredEvent) error
	Close() error
}

// CandleSink mirrors newly stored candles to a secondary store.
type CandleSink interface {
	WriteCandles(ctx context.Context, pair string, tf Timeframe, candles []models.Candle) error
	Close() error
}

// Locker provides short-lived named locks shared between instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Metrics interface {
	RecordCandlesFetched(pair, tf string, n int)
	RecordCandlesStored(pair, tf string, n int)
	RecordGaps(pair, outcome string, n int)
	RecordPairUpdate(pair string, ok bool)
	RecordCoverage(pair, tf string, percent float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
