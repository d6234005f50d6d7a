package repository

import (
	"context"
	"fmt"
	"time"

	"FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
	applogger "FxPull/pkg/logger"
)

const chCandleTable = "fx_candles"

// chSinkChunk bounds rows per block.
const chSinkChunk = 5000

// BatchInserter is the part of pkg/clickhouse.Client the sink writes with.
type BatchInserter interface {
	InsertBatch(ctx context.Context, insert string, n int, row func(i int) []any) error
}

// CHCandleSink mirrors stored candles into a ReplacingMergeTree table, so
// re-sent bars collapse onto one row per (pair, tf, ts).
type CHCandleSink struct {
	ins   BatchInserter
	table string
	l     *applogger.Logger
}

func NewCHCandleSink(ins BatchInserter, database string, l *applogger.Logger) *CHCandleSink {
	if l == nil {
		l = applogger.Nop()
	}
	table := chCandleTable
	if database != "" {
		table = database + "." + chCandleTable
	}
	return &CHCandleSink{ins: ins, table: table, l: l}
}

// Schema returns the DDL for the mirror table.
func (s *CHCandleSink) Schema() []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	pair LowCardinality(String),
	tf LowCardinality(String),
	ts DateTime64(3, 'UTC'),
	open Float64,
	high Float64,
	low Float64,
	close Float64,
	volume Float64,
	version DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(version)
PARTITION BY toYYYYMM(ts)
ORDER BY (pair, tf, ts)`, s.table)}
}

func (s *CHCandleSink) WriteCandles(ctx context.Context, pair string, tf domrepo.Timeframe, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	start := time.Now()
	version := start.UTC()
	insert := fmt.Sprintf("INSERT INTO %s (pair, tf, ts, open, high, low, close, volume, version)", s.table)

	for from := 0; from < len(candles); from += chSinkChunk {
		chunk := candles[from:min(from+chSinkChunk, len(candles))]
		err := s.ins.InsertBatch(ctx, insert, len(chunk), func(i int) []any {
			c := chunk[i]
			return []any{pair, string(tf), c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume, version}
		})
		if err != nil {
			s.l.Error("clickhouse write_candles error",
				applogger.String("table", s.table),
				applogger.String("pair", pair),
				applogger.String("tf", string(tf)),
				applogger.Int("offset", from),
				applogger.Error(err),
			)
			return fmt.Errorf("clickhouse write candles: %w", err)
		}
	}
	s.l.Debug("clickhouse write_candles ok",
		applogger.String("pair", pair),
		applogger.String("tf", string(tf)),
		applogger.Int("rows", len(candles)),
		applogger.Duration("took", time.Since(start)),
	)
	return nil
}

// Close is a no-op: the client is owned by pkg/clickhouse.
func (s *CHCandleSink) Close() error { return nil }

// NoopCandleSink is used when clickhouse is disabled.
type NoopCandleSink struct{}

func (NoopCandleSink) WriteCandles(context.Context, string, domrepo.Timeframe, []models.Candle) error {
	return nil
}

func (NoopCandleSink) Close() error { return nil }
