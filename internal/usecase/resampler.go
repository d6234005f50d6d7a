package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
	applogger "FxPull/pkg/logger"
)

// Resample aggregates candles from src into dst buckets aligned to UTC.
// Buckets without source candles are omitted.
func Resample(candles []models.Candle, src, dst domrepo.Timeframe) ([]models.Candle, error) {
	if len(candles) == 0 {
		return nil, domrepo.ErrNoData
	}
	if !domrepo.IsValidTimeframe(src) {
		return nil, fmt.Errorf("%w: source %q", domrepo.ErrInvalidTimeframe, src)
	}
	if !domrepo.IsValidTimeframe(dst) {
		return nil, fmt.Errorf("%w: target %q", domrepo.ErrInvalidTimeframe, dst)
	}
	if src == dst {
		return candles, nil
	}
	if dst.Minutes() < src.Minutes() {
		return nil, fmt.Errorf("%w: cannot resample %s to finer %s", domrepo.ErrInvalidTimeframe, src, dst)
	}

	sorted := make([]models.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	width := dst.Duration()
	out := make([]models.Candle, 0, len(sorted)/int(dst.Minutes()/src.Minutes())+1)
	for _, c := range sorted {
		bucket := c.Timestamp.UTC().Truncate(width)
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(bucket) {
			b := &out[n-1]
			if c.High > b.High {
				b.High = c.High
			}
			if c.Low < b.Low {
				b.Low = c.Low
			}
			b.Close = c.Close
			b.Volume += c.Volume
			continue
		}
		out = append(out, models.Candle{
			Timestamp: bucket,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	return out, nil
}

// Resampler derives and stores higher timeframes from 1m data.
type Resampler struct {
	store    domrepo.PriceStore
	notifier *StoreNotifier
	metrics  domrepo.Metrics
	l        *applogger.Logger
	now      func() time.Time
}

// NewResampler builds a resampler. Stored buckets go through notifier like
// any other store.
func NewResampler(store domrepo.PriceStore, notifier *StoreNotifier, metrics domrepo.Metrics, l *applogger.Logger) *Resampler {
	if l == nil {
		l = applogger.Nop()
	}
	return &Resampler{store: store, notifier: notifier, metrics: metrics, l: l, now: func() time.Time { return time.Now().UTC() }}
}

// ResampleLatest rebuilds each timeframe in tfs from the last lookbackDays
// of 1m data. Buckets that start before the window are left alone since
// they would be partial.
func (r *Resampler) ResampleLatest(ctx context.Context, pair string, tfs []domrepo.Timeframe, lookbackDays int) map[domrepo.Timeframe]bool {
	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	results := make(map[domrepo.Timeframe]bool, len(tfs))
	for _, tf := range tfs {
		results[tf] = false
	}

	end := r.now()
	start := end.AddDate(0, 0, -lookbackDays)
	m1, err := r.store.GetCandles(ctx, pair, domrepo.TF1m, models.CandleQuery{Start: &start, End: &end})
	if err != nil || len(m1) == 0 {
		r.l.Warn("no 1-minute data available", applogger.String("pair", pair), applogger.Error(err))
		return results
	}

	for _, tf := range tfs {
		if tf == domrepo.TF1m {
			results[tf] = true
			continue
		}
		resampled, err := Resample(m1, domrepo.TF1m, tf)
		if err != nil {
			r.l.Error("resample failed", applogger.String("pair", pair), applogger.String("tf", string(tf)), applogger.Error(err))
			continue
		}
		resampled = dropBefore(resampled, start)
		if len(resampled) == 0 {
			continue
		}
		res, err := r.store.StoreCandles(ctx, pair, tf, resampled)
		if err != nil {
			r.l.Error("store resampled failed", applogger.String("pair", pair), applogger.String("tf", string(tf)), applogger.Error(err))
			r.metrics.RecordError("resample_store")
			continue
		}
		r.notifier.Stored(ctx, pair, tf, res, "resample")
		results[tf] = true
	}

	r.l.Info("resampled latest data", applogger.String("pair", pair), applogger.Any("results", results))
	return results
}

func dropBefore(candles []models.Candle, start time.Time) []models.Candle {
	i := sort.Search(len(candles), func(i int) bool { return !candles[i].Timestamp.Before(start) })
	return candles[i:]
}

// GetResampled serves tf from its own table when it has rows in range,
// otherwise resamples 1m on the fly and optionally stores the result. A
// limited query reads only the 1m rows the limit needs.
func (r *Resampler) GetResampled(ctx context.Context, pair string, tf domrepo.Timeframe, q models.CandleQuery, store bool) ([]models.Candle, error) {
	if tf != domrepo.TF1m {
		candles, err := r.store.GetCandles(ctx, pair, tf, q)
		if err == nil && len(candles) > 0 {
			return candles, nil
		}
		if err != nil && !errors.Is(err, domrepo.ErrNoData) {
			return nil, err
		}
	}

	m1q := q
	ratio := tf.Minutes()
	if q.Limit > 0 && ratio > 1 {
		// one spare bucket, so a bucket cut by the limit can be dropped
		m1q.Limit = (q.Limit + 1) * ratio
	}
	m1, err := r.store.GetCandles(ctx, pair, domrepo.TF1m, m1q)
	if err != nil {
		return nil, err
	}
	resampled, err := Resample(m1, domrepo.TF1m, tf)
	if err != nil {
		return nil, err
	}
	if ratio > 1 && m1q.Limit > 0 && len(m1) >= m1q.Limit {
		resampled = dropCutBucket(resampled, q.Latest)
	}
	resampled = applyLimit(resampled, q.Limit, q.Latest)

	if store && tf != domrepo.TF1m && len(resampled) > 0 {
		res, err := r.store.StoreCandles(ctx, pair, tf, resampled)
		if err != nil {
			r.l.Warn("store resampled failed", applogger.String("pair", pair), applogger.String("tf", string(tf)), applogger.Error(err))
		} else {
			r.notifier.Stored(ctx, pair, tf, res, "resample")
		}
	}
	return resampled, nil
}

// dropCutBucket removes the bucket on the side where a limited 1m read
// stopped, since it may be missing minutes.
func dropCutBucket(candles []models.Candle, latest bool) []models.Candle {
	if len(candles) == 0 {
		return candles
	}
	if latest {
		return candles[1:]
	}
	return candles[:len(candles)-1]
}

func applyLimit(candles []models.Candle, limit int, latest bool) []models.Candle {
	if limit <= 0 || len(candles) <= limit {
		return candles
	}
	if latest {
		return candles[len(candles)-limit:]
	}
	return candles[:limit]
}
