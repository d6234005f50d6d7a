package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
	"FxPull/internal/service/calendar"
	applogger "FxPull/pkg/logger"
	"FxPull/pkg/util"
)

const fetchTimeframe = "M1"

// UpdaterConfig carries the data.update settings and the configured pairs.
type UpdaterConfig struct {
	Pairs                []models.CurrencyPair
	Timeframes           []domrepo.Timeframe
	MaxCandlesPerRequest int
	MaxGapDays           int
	MaxWorkers           int
	RetryAttempts        int
	RetryDelay           time.Duration
	LookbackDays         int
	LockTTL              time.Duration
}

func (c *UpdaterConfig) setDefaults() {
	if c.MaxCandlesPerRequest <= 0 {
		c.MaxCandlesPerRequest = 1000
	}
	if c.MaxGapDays <= 0 {
		c.MaxGapDays = 30
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 300 * time.Second
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = 30
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Minute
	}
	if len(c.Timeframes) == 0 {
		c.Timeframes = domrepo.AllTimeframes()
	}
}

// PartialUpdateError lists pairs that still failed after all attempts.
type PartialUpdateError struct {
	Failed []string
}

func (e *PartialUpdateError) Error() string {
	return "update failed for pairs: " + strings.Join(e.Failed, ", ")
}

// Updater pulls candles from MT5 into the price store.
type Updater struct {
	fetcher   domrepo.Fetcher
	store     domrepo.PriceStore
	gaps      *GapFinder
	resampler *Resampler
	notifier  *StoreNotifier
	locker    domrepo.Locker
	cal       *calendar.Calendar
	metrics   domrepo.Metrics
	l         *applogger.Logger
	cfg       UpdaterConfig
	now       func() time.Time
}

func NewUpdater(
	fetcher domrepo.Fetcher,
	store domrepo.PriceStore,
	gaps *GapFinder,
	resampler *Resampler,
	notifier *StoreNotifier,
	locker domrepo.Locker,
	cal *calendar.Calendar,
	metrics domrepo.Metrics,
	l *applogger.Logger,
	cfg UpdaterConfig,
) *Updater {
	if l == nil {
		l = applogger.Nop()
	}
	cfg.setDefaults()
	return &Updater{
		fetcher:   fetcher,
		store:     store,
		gaps:      gaps,
		resampler: resampler,
		notifier:  notifier,
		locker:    locker,
		cal:       cal,
		metrics:   metrics,
		l:         l,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Pairs returns the configured pairs.
func (u *Updater) Pairs() []models.CurrencyPair { return u.cfg.Pairs }

// Pair resolves name case-insensitively to a configured pair.
func (u *Updater) Pair(name string) (models.CurrencyPair, bool) {
	for _, p := range u.cfg.Pairs {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return models.CurrencyPair{}, false
}

func (u *Updater) resolve(name string) (string, error) {
	p, ok := u.Pair(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", domrepo.ErrPairNotConfigured, name)
	}
	return p.Name, nil
}

// completeCandles converts rates, dropping bars at or after cutoff.
func completeCandles(rates []models.Rate, cutoff time.Time) []models.Candle {
	out := make([]models.Candle, 0, len(rates))
	for _, r := range rates {
		c := r.Candle()
		if !c.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// UpdateLatest fetches the newest n 1m bars and stores the complete ones.
// The bar of the current minute is still forming and is dropped.
func (u *Updater) UpdateLatest(ctx context.Context, pair string, n int) (models.StoreResult, error) {
	if n <= 0 {
		n = u.cfg.MaxCandlesPerRequest
	}
	start := time.Now()
	defer func() { u.metrics.RecordLatency("update_latest", time.Since(start).Seconds()) }()

	u.l.Info("fetching latest candles", applogger.String("pair", pair), applogger.Int("count", n))
	rates, err := u.fetcher.FetchOHLCV(ctx, models.FetchRequest{Symbol: pair, Timeframe: fetchTimeframe, Count: n})
	if err != nil {
		u.metrics.RecordError("fetch")
		return models.StoreResult{}, fmt.Errorf("fetch latest %s: %w", pair, err)
	}
	u.metrics.RecordCandlesFetched(pair, string(domrepo.TF1m), len(rates))

	candles := completeCandles(rates, util.FloorMinute(u.now()))
	if len(candles) == 0 {
		return models.StoreResult{}, fmt.Errorf("update latest %s: no complete candles: %w", pair, domrepo.ErrNoData)
	}

	res, err := u.store.StoreCandles(ctx, pair, domrepo.TF1m, candles)
	if err != nil {
		u.metrics.RecordError("store")
		return models.StoreResult{}, fmt.Errorf("store latest %s: %w", pair, err)
	}
	u.notifier.Stored(ctx, pair, domrepo.TF1m, res, "latest")
	u.l.Info("updated latest data",
		applogger.String("pair", pair),
		applogger.Int("inserted", res.Inserted),
		applogger.Int("skipped", res.Skipped),
	)
	return res, nil
}

// FillGaps backfills detected 1m gaps no larger than maxGapDays, oldest
// first. Gaps the terminal has no data for stay unfilled.
func (u *Updater) FillGaps(ctx context.Context, pair string, tf domrepo.Timeframe, maxGapDays int) (models.FillResult, error) {
	if tf != domrepo.TF1m {
		u.l.Info("gap filling is only performed for 1-minute data", applogger.String("tf", string(tf)))
		return models.FillResult{}, domrepo.ErrGapFillTimeframe
	}
	if maxGapDays <= 0 {
		maxGapDays = u.cfg.MaxGapDays
	}
	start := time.Now()
	defer func() { u.metrics.RecordLatency("fill_gaps", time.Since(start).Seconds()) }()

	gaps, err := u.gaps.FindGaps(ctx, pair, tf)
	if err != nil {
		return models.FillResult{}, fmt.Errorf("find gaps %s: %w", pair, err)
	}
	res := models.FillResult{Found: len(gaps)}
	if len(gaps) == 0 {
		u.l.Info("no gaps found", applogger.String("pair", pair))
		return res, nil
	}

	sort.Slice(gaps, func(i, j int) bool { return gaps[i].Start.Before(gaps[j].Start) })
	maxGap := time.Duration(maxGapDays) * 24 * time.Hour

	for _, g := range gaps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if g.Size() > maxGap {
			u.l.Warn("gap too large to fill",
				applogger.String("pair", pair),
				applogger.Time("start", g.Start),
				applogger.Time("end", g.End),
				applogger.Duration("size", g.Size()),
			)
			res.Skipped++
			continue
		}
		if u.cal != nil && u.cal.IsWeekendGap(g.Start, g.End) {
			res.Skipped++
			continue
		}

		gs, ge := g.Start, g.End
		rates, err := u.fetcher.FetchOHLCV(ctx, models.FetchRequest{Symbol: pair, Timeframe: fetchTimeframe, Start: &gs, End: &ge})
		if err != nil {
			if errors.Is(err, domrepo.ErrNoData) {
				u.l.Warn("no data available for gap", applogger.String("pair", pair), applogger.Time("start", gs), applogger.Time("end", ge))
			} else {
				u.metrics.RecordError("fetch")
				u.l.Error("fetch gap failed", applogger.String("pair", pair), applogger.Time("start", gs), applogger.Error(err))
			}
			continue
		}
		u.metrics.RecordCandlesFetched(pair, string(tf), len(rates))

		candles := completeCandles(rates, util.FloorMinute(u.now()))
		if len(candles) == 0 {
			continue
		}
		sr, err := u.store.StoreCandles(ctx, pair, tf, candles)
		if err != nil {
			u.metrics.RecordError("store")
			u.l.Error("failed to store gap data", applogger.String("pair", pair), applogger.Time("start", gs), applogger.Error(err))
			continue
		}
		res.Filled++
		u.notifier.Stored(ctx, pair, tf, sr, "gap_fill")
	}

	u.metrics.RecordGaps(pair, "found", res.Found)
	u.metrics.RecordGaps(pair, "filled", res.Filled)
	u.metrics.RecordGaps(pair, "skipped", res.Skipped)
	u.l.Info("gap filling complete",
		applogger.String("pair", pair),
		applogger.Int("found", res.Found),
		applogger.Int("filled", res.Filled),
		applogger.Int("skipped", res.Skipped),
	)
	return res, nil
}

// UpdatePair runs the requested steps for one pair under its lock. It fails
// if any requested step fails.
func (u *Updater) UpdatePair(ctx context.Context, pair string, opts models.UpdateOptions) error {
	name, err := u.resolve(pair)
	if err != nil {
		return err
	}

	key := "update:" + name
	locked, err := u.locker.TryLock(ctx, key, u.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("lock %s: %w", name, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", domrepo.ErrPairLocked, name)
	}
	defer func() {
		if err := u.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
			u.l.Warn("unlock failed", applogger.String("key", key), applogger.Error(err))
		}
	}()

	u.l.Info("starting update", applogger.String("pair", name), applogger.Any("options", opts))
	var errs []error
	if opts.Latest {
		if _, err := u.UpdateLatest(ctx, name, opts.Count); err != nil {
			errs = append(errs, err)
		}
	}
	if opts.FillGaps {
		if _, err := u.FillGaps(ctx, name, domrepo.TF1m, 0); err != nil {
			errs = append(errs, err)
		}
	}
	if opts.Resample {
		for tf, ok := range u.resampler.ResampleLatest(ctx, name, u.cfg.Timeframes, u.cfg.LookbackDays) {
			if !ok {
				errs = append(errs, fmt.Errorf("resample %s %s failed", name, tf))
			}
		}
	}

	err = errors.Join(errs...)
	u.metrics.RecordPairUpdate(name, err == nil)
	if err != nil {
		u.l.Warn("update finished with failures", applogger.String("pair", name), applogger.Error(err))
		return err
	}
	u.l.Info("update finished", applogger.String("pair", name))
	return nil
}

func (u *Updater) safeUpdatePair(ctx context.Context, pair string, opts models.UpdateOptions) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			u.metrics.RecordError("update_panic")
			u.l.Error("panic while updating pair", applogger.String("pair", pair), applogger.Any("panic", r))
			ok = false
		}
	}()
	return u.UpdatePair(ctx, pair, opts) == nil
}

// UpdateAllPairs updates every configured pair with at most maxWorkers in
// flight. The fetcher session stays open for concurrent callers; its owner
// shuts it down on close.
func (u *Updater) UpdateAllPairs(ctx context.Context, opts models.UpdateOptions, maxWorkers int) (map[string]bool, error) {
	if maxWorkers <= 0 {
		maxWorkers = u.cfg.MaxWorkers
	}
	results := make(map[string]bool, len(u.cfg.Pairs))

	if err := u.fetcher.Initialize(ctx); err != nil {
		u.l.Error("failed to initialize MT5 connection", applogger.Error(err))
		return results, fmt.Errorf("initialize fetcher: %w", err)
	}
	ids, err := u.store.EnsureCurrencyPairs(ctx, u.cfg.Pairs)
	if err != nil {
		return results, fmt.Errorf("ensure currency pairs: %w", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(maxWorkers)
	for _, p := range u.cfg.Pairs {
		name := p.Name
		if _, ok := ids[name]; !ok {
			continue
		}
		g.Go(func() error {
			ok := u.safeUpdatePair(ctx, name, opts)
			mu.Lock()
			results[name] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	u.l.Info("completed update for all pairs", applogger.Any("results", results))
	return results, nil
}

// RunScheduledUpdate runs a full update, retrying with a constant delay
// until every pair succeeds or attempts run out.
func (u *Updater) RunScheduledUpdate(ctx context.Context) (map[string]bool, error) {
	u.l.Info("starting scheduled data update")
	opts := models.UpdateOptions{Latest: true, FillGaps: true, Resample: true}

	var (
		attempt int
		last    map[string]bool
	)
	op := func() (map[string]bool, error) {
		attempt++
		results, err := u.UpdateAllPairs(ctx, opts, u.cfg.MaxWorkers)
		last = results
		if err != nil {
			u.l.Error("scheduled update attempt failed", applogger.Int("attempt", attempt), applogger.Error(err))
			return nil, err
		}
		if failed := failedPairs(results); len(failed) > 0 {
			u.l.Warn("update failed for some pairs", applogger.Strings("pairs", failed), applogger.Int("attempt", attempt))
			return nil, &PartialUpdateError{Failed: failed}
		}
		return results, nil
	}

	results, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(u.cfg.RetryDelay)),
		backoff.WithMaxTries(uint(u.cfg.RetryAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, d time.Duration) {
			u.l.Info("retrying scheduled update", applogger.Duration("delay", d), applogger.Int("attempt", attempt))
		}),
	)
	if err != nil {
		u.l.Error("all retry attempts failed", applogger.Error(err))
		return last, err
	}
	u.l.Info("scheduled update completed successfully")
	return results, nil
}

func failedPairs(results map[string]bool) []string {
	var failed []string
	for p, ok := range results {
		if !ok {
			failed = append(failed, p)
		}
	}
	sort.Strings(failed)
	return failed
}

// BackfillRange fetches and stores 1m bars in [start, end].
func (u *Updater) BackfillRange(ctx context.Context, pair string, start, end time.Time) (models.StoreResult, error) {
	name, err := u.resolve(pair)
	if err != nil {
		return models.StoreResult{}, err
	}
	start, end = start.UTC(), end.UTC()
	if !end.After(start) {
		return models.StoreResult{}, fmt.Errorf("%w: end %s not after start %s", domrepo.ErrInvalidRange, end, start)
	}

	rates, err := u.fetcher.FetchOHLCV(ctx, models.FetchRequest{Symbol: name, Timeframe: fetchTimeframe, Start: &start, End: &end})
	if err != nil {
		u.metrics.RecordError("fetch")
		return models.StoreResult{}, fmt.Errorf("backfill fetch %s: %w", name, err)
	}
	u.metrics.RecordCandlesFetched(name, string(domrepo.TF1m), len(rates))

	candles := completeCandles(rates, util.FloorMinute(u.now()))
	if len(candles) == 0 {
		return models.StoreResult{}, fmt.Errorf("backfill %s: %w", name, domrepo.ErrNoData)
	}
	res, err := u.store.StoreCandles(ctx, name, domrepo.TF1m, candles)
	if err != nil {
		u.metrics.RecordError("store")
		return models.StoreResult{}, fmt.Errorf("backfill store %s: %w", name, err)
	}
	u.notifier.Stored(ctx, name, domrepo.TF1m, res, "backfill")
	u.l.Info("backfill complete",
		applogger.String("pair", name),
		applogger.Time("start", start),
		applogger.Time("end", end),
		applogger.Int("inserted", res.Inserted),
	)
	return res, nil
}
