package usecase

import (
	"context"
	"errors"
	"math"
	"time"

	"FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
	"FxPull/internal/service/calendar"
	"FxPull/pkg/cache"
	applogger "FxPull/pkg/logger"
)

// DetectGaps scans ascending timestamps for holes longer than one interval.
// Regular weekend closures are not reported.
func DetectGaps(timestamps []time.Time, interval time.Duration, cal *calendar.Calendar) []models.Gap {
	if len(timestamps) < 2 || interval <= 0 {
		return nil
	}
	var gaps []models.Gap
	for i := 1; i < len(timestamps); i++ {
		prev, cur := timestamps[i-1], timestamps[i]
		if missing := int(cur.Sub(prev) / interval); missing <= 1 {
			continue
		}
		if cal != nil && cal.IsWeekendGap(prev, cur) {
			continue
		}
		gaps = append(gaps, models.Gap{Start: prev, End: cur})
	}
	return gaps
}

// GapFinder reports gaps and coverage of stored series.
type GapFinder struct {
	store   domrepo.PriceStore
	cal     *calendar.Calendar
	cache   cache.Service
	ttl     time.Duration
	metrics domrepo.Metrics
	l       *applogger.Logger
}

func NewGapFinder(store domrepo.PriceStore, cal *calendar.Calendar, c cache.Service, ttl time.Duration, metrics domrepo.Metrics, l *applogger.Logger) *GapFinder {
	if l == nil {
		l = applogger.Nop()
	}
	return &GapFinder{store: store, cal: cal, cache: c, ttl: ttl, metrics: metrics, l: l}
}

// FindGaps returns the gaps of pair/tf, oldest first. A missing or empty
// table has no gaps.
func (g *GapFinder) FindGaps(ctx context.Context, pair string, tf domrepo.Timeframe) ([]models.Gap, error) {
	if !domrepo.IsValidTimeframe(tf) {
		return nil, domrepo.ErrInvalidTimeframe
	}
	ts, err := g.store.Timestamps(ctx, pair, tf)
	if err != nil {
		if errors.Is(err, domrepo.ErrNoData) {
			return []models.Gap{}, nil
		}
		return nil, err
	}
	gaps := DetectGaps(ts, tf.Duration(), g.cal)
	if gaps == nil {
		gaps = []models.Gap{}
	}
	g.l.Info("found data gaps",
		applogger.String("pair", pair),
		applogger.String("tf", string(tf)),
		applogger.Int("gaps", len(gaps)),
	)
	return gaps, nil
}

// Coverage compares stored rows with the count expected between the first
// and last stored bar, less weekend closures.
func (g *GapFinder) Coverage(ctx context.Context, pair string, tf domrepo.Timeframe) (*models.Coverage, error) {
	if !domrepo.IsValidTimeframe(tf) {
		return nil, domrepo.ErrInvalidTimeframe
	}

	key := cache.GenerateKeyWithParams("coverage", pair, tf)
	if g.cache != nil {
		var cached models.Coverage
		if err := g.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	stats, err := g.store.Stats(ctx, pair, tf)
	if err != nil {
		return nil, err
	}
	cov := coverageFromStats(pair, tf, stats, g.cal)
	g.metrics.RecordCoverage(pair, string(tf), cov.CoveragePercent)

	if g.cache != nil {
		if err := g.cache.Set(ctx, key, cov, g.ttl); err != nil {
			g.l.Warn("coverage cache set failed", applogger.String("key", key), applogger.Error(err))
		}
	}
	return cov, nil
}

// InvalidateCoverage drops cached coverage for pair in every timeframe.
func (g *GapFinder) InvalidateCoverage(ctx context.Context, pair string) {
	if g.cache == nil {
		return
	}
	pattern := cache.GenerateKeyWithParams("coverage", pair, "*")
	if err := g.cache.DeleteByPattern(ctx, pattern); err != nil {
		g.l.Warn("coverage invalidation failed", applogger.String("pair", pair), applogger.Error(err))
	}
}

func coverageFromStats(pair string, tf domrepo.Timeframe, s models.TableStats, cal *calendar.Calendar) *models.Coverage {
	span := s.Max.Sub(s.Min)
	minutes := int64(span / time.Minute)
	expected := minutes / int64(tf.Minutes())
	if cal != nil {
		expected -= cal.WeekendAdjustment(span, tf.Duration())
	}

	var pct float64
	if expected > 0 {
		pct = math.Round(float64(s.Count)/float64(expected)*100*100) / 100
	}
	return &models.Coverage{
		Pair:            pair,
		Timeframe:       string(tf),
		StartDate:       s.Min,
		EndDate:         s.Max,
		RecordCount:     s.Count,
		ExpectedCount:   expected,
		CoveragePercent: pct,
	}
}
