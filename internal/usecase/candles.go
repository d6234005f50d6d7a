package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
	applogger "FxPull/pkg/logger"
	"FxPull/pkg/queue"
)

// CandlesUseCase serves the price data API.
type CandlesUseCase struct {
	store     domrepo.PriceStore
	updater   *Updater
	resampler *Resampler
	gaps      *GapFinder
	queue     queue.QueueService
	l         *applogger.Logger
}

// NewCandlesUseCase wires the API use case. A nil queue makes backfills
// run synchronously.
func NewCandlesUseCase(store domrepo.PriceStore, updater *Updater, resampler *Resampler, gaps *GapFinder, q queue.QueueService, l *applogger.Logger) *CandlesUseCase {
	if l == nil {
		l = applogger.Nop()
	}
	return &CandlesUseCase{store: store, updater: updater, resampler: resampler, gaps: gaps, queue: q, l: l}
}

type PairInfo struct {
	ID          uint    `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	PipValue    float64 `json:"pip_value"`
	SpreadAvg   float64 `json:"spread_avg"`
}

// Pairs lists configured pairs with their stored ids. Pairs not yet stored
// have id 0.
func (uc *CandlesUseCase) Pairs(ctx context.Context) ([]PairInfo, error) {
	stored, err := uc.store.ListCurrencyPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	ids := make(map[string]uint, len(stored))
	for _, p := range stored {
		ids[p.Name] = p.ID
	}
	out := make([]PairInfo, 0, len(uc.updater.Pairs()))
	for _, p := range uc.updater.Pairs() {
		out = append(out, PairInfo{
			ID:          ids[p.Name],
			Name:        p.Name,
			Description: p.Description,
			PipValue:    p.PipValue,
			SpreadAvg:   p.SpreadAvg,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type GetCandlesParams struct {
	Pair      string
	Timeframe domrepo.Timeframe
	Start     *time.Time
	End       *time.Time
	Limit     int
}

type GetCandlesResult struct {
	Pair      string          `json:"pair"`
	Timeframe string          `json:"timeframe"`
	Count     int             `json:"count"`
	Candles   []models.Candle `json:"candles"`
}

func (uc *CandlesUseCase) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	pair, err := uc.updater.resolve(p.Pair)
	if err != nil {
		return nil, err
	}
	if p.Start != nil && p.End != nil && p.Start.After(*p.End) {
		return nil, fmt.Errorf("%w: start after end", domrepo.ErrInvalidRange)
	}
	if p.Limit <= 0 {
		p.Limit = 1000
	}
	if p.Limit > 50000 {
		p.Limit = 50000
	}

	// the most recent bars within the range
	q := models.CandleQuery{Start: p.Start, End: p.End, Limit: p.Limit, Latest: true}
	candles, err := uc.resampler.GetResampled(ctx, pair, p.Timeframe, q, false)
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}
	return &GetCandlesResult{Pair: pair, Timeframe: string(p.Timeframe), Count: len(candles), Candles: candles}, nil
}

type GapsResult struct {
	Pair      string       `json:"pair"`
	Timeframe string       `json:"timeframe"`
	Count     int          `json:"count"`
	Gaps      []models.Gap `json:"gaps"`
}

func (uc *CandlesUseCase) Gaps(ctx context.Context, pair string, tf domrepo.Timeframe) (*GapsResult, error) {
	name, err := uc.updater.resolve(pair)
	if err != nil {
		return nil, err
	}
	gaps, err := uc.gaps.FindGaps(ctx, name, tf)
	if err != nil {
		return nil, fmt.Errorf("find gaps: %w", err)
	}
	return &GapsResult{Pair: name, Timeframe: string(tf), Count: len(gaps), Gaps: gaps}, nil
}

func (uc *CandlesUseCase) Coverage(ctx context.Context, pair string, tf domrepo.Timeframe) (*models.Coverage, error) {
	name, err := uc.updater.resolve(pair)
	if err != nil {
		return nil, err
	}
	return uc.gaps.Coverage(ctx, name, tf)
}

// Update runs a pair update synchronously. No selected step means all.
func (uc *CandlesUseCase) Update(ctx context.Context, pair string, opts models.UpdateOptions) error {
	if !opts.Latest && !opts.FillGaps && !opts.Resample {
		opts.Latest, opts.FillGaps, opts.Resample = true, true, true
	}
	return uc.updater.UpdatePair(ctx, pair, opts)
}

type BackfillResult struct {
	JobID  string              `json:"job_id"`
	Queued bool                `json:"queued"`
	Result *models.StoreResult `json:"result,omitempty"`
}

// Backfill enqueues a range backfill, or runs it inline without a queue.
func (uc *CandlesUseCase) Backfill(ctx context.Context, pair string, start, end time.Time) (*BackfillResult, error) {
	name, err := uc.updater.resolve(pair)
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end must be after start", domrepo.ErrInvalidRange)
	}

	job := models.BackfillJob{ID: uuid.NewString(), Pair: name, Start: start.UTC(), End: end.UTC()}
	if uc.queue == nil {
		res, err := uc.updater.BackfillRange(ctx, job.Pair, job.Start, job.End)
		if err != nil {
			return nil, err
		}
		return &BackfillResult{JobID: job.ID, Result: &res}, nil
	}

	if err := uc.queue.PublishMessage(ctx, BackfillJobType, job); err != nil {
		return nil, fmt.Errorf("enqueue backfill: %w", err)
	}
	uc.l.Info("backfill enqueued", applogger.String("job_id", job.ID), applogger.String("pair", name))
	return &BackfillResult{JobID: job.ID, Queued: true}, nil
}

// Health pings the price store.
func (uc *CandlesUseCase) Health(ctx context.Context) error {
	return uc.store.Health(ctx)
}
