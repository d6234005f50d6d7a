package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
)

type fakeQueue struct {
	msgType string
	payload interface{}
	err     error
}

func (q *fakeQueue) PublishMessage(_ context.Context, msgType string, payload interface{}) error {
	q.msgType, q.payload = msgType, payload
	return q.err
}

func newCandlesFixture(q *fakeQueue) (*CandlesUseCase, *updaterFixture) {
	f := newUpdaterFixture("EURUSD", "USDJPY")
	var uc *CandlesUseCase
	if q == nil {
		uc = NewCandlesUseCase(f.store, f.u, f.u.resampler, f.u.gaps, nil, nil)
	} else {
		uc = NewCandlesUseCase(f.store, f.u, f.u.resampler, f.u.gaps, q, nil)
	}
	return uc, f
}

func TestCandlesUseCasePairs(t *testing.T) {
	uc, f := newCandlesFixture(nil)
	if _, err := f.store.EnsureCurrencyPairs(context.Background(), []models.CurrencyPair{{Name: "USDJPY"}}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	pairs, err := uc.Pairs(context.Background())
	if err != nil {
		t.Fatalf("pairs: %v", err)
	}
	if len(pairs) != 2 || pairs[0].Name != "EURUSD" || pairs[0].ID != 0 || pairs[1].ID != 1 {
		t.Fatalf("unexpected pairs %+v", pairs)
	}
}

func TestCandlesUseCaseGetCandles(t *testing.T) {
	uc, f := newCandlesFixture(nil)
	base := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	var ts []time.Time
	for i := 0; i < 20; i++ {
		ts = append(ts, base.Add(time.Duration(i)*time.Minute))
	}
	f.store.seed("EURUSD", domrepo.TF1m, ts...)

	res, err := uc.GetCandles(context.Background(), GetCandlesParams{Pair: "eurusd", Timeframe: domrepo.TF1m, Limit: 5})
	if err != nil {
		t.Fatalf("get candles: %v", err)
	}
	if res.Pair != "EURUSD" || res.Count != 5 || !res.Candles[4].Timestamp.Equal(ts[19]) {
		t.Fatalf("unexpected result %+v", res)
	}

	res, err = uc.GetCandles(context.Background(), GetCandlesParams{Pair: "EURUSD", Timeframe: domrepo.TF5m})
	if err != nil || res.Count != 4 {
		t.Fatalf("5m = %+v, %v", res, err)
	}

	if _, err := uc.GetCandles(context.Background(), GetCandlesParams{Pair: "XAUUSD", Timeframe: domrepo.TF1m}); !errors.Is(err, domrepo.ErrPairNotConfigured) {
		t.Fatalf("expected ErrPairNotConfigured, got %v", err)
	}
	later := base.Add(time.Hour)
	if _, err := uc.GetCandles(context.Background(), GetCandlesParams{Pair: "EURUSD", Timeframe: domrepo.TF1m, Start: &later, End: &base}); !errors.Is(err, domrepo.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestCandlesUseCaseBackfill(t *testing.T) {
	start := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	t.Run("queued", func(t *testing.T) {
		q := &fakeQueue{}
		uc, f := newCandlesFixture(q)
		res, err := uc.Backfill(context.Background(), "eurusd", start, start.Add(time.Hour))
		if err != nil {
			t.Fatalf("backfill: %v", err)
		}
		if !res.Queued || res.JobID == "" || q.msgType != BackfillJobType {
			t.Fatalf("unexpected result %+v (type %s)", res, q.msgType)
		}
		job := q.payload.(models.BackfillJob)
		if job.Pair != "EURUSD" || job.ID != res.JobID {
			t.Fatalf("unexpected job %+v", job)
		}
		if len(f.fetcher.requests) != 0 {
			t.Fatalf("queued backfill fetched inline")
		}
	})
	t.Run("inline without queue", func(t *testing.T) {
		uc, f := newCandlesFixture(nil)
		f.fetcher.fetch = func(req models.FetchRequest) ([]models.Rate, error) {
			return minuteRates(*req.Start, *req.End), nil
		}
		res, err := uc.Backfill(context.Background(), "EURUSD", start, start.Add(10*time.Minute))
		if err != nil {
			t.Fatalf("backfill: %v", err)
		}
		if res.Queued || res.Result == nil || res.Result.Inserted != 11 {
			t.Fatalf("unexpected result %+v", res)
		}
	})
	t.Run("invalid range", func(t *testing.T) {
		uc, _ := newCandlesFixture(&fakeQueue{})
		if _, err := uc.Backfill(context.Background(), "EURUSD", start, start.Add(-time.Hour)); !errors.Is(err, domrepo.ErrInvalidRange) {
			t.Fatalf("expected ErrInvalidRange, got %v", err)
		}
	})
}

func TestCandlesUseCaseUpdateDefaultsToAllSteps(t *testing.T) {
	uc, f := newCandlesFixture(nil)
	f.fetcher.fetch = latestRates
	if err := uc.Update(context.Background(), "EURUSD", models.UpdateOptions{}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if f.store.count("EURUSD", domrepo.TF1m) != 5 || f.store.count("EURUSD", domrepo.TF5m) != 1 {
		t.Fatalf("update did not run all steps")
	}
}
